package network

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/peering"
)

// BuildPeersConfigMap renders the coordinator's peer table into the
// ConfigMap every peer and simulation runner mounts. The table is encoded
// deterministically, so applying an unchanged table changes nothing.
func BuildPeersConfigMap(
	network *v1alpha1.Network,
	table []v1alpha1.PeerInfo,
	scheme *runtime.Scheme,
) (*corev1.ConfigMap, error) {
	payload, err := peering.EncodeTable(table)
	if err != nil {
		return nil, err
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      peering.ConfigMapName(network.Name),
			Namespace: network.Namespace,
			Labels:    supportLabels(network, "peers"),
		},
		Data: map[string]string{
			peering.ConfigMapKey: string(payload),
		},
	}

	if err := ctrl.SetControllerReference(network, cm, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return cm, nil
}
