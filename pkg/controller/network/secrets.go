package network

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

// BuildAdminSecret mints a fresh admin private key for the network. Each
// call generates new material, so callers must create-if-absent rather
// than re-apply.
func BuildAdminSecret(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*corev1.Secret, error) {
	key, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate admin key: %w", err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      network.Name + "-admin",
			Namespace: network.Namespace,
			Labels:    supportLabels(network, "admin"),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			PrivateKeySecretKey: key,
		},
	}

	if err := ctrl.SetControllerReference(network, secret, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return secret, nil
}

// BuildAnchorAuthSecret mints the anchor database credentials. Same
// create-if-absent contract as BuildAdminSecret.
func BuildAnchorAuthSecret(
	network *v1alpha1.Network,
	scheme *runtime.Scheme,
) (*corev1.Secret, error) {
	password, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate database password: %w", err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      AnchorAuthSecretName(network.Name),
			Namespace: network.Namespace,
			Labels:    supportLabels(network, AnchorDBComponentName),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			AuthSecretUserKey:     AnchorDatabaseUser,
			AuthSecretPasswordKey: password,
		},
	}

	if err := ctrl.SetControllerReference(network, secret, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return secret, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
