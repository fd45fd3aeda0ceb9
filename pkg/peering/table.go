package peering

import (
	"encoding/json"
	"fmt"
	"sort"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
)

const (
	// ConfigMapKey is the data key holding the encoded peer table inside
	// the published ConfigMap.
	ConfigMapKey = "peers.json"
)

// ConfigMapName returns the name of the ConfigMap the peer table for the
// given network is published under. Every peer and every simulation runner
// mounts it.
func ConfigMapName(networkName string) string {
	return networkName + "-peers"
}

// EncodeTable serializes a peer table for publication. Entries are ordered
// by peer index so that encoding the same table always yields the same
// bytes, which keeps re-publishing an unchanged table a no-op.
func EncodeTable(peers []v1alpha1.PeerInfo) ([]byte, error) {
	sorted := make([]v1alpha1.PeerInfo, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	payload, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to encode peer table: %w", err)
	}
	return payload, nil
}

// DecodeTable parses a previously published peer table.
func DecodeTable(data []byte) ([]v1alpha1.PeerInfo, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var peers []v1alpha1.PeerInfo
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("failed to decode peer table: %w", err)
	}
	return peers, nil
}
