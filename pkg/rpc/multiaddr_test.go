package rpc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestP2PAddresses(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		id    string
		addrs []string
		want  []string
	}{
		"keeps routable, drops loopback": {
			id: "12D3KooWPeer0",
			addrs: []string{
				"/ip4/10.244.1.7/tcp/4001",
				"/ip4/127.0.0.1/tcp/4001",
			},
			want: []string{
				"/ip4/10.244.1.7/tcp/4001/p2p/12D3KooWPeer0",
			},
		},
		"keeps quic alongside tcp": {
			id: "12D3KooWPeer1",
			addrs: []string{
				"/ip4/10.244.1.7/udp/4001/quic-v1",
				"/ip4/10.244.1.7/tcp/4001",
			},
			want: []string{
				"/ip4/10.244.1.7/udp/4001/quic-v1/p2p/12D3KooWPeer1",
				"/ip4/10.244.1.7/tcp/4001/p2p/12D3KooWPeer1",
			},
		},
		"drops ip6 and dns addresses": {
			id: "12D3KooWPeer2",
			addrs: []string{
				"/ip6/::1/tcp/4001",
				"/ip6/fe80::1/tcp/4001",
				"/dns4/peer-2.example/tcp/4001",
			},
			want: nil,
		},
		"all loopback yields nil": {
			id: "12D3KooWPeer3",
			addrs: []string{
				"/ip4/127.0.0.1/tcp/4001",
				"/ip4/127.0.0.1/udp/4001/quic-v1",
			},
			want: nil,
		},
		"empty input yields nil": {
			id:    "12D3KooWPeer4",
			addrs: nil,
			want:  nil,
		},
		"garbage addresses dropped": {
			id: "12D3KooWPeer5",
			addrs: []string{
				"",
				"/ip4/not-an-ip/tcp/4001",
				"/ip4/10.0.0.9/tcp/4001",
			},
			want: []string{
				"/ip4/10.0.0.9/tcp/4001/p2p/12D3KooWPeer5",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := P2PAddresses(tc.id, tc.addrs)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("P2PAddresses() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
