package peering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/errdefs"
	"github.com/strandlab/strand-operator/pkg/rpc"
)

type stubResponse struct {
	ident *rpc.Identity
	err   error
	// failures is how many calls fail before ident is returned.
	failures int
}

type stubPeerClient struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[string]stubResponse
}

func newStubPeerClient(responses map[string]stubResponse) *stubPeerClient {
	return &stubPeerClient{
		calls:     map[string]int{},
		responses: responses,
	}
}

func (s *stubPeerClient) Identity(_ context.Context, rpcAddr string) (*rpc.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[rpcAddr]++
	resp, ok := s.responses[rpcAddr]
	if !ok {
		return nil, fmt.Errorf("no stub for %s", rpcAddr)
	}
	if resp.err != nil {
		return nil, resp.err
	}
	if s.calls[rpcAddr] <= resp.failures {
		return nil, fmt.Errorf("stubbed failure %d for %s", s.calls[rpcAddr], rpcAddr)
	}
	return resp.ident, nil
}

func (s *stubPeerClient) Status(context.Context, string) (*rpc.PeerStatus, error) {
	return &rpc.PeerStatus{}, nil
}

func (s *stubPeerClient) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// fastBackoff keeps per-peer retries effectively instant in tests.
func fastBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Millisecond,
		Factor:   1.0,
		Steps:    5,
	}
}

func TestCoordinator_Coordinate(t *testing.T) {
	t.Parallel()

	networkKey := client.ObjectKey{Name: "test-net", Namespace: "default"}

	tests := map[string]struct {
		candidates   []Candidate
		responses    map[string]stubResponse
		want         []v1alpha1.PeerInfo
		wantNotReady bool
	}{
		"full table when all peers ready": {
			// Candidates deliberately out of index order: the table
			// must come back sorted.
			candidates: []Candidate{
				{Index: 2, Ready: true, RPCAddress: "http://p2:5101", APIAddress: "http://p2:7007"},
				{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007"},
				{Index: 1, Bootstrap: true, Ready: true, RPCAddress: "http://b1:5101", APIAddress: "http://b1:7007"},
			},
			responses: map[string]stubResponse{
				"http://b0:5101": {ident: &rpc.Identity{
					ID:        "12D3KooWB0",
					Addresses: []string{"/ip4/10.0.0.1/tcp/4001"},
				}},
				"http://b1:5101": {ident: &rpc.Identity{
					ID:        "12D3KooWB1",
					Addresses: []string{"/ip4/10.0.0.2/tcp/4001", "/ip4/127.0.0.1/tcp/4001"},
				}},
				"http://p2:5101": {ident: &rpc.Identity{
					ID:        "12D3KooWP2",
					Addresses: []string{"/ip4/10.0.0.3/tcp/4001"},
				}},
			},
			want: []v1alpha1.PeerInfo{
				{
					Index: 0, ID: "12D3KooWB0", Bootstrap: true,
					RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007",
					P2PAddresses: []string{"/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWB0"},
				},
				{
					Index: 1, ID: "12D3KooWB1", Bootstrap: true,
					RPCAddress: "http://b1:5101", APIAddress: "http://b1:7007",
					P2PAddresses: []string{"/ip4/10.0.0.2/tcp/4001/p2p/12D3KooWB1"},
				},
				{
					Index: 2, ID: "12D3KooWP2",
					RPCAddress: "http://p2:5101", APIAddress: "http://p2:7007",
					P2PAddresses: []string{"/ip4/10.0.0.3/tcp/4001/p2p/12D3KooWP2"},
				},
			},
		},
		"bootstrap peer not ready fails closed": {
			candidates: []Candidate{
				{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101"},
				{Index: 1, Bootstrap: true, Ready: false, RPCAddress: "http://b1:5101"},
				{Index: 2, Ready: true, RPCAddress: "http://p2:5101"},
			},
			responses:    map[string]stubResponse{},
			wantNotReady: true,
		},
		"bootstrap fetch failure fails closed": {
			candidates: []Candidate{
				{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101"},
				{Index: 1, Ready: true, RPCAddress: "http://p1:5101"},
			},
			responses: map[string]stubResponse{
				"http://b0:5101": {err: errors.New("connection refused")},
				"http://p1:5101": {ident: &rpc.Identity{
					ID:        "12D3KooWP1",
					Addresses: []string{"/ip4/10.0.0.2/tcp/4001"},
				}},
			},
			wantNotReady: true,
		},
		"bootstrap with only loopback addresses fails closed": {
			candidates: []Candidate{
				{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101"},
			},
			responses: map[string]stubResponse{
				"http://b0:5101": {ident: &rpc.Identity{
					ID:        "12D3KooWB0",
					Addresses: []string{"/ip4/127.0.0.1/tcp/4001"},
				}},
			},
			wantNotReady: true,
		},
		"lagging general peer omitted, not fatal": {
			candidates: []Candidate{
				{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007"},
				{Index: 1, Ready: true, RPCAddress: "http://p1:5101"},
				{Index: 2, Ready: false, RPCAddress: "http://p2:5101"},
			},
			responses: map[string]stubResponse{
				"http://b0:5101": {ident: &rpc.Identity{
					ID:        "12D3KooWB0",
					Addresses: []string{"/ip4/10.0.0.1/tcp/4001"},
				}},
				"http://p1:5101": {err: errors.New("connection refused")},
			},
			want: []v1alpha1.PeerInfo{
				{
					Index: 0, ID: "12D3KooWB0", Bootstrap: true,
					RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007",
					P2PAddresses: []string{"/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWB0"},
				},
			},
		},
		"fetch retried within budget": {
			candidates: []Candidate{
				{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007"},
			},
			responses: map[string]stubResponse{
				"http://b0:5101": {
					failures: 3,
					ident: &rpc.Identity{
						ID:        "12D3KooWB0",
						Addresses: []string{"/ip4/10.0.0.1/tcp/4001"},
					},
				},
			},
			want: []v1alpha1.PeerInfo{
				{
					Index: 0, ID: "12D3KooWB0", Bootstrap: true,
					RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007",
					P2PAddresses: []string{"/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWB0"},
				},
			},
		},
		"no candidates yields empty table": {
			candidates: nil,
			responses:  map[string]stubResponse{},
			want:       []v1alpha1.PeerInfo{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			stub := newStubPeerClient(tc.responses)
			coordinator := &Coordinator{RPC: stub, Backoff: fastBackoff()}

			table, err := coordinator.Coordinate(t.Context(), networkKey, tc.candidates)

			if tc.wantNotReady {
				if !errdefs.IsNotReady(err) {
					t.Fatalf("Coordinate() error = %v, want NotReady", err)
				}
				if table != nil {
					t.Errorf("Coordinate() returned partial table %v on NotReady", table)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coordinate() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, table); diff != "" {
				t.Errorf("Coordinate() table mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCoordinator_FailsClosedBeforeFetching(t *testing.T) {
	t.Parallel()

	stub := newStubPeerClient(map[string]stubResponse{
		"http://b0:5101": {ident: &rpc.Identity{
			ID:        "12D3KooWB0",
			Addresses: []string{"/ip4/10.0.0.1/tcp/4001"},
		}},
	})
	coordinator := &Coordinator{RPC: stub, Backoff: fastBackoff()}

	candidates := []Candidate{
		{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101"},
		{Index: 1, Bootstrap: true, Ready: false, RPCAddress: "http://b1:5101"},
	}

	_, err := coordinator.Coordinate(t.Context(),
		client.ObjectKey{Name: "test-net", Namespace: "default"}, candidates)

	if !errdefs.IsNotReady(err) {
		t.Fatalf("Coordinate() error = %v, want NotReady", err)
	}
	// No identity must be fetched when the pass is already invalid.
	if calls := stub.totalCalls(); calls != 0 {
		t.Errorf("Coordinate() fetched %d identities before failing closed, want 0", calls)
	}
}

func TestCoordinator_GeneralPeerFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	// One general peer burns its whole retry budget while the rest of
	// the table still assembles.
	stub := newStubPeerClient(map[string]stubResponse{
		"http://b0:5101": {ident: &rpc.Identity{
			ID:        "12D3KooWB0",
			Addresses: []string{"/ip4/10.0.0.1/tcp/4001"},
		}},
		"http://p1:5101": {err: errors.New("dial timeout")},
		"http://p2:5101": {ident: &rpc.Identity{
			ID:        "12D3KooWP2",
			Addresses: []string{"/ip4/10.0.0.3/tcp/4001"},
		}},
	})
	coordinator := &Coordinator{RPC: stub, Backoff: fastBackoff()}

	candidates := []Candidate{
		{Index: 0, Bootstrap: true, Ready: true, RPCAddress: "http://b0:5101", APIAddress: "http://b0:7007"},
		{Index: 1, Ready: true, RPCAddress: "http://p1:5101", APIAddress: "http://p1:7007"},
		{Index: 2, Ready: true, RPCAddress: "http://p2:5101", APIAddress: "http://p2:7007"},
	}

	table, err := coordinator.Coordinate(t.Context(),
		client.ObjectKey{Name: "test-net", Namespace: "default"}, candidates)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}

	gotIndexes := make([]int32, 0, len(table))
	for _, entry := range table {
		gotIndexes = append(gotIndexes, entry.Index)
	}
	if diff := cmp.Diff([]int32{0, 2}, gotIndexes); diff != "" {
		t.Errorf("Coordinate() table indexes mismatch (-want +got):\n%s", diff)
	}
}
