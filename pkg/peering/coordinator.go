package peering

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/strandlab/strand-operator/api/v1alpha1"
	"github.com/strandlab/strand-operator/pkg/errdefs"
	"github.com/strandlab/strand-operator/pkg/monitoring"
	"github.com/strandlab/strand-operator/pkg/rpc"
)

// Candidate is one peer workload the coordinator may include in the
// address table.
type Candidate struct {
	// Index is the peer's stable ordinal within the network.
	Index int32

	// Bootstrap marks peers whose table entry is mandatory.
	Bootstrap bool

	// Ready reports whether the peer's workload passed its readiness
	// probe this pass.
	Ready bool

	// RPCAddress is the base URL of the peer's control endpoint.
	RPCAddress string

	// APIAddress is the base URL of the peer's application API.
	APIAddress string
}

// DefaultBackoff is the per-peer retry budget for identity fetches.
// Each peer retries independently so one slow peer never extends
// another peer's budget.
func DefaultBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 200 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    5,
	}
}

// Coordinator builds peer address tables from live peer workloads.
type Coordinator struct {
	// RPC fetches peer identities.
	RPC rpc.PeerClient

	// Backoff is the per-peer retry budget. Zero value means
	// DefaultBackoff.
	Backoff wait.Backoff
}

// New returns a Coordinator fetching identities through peerClient.
func New(peerClient rpc.PeerClient) *Coordinator {
	return &Coordinator{
		RPC:     peerClient,
		Backoff: DefaultBackoff(),
	}
}

type fetchResult struct {
	info *v1alpha1.PeerInfo
	err  error
}

// Coordinate fetches the identity of every ready candidate and returns
// the table sorted by peer index. network identifies the owning Network
// for logs and metrics.
//
// Fail-closed contract: if any bootstrap candidate is not ready, or its
// identity cannot be fetched within the retry budget, Coordinate
// returns a NotReady error and no table. A general candidate in the
// same situation is omitted from this pass instead.
func (c *Coordinator) Coordinate(
	ctx context.Context,
	network client.ObjectKey,
	candidates []Candidate,
) ([]v1alpha1.PeerInfo, error) {
	logger := log.FromContext(ctx)

	// Check readiness before fetching anything: a missing bootstrap
	// peer invalidates the whole pass.
	for _, cand := range candidates {
		if cand.Bootstrap && !cand.Ready {
			return nil, errdefs.NotReady("bootstrap peer %d is not ready", cand.Index)
		}
	}

	// One goroutine per ready peer, each with its own retry budget.
	// Results land in per-peer slots so no locking is needed.
	results := make([]fetchResult, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		if !cand.Ready {
			continue
		}
		wg.Add(1)
		go func(slot int, cand Candidate) {
			defer wg.Done()
			results[slot] = c.fetch(ctx, network, cand)
		}(i, cand)
	}
	wg.Wait()

	table := make([]v1alpha1.PeerInfo, 0, len(candidates))
	for i, cand := range candidates {
		if !cand.Ready {
			// Only general peers reach here; they are picked up on a
			// later pass.
			continue
		}
		res := results[i]
		if res.err != nil {
			if cand.Bootstrap {
				return nil, errdefs.NotReady(
					"bootstrap peer %d identity fetch failed: %v", cand.Index, res.err)
			}
			logger.V(1).Info("omitting general peer from address table this pass",
				"peer", cand.Index, "reason", res.err.Error())
			continue
		}
		table = append(table, *res.info)
	}

	sort.Slice(table, func(i, j int) bool { return table[i].Index < table[j].Index })
	return table, nil
}

// fetch retrieves one peer's identity, retrying on any error within the
// configured budget. A peer advertising no routable addresses counts as
// a failed fetch: readiness can precede address advertisement.
func (c *Coordinator) fetch(
	ctx context.Context,
	network client.ObjectKey,
	cand Candidate,
) fetchResult {
	backoff := c.Backoff
	if backoff.Steps == 0 {
		backoff = DefaultBackoff()
	}

	var info *v1alpha1.PeerInfo
	err := retry.OnError(backoff, anyError, func() error {
		ident, err := c.RPC.Identity(ctx, cand.RPCAddress)
		if err != nil {
			return err
		}
		addrs := rpc.P2PAddresses(ident.ID, ident.Addresses)
		if len(addrs) == 0 {
			return fmt.Errorf("peer %q advertises no routable addresses", ident.ID)
		}
		info = &v1alpha1.PeerInfo{
			Index:        cand.Index,
			ID:           ident.ID,
			Bootstrap:    cand.Bootstrap,
			RPCAddress:   cand.RPCAddress,
			APIAddress:   cand.APIAddress,
			P2PAddresses: addrs,
		}
		return nil
	})
	monitoring.RecordPeerFetch(network.Name, network.Namespace, err)
	return fetchResult{info: info, err: err}
}

func anyError(error) bool { return true }
