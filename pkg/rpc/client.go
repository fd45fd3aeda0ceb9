package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Peer control API paths, fixed by the node image the operator deploys.
const (
	identityPath   = "/api/v0/id"
	swarmPeersPath = "/api/v0/swarm/peers"
	runStatusPath  = "/status"
)

// DefaultTimeout bounds a single control-endpoint request. Retry budgets
// are owned by the callers, not the client.
const DefaultTimeout = 10 * time.Second

// Manager run states reported by the run-status endpoint.
const (
	RunStateRunning   = "running"
	RunStateCompleted = "completed"
)

// Identity is a peer's self-reported identity.
type Identity struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

// PeerStatus is a peer's view of its swarm.
type PeerStatus struct {
	// ConnectedPeers counts the peers the node is connected to.
	ConnectedPeers int
}

// ManagerStatus is the manager's self-reported run state.
type ManagerStatus struct {
	State string `json:"state"`
}

// Completed reports whether the manager finished the scenario.
func (s *ManagerStatus) Completed() bool {
	return s.State == RunStateCompleted
}

// PeerClient talks to a peer's control API.
type PeerClient interface {
	// Identity fetches the peer's ID and advertised multiaddresses.
	Identity(ctx context.Context, rpcAddr string) (*Identity, error)

	// Status fetches the peer's swarm connection count.
	Status(ctx context.Context, rpcAddr string) (*PeerStatus, error)
}

// ManagerClient polls the simulation manager's control endpoint.
type ManagerClient interface {
	// RunStatus fetches the manager's run state.
	RunStatus(ctx context.Context, managerAddr string) (*ManagerStatus, error)
}

// HTTPClient implements PeerClient and ManagerClient over plain HTTP.
type HTTPClient struct {
	http *http.Client
}

var (
	_ PeerClient    = (*HTTPClient)(nil)
	_ ManagerClient = (*HTTPClient)(nil)
)

// NewHTTPClient returns an HTTPClient with the given per-request
// timeout. A zero timeout falls back to DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		http: &http.Client{Timeout: timeout},
	}
}

// Identity fetches the peer's identity. The control API answers POST
// with {"ID": …, "Addresses": […]}.
func (c *HTTPClient) Identity(ctx context.Context, rpcAddr string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcAddr+identityPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity from %s: %w", rpcAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity request to %s failed: %w", rpcAddr, decodeError(resp))
	}

	ident := &Identity{}
	if err := json.NewDecoder(resp.Body).Decode(ident); err != nil {
		return nil, fmt.Errorf("failed to decode identity response from %s: %w", rpcAddr, err)
	}
	if ident.ID == "" {
		return nil, fmt.Errorf("identity response from %s carries no peer ID", rpcAddr)
	}
	return ident, nil
}

// Status fetches the peer's swarm connection count. Only the number of
// entries matters, so the peer records themselves are discarded.
func (c *HTTPClient) Status(ctx context.Context, rpcAddr string) (*PeerStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcAddr+swarmPeersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build swarm status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch swarm status from %s: %w", rpcAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("swarm status request to %s failed: %w", rpcAddr, decodeError(resp))
	}

	var payload struct {
		Peers []json.RawMessage `json:"Peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode swarm status response from %s: %w", rpcAddr, err)
	}
	return &PeerStatus{ConnectedPeers: len(payload.Peers)}, nil
}

// RunStatus fetches the manager's run state.
func (c *HTTPClient) RunStatus(ctx context.Context, managerAddr string) (*ManagerStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, managerAddr+runStatusPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build run status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run status from %s: %w", managerAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("run status request to %s failed: %w", managerAddr, decodeError(resp))
	}

	status := &ManagerStatus{}
	if err := json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, fmt.Errorf("failed to decode run status response from %s: %w", managerAddr, err)
	}
	if status.State != RunStateRunning && status.State != RunStateCompleted {
		return nil, fmt.Errorf("run status response from %s has unknown state %q", managerAddr, status.State)
	}
	return status, nil
}

// decodeError extracts the control API's error message, which arrives
// as {"Message": …} on non-2xx responses.
func decodeError(resp *http.Response) error {
	var apiErr struct {
		Message string `json:"Message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, apiErr.Message)
}
