package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/pkg/types"
)

// Network is the in-process transport. It backs the worker-pool execution
// modes and the protocol tests: worker goroutines stand in for worker
// processes, and redirected store operations go straight to the owning
// member's client.
type Network struct {
	reqCh     chan *RequestEnvelope
	owner     state.Client
	closed    chan struct{}
	closeOnce sync.Once
}

// NewNetwork creates an in-process network whose redirected store
// operations land on owner.
func NewNetwork(owner state.Client) *Network {
	return &Network{
		reqCh:  make(chan *RequestEnvelope),
		owner:  owner,
		closed: make(chan struct{}),
	}
}

// Recv blocks for the next pending request from any worker.
func (n *Network) Recv(ctx context.Context) (*RequestEnvelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.closed:
		return nil, ErrTransportClosed
	case env := <-n.reqCh:
		return env, nil
	}
}

// Close shuts the network down. Pending and later sends fail with
// ErrTransportClosed.
func (n *Network) Close() error {
	n.closeOnce.Do(func() { close(n.closed) })
	return nil
}

// WorkerTransport returns a new worker-side handle onto this network. Each
// worker closes its own handle on Stop without tearing the network down.
func (n *Network) WorkerTransport() Transport {
	return &inprocTransport{network: n}
}

type inprocTransport struct {
	network *Network
	closed  atomic.Bool
}

// RequestJob delivers the request to the coordinator loop with blocking
// semantics: the send does not return until the loop has accepted the
// envelope, and the call then blocks for the matching response.
func (t *inprocTransport) RequestJob(ctx context.Context, req *types.JobRequest) (*types.JobResponse, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	env := NewRequestEnvelope(req)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.network.closed:
		return nil, ErrTransportClosed
	case t.network.reqCh <- env:
	}
	return env.Wait(ctx)
}

func (t *inprocTransport) CompleteTrial(ctx context.Context, trialID string, results map[string]any) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.network.owner.CompleteTrial(ctx, trialID, results)
}

func (t *inprocTransport) GetTrial(ctx context.Context, trialID string) (*types.Trial, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	return t.network.owner.GetTrial(ctx, trialID)
}

func (t *inprocTransport) SaveSnapshot(ctx context.Context, trialID string, snapState map[string]any, label string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.network.owner.SaveSnapshot(ctx, trialID, snapState, label)
}

func (t *inprocTransport) LatestSnapshot(ctx context.Context, trialID string) (map[string]any, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	return t.network.owner.LatestSnapshot(ctx, trialID)
}

// Close releases this worker's handle.
func (t *inprocTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("transport already closed")
	}
	return nil
}
