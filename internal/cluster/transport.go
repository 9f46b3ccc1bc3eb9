// Package cluster implements the coordinator/worker scheduling protocol:
// rank 0 runs the coordinator, every other rank runs a worker that pulls
// batches of trials, executes them, and redirects completions to the
// coordinator's results store.
package cluster

import (
	"context"

	"yqhp/experiment-runner/pkg/types"
)

// Transport is a worker's synchronous channel to the coordinator. RequestJob
// blocks until the coordinator has accepted the request and produced the
// matching response; the store methods are the redirected mutations and
// queries of the state manager's client stub, so a Transport doubles as a
// state.Client on worker processes.
type Transport interface {
	// RequestJob sends a JobRequest and blocks for the one JobResponse that
	// answers it.
	RequestJob(ctx context.Context, req *types.JobRequest) (*types.JobResponse, error)

	// CompleteTrial records a trial result in the coordinator's store.
	CompleteTrial(ctx context.Context, trialID string, results map[string]any) error

	// GetTrial fetches a trial from the coordinator's store.
	GetTrial(ctx context.Context, trialID string) (*types.Trial, error)

	// SaveSnapshot persists a trial snapshot in the coordinator's store.
	SaveSnapshot(ctx context.Context, trialID string, snapState map[string]any, label string) error

	// LatestSnapshot fetches a trial's most recent snapshot state.
	LatestSnapshot(ctx context.Context, trialID string) (map[string]any, error)

	// Close releases the underlying message channel. Called once, after the
	// worker receives Stop.
	Close() error
}

// RequestEnvelope pairs a received JobRequest with its reply channel. The
// coordinator answers every envelope exactly once.
type RequestEnvelope struct {
	Req   *types.JobRequest
	reply chan replyMsg
}

type replyMsg struct {
	resp *types.JobResponse
	err  error
}

// NewRequestEnvelope wraps a request for delivery to the coordinator loop.
func NewRequestEnvelope(req *types.JobRequest) *RequestEnvelope {
	return &RequestEnvelope{
		Req:   req,
		reply: make(chan replyMsg, 1),
	}
}

// Reply answers the request. Safe to call exactly once.
func (e *RequestEnvelope) Reply(resp *types.JobResponse, err error) {
	e.reply <- replyMsg{resp: resp, err: err}
}

// Wait blocks for the coordinator's answer.
func (e *RequestEnvelope) Wait(ctx context.Context) (*types.JobResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-e.reply:
		return msg.resp, msg.err
	}
}

// Listener is the coordinator's side of the transport: a stream of request
// envelopes consumed by the single-threaded coordinator loop. Because the
// loop processes envelopes strictly one at a time, the coordinator's queue
// and counters need no additional locking.
type Listener interface {
	// Recv blocks for the next pending request from any worker.
	Recv(ctx context.Context) (*RequestEnvelope, error)

	// Close shuts the listener down.
	Close() error
}
