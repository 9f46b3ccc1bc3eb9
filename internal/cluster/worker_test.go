package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/experiment-runner/pkg/types"
)

// scriptedTransport feeds a fixed sequence of responses to a worker and
// records what the worker sends back.
type scriptedTransport struct {
	responses []*types.JobResponse
	requests  []*types.JobRequest
	completed map[string]int
	closed    bool
}

func newScriptedTransport(responses ...*types.JobResponse) *scriptedTransport {
	return &scriptedTransport{
		responses: responses,
		completed: make(map[string]int),
	}
}

func (t *scriptedTransport) RequestJob(_ context.Context, req *types.JobRequest) (*types.JobResponse, error) {
	t.requests = append(t.requests, req)
	if len(t.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := t.responses[0]
	t.responses = t.responses[1:]
	return resp, nil
}

func (t *scriptedTransport) CompleteTrial(_ context.Context, trialID string, _ map[string]any) error {
	t.completed[trialID]++
	return nil
}

func (t *scriptedTransport) GetTrial(context.Context, string) (*types.Trial, error) {
	return nil, fmt.Errorf("not scripted")
}

func (t *scriptedTransport) SaveSnapshot(context.Context, string, map[string]any, string) error {
	return nil
}

func (t *scriptedTransport) LatestSnapshot(context.Context, string) (map[string]any, error) {
	return nil, fmt.Errorf("not scripted")
}

func (t *scriptedTransport) Close() error {
	t.closed = true
	return nil
}

func okTrialFn(_ context.Context, _ map[string]any, _ string) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func TestNewWorkerValidation(t *testing.T) {
	transport := newScriptedTransport()

	_, err := NewWorker(0, 1, okTrialFn, transport)
	assert.ErrorIs(t, err, ErrWorkerOnCoordinatorRank)

	_, err = NewWorker(1, 0, okTrialFn, transport)
	assert.Error(t, err)

	_, err = NewWorker(1, 1, nil, transport)
	assert.Error(t, err)

	_, err = NewWorker(1, 1, okTrialFn, nil)
	assert.Error(t, err)
}

func TestWorkerExecutesUntilStop(t *testing.T) {
	exp := types.NewExperiment("worker-test", 3, "noop")
	trials := exp.ExpandTrials()

	transport := newScriptedTransport(
		types.NewAssignment(trials[:2]),
		types.NewAssignment(trials[2:]),
		types.NewStop(),
	)

	w, err := NewWorker(1, 2, okTrialFn, transport)
	require.NoError(t, err)

	var observed int
	w.OnTrialDone = func(string, time.Duration) { observed++ }

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 3, observed)

	assert.True(t, w.HasStopped())
	assert.True(t, transport.closed)
	assert.Equal(t, 2, w.JobsCompleted())
	require.Len(t, transport.requests, 3)
	for _, req := range transport.requests {
		assert.Equal(t, 1, req.WorkerID)
		assert.Equal(t, 2, req.BatchSize)
	}
	for _, trial := range trials {
		assert.Equal(t, 1, transport.completed[trial.ID])
	}
}

func TestWorkerRunAfterStop(t *testing.T) {
	transport := newScriptedTransport(types.NewStop())
	w, err := NewWorker(1, 1, okTrialFn, transport)
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))
	assert.Error(t, w.Run(context.Background()))
}

func TestWorkerUnexpectedResponse(t *testing.T) {
	transport := newScriptedTransport(&types.JobResponse{Kind: "bogus"})
	w, err := NewWorker(1, 1, okTrialFn, transport)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Run(context.Background()), ErrUnexpectedResponse)
}

func TestWorkerTrialFailureAborts(t *testing.T) {
	exp := types.NewExperiment("worker-test", 2, "noop")
	trials := exp.ExpandTrials()

	failing := func(_ context.Context, _ map[string]any, trialID string) (map[string]any, error) {
		if trialID == trials[1].ID {
			return nil, fmt.Errorf("boom")
		}
		return map[string]any{}, nil
	}

	transport := newScriptedTransport(types.NewAssignment(trials))
	w, err := NewWorker(1, 2, failing, transport)
	require.NoError(t, err)

	err = w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The first trial was recorded, the failing one was not.
	assert.Equal(t, 1, transport.completed[trials[0].ID])
	assert.Equal(t, 0, transport.completed[trials[1].ID])
	assert.False(t, w.HasStopped())
}
