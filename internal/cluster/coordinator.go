package cluster

import (
	"context"
	"fmt"

	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// CoordinatorState represents the coordinator's position in its state
// machine.
type CoordinatorState string

const (
	// StateAssigning indicates trials remain in the queue.
	StateAssigning CoordinatorState = "assigning"
	// StateDraining indicates the queue is empty but workers are still
	// active.
	StateDraining CoordinatorState = "draining"
	// StateDone indicates every worker has been told to stop. Terminal.
	StateDone CoordinatorState = "done"
)

// Coordinator owns the trial queue of a cluster run and tracks worker
// shutdown. All fields are mutated only inside the single-threaded Run loop.
type Coordinator struct {
	experiment *types.Experiment
	queue      []*types.Trial

	nextTrialIndex   int
	numWorkers       int
	numWorkersClosed int
	stopped          map[int]bool

	assignmentsSent int
	trialsAssigned  int
}

// NewCoordinator creates the coordinator for a cluster run. It is a fatal
// configuration error to launch with fewer than 2 processes or to request
// the coordinator role on any rank other than 0.
func NewCoordinator(rank, numProcs int, exp *types.Experiment, trials []*types.Trial) (*Coordinator, error) {
	if numProcs < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewProcesses, numProcs)
	}
	if rank != 0 {
		return nil, fmt.Errorf("%w: requested on rank %d", ErrCoordinatorNotLowestRank, rank)
	}

	return &Coordinator{
		experiment: exp,
		queue:      trials,
		numWorkers: numProcs - 1,
		stopped:    make(map[int]bool),
	}, nil
}

// Run processes requests one at a time until every worker has been told to
// stop. It must be called on rank 0 only. With an empty queue it still runs,
// answering each worker's first request with Stop so the cluster shuts down
// cleanly.
func (c *Coordinator) Run(ctx context.Context, lis Listener) error {
	logger.Info("coordinator: starting with %d trials for %d workers", len(c.queue), c.numWorkers)

	for c.numWorkersClosed < c.numWorkers {
		env, err := lis.Recv(ctx)
		if err != nil {
			return fmt.Errorf("coordinator receive failed: %w", err)
		}

		resp, err := c.handle(env.Req)
		env.Reply(resp, err)
		if err != nil {
			return err
		}
	}

	logger.Info("coordinator: all %d workers closed, shutting down", c.numWorkers)
	return nil
}

// handle answers a single job request. Runs strictly serially.
func (c *Coordinator) handle(req *types.JobRequest) (*types.JobResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrUnexpectedResponse)
	}
	if c.stopped[req.WorkerID] {
		return nil, fmt.Errorf("%w: worker %d", ErrProtocolViolation, req.WorkerID)
	}
	if req.BatchSize <= 0 {
		return nil, fmt.Errorf("worker %d requested invalid batch size %d", req.WorkerID, req.BatchSize)
	}

	remaining := len(c.queue) - c.nextTrialIndex
	if remaining == 0 {
		c.stopped[req.WorkerID] = true
		c.numWorkersClosed++
		logger.Debug("coordinator: stop sent to worker %d (%d/%d closed)",
			req.WorkerID, c.numWorkersClosed, c.numWorkers)
		return types.NewStop(), nil
	}

	n := req.BatchSize
	if n > remaining {
		n = remaining
	}
	batch := c.queue[c.nextTrialIndex : c.nextTrialIndex+n]
	c.nextTrialIndex += n
	c.assignmentsSent++
	c.trialsAssigned += n

	logger.Debug("coordinator: assigned %d trials to worker %d (%d remaining)",
		n, req.WorkerID, len(c.queue)-c.nextTrialIndex)
	return types.NewAssignment(batch), nil
}

// State returns the coordinator's current state.
func (c *Coordinator) State() CoordinatorState {
	switch {
	case c.numWorkersClosed == c.numWorkers:
		return StateDone
	case c.nextTrialIndex < len(c.queue):
		return StateAssigning
	default:
		return StateDraining
	}
}

// Remaining returns the number of unassigned trials in the queue.
func (c *Coordinator) Remaining() int {
	return len(c.queue) - c.nextTrialIndex
}

// WorkersClosed returns how many workers have been told to stop.
func (c *Coordinator) WorkersClosed() int {
	return c.numWorkersClosed
}

// AssignmentsSent returns the number of assignment responses sent.
func (c *Coordinator) AssignmentsSent() int {
	return c.assignmentsSent
}

// TrialsAssigned returns the total number of trials handed out.
func (c *Coordinator) TrialsAssigned() int {
	return c.trialsAssigned
}
