package cluster

import (
	"context"
	"fmt"
	"time"

	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// Worker pulls batches of trials from the coordinator and executes them
// locally. The WorkerNode record is owned exclusively by its process and
// transitions only inside Run.
type Worker struct {
	rank      int
	batchSize int
	trialFn   registry.TrialFunc
	transport Transport

	hasStopped    bool
	jobsCompleted int

	// OnTrialDone, when set, observes each completed trial. Used for the
	// run summary.
	OnTrialDone func(trialID string, elapsed time.Duration)
}

// NewWorker creates a worker for a cluster run. Rank 0 is reserved for the
// coordinator; requesting a worker there is a fatal configuration error.
func NewWorker(rank, batchSize int, trialFn registry.TrialFunc, transport Transport) (*Worker, error) {
	if rank == 0 {
		return nil, ErrWorkerOnCoordinatorRank
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("worker %d: batch size must be positive, got %d", rank, batchSize)
	}
	if trialFn == nil {
		return nil, fmt.Errorf("worker %d: trial function is nil", rank)
	}
	if transport == nil {
		return nil, fmt.Errorf("worker %d: transport is nil", rank)
	}

	return &Worker{
		rank:      rank,
		batchSize: batchSize,
		trialFn:   trialFn,
		transport: transport,
	}, nil
}

// Run drives the worker loop: request a batch, execute it, request again,
// until the coordinator answers Stop. Callers must have loaded the
// experiment's source file and constructed the process-local global store
// before calling Run. A trial-function error aborts the loop and propagates;
// the failing trial stays incomplete in the results store.
func (w *Worker) Run(ctx context.Context) error {
	if w.hasStopped {
		return fmt.Errorf("worker %d: already stopped", w.rank)
	}

	logger.Info("worker %d: starting, batch size %d", w.rank, w.batchSize)

	for !w.hasStopped {
		resp, err := w.transport.RequestJob(ctx, &types.JobRequest{
			WorkerID:  w.rank,
			BatchSize: w.batchSize,
		})
		if err != nil {
			return fmt.Errorf("worker %d: job request failed: %w", w.rank, err)
		}

		if err := w.apply(ctx, resp); err != nil {
			return err
		}
	}

	logger.Info("worker %d: stopped after %d jobs", w.rank, w.jobsCompleted)
	return nil
}

// apply reacts to a single job response.
func (w *Worker) apply(ctx context.Context, resp *types.JobResponse) error {
	switch resp.Kind {
	case types.ResponseAssignment:
		for _, trial := range resp.Trials {
			if err := w.execute(ctx, trial); err != nil {
				return err
			}
		}
		w.jobsCompleted++
		return nil

	case types.ResponseStop:
		w.hasStopped = true
		if err := w.transport.Close(); err != nil {
			logger.Warn("worker %d: transport close failed: %v", w.rank, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, resp.Kind)
	}
}

// execute runs one trial and redirects the completion to the coordinator's
// results store before the next batch is requested.
func (w *Worker) execute(ctx context.Context, trial *types.Trial) error {
	start := time.Now()
	results, err := w.trialFn(ctx, trial.Config, trial.ID)
	if err != nil {
		return fmt.Errorf("worker %d: trial %s failed: %w", w.rank, trial.ID, err)
	}

	if err := w.transport.CompleteTrial(ctx, trial.ID, results); err != nil {
		return fmt.Errorf("worker %d: failed to record trial %s: %w", w.rank, trial.ID, err)
	}

	if w.OnTrialDone != nil {
		w.OnTrialDone(trial.ID, time.Since(start))
	}
	return nil
}

// HasStopped reports whether the worker received Stop.
func (w *Worker) HasStopped() bool {
	return w.hasStopped
}

// JobsCompleted returns the number of assignments this worker finished.
func (w *Worker) JobsCompleted() int {
	return w.jobsCompleted
}

// Rank returns the worker's rank.
func (w *Worker) Rank() int {
	return w.rank
}
