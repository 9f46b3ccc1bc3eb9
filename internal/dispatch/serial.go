package dispatch

import (
	"context"
	"fmt"
	"time"

	"yqhp/experiment-runner/internal/metrics"
	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/pkg/types"
)

// runSerial executes the pending trials one at a time in the calling
// goroutine. The first trial error aborts the run; the failing trial keeps no
// result and is retried by the next run.
func (d *Dispatcher) runSerial(ctx context.Context, rc *state.RunContext, fn registry.TrialFunc, trials []*types.Trial, collector *metrics.Collector) error {
	cl, err := rc.Client()
	if err != nil {
		return err
	}

	ctx = state.WithRunContext(ctx, rc)
	for _, trial := range trials {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := executeTrial(ctx, cl, fn, trial, collector); err != nil {
			return err
		}
	}
	return nil
}

// executeTrial runs one trial and records its result. Shared by the serial
// and multithreaded backends; the pool and cluster backends record through
// the worker protocol instead.
func executeTrial(ctx context.Context, cl state.Client, fn registry.TrialFunc, trial *types.Trial, collector *metrics.Collector) error {
	start := time.Now()
	results, err := fn(ctx, trial.Config, trial.ID)
	if err != nil {
		collector.RecordFailed(time.Since(start))
		return fmt.Errorf("trial %s failed: %w", trial.ID, err)
	}

	if err := cl.CompleteTrial(ctx, trial.ID, results); err != nil {
		return fmt.Errorf("failed to record trial %s: %w", trial.ID, err)
	}
	collector.RecordCompleted(time.Since(start))
	return nil
}
