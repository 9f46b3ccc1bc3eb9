package dispatch

import (
	"context"
	"runtime"
	"sync"

	"yqhp/experiment-runner/internal/metrics"
	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// runThreaded partitions the pending trials across a fixed pool of worker
// goroutines pulling from one shared channel. All goroutines share the
// process's run context and therefore one global store. The first trial error
// cancels the remaining work and propagates.
func (d *Dispatcher) runThreaded(ctx context.Context, rc *state.RunContext, fn registry.TrialFunc, trials []*types.Trial, threads int, collector *metrics.Collector) error {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > len(trials) {
		threads = len(trials)
	}

	cl, err := rc.Client()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(state.WithRunContext(ctx, rc))
	defer cancel()

	logger.Debug("multithreaded run: %d trials across %d workers", len(trials), threads)

	trialCh := make(chan *types.Trial)
	errCh := make(chan error, threads)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trial := range trialCh {
				if runCtx.Err() != nil {
					return
				}
				if err := executeTrial(runCtx, cl, fn, trial, collector); err != nil {
					errCh <- err
					cancel()
					return
				}
			}
		}()
	}

feed:
	for _, trial := range trials {
		select {
		case trialCh <- trial:
		case <-runCtx.Done():
			break feed
		}
	}
	close(trialCh)
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	return ctx.Err()
}
