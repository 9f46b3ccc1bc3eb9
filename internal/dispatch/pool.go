package dispatch

import (
	"context"
	"sync"
	"time"

	"yqhp/experiment-runner/internal/cluster"
	"yqhp/experiment-runner/internal/metrics"
	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// runPool maps the pending trials across a pool of members driven by the
// coordinator protocol over an in-process network. The driver process owns
// the results store and serves the coordinator loop. Each pool member holds
// its own run context, so store access redirects to the owner and the global
// store is constructed once per member, mirroring the process boundaries of
// a real pool. With threadsPerNode > 1 each member fans its requests out
// across that many puller goroutines sharing the member's run context.
func (d *Dispatcher) runPool(ctx context.Context, rc *state.RunContext, exp *types.Experiment, fn registry.TrialFunc, trials []*types.Trial, workers, threadsPerNode int, collector *metrics.Collector) error {
	ownerCl, err := rc.Client()
	if err != nil {
		return err
	}

	numPullers := workers * threadsPerNode
	coord, err := cluster.NewCoordinator(0, numPullers+1, exp, trials)
	if err != nil {
		return err
	}

	network := cluster.NewNetwork(ownerCl)
	defer network.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("pool run: %d trials across %d members, %d threads each",
		len(trials), workers, threadsPerNode)

	coordErr := make(chan error, 1)
	go func() {
		coordErr <- coord.Run(runCtx, network)
	}()

	errCh := make(chan error, numPullers)
	var wg sync.WaitGroup
	for m := 0; m < workers; m++ {
		memberRC := state.NewRunContext()
		memberRC.SetRemote(network.WorkerTransport())
		if exp.InitStoreFn != "" {
			if err := memberRC.ConstructGlobalStore(d.reg, exp.InitStoreFn, exp.Config); err != nil {
				cancel()
				wg.Wait()
				<-coordErr
				return err
			}
		}
		memberCtx := state.WithRunContext(runCtx, memberRC)

		for t := 0; t < threadsPerNode; t++ {
			w, err := cluster.NewWorker(m*threadsPerNode+t+1, 1, fn, network.WorkerTransport())
			if err != nil {
				cancel()
				wg.Wait()
				<-coordErr
				return err
			}
			w.OnTrialDone = func(_ string, elapsed time.Duration) {
				collector.RecordCompleted(elapsed)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Run(memberCtx); err != nil {
					errCh <- err
					cancel()
				}
			}()
		}
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}

	// All pullers received Stop, so the coordinator loop has drained.
	if err := <-coordErr; err != nil {
		return err
	}
	return ctx.Err()
}
