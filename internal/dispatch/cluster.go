package dispatch

import (
	"context"
	"fmt"
	"time"

	"yqhp/experiment-runner/internal/cluster"
	"yqhp/experiment-runner/internal/metrics"
	"yqhp/experiment-runner/internal/script"
	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// runCluster drives this process's role in a cluster run: the coordinator
// loop on rank 0, a worker loop everywhere else. Every cooperating process
// runs the same program with the same experiment definition and differs only
// in rank.
func (d *Dispatcher) runCluster(ctx context.Context, exp *types.Experiment, mode types.ClusterMode, collector *metrics.Collector) (*metrics.RunSummary, error) {
	if d.cluster == nil {
		return nil, fmt.Errorf("cluster mode requires a cluster environment")
	}
	if d.cluster.NumProcs < 2 {
		return nil, fmt.Errorf("%w: got %d", cluster.ErrTooFewProcesses, d.cluster.NumProcs)
	}

	if d.cluster.Rank == 0 {
		return d.runClusterCoordinator(ctx, exp, collector)
	}
	return d.runClusterWorker(ctx, exp, mode, collector)
}

// runClusterCoordinator registers the run, then serves assignments over HTTP
// until every worker has received Stop. The coordinator executes no trials
// itself; it owns the results store and answers the workers' redirected
// store calls.
func (d *Dispatcher) runClusterCoordinator(ctx context.Context, exp *types.Experiment, collector *metrics.Collector) (*metrics.RunSummary, error) {
	if d.st == nil {
		return nil, fmt.Errorf("cluster coordinator requires a results store")
	}

	// Load the source file here too: the coordinator validates the same
	// definition the workers run.
	if _, err := d.prepareFunctions(exp); err != nil {
		return nil, err
	}

	pending, err := d.ensureRegistered(ctx, exp)
	if err != nil {
		return nil, err
	}

	rc := state.NewRunContext()
	rc.SetStore(d.st)
	defer rc.Unset()

	cl, err := rc.Client()
	if err != nil {
		return nil, err
	}

	coord, err := cluster.NewCoordinator(d.cluster.Rank, d.cluster.NumProcs, exp, pending)
	if err != nil {
		return nil, err
	}

	srvCfg := cluster.DefaultServerConfig()
	if d.cluster.ListenAddress != "" {
		srvCfg.Address = d.cluster.ListenAddress
	}
	srv := cluster.NewServer(srvCfg, cl)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	defer srv.Close()

	logger.Info("coordinator: serving %d trials to %d workers on %s",
		len(pending), d.cluster.NumProcs-1, srvCfg.Address)

	if err := coord.Run(ctx, srv); err != nil {
		return nil, err
	}

	remaining, err := d.st.ListIncompleteTrials(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete trials: %w", err)
	}

	// Trial durations are observed on the workers; the coordinator reports
	// counts from the store.
	summary := collector.Summary()
	summary.Completed = len(pending) - len(remaining)
	logger.Info("coordinator: run finished, %d of %d trials completed",
		summary.Completed, len(pending))
	return summary, nil
}

// runClusterWorker pulls and executes batches until the coordinator answers
// Stop. The worker holds no store handle; every store operation redirects to
// the coordinator.
func (d *Dispatcher) runClusterWorker(ctx context.Context, exp *types.Experiment, mode types.ClusterMode, collector *metrics.Collector) (*metrics.RunSummary, error) {
	clientCfg := cluster.DefaultClientConfig()
	if d.cluster.CoordinatorURL != "" {
		clientCfg.CoordinatorURL = d.cluster.CoordinatorURL
	}
	transport := cluster.NewHTTPTransport(clientCfg)

	rc := state.NewRunContext()
	rc.SetRemote(transport)
	defer rc.Unset()

	if exp.SourceFile != "" {
		if _, err := script.LoadFile(d.reg, exp.SourceFile); err != nil {
			return nil, err
		}
	}
	fn, err := d.reg.ResolveTrialFn(exp.TrialFn)
	if err != nil {
		return nil, err
	}
	if exp.InitStoreFn != "" {
		if err := rc.ConstructGlobalStore(d.reg, exp.InitStoreFn, exp.Config); err != nil {
			return nil, err
		}
	}

	w, err := cluster.NewWorker(d.cluster.Rank, mode.BatchSize, fn, transport)
	if err != nil {
		return nil, err
	}
	w.OnTrialDone = func(_ string, elapsed time.Duration) {
		collector.RecordCompleted(elapsed)
	}

	if err := w.Run(state.WithRunContext(ctx, rc)); err != nil {
		return nil, err
	}

	summary := collector.Summary()
	logger.Info("worker %d: run finished, %s", d.cluster.Rank, summary)
	return summary, nil
}
