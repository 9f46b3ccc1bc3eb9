// Package dispatch selects and drives the execution backend for a run: it
// expands and registers the experiment, resumes from previously recorded
// results, and maps the remaining trials onto the configured mode.
package dispatch

import (
	"context"
	"fmt"

	"yqhp/experiment-runner/internal/metrics"
	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/script"
	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// ClusterEnv describes this process's place in a cluster run. It is required
// for ClusterMode and ignored by every other mode.
type ClusterEnv struct {
	// Rank is this process's rank. Rank 0 is the coordinator.
	Rank int

	// NumProcs is the total number of cooperating processes, coordinator
	// included.
	NumProcs int

	// ListenAddress is the coordinator's listen address. Used on rank 0.
	ListenAddress string

	// CoordinatorURL is the coordinator's base URL. Used on worker ranks.
	CoordinatorURL string
}

// Config assembles a dispatcher.
type Config struct {
	// Store is the authoritative results store. Required on every process
	// except cluster worker ranks, which redirect to the coordinator.
	Store store.Store

	// Registry resolves trial and store-initializer names. Required.
	Registry *registry.Registry

	// Cluster is the cluster environment. Required for ClusterMode.
	Cluster *ClusterEnv
}

// Dispatcher runs experiments.
type Dispatcher struct {
	st      store.Store
	reg     *registry.Registry
	cluster *ClusterEnv
}

// New creates a dispatcher.
func New(cfg *Config) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dispatcher config is nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatcher requires a registry")
	}
	return &Dispatcher{
		st:      cfg.Store,
		reg:     cfg.Registry,
		cluster: cfg.Cluster,
	}, nil
}

// RunExperiment executes an experiment on the given mode. Reruns of an
// already-registered experiment skip trials with recorded results, so a run
// that was interrupted or partially failed picks up where it left off.
func (d *Dispatcher) RunExperiment(ctx context.Context, exp *types.Experiment, mode types.ExecutionMode) (*metrics.RunSummary, error) {
	if exp == nil {
		return nil, fmt.Errorf("experiment is nil")
	}
	if mode == nil {
		return nil, fmt.Errorf("execution mode is nil")
	}
	if err := mode.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution mode: %w", err)
	}

	collector := metrics.NewCollector()

	// Cluster runs branch before any store access: worker ranks hold no
	// store handle at all.
	if cm, ok := mode.(types.ClusterMode); ok {
		return d.runCluster(ctx, exp, cm, collector)
	}

	return d.runLocal(ctx, exp, mode, collector)
}

// runLocal covers every mode that executes inside this process: serial,
// multithreaded, and the two pool variants.
func (d *Dispatcher) runLocal(ctx context.Context, exp *types.Experiment, mode types.ExecutionMode, collector *metrics.Collector) (*metrics.RunSummary, error) {
	if d.st == nil {
		return nil, fmt.Errorf("mode %s requires a results store", mode)
	}

	fn, err := d.prepareFunctions(exp)
	if err != nil {
		return nil, err
	}

	pending, err := d.ensureRegistered(ctx, exp)
	if err != nil {
		return nil, err
	}

	rc := state.NewRunContext()
	rc.SetStore(d.st)
	defer rc.Unset()

	if exp.InitStoreFn != "" {
		if err := rc.ConstructGlobalStore(d.reg, exp.InitStoreFn, exp.Config); err != nil {
			return nil, err
		}
	}

	logger.Info("experiment %s: %d of %d trials pending, mode %s",
		exp.Name, len(pending), exp.NumTrials, mode)

	if len(pending) == 0 {
		logger.Info("experiment %s: all trials already complete", exp.Name)
		return collector.Summary(), nil
	}

	switch m := mode.(type) {
	case types.Serial:
		err = d.runSerial(ctx, rc, fn, pending, collector)

	case types.Multithreaded:
		err = d.runThreaded(ctx, rc, fn, pending, m.Threads, collector)

	case types.DistributedPool:
		if m.Workers < 2 {
			logger.Warn("experiment %s: %d pool workers available, running serially",
				exp.Name, m.Workers)
			err = d.runSerial(ctx, rc, fn, pending, collector)
		} else {
			err = d.runPool(ctx, rc, exp, fn, pending, m.Workers, 1, collector)
		}

	case types.HeterogeneousPool:
		if m.Workers < 2 {
			logger.Warn("experiment %s: %d pool workers available, running multithreaded",
				exp.Name, m.Workers)
			err = d.runThreaded(ctx, rc, fn, pending, m.ThreadsPerNode, collector)
		} else {
			err = d.runPool(ctx, rc, exp, fn, pending, m.Workers, m.ThreadsPerNode, collector)
		}

	default:
		err = fmt.Errorf("unsupported execution mode %s", mode)
	}
	if err != nil {
		return nil, err
	}

	summary := collector.Summary()
	logger.Info("experiment %s: finished, %s", exp.Name, summary)
	return summary, nil
}

// prepareFunctions loads the experiment's source file into the registry and
// resolves the trial function, so a missing name fails before any trial
// starts.
func (d *Dispatcher) prepareFunctions(exp *types.Experiment) (registry.TrialFunc, error) {
	if exp.SourceFile != "" {
		if _, err := script.LoadFile(d.reg, exp.SourceFile); err != nil {
			return nil, err
		}
	}
	return d.reg.ResolveTrialFn(exp.TrialFn)
}

// ensureRegistered persists the experiment and its expanded trials, then
// returns the trials that still lack a result.
func (d *Dispatcher) ensureRegistered(ctx context.Context, exp *types.Experiment) ([]*types.Trial, error) {
	if err := d.st.RegisterExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to register experiment %s: %w", exp.Name, err)
	}

	existing, err := d.st.ListTrials(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	if len(existing) == 0 {
		for _, trial := range exp.ExpandTrials() {
			if err := d.st.RegisterTrial(ctx, trial); err != nil {
				return nil, fmt.Errorf("failed to register trial: %w", err)
			}
		}
	}

	pending, err := d.st.ListIncompleteTrials(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete trials: %w", err)
	}
	return pending, nil
}
