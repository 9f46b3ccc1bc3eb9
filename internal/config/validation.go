package config

import (
	"fmt"

	"yqhp/experiment-runner/pkg/types"
)

// Validate checks the configuration for contradictions that would only
// surface mid-run.
func (c *Config) Validate() error {
	if _, err := c.Mode.BuildMode(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver mysql requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Mode.Name == "cluster" {
		if c.Cluster.NumProcs < 2 {
			return fmt.Errorf("cluster runs need at least 2 processes, got %d", c.Cluster.NumProcs)
		}
		if c.Cluster.Rank < 0 || c.Cluster.Rank >= c.Cluster.NumProcs {
			return fmt.Errorf("cluster rank %d out of range for %d processes", c.Cluster.Rank, c.Cluster.NumProcs)
		}
		if c.Cluster.Rank == 0 && c.Cluster.ListenAddress == "" {
			return fmt.Errorf("cluster coordinator requires a listen address")
		}
		if c.Cluster.Rank != 0 && c.Cluster.CoordinatorURL == "" {
			return fmt.Errorf("cluster worker requires a coordinator url")
		}
	}

	return nil
}

// BuildMode turns the mode section into an execution mode value.
func (m ModeConfig) BuildMode() (types.ExecutionMode, error) {
	var mode types.ExecutionMode
	switch m.Name {
	case "serial":
		mode = types.Serial{}
	case "multithreaded":
		mode = types.Multithreaded{Threads: m.Threads}
	case "distributed":
		mode = types.DistributedPool{Workers: m.PoolWorkers}
	case "heterogeneous":
		mode = types.HeterogeneousPool{Workers: m.PoolWorkers, ThreadsPerNode: m.ThreadsPerNode}
	case "cluster":
		mode = types.ClusterMode{BatchSize: m.BatchSize}
	default:
		return nil, fmt.Errorf("unknown execution mode %q", m.Name)
	}

	if err := mode.Validate(); err != nil {
		return nil, err
	}
	return mode, nil
}
