package types

import "fmt"

// ExecutionMode selects the backend a run executes on. The set of modes is
// closed: every variant lives in this package and embeds the unexported
// marker, so dispatch sites can type-switch exhaustively.
type ExecutionMode interface {
	// Validate checks the mode's parameters.
	Validate() error

	// String returns the mode name used in configuration and logs.
	String() string

	isExecutionMode()
}

// Serial executes trials one at a time in the calling process.
type Serial struct{}

func (Serial) isExecutionMode() {}

// Validate always succeeds; Serial has no parameters.
func (Serial) Validate() error { return nil }

func (Serial) String() string { return "serial" }

// Multithreaded partitions trials across a fixed pool of worker goroutines
// sharing one process. Threads <= 0 selects one worker per available CPU.
type Multithreaded struct {
	Threads int
}

func (Multithreaded) isExecutionMode() {}

// Validate always succeeds; a non-positive thread count falls back to the
// CPU count at dispatch time.
func (Multithreaded) Validate() error { return nil }

func (Multithreaded) String() string { return "multithreaded" }

// DistributedPool maps trial execution across a pool of worker members, the
// lowest-indexed member owning the authoritative results store.
type DistributedPool struct {
	// Workers is the number of available pool members. Fewer than 2 members
	// downgrades the run to Serial.
	Workers int
}

func (DistributedPool) isExecutionMode() {}

// Validate rejects a negative worker count.
func (m DistributedPool) Validate() error {
	if m.Workers < 0 {
		return fmt.Errorf("distributed pool: negative worker count %d", m.Workers)
	}
	return nil
}

func (DistributedPool) String() string { return "distributed" }

// HeterogeneousPool is a DistributedPool whose members each fan work out
// across a fixed number of threads.
type HeterogeneousPool struct {
	// Workers is the number of available pool members.
	Workers int

	// ThreadsPerNode is the number of threads each member runs. Must be
	// positive.
	ThreadsPerNode int
}

func (HeterogeneousPool) isExecutionMode() {}

// Validate rejects a negative worker count and a non-positive thread count.
func (m HeterogeneousPool) Validate() error {
	if m.Workers < 0 {
		return fmt.Errorf("heterogeneous pool: negative worker count %d", m.Workers)
	}
	if m.ThreadsPerNode <= 0 {
		return fmt.Errorf("heterogeneous pool: threads per node must be positive, got %d", m.ThreadsPerNode)
	}
	return nil
}

func (HeterogeneousPool) String() string { return "heterogeneous" }

// ClusterMode delegates the run to the coordinator/worker protocol across
// cooperating processes.
type ClusterMode struct {
	// BatchSize is the maximum number of trials handed to a worker per
	// assignment. Must be positive.
	BatchSize int
}

func (ClusterMode) isExecutionMode() {}

// Validate rejects a non-positive batch size.
func (m ClusterMode) Validate() error {
	if m.BatchSize <= 0 {
		return fmt.Errorf("cluster mode: batch size must be positive, got %d", m.BatchSize)
	}
	return nil
}

func (ClusterMode) String() string { return "cluster" }
