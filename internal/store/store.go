// Package store provides the authoritative results store: the persisted
// record of experiments, trials, and trial snapshots.
package store

import (
	"context"
	"errors"

	"yqhp/experiment-runner/pkg/types"
)

var (
	// ErrExperimentNotFound is returned when an experiment id is unknown.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrTrialNotFound is returned when a trial id is unknown.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrSnapshotNotFound is returned when a trial has no snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrAlreadyCompleted is returned when completing a trial twice.
	ErrAlreadyCompleted = errors.New("trial already completed")
)

// Store is the results-store contract the runner depends on. Every call is
// individually atomic from the store's perspective; callers are responsible
// for serializing concurrent access from multiple threads of one process.
type Store interface {
	// RegisterExperiment persists an experiment record. Registering an
	// already-known id is a no-op.
	RegisterExperiment(ctx context.Context, exp *types.Experiment) error

	// RegisterTrial persists a trial record.
	RegisterTrial(ctx context.Context, trial *types.Trial) error

	// ListTrials returns all trials of an experiment.
	ListTrials(ctx context.Context, experimentID string) ([]*types.Trial, error)

	// ListIncompleteTrials returns the experiment's trials that have no
	// recorded result yet.
	ListIncompleteTrials(ctx context.Context, experimentID string) ([]*types.Trial, error)

	// CompleteTrial records a trial's results and marks it completed.
	CompleteTrial(ctx context.Context, trialID string, results map[string]any) error

	// GetTrial returns a single trial.
	GetTrial(ctx context.Context, trialID string) (*types.Trial, error)

	// SaveSnapshot persists a labeled state checkpoint for a trial.
	SaveSnapshot(ctx context.Context, trialID string, state map[string]any, label string) error

	// LatestSnapshot returns the most recent snapshot state of a trial, or
	// ErrSnapshotNotFound when none exists.
	LatestSnapshot(ctx context.Context, trialID string) (map[string]any, error)

	// Close releases the store connection.
	Close() error
}
