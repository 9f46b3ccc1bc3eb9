package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"yqhp/experiment-runner/pkg/types"
)

// MemoryStore is an in-memory Store. It backs single-process runs and tests;
// all methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*types.Experiment
	trials      map[string]*types.Trial
	trialOrder  map[string][]string // experimentID -> trial ids in registration order
	snapshots   map[string][]*types.Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*types.Experiment),
		trials:      make(map[string]*types.Trial),
		trialOrder:  make(map[string][]string),
		snapshots:   make(map[string][]*types.Snapshot),
	}
}

// RegisterExperiment persists an experiment record.
func (s *MemoryStore) RegisterExperiment(_ context.Context, exp *types.Experiment) error {
	if exp == nil {
		return fmt.Errorf("experiment cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[exp.ID]; ok {
		return nil
	}
	cp := *exp
	s.experiments[exp.ID] = &cp
	return nil
}

// RegisterTrial persists a trial record.
func (s *MemoryStore) RegisterTrial(_ context.Context, trial *types.Trial) error {
	if trial == nil {
		return fmt.Errorf("trial cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[trial.ExperimentID]; !ok {
		return fmt.Errorf("%w: %s", ErrExperimentNotFound, trial.ExperimentID)
	}
	if _, ok := s.trials[trial.ID]; ok {
		return nil
	}

	cp := copyTrial(trial)
	s.trials[trial.ID] = cp
	s.trialOrder[trial.ExperimentID] = append(s.trialOrder[trial.ExperimentID], trial.ID)
	return nil
}

// ListTrials returns all trials of an experiment in registration order.
func (s *MemoryStore) ListTrials(_ context.Context, experimentID string) ([]*types.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.experiments[experimentID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, experimentID)
	}

	ids := s.trialOrder[experimentID]
	trials := make([]*types.Trial, 0, len(ids))
	for _, id := range ids {
		trials = append(trials, copyTrial(s.trials[id]))
	}
	return trials, nil
}

// ListIncompleteTrials returns the experiment's trials without results.
func (s *MemoryStore) ListIncompleteTrials(ctx context.Context, experimentID string) ([]*types.Trial, error) {
	all, err := s.ListTrials(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	incomplete := make([]*types.Trial, 0, len(all))
	for _, t := range all {
		if !t.Completed {
			incomplete = append(incomplete, t)
		}
	}
	return incomplete, nil
}

// CompleteTrial records results and marks the trial completed.
func (s *MemoryStore) CompleteTrial(_ context.Context, trialID string, results map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trial, ok := s.trials[trialID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrialNotFound, trialID)
	}
	if trial.Completed {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, trialID)
	}

	trial.Completed = true
	trial.Results = copyPayload(results)
	return nil
}

// GetTrial returns a single trial.
func (s *MemoryStore) GetTrial(_ context.Context, trialID string) (*types.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trial, ok := s.trials[trialID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTrialNotFound, trialID)
	}
	return copyTrial(trial), nil
}

// SaveSnapshot persists a labeled state checkpoint for a trial.
func (s *MemoryStore) SaveSnapshot(_ context.Context, trialID string, state map[string]any, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trials[trialID]; !ok {
		return fmt.Errorf("%w: %s", ErrTrialNotFound, trialID)
	}

	s.snapshots[trialID] = append(s.snapshots[trialID], &types.Snapshot{
		TrialID:   trialID,
		Label:     label,
		State:     copyPayload(state),
		CreatedAt: time.Now(),
	})
	return nil
}

// LatestSnapshot returns the most recently saved snapshot state of a trial.
func (s *MemoryStore) LatestSnapshot(_ context.Context, trialID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[trialID]
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: trial %s", ErrSnapshotNotFound, trialID)
	}
	return copyPayload(snaps[len(snaps)-1].State), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func copyTrial(t *types.Trial) *types.Trial {
	cp := *t
	cp.Config = copyPayload(t.Config)
	cp.Results = copyPayload(t.Results)
	return &cp
}

func copyPayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
