package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/experiment-runner/pkg/types"
)

func setupMemoryStore(t *testing.T, numTrials int) (*MemoryStore, *types.Experiment, []*types.Trial) {
	t.Helper()
	st := NewMemoryStore()
	exp := types.NewExperiment("store-test", numTrials, "noop")
	trials := exp.ExpandTrials()

	ctx := context.Background()
	require.NoError(t, st.RegisterExperiment(ctx, exp))
	for _, trial := range trials {
		require.NoError(t, st.RegisterTrial(ctx, trial))
	}
	return st, exp, trials
}

func TestMemoryStoreListTrialsOrder(t *testing.T) {
	st, exp, trials := setupMemoryStore(t, 4)

	listed, err := st.ListTrials(context.Background(), exp.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	for i, trial := range listed {
		assert.Equal(t, trials[i].ID, trial.ID)
		assert.Equal(t, i, trial.Config["trial_index"])
	}
}

func TestMemoryStoreCompleteTrial(t *testing.T) {
	st, exp, trials := setupMemoryStore(t, 2)
	ctx := context.Background()

	results := map[string]any{"loss": 0.25}
	require.NoError(t, st.CompleteTrial(ctx, trials[0].ID, results))

	got, err := st.GetTrial(ctx, trials[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, results, got.Results)

	pending, err := st.ListIncompleteTrials(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, trials[1].ID, pending[0].ID)
}

func TestMemoryStoreCompleteTrialTwice(t *testing.T) {
	st, _, trials := setupMemoryStore(t, 1)
	ctx := context.Background()

	require.NoError(t, st.CompleteTrial(ctx, trials[0].ID, nil))
	assert.ErrorIs(t, st.CompleteTrial(ctx, trials[0].ID, nil), ErrAlreadyCompleted)
}

func TestMemoryStoreUnknownIDs(t *testing.T) {
	st, _, _ := setupMemoryStore(t, 1)
	ctx := context.Background()

	_, err := st.GetTrial(ctx, "missing")
	assert.ErrorIs(t, err, ErrTrialNotFound)

	assert.ErrorIs(t, st.CompleteTrial(ctx, "missing", nil), ErrTrialNotFound)
	assert.ErrorIs(t, st.SaveSnapshot(ctx, "missing", nil, ""), ErrTrialNotFound)

	_, err = st.ListTrials(ctx, "missing")
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}

func TestMemoryStoreSnapshots(t *testing.T) {
	st, _, trials := setupMemoryStore(t, 1)
	ctx := context.Background()
	id := trials[0].ID

	_, err := st.LatestSnapshot(ctx, id)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, st.SaveSnapshot(ctx, id, map[string]any{"step": 1}, "early"))
	require.NoError(t, st.SaveSnapshot(ctx, id, map[string]any{"step": 2}, "late"))

	latest, err := st.LatestSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": 2}, latest)
}

func TestMemoryStoreDefensiveCopies(t *testing.T) {
	st, exp, trials := setupMemoryStore(t, 1)
	ctx := context.Background()

	listed, err := st.ListTrials(ctx, exp.ID)
	require.NoError(t, err)
	listed[0].Config["trial_index"] = 99

	again, err := st.GetTrial(ctx, trials[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Config["trial_index"])
}

func TestMemoryStoreRegisterExperimentIdempotent(t *testing.T) {
	st, exp, trials := setupMemoryStore(t, 2)
	ctx := context.Background()

	require.NoError(t, st.RegisterExperiment(ctx, exp))
	listed, err := st.ListTrials(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, listed, len(trials))
}
