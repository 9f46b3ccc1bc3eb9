package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTrials(t *testing.T) {
	exp := NewExperiment("expansion", 3, "simulate")
	exp.Config = map[string]any{"sigma": 0.5}

	trials := exp.ExpandTrials()
	require.Len(t, trials, 3)

	seen := make(map[string]bool)
	for i, trial := range trials {
		assert.Equal(t, exp.ID, trial.ExperimentID)
		assert.Equal(t, i, trial.Config["trial_index"])
		assert.Equal(t, 0.5, trial.Config["sigma"])
		assert.False(t, trial.Completed)
		assert.False(t, seen[trial.ID])
		seen[trial.ID] = true
	}

	// Each trial owns its config copy.
	trials[0].Config["sigma"] = 9.0
	assert.Equal(t, 0.5, trials[1].Config["sigma"])
	assert.NotContains(t, exp.Config, "trial_index")
}

func TestExpandTrialsEmpty(t *testing.T) {
	exp := NewExperiment("empty", 0, "simulate")
	assert.Empty(t, exp.ExpandTrials())
}

func TestModeValidation(t *testing.T) {
	assert.NoError(t, Serial{}.Validate())
	assert.NoError(t, Multithreaded{Threads: -1}.Validate())
	assert.NoError(t, DistributedPool{Workers: 0}.Validate())
	assert.Error(t, DistributedPool{Workers: -1}.Validate())
	assert.NoError(t, HeterogeneousPool{Workers: 2, ThreadsPerNode: 1}.Validate())
	assert.Error(t, HeterogeneousPool{Workers: 2, ThreadsPerNode: 0}.Validate())
	assert.NoError(t, ClusterMode{BatchSize: 1}.Validate())
	assert.Error(t, ClusterMode{BatchSize: 0}.Validate())
}

func TestModeNames(t *testing.T) {
	names := map[ExecutionMode]string{
		Serial{}:            "serial",
		Multithreaded{}:     "multithreaded",
		DistributedPool{}:   "distributed",
		HeterogeneousPool{}: "heterogeneous",
		ClusterMode{}:       "cluster",
	}
	for mode, want := range names {
		assert.Equal(t, want, mode.String())
	}
}

func TestJobResponses(t *testing.T) {
	exp := NewExperiment("resp", 2, "simulate")
	trials := exp.ExpandTrials()

	a := NewAssignment(trials)
	assert.Equal(t, ResponseAssignment, a.Kind)
	assert.Len(t, a.Trials, 2)

	s := NewStop()
	assert.Equal(t, ResponseStop, s.Kind)
	assert.Empty(t, s.Trials)
}
