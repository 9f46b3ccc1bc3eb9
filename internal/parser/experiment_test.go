package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinition = `
name: ising-sweep
num_trials: 20
trial_fn: simulate
init_store_fn: load-lattice
source_file: sweep.js
config:
  temperature: 2.27
  steps: 1000
`

func TestParseExperiment(t *testing.T) {
	exp, err := ParseExperiment([]byte(validDefinition))
	require.NoError(t, err)

	assert.Equal(t, "ising-sweep", exp.Name)
	assert.Equal(t, 20, exp.NumTrials)
	assert.Equal(t, "simulate", exp.TrialFn)
	assert.Equal(t, "load-lattice", exp.InitStoreFn)
	assert.Equal(t, "sweep.js", exp.SourceFile)
	assert.Equal(t, 2.27, exp.Config["temperature"])
	assert.NotEmpty(t, exp.ID)
}

func TestParseExperimentDeterministicID(t *testing.T) {
	a, err := ParseExperiment([]byte(validDefinition))
	require.NoError(t, err)
	b, err := ParseExperiment([]byte(validDefinition))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	other, err := ParseExperiment([]byte("name: different\nnum_trials: 1\ntrial_fn: simulate\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, other.ID)
}

func TestParseExperimentValidation(t *testing.T) {
	cases := map[string]string{
		"missing name":        "num_trials: 3\ntrial_fn: simulate\n",
		"missing trial fn":    "name: x\nnum_trials: 3\n",
		"negative num trials": "name: x\nnum_trials: -1\ntrial_fn: simulate\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseExperiment([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidExperiment)
		})
	}
}

func TestParseExperimentBadYAML(t *testing.T) {
	_, err := ParseExperiment([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestParseExperimentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDefinition), 0o644))

	exp, err := ParseExperimentFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ising-sweep", exp.Name)

	_, err = ParseExperimentFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
