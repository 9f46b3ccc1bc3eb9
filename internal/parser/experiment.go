// Package parser reads experiment definition files.
package parser

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"yqhp/experiment-runner/pkg/types"
)

// ErrInvalidExperiment wraps every validation failure in a definition file.
var ErrInvalidExperiment = errors.New("invalid experiment definition")

// experimentFile is the on-disk YAML shape of an experiment definition.
type experimentFile struct {
	Name        string         `yaml:"name"`
	NumTrials   int            `yaml:"num_trials"`
	TrialFn     string         `yaml:"trial_fn"`
	InitStoreFn string         `yaml:"init_store_fn"`
	SourceFile  string         `yaml:"source_file"`
	Config      map[string]any `yaml:"config"`
}

// ParseExperimentFile reads and validates an experiment definition.
func ParseExperimentFile(path string) (*types.Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment file %s: %w", path, err)
	}
	return ParseExperiment(data)
}

// ParseExperiment parses an experiment definition from YAML bytes. The
// experiment ID derives from the name, so every process of a cluster run and
// every rerun of the same experiment resolve to the same stored record.
func ParseExperiment(data []byte) (*types.Experiment, error) {
	var file experimentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse experiment definition: %w", err)
	}

	if file.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidExperiment)
	}
	if file.NumTrials < 0 {
		return nil, fmt.Errorf("%w: num_trials must not be negative, got %d", ErrInvalidExperiment, file.NumTrials)
	}
	if file.TrialFn == "" {
		return nil, fmt.Errorf("%w: trial_fn is required", ErrInvalidExperiment)
	}

	return &types.Experiment{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte("experiment:"+file.Name)).String(),
		Name:        file.Name,
		NumTrials:   file.NumTrials,
		TrialFn:     file.TrialFn,
		InitStoreFn: file.InitStoreFn,
		SourceFile:  file.SourceFile,
		Config:      file.Config,
	}, nil
}
