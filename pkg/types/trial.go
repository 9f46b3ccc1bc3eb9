package types

import (
	"time"

	"github.com/google/uuid"
)

// Trial is one independently executable unit of work belonging to an
// experiment. A trial is created when an experiment is expanded, mutated
// exactly once by a completion event, and never deleted during a run.
type Trial struct {
	// ID is the unique identifier of this trial.
	ID string `json:"id"`

	// ExperimentID references the parent experiment.
	ExperimentID string `json:"experiment_id"`

	// Config is the opaque configuration payload handed to the trial
	// function.
	Config map[string]any `json:"config,omitempty"`

	// Completed reports whether the trial has a recorded result.
	Completed bool `json:"completed"`

	// Results holds the named outputs of the trial function. Nil until the
	// trial completes.
	Results map[string]any `json:"results,omitempty"`
}

// Experiment is the parent definition from which trials are generated.
// It is immutable for the duration of a run.
type Experiment struct {
	// ID is the unique identifier of this experiment.
	ID string `json:"id"`

	// Name is the human-readable experiment name.
	Name string `json:"name"`

	// NumTrials is the number of trials the experiment expands into.
	NumTrials int `json:"num_trials"`

	// TrialFn names the registered trial function executed once per trial.
	TrialFn string `json:"trial_fn"`

	// InitStoreFn optionally names the registered initializer for the
	// per-process read-only global store.
	InitStoreFn string `json:"init_store_fn,omitempty"`

	// Config is an optional configuration payload copied into every trial.
	Config map[string]any `json:"config,omitempty"`

	// SourceFile is an optional script file loaded by every participating
	// process before any trial executes.
	SourceFile string `json:"source_file,omitempty"`
}

// NewExperiment creates an experiment with a generated ID.
func NewExperiment(name string, numTrials int, trialFn string) *Experiment {
	return &Experiment{
		ID:        uuid.New().String(),
		Name:      name,
		NumTrials: numTrials,
		TrialFn:   trialFn,
	}
}

// ExpandTrials generates the experiment's trials. Each trial receives a copy
// of the experiment config plus its zero-based index under "trial_index".
func (e *Experiment) ExpandTrials() []*Trial {
	trials := make([]*Trial, e.NumTrials)
	for i := 0; i < e.NumTrials; i++ {
		cfg := make(map[string]any, len(e.Config)+1)
		for k, v := range e.Config {
			cfg[k] = v
		}
		cfg["trial_index"] = i

		trials[i] = &Trial{
			ID:           uuid.New().String(),
			ExperimentID: e.ID,
			Config:       cfg,
		}
	}
	return trials
}

// Snapshot is a labeled intermediate state checkpoint for a trial, persisted
// through the results store.
type Snapshot struct {
	// TrialID references the trial the snapshot belongs to.
	TrialID string `json:"trial_id"`

	// Label optionally distinguishes multiple checkpoints of one trial.
	Label string `json:"label,omitempty"`

	// State is the checkpointed state payload.
	State map[string]any `json:"state"`

	// CreatedAt is the time the snapshot was recorded.
	CreatedAt time.Time `json:"created_at"`
}
