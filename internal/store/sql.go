package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"yqhp/experiment-runner/pkg/types"
)

// ExperimentRecord is the persisted form of an experiment.
type ExperimentRecord struct {
	ID          string `gorm:"primarykey;type:varchar(64)"`
	Name        string `gorm:"type:varchar(255);index"`
	NumTrials   int
	TrialFn     string `gorm:"type:varchar(255)"`
	InitStoreFn string `gorm:"type:varchar(255)"`
	ConfigJSON  string `gorm:"type:text"`
	SourceFile  string `gorm:"type:varchar(500)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TrialRecord is the persisted form of a trial.
type TrialRecord struct {
	ID           string `gorm:"primarykey;type:varchar(64)"`
	ExperimentID string `gorm:"type:varchar(64);index"`
	Seq          int64  `gorm:"autoIncrement;uniqueIndex"`
	ConfigJSON   string `gorm:"type:text"`
	Completed    bool   `gorm:"index"`
	ResultsJSON  string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SnapshotRecord is the persisted form of a trial snapshot.
type SnapshotRecord struct {
	ID        uint   `gorm:"primarykey"`
	TrialID   string `gorm:"type:varchar(64);index"`
	Label     string `gorm:"type:varchar(255)"`
	StateJSON string `gorm:"type:text"`
	CreatedAt time.Time
}

// SQLStore is a Store backed by a SQL database through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL connects to the database named by dsn, migrates the schema, and
// returns the store.
func OpenSQL(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to results store: %w", err)
	}

	if err := db.AutoMigrate(&ExperimentRecord{}, &TrialRecord{}, &SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate results store schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// RegisterExperiment persists an experiment record.
func (s *SQLStore) RegisterExperiment(ctx context.Context, exp *types.Experiment) error {
	if exp == nil {
		return fmt.Errorf("experiment cannot be nil")
	}

	cfg, err := marshalPayload(exp.Config)
	if err != nil {
		return err
	}

	rec := &ExperimentRecord{
		ID:          exp.ID,
		Name:        exp.Name,
		NumTrials:   exp.NumTrials,
		TrialFn:     exp.TrialFn,
		InitStoreFn: exp.InitStoreFn,
		ConfigJSON:  cfg,
		SourceFile:  exp.SourceFile,
	}

	// Re-registering the same experiment on a rerun is expected.
	res := s.db.WithContext(ctx).Where("id = ?", exp.ID).FirstOrCreate(rec)
	if res.Error != nil {
		return fmt.Errorf("failed to register experiment: %w", res.Error)
	}
	return nil
}

// RegisterTrial persists a trial record.
func (s *SQLStore) RegisterTrial(ctx context.Context, trial *types.Trial) error {
	if trial == nil {
		return fmt.Errorf("trial cannot be nil")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&ExperimentRecord{}).
		Where("id = ?", trial.ExperimentID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up experiment: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrExperimentNotFound, trial.ExperimentID)
	}

	cfg, err := marshalPayload(trial.Config)
	if err != nil {
		return err
	}

	rec := &TrialRecord{
		ID:           trial.ID,
		ExperimentID: trial.ExperimentID,
		ConfigJSON:   cfg,
	}
	res := s.db.WithContext(ctx).Where("id = ?", trial.ID).FirstOrCreate(rec)
	if res.Error != nil {
		return fmt.Errorf("failed to register trial: %w", res.Error)
	}
	return nil
}

// ListTrials returns all trials of an experiment in registration order.
func (s *SQLStore) ListTrials(ctx context.Context, experimentID string) ([]*types.Trial, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ExperimentRecord{}).
		Where("id = ?", experimentID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to look up experiment: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, experimentID)
	}

	var recs []TrialRecord
	if err := s.db.WithContext(ctx).
		Where("experiment_id = ?", experimentID).
		Order("seq asc").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}

	trials := make([]*types.Trial, 0, len(recs))
	for i := range recs {
		t, err := recordToTrial(&recs[i])
		if err != nil {
			return nil, err
		}
		trials = append(trials, t)
	}
	return trials, nil
}

// ListIncompleteTrials returns the experiment's trials without results.
func (s *SQLStore) ListIncompleteTrials(ctx context.Context, experimentID string) ([]*types.Trial, error) {
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
func (s *SQLStore) CompleteTrial(ctx context.Context, trialID string, results map[string]any) error {
	data, err := marshalPayload(results)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&TrialRecord{}).
		Where("id = ? AND completed = ?", trialID, false).
		Updates(map[string]any{"completed": true, "results_json": data})
	if res.Error != nil {
		return fmt.Errorf("failed to complete trial: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either unknown or already completed; disambiguate for the caller.
		if _, err := s.GetTrial(ctx, trialID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, trialID)
	}
	return nil
}

// GetTrial returns a single trial.
func (s *SQLStore) GetTrial(ctx context.Context, trialID string) (*types.Trial, error) {
	var rec TrialRecord
	err := s.db.WithContext(ctx).Where("id = ?", trialID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTrialNotFound, trialID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}
	return recordToTrial(&rec)
}

// SaveSnapshot persists a labeled state checkpoint for a trial.
func (s *SQLStore) SaveSnapshot(ctx context.Context, trialID string, state map[string]any, label string) error {
	if _, err := s.GetTrial(ctx, trialID); err != nil {
		return err
	}

	data, err := marshalPayload(state)
	if err != nil {
		return err
	}

	rec := &SnapshotRecord{TrialID: trialID, Label: label, StateJSON: data}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently saved snapshot state of a trial.
func (s *SQLStore) LatestSnapshot(ctx context.Context, trialID string) (map[string]any, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("trial_id = ?", trialID).
		Order("id desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: trial %s", ErrSnapshotNotFound, trialID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return unmarshalPayload(rec.StateJSON)
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func recordToTrial(rec *TrialRecord) (*types.Trial, error) {
	cfg, err := unmarshalPayload(rec.ConfigJSON)
	if err != nil {
		return nil, err
	}
	results, err := unmarshalPayload(rec.ResultsJSON)
	if err != nil {
		return nil, err
	}
	return &types.Trial{
		ID:           rec.ID,
		ExperimentID: rec.ExperimentID,
		Config:       cfg,
		Completed:    rec.Completed,
		Results:      results,
	}, nil
}

func marshalPayload(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

func unmarshalPayload(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return m, nil
}
