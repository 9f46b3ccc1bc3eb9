// Package metrics collects per-trial timing during a run and produces the
// end-of-run summary.
package metrics

import (
	"fmt"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds. Trials far outside this range are
// clamped by the histogram, not dropped.
const (
	minTrialMicros = 1
	maxTrialMicros = int64(6 * time.Hour / time.Microsecond)
)

// Collector accumulates trial durations and outcome counts for one run. It is
// safe for concurrent use by worker goroutines.
type Collector struct {
	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	completed int
	failed    int
	started   time.Time
}

// NewCollector creates a collector with the run clock started.
func NewCollector() *Collector {
	return &Collector{
		hist:    hdrhistogram.New(minTrialMicros, maxTrialMicros, 3),
		started: time.Now(),
	}
}

// RecordCompleted records one successfully completed trial.
func (c *Collector) RecordCompleted(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	// RecordValue only fails outside the histogram bounds; clamp instead.
	_ = c.hist.RecordValue(clampMicros(elapsed))
}

// RecordFailed records one trial that returned an error.
func (c *Collector) RecordFailed(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	_ = c.hist.RecordValue(clampMicros(elapsed))
}

func clampMicros(elapsed time.Duration) int64 {
	v := elapsed.Microseconds()
	if v < minTrialMicros {
		return minTrialMicros
	}
	if v > maxTrialMicros {
		return maxTrialMicros
	}
	return v
}

// Summary freezes the collector into a run summary.
func (c *Collector) Summary() *RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &RunSummary{
		Completed: c.completed,
		Failed:    c.failed,
		Elapsed:   time.Since(c.started),
	}
	if c.hist.TotalCount() > 0 {
		s.MinTrial = time.Duration(c.hist.Min()) * time.Microsecond
		s.MaxTrial = time.Duration(c.hist.Max()) * time.Microsecond
		s.MeanTrial = time.Duration(c.hist.Mean()) * time.Microsecond
		s.P50Trial = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P95Trial = time.Duration(c.hist.ValueAtQuantile(95)) * time.Microsecond
	}
	return s
}

// RunSummary is the aggregate outcome of one run.
type RunSummary struct {
	Completed int
	Failed    int
	Elapsed   time.Duration

	MinTrial  time.Duration
	MaxTrial  time.Duration
	MeanTrial time.Duration
	P50Trial  time.Duration
	P95Trial  time.Duration
}

// String renders the summary as a single log-friendly line.
func (s *RunSummary) String() string {
	return fmt.Sprintf(
		"completed=%d failed=%d elapsed=%s trial_min=%s trial_mean=%s trial_p50=%s trial_p95=%s trial_max=%s",
		s.Completed, s.Failed, s.Elapsed.Round(time.Millisecond),
		s.MinTrial.Round(time.Microsecond), s.MeanTrial.Round(time.Microsecond),
		s.P50Trial.Round(time.Microsecond), s.P95Trial.Round(time.Microsecond),
		s.MaxTrial.Round(time.Microsecond),
	)
}
