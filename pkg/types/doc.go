// Package types defines the shared data model of the experiment runner:
// trials, experiments, execution modes, and the coordinator/worker wire
// records.
package types
