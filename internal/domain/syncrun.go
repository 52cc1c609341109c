package domain

import "time"

// RunStatus enumerates SyncRun lifecycle states. Transitions only move
// forward: running to exactly one terminal value.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailure RunStatus = "failure"
)

// Terminal reports whether the status ends a run's lifecycle.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailure
}

// TriggerType tags how a run was started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// ScopeAll selects every configured source for a run.
const ScopeAll = "all"

// RunCounts aggregates per-run tallies.
type RunCounts struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// SyncRun records one orchestrator invocation over one or more sources.
type SyncRun struct {
	ID          string         `json:"id"`
	SourceScope string         `json:"source_scope"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Counts      RunCounts      `json:"counts"`
	Errors      []string       `json:"errors,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	TriggerType TriggerType    `json:"trigger_type"`
	TriggeredBy string         `json:"triggered_by,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
