package domain

import "time"

// HealthStatus classifies a single source's condition.
type HealthStatus string

const (
	HealthOK           HealthStatus = "OK"
	HealthStale        HealthStatus = "STALE"
	HealthAuthError    HealthStatus = "AUTH_ERROR"
	HealthConnectivity HealthStatus = "CONNECTIVITY_ERROR"
	HealthNoData       HealthStatus = "NO_DATA"
)

// OverallStatus is the rollup across all sources.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// SourceHealth is the derived, advisory state of one source. AUTH_ERROR
// and CONNECTIVITY_ERROR take precedence over staleness.
type SourceHealth struct {
	Source                  string       `json:"source"`
	Status                  HealthStatus `json:"status"`
	LatestRecordAt          *time.Time   `json:"latest_record_at,omitempty"`
	RecordsLast7Days        int          `json:"records_last_7_days"`
	DuplicateCount          int          `json:"duplicate_count"`
	ResponseTimeMS          int64        `json:"response_time_ms"`
	FreshnessThresholdHours int          `json:"freshness_threshold_hours"`
}
