package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"RegAlertScanner/internal/config"
	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
)

const (
	defaultFreshnessHours = 48
	failureLookback       = 24 * time.Hour
)

// HealthEvaluator classifies the freshness, connectivity and duplication
// state of every known source by reading the alert store and the sync
// log. It never calls adapters and never writes.
type HealthEvaluator struct {
	alerts  ports.AlertStore
	syncLog ports.SyncLogStore
	sources []config.SourceConfig
	logger  *slog.Logger
	clock   func() time.Time
}

// NewHealthEvaluator wires the read-only stores.
func NewHealthEvaluator(alerts ports.AlertStore, syncLog ports.SyncLogStore, sources []config.SourceConfig, logger *slog.Logger) *HealthEvaluator {
	return &HealthEvaluator{
		alerts:  alerts,
		syncLog: syncLog,
		sources: sources,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (h *HealthEvaluator) WithClock(clock func() time.Time) *HealthEvaluator {
	h.clock = clock
	return h
}

// Evaluate classifies each source and rolls the results up into one
// overall status: critical when any source cannot deliver data at all,
// degraded when data flows but has gone stale, healthy otherwise.
func (h *HealthEvaluator) Evaluate(ctx context.Context) (map[string]domain.SourceHealth, domain.OverallStatus, error) {
	now := h.clock().UTC()
	report := make(map[string]domain.SourceHealth, len(h.sources))

	for _, src := range h.sources {
		health, err := h.evaluateSource(ctx, src, now)
		if err != nil {
			return nil, "", fmt.Errorf("evaluate %s: %w", src.Name, err)
		}
		report[src.Name] = health
	}

	return report, rollup(report), nil
}

func (h *HealthEvaluator) evaluateSource(ctx context.Context, src config.SourceConfig, now time.Time) (domain.SourceHealth, error) {
	threshold := src.FreshnessThresholdHours
	if threshold <= 0 {
		threshold = defaultFreshnessHours
	}

	health := domain.SourceHealth{
		Source:                  src.Name,
		FreshnessThresholdHours: threshold,
	}

	latest, err := h.alerts.LatestRecordTime(ctx, src.Name)
	if err != nil {
		return domain.SourceHealth{}, fmt.Errorf("latest record: %w", err)
	}
	health.LatestRecordAt = latest

	count, err := h.alerts.CountSince(ctx, src.Name, now.Add(-historyWindow))
	if err != nil {
		return domain.SourceHealth{}, fmt.Errorf("recent count: %w", err)
	}
	health.RecordsLast7Days = count

	duplicates, err := h.alerts.DuplicateHashCount(ctx, src.Name)
	if err != nil {
		return domain.SourceHealth{}, fmt.Errorf("duplicate count: %w", err)
	}
	health.DuplicateCount = duplicates

	failureKind, responseTime, err := h.recentRunSignals(ctx, src.Name, now)
	if err != nil {
		return domain.SourceHealth{}, err
	}
	health.ResponseTimeMS = responseTime

	health.Status = classify(failureKind, latest, threshold, now)
	return health, nil
}

// recentRunSignals inspects the last day of runs covering the source and
// returns the dominant failure classification (auth beats connectivity)
// plus the duration of the newest finished run as a latency proxy.
func (h *HealthEvaluator) recentRunSignals(ctx context.Context, src string, now time.Time) (string, int64, error) {
	since := now.Add(-failureLookback)

	var (
		kind         string
		responseTime int64
	)

	for _, scope := range []string{src, domain.ScopeAll} {
		runs, err := h.syncLog.RecentFailures(ctx, scope, since)
		if err != nil {
			return "", 0, fmt.Errorf("recent failures for %s: %w", scope, err)
		}
		for _, run := range runs {
			for _, msg := range run.Errors {
				if !strings.HasPrefix(msg, src+":") {
					continue
				}
				switch {
				case strings.Contains(msg, "auth error"):
					kind = "auth"
				case kind == "":
					kind = "connectivity"
				}
			}
		}
	}

	from := since
	runs, _, err := h.syncLog.List(ctx, ports.RunFilter{From: &from, Page: 1, PageSize: 50})
	if err != nil {
		return "", 0, fmt.Errorf("recent runs: %w", err)
	}
	for _, run := range runs {
		if run.SourceScope != src && run.SourceScope != domain.ScopeAll {
			continue
		}
		if run.FinishedAt == nil {
			continue
		}
		responseTime = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
		break
	}

	return kind, responseTime, nil
}

// classify applies the precedence rules: a fetch-level failure beats
// everything, an empty store beats staleness, and staleness only applies
// to an otherwise reachable source.
func classify(failureKind string, latest *time.Time, thresholdHours int, now time.Time) domain.HealthStatus {
	switch failureKind {
	case "auth":
		return domain.HealthAuthError
	case "connectivity":
		return domain.HealthConnectivity
	}

	if latest == nil {
		return domain.HealthNoData
	}

	if now.Sub(*latest) > time.Duration(thresholdHours)*time.Hour {
		return domain.HealthStale
	}

	return domain.HealthOK
}

func rollup(report map[string]domain.SourceHealth) domain.OverallStatus {
	overall := domain.OverallHealthy
	for _, health := range report {
		switch health.Status {
		case domain.HealthAuthError, domain.HealthConnectivity, domain.HealthNoData:
			return domain.OverallCritical
		case domain.HealthStale:
			overall = domain.OverallDegraded
		}
	}
	return overall
}
