package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegAlertScanner/internal/config"
	"RegAlertScanner/internal/domain"
)

var evalNow = time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

func healthSources(names ...string) []config.SourceConfig {
	sources := make([]config.SourceConfig, 0, len(names))
	for _, name := range names {
		sources = append(sources, config.SourceConfig{Name: name, FreshnessThresholdHours: 48})
	}
	return sources
}

func recentTime(age time.Duration) *time.Time {
	t := evalNow.Add(-age)
	return &t
}

func TestEvaluateAllHealthy(t *testing.T) {
	t.Parallel()

	alerts := newMemAlertStore()
	alerts.latest["A"] = recentTime(2 * time.Hour)
	alerts.latest["B"] = recentTime(5 * time.Hour)

	evaluator := NewHealthEvaluator(alerts, newMemSyncLog(), healthSources("A", "B"), nil).
		WithClock(func() time.Time { return evalNow })

	report, overall, err := evaluator.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OverallHealthy, overall)
	assert.Equal(t, domain.HealthOK, report["A"].Status)
	assert.Equal(t, domain.HealthOK, report["B"].Status)
}

func TestEvaluateStaleSourceDegradesOverall(t *testing.T) {
	t.Parallel()

	alerts := newMemAlertStore()
	alerts.latest["A"] = recentTime(2 * time.Hour)
	alerts.latest["B"] = recentTime(72 * time.Hour)

	evaluator := NewHealthEvaluator(alerts, newMemSyncLog(), healthSources("A", "B"), nil).
		WithClock(func() time.Time { return evalNow })

	report, overall, err := evaluator.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OverallDegraded, overall)
	assert.Equal(t, domain.HealthStale, report["B"].Status)
}

func TestEvaluateAuthErrorIsCritical(t *testing.T) {
	t.Parallel()

	alerts := newMemAlertStore()
	alerts.latest["A"] = recentTime(2 * time.Hour)
	alerts.latest["B"] = recentTime(2 * time.Hour)

	syncLog := newMemSyncLog()
	ctx := context.Background()
	id, err := syncLog.Start(ctx, "B", domain.TriggerScheduled, "scheduler", nil)
	require.NoError(t, err)
	require.NoError(t, syncLog.Finish(ctx, id, domain.RunFailure, domain.RunCounts{},
		[]string{"B: fetch failed: B: auth error: api returned 401 Unauthorized"}, nil))

	evaluator := NewHealthEvaluator(alerts, syncLog, healthSources("A", "B"), nil).
		WithClock(func() time.Time { return evalNow })

	report, overall, err := evaluator.Evaluate(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.OverallCritical, overall)
	assert.Equal(t, domain.HealthAuthError, report["B"].Status)
	assert.Equal(t, domain.HealthOK, report["A"].Status)
}

func TestEvaluateConnectivityBeatsStaleness(t *testing.T) {
	t.Parallel()

	alerts := newMemAlertStore()
	alerts.latest["A"] = recentTime(100 * time.Hour)

	syncLog := newMemSyncLog()
	ctx := context.Background()
	id, err := syncLog.Start(ctx, "A", domain.TriggerManual, "admin", nil)
	require.NoError(t, err)
	require.NoError(t, syncLog.Finish(ctx, id, domain.RunFailure, domain.RunCounts{},
		[]string{"A: fetch failed: A: connectivity error: connection refused"}, nil))

	evaluator := NewHealthEvaluator(alerts, syncLog, healthSources("A"), nil).
		WithClock(func() time.Time { return evalNow })

	report, overall, err := evaluator.Evaluate(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.OverallCritical, overall)
	assert.Equal(t, domain.HealthConnectivity, report["A"].Status)
}

func TestEvaluateNoDataSource(t *testing.T) {
	t.Parallel()

	alerts := newMemAlertStore()
	alerts.latest["A"] = recentTime(time.Hour)
	// B has no records at all.

	evaluator := NewHealthEvaluator(alerts, newMemSyncLog(), healthSources("A", "B"), nil).
		WithClock(func() time.Time { return evalNow })

	report, overall, err := evaluator.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OverallCritical, overall)
	assert.Equal(t, domain.HealthNoData, report["B"].Status)
}

func TestEvaluateReportsDuplicates(t *testing.T) {
	t.Parallel()

	alerts := newMemAlertStore()
	alerts.latest["A"] = recentTime(time.Hour)
	alerts.dupCounts["A"] = 3

	evaluator := NewHealthEvaluator(alerts, newMemSyncLog(), healthSources("A"), nil).
		WithClock(func() time.Time { return evalNow })

	report, _, err := evaluator.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report["A"].DuplicateCount)
	// Duplicates are a consistency signal, not a status downgrade.
	assert.Equal(t, domain.HealthOK, report["A"].Status)
}
