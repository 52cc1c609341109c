package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegAlertScanner/internal/config"
	"RegAlertScanner/internal/dedup"
	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
	"RegAlertScanner/internal/source"
)

func makeCandidates(src string, n int) []domain.NormalizedCandidate {
	candidates := make([]domain.NormalizedCandidate, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, domain.NormalizedCandidate{
			Source:      src,
			ExternalID:  fmt.Sprintf("%s-%d", src, i),
			Title:       fmt.Sprintf("Alert %d", i),
			Summary:     fmt.Sprintf("Summary %d", i),
			PublishedAt: time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC),
		})
	}
	return candidates
}

type testHarness struct {
	orchestrator *Orchestrator
	alerts       *memAlertStore
	syncLog      *memSyncLog
}

func newHarness(t *testing.T, adapters ...source.Adapter) *testHarness {
	t.Helper()

	registry := source.NewRegistry()
	sources := make([]config.SourceConfig, 0, len(adapters))
	for _, adapter := range adapters {
		registry.Register(adapter)
		sources = append(sources, config.SourceConfig{Name: adapter.Name(), Adapter: adapter.Name()})
	}

	alerts := newMemAlertStore()
	syncLog := newMemSyncLog()

	orchestrator := NewOrchestrator(OrchestratorDeps{
		Registry:     registry,
		Sources:      sources,
		Engine:       dedup.NewEngine(alerts),
		Alerts:       alerts,
		SyncLog:      syncLog,
		RetryBackoff: time.Millisecond,
	})

	return &testHarness{orchestrator: orchestrator, alerts: alerts, syncLog: syncLog}
}

func since() time.Time {
	return time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC)
}

func TestRunInsertsAllNewCandidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{name: "AGENCY_A", candidates: makeCandidates("AGENCY_A", 10)})

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 10, run.Counts.Fetched)
	assert.Equal(t, 10, run.Counts.Inserted)
	assert.Equal(t, 0, run.Counts.Updated)
	assert.Equal(t, 0, run.Counts.Skipped)
	assert.Empty(t, run.Errors)
	require.NotNil(t, run.FinishedAt)
}

func TestRunIdempotentReIngestion(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "AGENCY_A", candidates: makeCandidates("AGENCY_A", 10)}
	h := newHarness(t, adapter)
	ctx := context.Background()

	_, err := h.orchestrator.Run(ctx, domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	run, err := h.orchestrator.Run(ctx, domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 0, run.Counts.Inserted)
	assert.Equal(t, 0, run.Counts.Updated)
	assert.Equal(t, 10, run.Counts.Skipped)
}

func TestRunDetectsChangedCandidates(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates("AGENCY_A", 10)
	adapter := &stubAdapter{name: "AGENCY_A", candidates: candidates}
	h := newHarness(t, adapter)
	ctx := context.Background()

	_, err := h.orchestrator.Run(ctx, domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	changed := make([]domain.NormalizedCandidate, len(candidates))
	copy(changed, candidates)
	changed[3].Summary = "revised summary"
	changed[7].Summary = "another revision"
	adapter.candidates = changed

	run, err := h.orchestrator.Run(ctx, domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, 2, run.Counts.Updated)
	assert.Equal(t, 8, run.Counts.Skipped)
	assert.Equal(t, 0, run.Counts.Inserted)
}

func TestRunPartialOnSingleSourceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&stubAdapter{name: "AGENCY_A", candidates: makeCandidates("AGENCY_A", 3)},
		&stubAdapter{name: "AGENCY_B", err: source.NewFetchError("AGENCY_B", source.FailureAuth, errors.New("401"))},
		&stubAdapter{name: "AGENCY_C", candidates: makeCandidates("AGENCY_C", 2)},
	)

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunPartial, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "AGENCY_B")
	// The failing source must not block siblings.
	assert.Equal(t, 5, run.Counts.Inserted)
}

func TestRunFailureWhenAllSourcesFail(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&stubAdapter{name: "AGENCY_A", err: source.NewFetchError("AGENCY_A", source.FailureConnectivity, errors.New("refused"))},
		&stubAdapter{name: "AGENCY_B", err: source.NewFetchError("AGENCY_B", source.FailureConnectivity, errors.New("refused"))},
	)

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailure, run.Status)
	assert.Len(t, run.Errors, 2)
}

func TestRunRetriesTransientFailureOnce(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		name:       "AGENCY_A",
		candidates: makeCandidates("AGENCY_A", 2),
		err:        source.NewFetchError("AGENCY_A", source.FailureConnectivity, errors.New("reset")),
		errOnce:    true,
	}
	h := newHarness(t, adapter)

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 2, adapter.callCount())
	assert.Equal(t, 2, run.Counts.Inserted)
}

func TestRunDoesNotRetryAuthFailure(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		name: "AGENCY_A",
		err:  source.NewFetchError("AGENCY_A", source.FailureAuth, errors.New("401")),
	}
	h := newHarness(t, adapter)

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailure, run.Status)
	assert.Equal(t, 1, adapter.callCount())
}

func TestRunMalformedCandidateIsWarningNotError(t *testing.T) {
	t.Parallel()

	candidates := makeCandidates("AGENCY_A", 3)
	candidates[1].ExternalID = ""
	h := newHarness(t, &stubAdapter{name: "AGENCY_A", candidates: candidates})

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Empty(t, run.Errors)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "malformed")
	assert.Equal(t, 2, run.Counts.Inserted)
	assert.Equal(t, 1, run.Counts.Skipped)
}

func TestRunWarnsOnEmptyFetchWithHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{name: "AGENCY_A"})
	h.alerts.history["AGENCY_A"] = 12

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "no records")
}

func TestRunSingleSourceScope(t *testing.T) {
	t.Parallel()

	a := &stubAdapter{name: "AGENCY_A", candidates: makeCandidates("AGENCY_A", 2)}
	b := &stubAdapter{name: "AGENCY_B", candidates: makeCandidates("AGENCY_B", 2)}
	h := newHarness(t, a, b)

	run, err := h.orchestrator.Run(context.Background(), "AGENCY_B", domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	assert.Equal(t, "AGENCY_B", run.SourceScope)
	assert.Equal(t, 2, run.Counts.Inserted)
	assert.Equal(t, 0, a.callCount())
}

func TestRunUnknownScope(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{name: "AGENCY_A"})

	_, err := h.orchestrator.Run(context.Background(), "NOPE", domain.TriggerManual, "tester", since())
	require.Error(t, err)
	// No run row may be created for a scope that cannot be resolved.
	runs, _, _ := h.syncLog.List(context.Background(), ports.RunFilter{})
	assert.Empty(t, runs)
}

func TestRunStatusMonotonic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubAdapter{name: "AGENCY_A", candidates: makeCandidates("AGENCY_A", 1)})

	run, err := h.orchestrator.Run(context.Background(), domain.ScopeAll, domain.TriggerManual, "tester", since())
	require.NoError(t, err)

	history := h.syncLog.statusHistory(run.ID)
	require.Len(t, history, 2)
	assert.Equal(t, domain.RunRunning, history[0])
	assert.True(t, history[1].Terminal())
}

func TestRunIdentityUniqueAcrossRepeatedRuns(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "AGENCY_A", candidates: makeCandidates("AGENCY_A", 5)}
	h := newHarness(t, adapter)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.orchestrator.Run(ctx, domain.ScopeAll, domain.TriggerManual, "tester", since())
		require.NoError(t, err)
	}

	counts, err := h.alerts.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts["AGENCY_A"])
}
