package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"RegAlertScanner/internal/config"
	"RegAlertScanner/internal/dedup"
	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
	"RegAlertScanner/internal/source"
)

const (
	defaultMaxConcurrent  = 6
	defaultAdapterTimeout = 2 * time.Minute
	defaultRetryBackoff   = 5 * time.Second
	historyWindow         = 7 * 24 * time.Hour
)

// OrchestratorDeps wires all driven adapters into the sync orchestrator.
type OrchestratorDeps struct {
	Registry       *source.Registry
	Sources        []config.SourceConfig
	Engine         *dedup.Engine
	Alerts         ports.AlertStore
	SyncLog        ports.SyncLogStore
	Events         ports.RunEventPublisher
	Logger         *slog.Logger
	MaxConcurrent  int
	AdapterTimeout time.Duration
	RetryBackoff   time.Duration
}

// Orchestrator drives one or more source adapters concurrently, feeds
// their candidates through the dedup engine, and records the run in the
// sync log. Fan-out is capped so no batch of slow agencies exhausts the
// process or trips agency-side rate limits.
type Orchestrator struct {
	registry       *source.Registry
	sources        []config.SourceConfig
	engine         *dedup.Engine
	alerts         ports.AlertStore
	syncLog        ports.SyncLogStore
	events         ports.RunEventPublisher
	logger         *slog.Logger
	maxConcurrent  int
	adapterTimeout time.Duration
	retryBackoff   time.Duration
	clock          func() time.Time
}

// NewOrchestrator constructs the orchestration component.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		registry:       deps.Registry,
		sources:        deps.Sources,
		engine:         deps.Engine,
		alerts:         deps.Alerts,
		syncLog:        deps.SyncLog,
		events:         deps.Events,
		logger:         deps.Logger,
		maxConcurrent:  deps.MaxConcurrent,
		adapterTimeout: deps.AdapterTimeout,
		retryBackoff:   deps.RetryBackoff,
		clock:          time.Now,
	}
	if o.maxConcurrent <= 0 {
		o.maxConcurrent = defaultMaxConcurrent
	}
	if o.adapterTimeout <= 0 {
		o.adapterTimeout = defaultAdapterTimeout
	}
	if o.retryBackoff <= 0 {
		o.retryBackoff = defaultRetryBackoff
	}
	return o
}

type sourceResult struct {
	name     string
	fetched  int
	inserted int
	updated  int
	skipped  int
	warnings []string
	err      error
}

// Run executes one sync over the scoped sources. The run row is created
// in running state before any fetch starts, so a crash mid-run still
// leaves an inspectable record. Exactly one terminal transition is
// recorded; a sync-log contract violation propagates to the caller.
func (o *Orchestrator) Run(ctx context.Context, scope string, trigger domain.TriggerType, triggeredBy string, since time.Time) (domain.SyncRun, error) {
	scoped, err := o.scopedSources(scope)
	if err != nil {
		return domain.SyncRun{}, err
	}

	startedAt := o.clock().UTC()
	metadata := map[string]any{
		"since": since.UTC().Format(time.RFC3339),
	}

	runID, err := o.syncLog.Start(ctx, scope, trigger, triggeredBy, metadata)
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("start sync run: %w", err)
	}

	o.info("sync run started", "run_id", runID, "scope", scope, "trigger", trigger, "sources", len(scoped))

	results := make([]sourceResult, len(scoped))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.maxConcurrent)
	for i, src := range scoped {
		group.Go(func() error {
			results[i] = o.runSource(groupCtx, src, since)
			return nil
		})
	}
	// Workers never return errors; per-source failures live in results.
	_ = group.Wait()

	run := o.summarize(runID, scope, trigger, triggeredBy, startedAt, metadata, results)

	if err := o.syncLog.Finish(ctx, runID, run.Status, run.Counts, run.Errors, run.Warnings); err != nil {
		return domain.SyncRun{}, fmt.Errorf("finish sync run %s: %w", runID, err)
	}
	finishedAt := o.clock().UTC()
	run.FinishedAt = &finishedAt

	o.publish(ctx, run)

	o.info("sync run finished", "run_id", runID, "status", run.Status,
		"fetched", run.Counts.Fetched, "inserted", run.Counts.Inserted,
		"updated", run.Counts.Updated, "skipped", run.Counts.Skipped,
		"errors", len(run.Errors))

	return run, nil
}

// runSource fetches one source and streams its candidates through the
// dedup engine in adapter order, so later duplicates in the same batch
// resolve against earlier writes from the batch.
func (o *Orchestrator) runSource(ctx context.Context, src config.SourceConfig, since time.Time) sourceResult {
	result := sourceResult{name: src.Name}

	adapter, err := o.registry.Resolve(src.Adapter)
	if err != nil {
		result.err = fmt.Errorf("%s: %w", src.Name, err)
		return result
	}

	candidates, err := o.fetchWithRetry(ctx, adapter, src, since)
	if err != nil {
		result.err = err
		return result
	}
	result.fetched = len(candidates)

	if len(candidates) == 0 {
		if warning := o.emptyFetchWarning(ctx, src.Name); warning != "" {
			result.warnings = append(result.warnings, warning)
		}
		return result
	}

	for _, cand := range candidates {
		action, err := o.engine.Process(ctx, cand)
		if err != nil {
			if errors.Is(err, dedup.ErrMalformed) {
				result.skipped++
				result.warnings = append(result.warnings, fmt.Sprintf("%s: %v", src.Name, err))
				continue
			}
			result.err = fmt.Errorf("%s: %w", src.Name, err)
			return result
		}

		switch action {
		case dedup.ActionInsert:
			result.inserted++
		case dedup.ActionUpdate:
			result.updated++
		default:
			result.skipped++
		}
	}

	return result
}

// fetchWithRetry applies the per-adapter timeout and retries once with a
// short backoff on timeout or transient error. Deterministic failures
// (auth, parse) fail immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, adapter source.Adapter, src config.SourceConfig, since time.Time) ([]domain.NormalizedCandidate, error) {
	req := source.FetchRequest{Since: since, Options: src.Options}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			o.info("retrying source fetch", "source", src.Name, "backoff", o.retryBackoff)
			select {
			case <-time.After(o.retryBackoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", src.Name, ctx.Err())
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
		candidates, err := adapter.Fetch(fetchCtx, req)
		cancel()

		if err == nil {
			return candidates, nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = source.NewFetchError(src.Name, source.FailureTimeout, err)
			continue
		}
		if !source.Retryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("%s: fetch failed: %w", src.Name, lastErr)
}

// emptyFetchWarning flags a zero-record fetch from a source whose recent
// history says it should be producing data.
func (o *Orchestrator) emptyFetchWarning(ctx context.Context, src string) string {
	count, err := o.alerts.CountSince(ctx, src, o.clock().UTC().Add(-historyWindow))
	if err != nil || count == 0 {
		return ""
	}
	return fmt.Sprintf("%s: fetch returned no records despite %d in the last 7 days", src, count)
}

func (o *Orchestrator) summarize(runID, scope string, trigger domain.TriggerType, triggeredBy string, startedAt time.Time, metadata map[string]any, results []sourceResult) domain.SyncRun {
	run := domain.SyncRun{
		ID:          runID,
		SourceScope: scope,
		StartedAt:   startedAt,
		TriggerType: trigger,
		TriggeredBy: triggeredBy,
		Metadata:    metadata,
	}

	failed := 0
	for _, res := range results {
		run.Counts.Fetched += res.fetched
		run.Counts.Inserted += res.inserted
		run.Counts.Updated += res.updated
		run.Counts.Skipped += res.skipped
		run.Warnings = append(run.Warnings, res.warnings...)
		if res.err != nil {
			failed++
			run.Errors = append(run.Errors, res.err.Error())
		}
	}

	switch {
	case failed == len(results):
		run.Status = domain.RunFailure
	case failed == 0:
		run.Status = domain.RunSuccess
	default:
		run.Status = domain.RunPartial
	}

	return run
}

func (o *Orchestrator) scopedSources(scope string) ([]config.SourceConfig, error) {
	if scope == domain.ScopeAll {
		if len(o.sources) == 0 {
			return nil, fmt.Errorf("no sources configured")
		}
		return o.sources, nil
	}

	for _, src := range o.sources {
		if src.Name == scope {
			return []config.SourceConfig{src}, nil
		}
	}
	return nil, fmt.Errorf("unknown source scope %q", scope)
}

func (o *Orchestrator) publish(ctx context.Context, run domain.SyncRun) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishRunFinished(ctx, run); err != nil && o.logger != nil {
		o.logger.Warn("publish run event failed", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) info(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}
