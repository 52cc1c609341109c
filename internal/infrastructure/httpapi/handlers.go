package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
	"RegAlertScanner/internal/usecase"
)

// Handlers exposes the admin control surface over the pipeline. The
// pipeline never leaks raw panics or stack traces: every failure comes
// back as a JSON error body with a proper status code.
type Handlers struct {
	orchestrator *usecase.Orchestrator
	health       *usecase.HealthEvaluator
	alerts       ports.AlertStore
	syncLog      ports.SyncLogStore
	sinceDays    int
	logger       *slog.Logger
}

// NewHandlers wires the admin endpoints.
func NewHandlers(orchestrator *usecase.Orchestrator, health *usecase.HealthEvaluator, alerts ports.AlertStore, syncLog ports.SyncLogStore, sinceDays int, logger *slog.Logger) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		health:       health,
		alerts:       alerts,
		syncLog:      syncLog,
		sinceDays:    sinceDays,
		logger:       logger,
	}
}

type syncRequest struct {
	SinceDays   int    `json:"sinceDays"`
	TriggeredBy string `json:"triggeredBy"`
}

// TriggerSync handles POST /sync/manual, /sync/all and /sync/{source}.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("source")
	if scope == "" || scope == "manual" || scope == "all" {
		scope = domain.ScopeAll
	}

	var req syncRequest
	if r.Body != nil {
		// Empty body means defaults; a malformed one is a client error.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sinceDays := req.SinceDays
	if sinceDays <= 0 {
		sinceDays = h.sinceDays
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "admin"
	}

	since := time.Now().UTC().AddDate(0, 0, -sinceDays)
	run, err := h.orchestrator.Run(r.Context(), scope, domain.TriggerManual, triggeredBy, since)
	if err != nil {
		h.logger.Error("sync trigger failed", "scope", scope, "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync failed: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

type statusResponse struct {
	Overall         domain.OverallStatus           `json:"overall_status"`
	Sources         map[string]domain.SourceHealth `json:"sources"`
	TotalAlerts     int                            `json:"total_alerts"`
	AlertsLast7Days int                            `json:"alerts_last_7_days"`
	BySource        map[string]int                 `json:"alerts_by_source"`
	LastSuccessful  *time.Time                     `json:"last_successful_sync,omitempty"`
}

// Status handles GET /sync/status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, overall, err := h.health.Evaluate(ctx)
	if err != nil {
		h.logger.Error("health evaluation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "health evaluation failed")
		return
	}

	bySource, err := h.alerts.CountBySource(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "alert counts unavailable")
		return
	}

	total := 0
	for _, n := range bySource {
		total += n
	}

	recent := 0
	weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour)
	for src := range bySource {
		n, err := h.alerts.CountSince(ctx, src, weekAgo)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "alert counts unavailable")
			return
		}
		recent += n
	}

	lastSync, err := h.syncLog.LastSuccessfulSync(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "sync history unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Overall:         overall,
		Sources:         report,
		TotalAlerts:     total,
		AlertsLast7Days: recent,
		BySource:        bySource,
		LastSuccessful:  lastSync,
	})
}

type logsResponse struct {
	Runs     []domain.SyncRun `json:"runs"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// Logs handles GET /logs with filtering, pagination and CSV export.
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="sync-runs.csv"`)
		if err := h.syncLog.ExportCSV(r.Context(), filter, w); err != nil {
			h.logger.Error("csv export failed", "error", err)
		}
		return
	}

	runs, total, err := h.syncLog.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sync runs failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync history unavailable")
		return
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	h.writeJSON(w, http.StatusOK, logsResponse{
		Runs:     runs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

type healthCheckResponse struct {
	Overall domain.OverallStatus           `json:"overall_status"`
	Sources map[string]domain.SourceHealth `json:"sources"`
}

// HealthCheck handles POST /health-check: a synchronous evaluation.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report, overall, err := h.health.Evaluate(r.Context())
	if err != nil {
		h.logger.Error("health evaluation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "health evaluation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, healthCheckResponse{Overall: overall, Sources: report})
}

func parseRunFilter(r *http.Request) (ports.RunFilter, error) {
	q := r.URL.Query()

	filter := ports.RunFilter{
		Search:      q.Get("search"),
		SourceScope: q.Get("source"),
		Status:      domain.RunStatus(q.Get("status")),
		TriggerType: domain.TriggerType(q.Get("triggerType")),
	}

	if v := q.Get("dateFrom"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return ports.RunFilter{}, errors.New("dateFrom must be YYYY-MM-DD")
		}
		filter.From = &t
	}
	if v := q.Get("dateTo"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return ports.RunFilter{}, errors.New("dateTo must be YYYY-MM-DD")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return ports.RunFilter{}, errors.New("page must be a positive integer")
		}
		filter.Page = page
	}
	if v := q.Get("pageSize"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return ports.RunFilter{}, errors.New("pageSize must be a positive integer")
		}
		filter.PageSize = size
	}

	return filter, nil
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
