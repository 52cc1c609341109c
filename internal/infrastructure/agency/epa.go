package agency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/source"
)

// EPAAdapter pulls enforcement alerts from the environmental agency's
// paginated JSON API. Known envelope fields map onto the candidate
// shape; everything else the API returns is preserved verbatim in the
// raw payload for audit.
type EPAAdapter struct {
	name     string
	baseURL  string
	apiKey   string
	client   *http.Client
	pageSize int
}

var _ source.Adapter = (*EPAAdapter)(nil)

// NewEPAAdapter wires an HTTP client; pageSize defaults to 100.
func NewEPAAdapter(name, baseURL, apiKey string, client *http.Client) *EPAAdapter {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &EPAAdapter{name: name, baseURL: baseURL, apiKey: apiKey, client: client, pageSize: 100}
}

// Name identifies the adapter inside the registry.
func (a *EPAAdapter) Name() string {
	return a.name
}

type epaEnvelope struct {
	Alerts  []json.RawMessage `json:"alerts"`
	HasMore bool              `json:"has_more"`
}

type epaAlert struct {
	AlertID   string `json:"alert_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	IssuedAt  string `json:"issued_at"`
	RevisedAt string `json:"revised_at"`
	Permalink string `json:"permalink"`
	Category  string `json:"category"`
	Severity  string `json:"severity"`
}

// Fetch pages through the API until has_more is false.
func (a *EPAAdapter) Fetch(ctx context.Context, req source.FetchRequest) ([]domain.NormalizedCandidate, error) {
	var results []domain.NormalizedCandidate

	page := 1
	for {
		envelope, err := a.fetchPage(ctx, req.Since, page)
		if err != nil {
			return nil, err
		}

		for _, raw := range envelope.Alerts {
			cand, err := a.normalize(raw)
			if err != nil {
				return nil, source.NewFetchError(a.name, source.FailureParse, err)
			}
			results = append(results, cand)
		}

		if !envelope.HasMore {
			break
		}
		page++
	}

	return results, nil
}

func (a *EPAAdapter) fetchPage(ctx context.Context, since time.Time, page int) (*epaEnvelope, error) {
	pageURL, err := a.buildPageURL(since, page)
	if err != nil {
		return nil, source.NewFetchError(a.name, source.FailureParse, err)
	}

	resp, err := a.get(ctx, pageURL)
	if err != nil {
		return nil, source.NewFetchError(a.name, source.FailureConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, source.NewFetchError(a.name, source.FailureAuth, fmt.Errorf("api returned %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, source.NewFetchError(a.name, source.FailureConnectivity, fmt.Errorf("api returned %s", resp.Status))
	}

	var envelope epaEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, source.NewFetchError(a.name, source.FailureParse, fmt.Errorf("decode page %d: %w", page, err))
	}

	return &envelope, nil
}

// get performs the request with a single immediate retry on transport
// errors, per the adapter contract.
func (a *EPAAdapter) get(ctx context.Context, pageURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}

		resp, err := a.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("request page: %w", lastErr)
}

func (a *EPAAdapter) normalize(raw json.RawMessage) (domain.NormalizedCandidate, error) {
	var alert epaAlert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return domain.NormalizedCandidate{}, fmt.Errorf("decode alert: %w", err)
	}

	publishedAt, err := time.Parse(time.RFC3339, alert.IssuedAt)
	if err != nil {
		return domain.NormalizedCandidate{}, fmt.Errorf("parse issued_at %q: %w", alert.IssuedAt, err)
	}

	var updatedAt *time.Time
	if alert.RevisedAt != "" {
		if t, err := time.Parse(time.RFC3339, alert.RevisedAt); err == nil {
			updatedAt = &t
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.NormalizedCandidate{}, fmt.Errorf("decode raw payload: %w", err)
	}

	return domain.NormalizedCandidate{
		Source:         a.name,
		ExternalID:     alert.AlertID,
		Title:          alert.Title,
		Summary:        alert.Body,
		PublishedAt:    publishedAt,
		UpdatedAt:      updatedAt,
		SourceURL:      alert.Permalink,
		Classification: alert.Category,
		Urgency:        alert.Severity,
		RawPayload:     payload,
	}, nil
}

func (a *EPAAdapter) buildPageURL(since time.Time, page int) (string, error) {
	parsed, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url %s: %w", a.baseURL, err)
	}

	query := parsed.Query()
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(a.pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
