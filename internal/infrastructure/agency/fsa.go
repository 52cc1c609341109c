package agency

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/source"
)

const fsaUserAgent = "RegAlertScanner/1.0"

// FSAAdapter crawls the food-safety agency's paginated alert listing and
// extracts alerts published since the requested cutoff. The listing is
// newest-first, so pagination stops at the first entry older than the
// cutoff.
type FSAAdapter struct {
	name     string
	baseURL  string
	client   *http.Client
	pageSize int
}

var _ source.Adapter = (*FSAAdapter)(nil)

// NewFSAAdapter wires an HTTP client; pageSize defaults to 50.
func NewFSAAdapter(name, baseURL string, client *http.Client) *FSAAdapter {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &FSAAdapter{name: name, baseURL: baseURL, client: client, pageSize: 50}
}

// Name identifies the adapter inside the registry.
func (a *FSAAdapter) Name() string {
	return a.name
}

// Fetch walks listing pages and returns all alerts published at or after
// req.Since.
func (a *FSAAdapter) Fetch(ctx context.Context, req source.FetchRequest) ([]domain.NormalizedCandidate, error) {
	since := req.Since.UTC().Truncate(24 * time.Hour)
	results := make([]domain.NormalizedCandidate, 0)
	seen := map[string]struct{}{}

	page := 0
	for {
		pageURL, err := buildListingURL(a.baseURL, page, a.pageSize)
		if err != nil {
			return nil, source.NewFetchError(a.name, source.FailureParse, err)
		}

		doc, err := a.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		candidates, shouldContinue := a.extractAlerts(doc, since)
		for _, cand := range candidates {
			if _, ok := seen[cand.ExternalID]; ok {
				continue
			}
			seen[cand.ExternalID] = struct{}{}
			results = append(results, cand)
		}

		if !shouldContinue {
			break
		}
		page++
	}

	return results, nil
}

func (a *FSAAdapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := a.get(ctx, pageURL)
	if err != nil {
		return nil, source.NewFetchError(a.name, source.FailureConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, source.NewFetchError(a.name, source.FailureAuth, fmt.Errorf("listing returned %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, source.NewFetchError(a.name, source.FailureConnectivity, fmt.Errorf("listing returned %s", resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, source.NewFetchError(a.name, source.FailureParse, fmt.Errorf("parse listing: %w", err))
	}

	return doc, nil
}

// get performs the request with a single immediate retry on transport
// errors, per the adapter contract.
func (a *FSAAdapter) get(ctx context.Context, pageURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", fsaUserAgent)

		resp, err := a.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("request listing: %w", lastErr)
}

func (a *FSAAdapter) extractAlerts(doc *goquery.Document, since time.Time) ([]domain.NormalizedCandidate, bool) {
	var (
		collected    []domain.NormalizedCandidate
		continueScan = true
		processed    int
	)

	doc.Find(".alert-item").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		processed++

		cand, publishedAt, err := parseAlertItem(sel, a.name, a.baseURL)
		if err != nil {
			return true
		}

		day := publishedAt.UTC().Truncate(24 * time.Hour)
		if day.Before(since) {
			continueScan = false
			return false
		}
		collected = append(collected, cand)

		return true
	})

	if processed < a.pageSize {
		continueScan = false
	}

	return collected, continueScan
}

func parseAlertItem(sel *goquery.Selection, src, baseURL string) (domain.NormalizedCandidate, time.Time, error) {
	link := sel.Find("a.alert-link").First()
	href, _ := link.Attr("href")

	id := strings.TrimSpace(sel.AttrOr("data-alert-id", ""))
	if id == "" {
		id = strings.TrimPrefix(href, "/alerts/")
	}
	if id == "" {
		return domain.NormalizedCandidate{}, time.Time{}, fmt.Errorf("alert item has no identifier")
	}

	if href != "" && !strings.HasPrefix(href, "http") {
		if parsed, err := url.Parse(baseURL); err == nil {
			href = parsed.Scheme + "://" + parsed.Host + href
		}
	}

	title := strings.TrimSpace(sel.Find(".alert-title").First().Text())
	summary := strings.TrimSpace(sel.Find(".alert-summary").First().Text())
	classification := strings.TrimSpace(sel.Find(".alert-type").First().Text())
	urgency := strings.TrimSpace(sel.Find(".alert-urgency").First().Text())

	dateAttr := sel.Find("time.alert-date").First().AttrOr("datetime", "")
	publishedAt, err := time.Parse("2006-01-02", dateAttr)
	if err != nil {
		return domain.NormalizedCandidate{}, time.Time{}, fmt.Errorf("parse alert date %q: %w", dateAttr, err)
	}

	cand := domain.NormalizedCandidate{
		Source:         src,
		ExternalID:     id,
		Title:          title,
		Summary:        summary,
		PublishedAt:    publishedAt,
		SourceURL:      href,
		Classification: classification,
		Urgency:        urgency,
		RawPayload: map[string]any{
			"listing_href": href,
			"type_label":   classification,
		},
	}

	return cand, publishedAt, nil
}

func buildListingURL(base string, page, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
