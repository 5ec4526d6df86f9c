// Package quantaq ingests resampled device data from the QuantAQ API.
package quantaq

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/pipeline"
)

const defaultBaseURL = "https://api.quant-aq.com/device-api/v1"

const timeParam = "2006-01-02 15:04:05"

// Client fetches per-device resampled data. It implements pipeline.Source.
// The resampled endpoint accepts an arbitrary range in one request, so the
// source runs with a single window per device.
type Client struct {
	apiKey    string
	entities  []domain.Entity
	start     time.Time
	requester *fetch.Requester
	baseURL   string
	logger    *slog.Logger
}

// NewClient creates a QuantAQ source over the given device serials.
func NewClient(apiKey string, entities []domain.Entity, start time.Time, requester *fetch.Requester, logger *slog.Logger) *Client {
	return &Client{
		apiKey:    apiKey,
		entities:  entities,
		start:     start,
		requester: requester,
		baseURL:   defaultBaseURL,
		logger:    logger,
	}
}

func (c *Client) Name() string              { return domain.SourceQuantAQ }
func (c *Client) Scope() pipeline.Scope     { return pipeline.ScopePerEntity }
func (c *Client) Step() time.Duration       { return 0 }
func (c *Client) DefaultStart() time.Time   { return c.start }
func (c *Client) Entities() []domain.Entity { return c.entities }

// FetchWindow retrieves one device's hourly-resampled data for the window.
func (c *Client) FetchWindow(ctx context.Context, ent domain.Entity, win domain.Window) (domain.FetchResult, error) {
	u := fmt.Sprintf("%s/devices/%s/data/resampled", c.baseURL, url.PathEscape(ent.ID))
	params := url.Values{
		"start":    {win.Start.UTC().Format(timeParam)},
		"end":      {win.End.UTC().Format(timeParam)},
		"period":   {"1h"},
		"per_page": {"1000"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	// QuantAQ authenticates with the API key as the basic-auth username.
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return domain.FetchResult{}, err
	}
	return NormalizeData(resp.Body, ent, win)
}
