// Package airnow ingests hourly observations from the AirNow data files.
//
// AirNow publishes one pipe-delimited file per GMT hour covering every
// reporting site in the country. The source is therefore fetched once per
// window for all configured sites, not per site, and its checkpoint is keyed
// by source alone.
package airnow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/pipeline"
)

const defaultBaseURL = "https://files.airnowtech.org/airnow"

// Client fetches hourly data files and keeps the rows for configured sites.
// It implements pipeline.Source.
type Client struct {
	sites     []domain.Entity
	siteIndex map[string]domain.Entity
	start     time.Time
	requester *fetch.Requester
	baseURL   string
	logger    *slog.Logger
}

// NewClient creates an AirNow source over the given monitoring sites. The
// hourly files are public; no credential is needed.
func NewClient(sites []domain.Entity, start time.Time, requester *fetch.Requester, logger *slog.Logger) *Client {
	index := make(map[string]domain.Entity, len(sites))
	for _, site := range sites {
		index[site.ID] = site
	}
	return &Client{
		sites:     sites,
		siteIndex: index,
		start:     start,
		requester: requester,
		baseURL:   defaultBaseURL,
		logger:    logger,
	}
}

func (c *Client) Name() string              { return domain.SourceAirNow }
func (c *Client) Scope() pipeline.Scope     { return pipeline.ScopeSourceWide }
func (c *Client) Step() time.Duration       { return time.Hour }
func (c *Client) DefaultStart() time.Time   { return c.start }
func (c *Client) Entities() []domain.Entity { return c.sites }

// FetchWindow downloads every hourly file overlapping the window and keeps
// the observations for configured sites that fall inside it. A window that
// starts mid-hour spans two files.
func (c *Client) FetchWindow(ctx context.Context, _ domain.Entity, win domain.Window) (domain.FetchResult, error) {
	var res domain.FetchResult
	for hour := win.Start.UTC().Truncate(time.Hour); hour.Before(win.End); hour = hour.Add(time.Hour) {
		data, err := c.fetchHourlyFile(ctx, hour)
		if err != nil {
			return domain.FetchResult{}, err
		}
		part := ParseHourlyFile(data, c.siteIndex, win)
		res.Rows = append(res.Rows, part.Rows...)
		res.Malformed = append(res.Malformed, part.Malformed...)
	}
	return res, nil
}

func (c *Client) fetchHourlyFile(ctx context.Context, hour time.Time) ([]byte, error) {
	u := fmt.Sprintf("%s/%d/%s/HourlyData_%s.dat",
		c.baseURL, hour.Year(), hour.Format("20060102"), hour.Format("2006010215"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
