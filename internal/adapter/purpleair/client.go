// Package purpleair ingests per-sensor history from the PurpleAir API.
package purpleair

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/pipeline"
)

const defaultBaseURL = "https://api.purpleair.com/v1"

// averageMinutes selects the API's hourly averages rather than raw
// two-minute samples.
const averageMinutes = 60

// historyFields are the columns requested per window. The response echoes
// the column order it chose, so rows are zipped against that, not this.
var historyFields = []string{
	"pm1.0_atm",
	"pm2.5_atm",
	"pm2.5_alt",
	"pm10.0_atm",
	"humidity",
	"temperature",
	"pressure",
}

// metricNames maps PurpleAir column names to stored metric keys.
var metricNames = map[string]string{
	"pm1.0_atm":   "pm1_0",
	"pm2.5_atm":   "pm2_5",
	"pm2.5_alt":   "pm2_5_alt",
	"pm10.0_atm":  "pm10_0",
	"humidity":    "humidity",
	"temperature": "temperature",
	"pressure":    "pressure",
}

// Client fetches sensor history windows. It implements pipeline.Source.
type Client struct {
	apiKey    string
	entities  []domain.Entity
	start     time.Time
	requester *fetch.Requester
	baseURL   string
	logger    *slog.Logger
}

// NewClient creates a PurpleAir source over the given sensors.
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

func (c *Client) Name() string              { return domain.SourcePurpleAir }
func (c *Client) Scope() pipeline.Scope     { return pipeline.ScopePerEntity }
func (c *Client) Step() time.Duration       { return 24 * time.Hour }
func (c *Client) DefaultStart() time.Time   { return c.start }
func (c *Client) Entities() []domain.Entity { return c.entities }

// FetchWindow retrieves one sensor's history for the window and normalizes
// it into measurement rows.
func (c *Client) FetchWindow(ctx context.Context, ent domain.Entity, win domain.Window) (domain.FetchResult, error) {
	u := fmt.Sprintf("%s/sensors/%s/history", c.baseURL, url.PathEscape(ent.ID))
	params := url.Values{
		"start_timestamp": {strconv.FormatInt(win.Start.Unix(), 10)},
		"end_timestamp":   {strconv.FormatInt(win.End.Unix(), 10)},
		"average":         {strconv.Itoa(averageMinutes)},
		"fields":          {strings.Join(historyFields, ",")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return domain.FetchResult{}, err
	}
	return NormalizeHistory(resp.Body, ent, win)
}
