// Package clarity ingests node measurements through the Clarity report API.
//
// Clarity does not serve measurement queries directly. A fetch submits a
// report request, polls the request at a fixed interval until the backend
// finishes rendering, then downloads the report files and parses them.
package clarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/pipeline"
)

const defaultBaseURL = "https://clarity-data-api.clarity.io/v2"

const (
	// DefaultPollInterval is how long to wait between report status checks.
	DefaultPollInterval = time.Minute
	// DefaultPollAttempts caps the status checks; the last check is final,
	// a report still pending then fails the window.
	DefaultPollAttempts = 30
)

// Client fetches per-node measurements. It implements pipeline.Source. The
// report endpoint accepts an arbitrary range, so the source runs with a
// single window per node.
type Client struct {
	apiKey       string
	entities     []domain.Entity
	start        time.Time
	pollInterval time.Duration
	pollAttempts int
	requester    *fetch.Requester
	baseURL      string
	logger       *slog.Logger
}

// NewClient creates a Clarity source over the given node ids.
func NewClient(apiKey string, entities []domain.Entity, start time.Time, pollInterval time.Duration, pollAttempts int, requester *fetch.Requester, logger *slog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if pollAttempts <= 0 {
		pollAttempts = DefaultPollAttempts
	}
	return &Client{
		apiKey:       apiKey,
		entities:     entities,
		start:        start,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		requester:    requester,
		baseURL:      defaultBaseURL,
		logger:       logger,
	}
}

func (c *Client) Name() string              { return domain.SourceClarity }
func (c *Client) Scope() pipeline.Scope     { return pipeline.ScopePerEntity }
func (c *Client) Step() time.Duration       { return 0 }
func (c *Client) DefaultStart() time.Time   { return c.start }
func (c *Client) Entities() []domain.Entity { return c.entities }

// FetchWindow runs the submit-poll-download flow for one node and window.
func (c *Client) FetchWindow(ctx context.Context, ent domain.Entity, win domain.Window) (domain.FetchResult, error) {
	reportID, err := c.submitReport(ctx, ent, win)
	if err != nil {
		return domain.FetchResult{}, err
	}
	c.logger.Debug("report submitted", "node", ent.ID, "report_id", reportID)

	urls, err := c.awaitReport(ctx, reportID)
	if err != nil {
		return domain.FetchResult{}, err
	}

	var res domain.FetchResult
	for _, fileURL := range urls {
		data, err := c.downloadFile(ctx, fileURL)
		if err != nil {
			return domain.FetchResult{}, err
		}
		part, err := ParseReportCSV(data, ent, win)
		if err != nil {
			return domain.FetchResult{}, err
		}
		res.Rows = append(res.Rows, part.Rows...)
		res.Malformed = append(res.Malformed, part.Malformed...)
	}
	return res, nil
}

type reportRequest struct {
	NodeIDs   []string `json:"nodeIds"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Average   string   `json:"average"`
}

type reportStatus struct {
	ReportID string   `json:"reportId"`
	Status   string   `json:"status"`
	URLs     []string `json:"urls"`
}

func (c *Client) submitReport(ctx context.Context, ent domain.Entity, win domain.Window) (string, error) {
	payload, err := json.Marshal(reportRequest{
		NodeIDs:   []string{ent.ID},
		StartTime: win.Start.UTC().Format(time.RFC3339),
		EndTime:   win.End.UTC().Format(time.RFC3339),
		Average:   "hour",
	})
	if err != nil {
		return "", fmt.Errorf("encode report request: %w", err)
	}

	// bytes.Reader gives the request a rewindable body, so a rate-limited
	// submit can be retried.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/report-requests", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return "", err
	}

	var status reportStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return "", fmt.Errorf("decode report submission: %w", err)
	}
	if status.ReportID == "" {
		return "", fmt.Errorf("report submission returned no report id")
	}
	return status.ReportID, nil
}

// awaitReport polls the report until it succeeds, fails, or the attempt cap
// is reached. Checks happen at fixed intervals; the cap bounds how long a
// run can stall on one report.
func (c *Client) awaitReport(ctx context.Context, reportID string) ([]string, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		status, err := c.checkReport(ctx, reportID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "succeeded":
			if len(status.URLs) == 0 {
				return nil, fmt.Errorf("report %s succeeded with no files", reportID)
			}
			return status.URLs, nil
		case "failed":
			return nil, fmt.Errorf("report %s failed upstream", reportID)
		}

		if attempt < c.pollAttempts {
			if !sleepWithContext(ctx, c.pollInterval) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("report %s not ready after %d checks", reportID, c.pollAttempts)
}

func (c *Client) checkReport(ctx context.Context, reportID string) (reportStatus, error) {
	u := c.baseURL + "/report-requests/" + url.PathEscape(reportID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return reportStatus{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return reportStatus{}, err
	}

	var status reportStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return reportStatus{}, fmt.Errorf("decode report status: %w", err)
	}
	return status, nil
}

func (c *Client) downloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
