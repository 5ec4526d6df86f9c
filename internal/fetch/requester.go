// Package fetch performs vendor HTTP requests with bounded retry on
// rate-limiting. It is the only layer that sleeps between attempts; callers
// above it never retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/observability"
)

// Response is a fully-read upstream reply. Bodies are consumed before the
// requester returns, so downloads are held completely or not at all.
type Response struct {
	StatusCode int
	Body       []byte
}

// Requester executes HTTP requests, retrying rate-limited responses with
// exponential backoff: the wait starts at the base delay and doubles each
// retry until the attempt cap. Other non-success responses fail immediately.
type Requester struct {
	httpClient  *http.Client
	baseDelay   time.Duration
	maxAttempts int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates a Requester. A nil client gets a default with a 30s timeout.
func New(client *http.Client, baseDelay time.Duration, maxAttempts int, logger *slog.Logger, metrics *observability.Metrics) *Requester {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Requester{
		httpClient:  client,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
	}
}

// Do executes req. A 2xx response returns its body. A 429 sleeps and retries,
// up to the attempt cap, after which the error wraps
// domain.ErrExhaustedRetries. Any other status fails immediately with
// *domain.UpstreamError and is never retried: those responses usually mean a
// malformed request, not transient load.
func (r *Requester) Do(ctx context.Context, req *http.Request) (*Response, error) {
	delay := r.baseDelay

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 && req.Body != nil {
			if err := rewindBody(req); err != nil {
				return nil, err
			}
		}

		resp, err := r.once(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, domain.ErrRateLimited) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
		}

		r.metrics.FetchRetries.Inc()
		r.logger.Warn("rate limited, backing off",
			"host", req.URL.Host,
			"attempt", attempt,
			"delay", delay,
		)
		if !sleepWithContext(ctx, delay) {
			return nil, ctx.Err()
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%s %s after %d attempts: %w",
		req.Method, req.URL.Path, r.maxAttempts, domain.ErrExhaustedRetries)
}

// once performs a single attempt, reading the body fully. 429 maps to
// domain.ErrRateLimited, other non-2xx to *domain.UpstreamError.
func (r *Requester) once(ctx context.Context, req *http.Request) (*Response, error) {
	httpResp, err := r.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case httpResp.StatusCode < 200 || httpResp.StatusCode > 299:
		return nil, &domain.UpstreamError{Status: httpResp.StatusCode, Body: truncate(body, 512)}
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// rewindBody restores a consumed request body before a retry.
func rewindBody(req *http.Request) error {
	if req.GetBody == nil {
		return errors.New("cannot retry request without GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("rewind request body: %w", err)
	}
	req.Body = body
	return nil
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
