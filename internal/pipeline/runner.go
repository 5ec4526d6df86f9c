package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/observability"
)

// Scope says whether a source is fetched once per configured entity or once
// for the source as a whole.
type Scope int

const (
	ScopePerEntity Scope = iota
	ScopeSourceWide
)

// Source is one vendor feed wired into the ingestion skeleton.
type Source interface {
	Name() string
	Scope() Scope
	// Step bounds one fetch window. Zero means the vendor accepts the whole
	// range in a single request.
	Step() time.Duration
	// DefaultStart is the lower bound used when no checkpoint exists for a
	// key yet. Each vendor's feed begins at a different real-world date.
	DefaultStart() time.Time
	Entities() []domain.Entity
	// FetchWindow retrieves and normalizes all observations for one entity
	// in the half-open window. Entries that fail to parse are reported in
	// the result, not as an error.
	FetchWindow(ctx context.Context, entity domain.Entity, win domain.Window) (domain.FetchResult, error)
}

// Store persists measurement rows and checkpoints.
type Store interface {
	// LoadCheckpoint returns the stored resume point for key, or fallback
	// when none exists.
	LoadCheckpoint(ctx context.Context, key domain.CheckpointKey, fallback time.Time) (time.Time, error)
	// WriteRows inserts rows into the source's measurement table, skipping
	// any whose dedup key already exists. The whole batch applies or none
	// of it does.
	WriteRows(ctx context.Context, source string, rows []domain.Row) (domain.WriteResult, error)
	// AdvanceCheckpoint moves the resume point forward, never backward. It
	// reports whether the stored value changed.
	AdvanceCheckpoint(ctx context.Context, key domain.CheckpointKey, candidate time.Time) (bool, error)
}

// Publisher forwards persisted rows to downstream consumers. Optional.
type Publisher interface {
	PublishRows(ctx context.Context, source string, rows []domain.Row) error
}

// Runner drives every configured source through the load-fetch-write-advance
// cycle, one window at a time.
type Runner struct {
	store     Store
	sources   []Source
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Runner over the given sources. publisher may be nil, in which
// case rows are persisted but not forwarded.
func New(store Store, sources []Source, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		store:     store,
		sources:   sources,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a full ingestion cycle has completed
// without a fatal source failure, or an error describing why the service is
// not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no ingestion cycle has completed yet")
	}
	return nil
}

// Run executes ingestion cycles until the context is cancelled, sleeping
// interval between the end of one cycle and the start of the next. Cycle
// failures are logged, not returned: the next cycle resumes from the last
// advanced checkpoint.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("runner started", "interval", interval, "sources", len(r.sources))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if err := r.RunAll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("cycle completed with failures", "error", err)
		}

		if !sleepWithContext(ctx, interval) {
			r.logger.Info("runner stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunAll executes one ingestion cycle over all sources and returns the first
// fatal source error, if any. Sources run concurrently; they share no
// checkpoint keys or tables, and a failure in one never cancels the others.
func (r *Runner) RunAll(ctx context.Context) error {
	logger := r.logger.With("cycle_id", uuid.NewString())
	logger.Info("ingestion cycle started", "sources", len(r.sources))

	r.metrics.IngestRunning.Set(1)
	defer r.metrics.IngestRunning.Set(0)

	var g errgroup.Group
	for _, src := range r.sources {
		g.Go(func() error {
			if err := r.runSource(ctx, logger, src); err != nil {
				logger.Error("source run failed", "source", src.Name(), "error", err)
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.ready.Store(true)
	logger.Info("ingestion cycle finished")
	return nil
}

// runSource runs one source over all its units. A fatal error in one unit
// aborts the remaining units of this source but not of any other.
func (r *Runner) runSource(ctx context.Context, logger *slog.Logger, src Source) error {
	name := src.Name()
	start := time.Now()

	units := src.Entities()
	if src.Scope() == ScopeSourceWide {
		units = []domain.Entity{{}}
	}

	var failed error
	for _, ent := range units {
		if err := r.runUnit(ctx, logger, src, ent); err != nil {
			failed = err
			break
		}
	}

	r.metrics.RunDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if failed != nil {
		r.metrics.RunsTotal.WithLabelValues(name, "error").Inc()
		return failed
	}
	r.metrics.RunsTotal.WithLabelValues(name, "success").Inc()
	return nil
}

// runUnit recovers the resume point for one unit and walks every window from
// there to now. Window failures are isolated: the window is logged and
// skipped unless the error is fatal for the whole source run.
func (r *Runner) runUnit(ctx context.Context, logger *slog.Logger, src Source, ent domain.Entity) error {
	name := src.Name()
	key := checkpointKey(src, ent)
	logger = logger.With("source", name, "entity", ent.ID)

	from, err := r.store.LoadCheckpoint(ctx, key, src.DefaultStart())
	if err != nil {
		return &domain.RunError{Source: name, Entity: ent.ID, Stage: "checkpoint", Err: err}
	}

	wins := Windows(from, domain.Now().UTC(), src.Step())
	if len(wins) == 0 {
		logger.Debug("checkpoint up to date", "checkpoint", from)
		return nil
	}
	logger.Info("resuming fetch", "checkpoint", from, "windows", len(wins))

	for _, win := range wins {
		err := r.runWindow(ctx, src, ent, key, win)
		if err == nil {
			continue
		}
		if isFatal(err) {
			return err
		}
		r.metrics.UpstreamErrors.WithLabelValues(name).Inc()
		logger.Warn("skipping window", "window", win.String(), "error", err)
	}
	return nil
}

// runWindow fetches, writes, and advances the checkpoint for one window.
func (r *Runner) runWindow(ctx context.Context, src Source, ent domain.Entity, key domain.CheckpointKey, win domain.Window) error {
	name := src.Name()

	res, err := src.FetchWindow(ctx, ent, win)
	if err != nil {
		return &domain.RunError{Source: name, Entity: ent.ID, Stage: "fetch", Err: err}
	}

	for _, entryErr := range res.Malformed {
		r.logger.Warn("skipping malformed entry", "source", name, "entity", ent.ID, "error", entryErr)
		r.metrics.MalformedEntries.WithLabelValues(name).Inc()
	}
	r.metrics.RowsFetched.WithLabelValues(name).Add(float64(len(res.Rows)))

	if len(res.Rows) == 0 {
		return nil
	}

	wres, err := r.store.WriteRows(ctx, name, res.Rows)
	if err != nil {
		return &domain.RunError{Source: name, Entity: ent.ID, Stage: "write", Err: err}
	}
	r.metrics.RowsWritten.WithLabelValues(name).Add(float64(wres.Inserted))
	r.metrics.RowsDuplicate.WithLabelValues(name).Add(float64(len(res.Rows) - wres.Inserted))

	r.publish(ctx, name, res.Rows)

	if wres.MaxPersisted.IsZero() {
		return nil
	}

	advanced, err := r.store.AdvanceCheckpoint(ctx, key, wres.MaxPersisted)
	if err != nil {
		return &domain.RunError{Source: name, Entity: ent.ID, Stage: "checkpoint", Err: err}
	}
	if advanced {
		r.metrics.CheckpointTimestamp.WithLabelValues(name, ent.ID).Set(float64(wres.MaxPersisted.Unix()))
	}
	return nil
}

// publish forwards a persisted batch downstream. Publishing is best-effort:
// consumers dedup by row key, and a failure here must not block checkpoint
// advancement.
func (r *Runner) publish(ctx context.Context, source string, rows []domain.Row) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishRows(ctx, source, rows); err != nil {
		r.logger.Warn("publish failed", "source", source, "rows", len(rows), "error", err)
		r.metrics.PublishErrors.Inc()
		return
	}
	r.metrics.PublishedRows.WithLabelValues(source).Add(float64(len(rows)))
}

// isFatal reports whether err must abort the source run. Exhausted retries
// mean the vendor is shedding load, and storage failures mean nothing can be
// persisted; both leave the run unrecoverable until the next scheduled cycle.
func isFatal(err error) bool {
	var storageErr *domain.StorageError
	return errors.Is(err, domain.ErrExhaustedRetries) ||
		errors.As(err, &storageErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func checkpointKey(src Source, ent domain.Entity) domain.CheckpointKey {
	if src.Scope() == ScopeSourceWide {
		return domain.CheckpointKey{Source: src.Name()}
	}
	return domain.CheckpointKey{Source: src.Name(), Entity: ent.ID}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
