// Package ingest drives a scraping session from creation to a terminal
// status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/logging"
	"github.com/JakeFAU/review-insights/internal/metrics"
	"github.com/JakeFAU/review-insights/internal/normalize"
	"github.com/JakeFAU/review-insights/internal/review"
)

// NoteNoReviews is recorded when a run persisted nothing.
const NoteNoReviews = "no reviews saved"

// Store is the subset of review.Store the coordinator drives.
type Store interface {
	CreateSession(ctx context.Context, params review.SessionParams) (int64, error)
	SetStatus(ctx context.Context, sessionID int64, status review.Status, note string) error
	MergeAppInfo(ctx context.Context, sessionID int64, patch review.AppInfoPatch) error
	RetentionSweep(ctx context.Context, keepDays, keepSessions int) (int, error)
	SaveRawItems(ctx context.Context, session review.Session, items []review.FetchedReview) (review.SaveResult, error)
}

// Normalizer runs the text pipeline over a session.
type Normalizer interface {
	PreprocessAll(ctx context.Context, sessionID int64) (normalize.Outcome, error)
}

// Config controls retention applied before each session starts.
type Config struct {
	KeepDays     int
	KeepSessions int
}

// RunSummary describes one finished run.
type RunSummary struct {
	SessionID  int64
	Status     review.Status
	Note       string
	Fetched    int
	Saved      int
	Duplicates int
	Faults     []review.ItemFault
	Processed  int
	Skipped    []review.ItemFault
	Duration   time.Duration
}

// Coordinator creates sessions and runs them in the background.
type Coordinator struct {
	store      Store
	reviews    review.ReviewSource
	metadata   review.MetadataSource
	normalizer Normalizer
	clock      review.Clock
	metrics    *metrics.Metrics
	cfg        Config
	logger     *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Coordinator. metadata and m may be nil.
func New(
	store Store,
	reviews review.ReviewSource,
	metadata review.MetadataSource,
	normalizer Normalizer,
	clock review.Clock,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		store:      store,
		reviews:    reviews,
		metadata:   metadata,
		normalizer: normalizer,
		clock:      clock,
		metrics:    m,
		cfg:        cfg,
		logger:     logging.OrNop(logger).Named("ingest"),
	}
}

// Start sweeps expired sessions, creates a new one and launches its run.
// The run outlives ctx; only Wait observes it.
func (c *Coordinator) Start(ctx context.Context, params review.SessionParams) (int64, error) {
	if _, err := c.Sweep(ctx); err != nil {
		c.logger.Warn("retention sweep failed", zap.Error(err))
	}
	id, err := c.store.CreateSession(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("session created", logging.Session(id), zap.String("app_id", params.AppID), zap.Int("count", params.Count))

	runCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(runCtx, id, params)
	}()
	return id, nil
}

// Wait blocks until every started run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Sweep applies the retention policy.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	deleted, err := c.store.RetentionSweep(ctx, c.cfg.KeepDays, c.cfg.KeepSessions)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	if deleted > 0 {
		c.logger.Info("retention sweep removed sessions", zap.Int("deleted", deleted))
	}
	c.metrics.ObserveRetention(deleted)
	return deleted, nil
}

// Run executes the session pipeline synchronously and always leaves the
// session in a terminal status unless the store itself is failing.
func (c *Coordinator) Run(ctx context.Context, sessionID int64, params review.SessionParams) (summary RunSummary) {
	start := c.clock.Now()
	summary.SessionID = sessionID
	c.metrics.SessionStarted()

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("session run panicked", logging.Session(sessionID), zap.Any("panic", rec))
			summary.Status = review.StatusFailed
			summary.Note = fmt.Sprintf("internal error: %v", rec)
			c.setStatus(ctx, sessionID, summary.Status, summary.Note)
		}
		summary.Duration = c.clock.Now().Sub(start)
		c.finish(summary)
	}()

	if err := c.run(ctx, sessionID, params, &summary); err != nil {
		summary.Status = review.StatusFailed
		summary.Note = err.Error()
		c.logger.Error("session failed", logging.Session(sessionID), zap.Error(err))
	}
	c.setStatus(ctx, sessionID, summary.Status, summary.Note)
	return summary
}

func (c *Coordinator) run(ctx context.Context, sessionID int64, params review.SessionParams, summary *RunSummary) error {
	if err := c.store.SetStatus(ctx, sessionID, review.StatusScraping, ""); err != nil {
		return fmt.Errorf("mark scraping: %w", err)
	}
	c.mergeMetadata(ctx, sessionID, params)

	fetchStart := c.clock.Now()
	items, err := c.reviews.FetchReviews(ctx, params)
	if err != nil {
		c.metrics.ObserveFetch("error", c.clock.Now().Sub(fetchStart))
		return err
	}
	c.metrics.ObserveFetch("ok", c.clock.Now().Sub(fetchStart))
	summary.Fetched = len(items)

	session := review.Session{
		ID:          sessionID,
		AppID:       params.AppID,
		Lang:        params.Lang,
		Country:     params.Country,
		FilterScore: params.FilterScore,
		Count:       params.Count,
		Sort:        params.Sort,
	}
	saved, err := c.store.SaveRawItems(ctx, session, items)
	if err != nil {
		return fmt.Errorf("save reviews: %w", err)
	}
	summary.Saved = saved.Inserted
	summary.Duplicates = saved.Duplicates
	summary.Faults = saved.Faults
	c.metrics.ObserveSave(saved.Inserted, saved.Duplicates)
	for _, f := range saved.Faults {
		c.metrics.ObserveFault(f.Stage)
	}
	if saved.Inserted == 0 {
		summary.Status = review.StatusFailed
		summary.Note = NoteNoReviews
		return nil
	}

	if err := c.store.SetStatus(ctx, sessionID, review.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	outcome, err := c.normalizer.PreprocessAll(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	summary.Processed = outcome.Processed
	summary.Skipped = outcome.Skipped
	c.metrics.ObserveProcessed(outcome.Processed)
	for _, f := range outcome.Skipped {
		c.metrics.ObserveFault(f.Stage)
	}

	summary.Status = review.StatusCompleted
	summary.Note = fmt.Sprintf("normalized %d of %d reviews", outcome.Processed, outcome.Total)
	if n := len(outcome.Skipped); n > 0 {
		summary.Note += fmt.Sprintf(", %d skipped", n)
	}
	return nil
}

// mergeMetadata is best effort; failures and empty pages are only logged.
func (c *Coordinator) mergeMetadata(ctx context.Context, sessionID int64, params review.SessionParams) {
	if c.metadata == nil {
		return
	}
	patch, err := c.metadata.FetchMetadata(ctx, params.AppID, params.Lang, params.Country)
	switch {
	case err != nil:
		c.logger.Warn("app metadata unavailable", logging.Session(sessionID), zap.Error(err))
		return
	case patch == nil:
		c.logger.Debug("app metadata empty", logging.Session(sessionID))
		return
	}
	if err := c.store.MergeAppInfo(ctx, sessionID, *patch); err != nil {
		c.logger.Warn("merge app metadata failed", logging.Session(sessionID), zap.Error(err))
	}
}

func (c *Coordinator) setStatus(ctx context.Context, sessionID int64, status review.Status, note string) {
	if err := c.store.SetStatus(ctx, sessionID, status, note); err != nil {
		c.logger.Error("final status update failed",
			logging.Session(sessionID), zap.String("status", string(status)), zap.Error(err))
	}
}

func (c *Coordinator) finish(summary RunSummary) {
	c.metrics.SessionFinished(string(summary.Status))
	fields := []zap.Field{
		logging.Session(summary.SessionID),
		zap.String("status", string(summary.Status)),
		zap.String("note", summary.Note),
		zap.Int("fetched", summary.Fetched),
		zap.Int("saved", summary.Saved),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("save_faults", len(summary.Faults)),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Duration("duration", summary.Duration),
	}
	if len(summary.Faults) > 0 {
		fields = append(fields, zap.Error(errors.Join(faultErrors(summary.Faults)...)))
	}
	c.logger.Info("session finished", fields...)
}

func faultErrors(faults []review.ItemFault) []error {
	out := make([]error, 0, len(faults))
	for _, f := range faults {
		out = append(out, f)
	}
	return out
}
