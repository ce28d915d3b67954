// Package worker implements the crawl job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/hash/sha256"
	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/links"
	"github.com/rradofina/alonchat-ingest/internal/metrics"
	"github.com/rradofina/alonchat-ingest/internal/progress"
	"github.com/rradofina/alonchat-ingest/internal/queue"
	"github.com/rradofina/alonchat-ingest/internal/retry"
)

// errJobRemoved signals that the job vanished from the queue mid-crawl.
// Treated as a cooperative cancel, never surfaced to the source record.
var errJobRemoved = errors.New("job removed from queue")

// Config controls Worker behavior.
type Config struct {
	// MaxPages caps the crawl frontier per job.
	MaxPages int
	// FetchAttempts, FetchDelay, FetchMaxDelay, and BackoffFactor shape the
	// per-page retry schedule.
	FetchAttempts int
	FetchDelay    time.Duration
	FetchMaxDelay time.Duration
	BackoffFactor float64
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 25
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 3
	}
	if c.FetchDelay <= 0 {
		c.FetchDelay = 500 * time.Millisecond
	}
	if c.FetchMaxDelay <= 0 {
		c.FetchMaxDelay = 15 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2.0
	}
	return c
}

// Worker consumes the job queue and executes the crawl pipeline: fetch pages
// breadth-first from the target URL, extract links, stream progress events,
// and finish the source as ready or error.
type Worker struct {
	queue     queue.Queue
	store     ingest.SourceStore
	fetcher   ingest.Fetcher
	extractor *links.Extractor
	bus       progress.Bus
	clock     ingest.Clock
	hasher    *sha256.Hasher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	q queue.Queue,
	store ingest.SourceStore,
	fetcher ingest.Fetcher,
	extractor *links.Extractor,
	bus progress.Bus,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     q,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		bus:       bus,
		clock:     clock,
		hasher:    sha256.New(),
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ingest.ErrQueueUnavailable) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job ingest.CrawlJob) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := otel.Tracer("worker").Start(ctx, "process_job")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("source.id", job.SourceID),
	)
	defer span.End()

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("source_id", job.SourceID),
	)

	processing := ingest.SourceStatusProcessing
	if err := w.store.UpdateSource(ctx, job.SourceID, ingest.SourceUpdate{Status: &processing}); err != nil {
		logger.Error("mark source processing failed", zap.Error(err))
		w.finishJob(ctx, job, ingest.JobStateFailed, logger)
		return
	}

	w.emit(job, progress.PhaseDiscovering, 0, 0, 0, job.TargetURL, "")

	collected, pages, err := w.crawl(ctx, job, logger)
	if errors.Is(err, errJobRemoved) {
		logger.Info("job removed during crawl, discarding partial result")
		return
	}
	if err != nil {
		w.failJob(ctx, job, pages, err, logger)
		return
	}

	w.emit(job, progress.PhaseProcessing, 90, pages, pages, "", "")

	if !w.jobExists(ctx, job.ID) {
		logger.Info("job removed before persist, discarding result")
		return
	}

	ready := ingest.SourceStatusReady
	chunkCount := pages
	applied, err := w.store.UpdateSourceIf(
		ctx,
		job.SourceID,
		[]ingest.SourceStatus{ingest.SourceStatusProcessing},
		ingest.SourceUpdate{Status: &ready, Links: collected, ChunkCount: &chunkCount},
	)
	if err != nil {
		w.failJob(ctx, job, pages, fmt.Errorf("persist crawl result: %w", err), logger)
		return
	}
	if !applied {
		logger.Warn("source moved out of processing mid-crawl, result discarded")
	}

	w.finishJob(ctx, job, ingest.JobStateCompleted, logger)
	w.emit(job, progress.PhaseCompleted, 100, pages, pages, "", "")
	logger.Info("crawl completed",
		zap.Int("pages", pages),
		zap.Int("links", len(collected)),
	)
}

// crawl walks the frontier breadth-first from the job's target URL. It checks
// job existence at every page boundary so a removed job stops the walk
// without touching the source record.
func (w *Worker) crawl(
	ctx context.Context,
	job ingest.CrawlJob,
	logger *zap.Logger,
) ([]ingest.ExtractedLink, int, error) {
	frontier := []string{job.TargetURL}
	visited := make(map[string]struct{})
	seenContent := make(map[string]struct{})
	seenLink := make(map[string]struct{})
	var collected []ingest.ExtractedLink
	pages := 0

	for len(frontier) > 0 && pages < w.cfg.MaxPages {
		if ctx.Err() != nil {
			return nil, pages, ctx.Err()
		}
		if !w.jobExists(ctx, job.ID) {
			return nil, pages, errJobRemoved
		}

		target := frontier[0]
		frontier = frontier[1:]
		if _, ok := visited[target]; ok {
			continue
		}
		visited[target] = struct{}{}

		pct := crawlProgress(pages, w.cfg.MaxPages)
		w.emit(job, progress.PhaseFetching, pct, pages, 0, target, "")

		page, err := w.fetchPage(ctx, job, target)
		if err != nil {
			if pages == 0 {
				return nil, 0, fmt.Errorf("fetch root page: %w", err)
			}
			logger.Warn("page fetch failed, skipping", zap.String("url", target), zap.Error(err))
			continue
		}
		// Distinct URLs often serve identical documents (/ and /index.html).
		// Hash the body and process each document once.
		if digest, herr := w.hasher.Hash([]byte(page.HTML)); herr == nil {
			if _, dup := seenContent[digest]; dup {
				logger.Debug("duplicate page content, skipping", zap.String("url", page.URL))
				continue
			}
			seenContent[digest] = struct{}{}
		}
		pages++
		metrics.ObservePage(page.URL, page.StatusCode)

		pageLinks, err := w.extractor.ExtractFromHTML(page.HTML, page.URL)
		if err != nil {
			logger.Warn("link extraction failed", zap.String("url", page.URL), zap.Error(err))
		}
		for _, link := range pageLinks {
			if _, dup := seenLink[link.URL]; dup {
				continue
			}
			seenLink[link.URL] = struct{}{}
			collected = append(collected, link)
		}
		metrics.ObserveLinksExtracted(len(pageLinks))

		next, err := w.extractor.FrontierURLs(page.HTML, page.URL)
		if err == nil {
			frontier = append(frontier, next...)
		}

		pct = crawlProgress(pages, w.cfg.MaxPages)
		if err := w.queue.UpdateProgress(ctx, job.ID, pct); err != nil && !errors.Is(err, ingest.ErrJobNotFound) {
			logger.Warn("progress update failed", zap.Error(err))
		}
		w.emit(job, progress.PhaseProcessing, pct, pages, 0, page.URL, "")
	}
	return collected, pages, nil
}

// fetchPage retrieves one page with backoff. When the upstream site rate
// limits us the backoff is mirrored into the queue as a delayed state, so
// observers see the job parked rather than stuck.
func (w *Worker) fetchPage(ctx context.Context, job ingest.CrawlJob, url string) (ingest.Page, error) {
	return retry.Do(ctx, retry.Options{
		MaxAttempts:   w.cfg.FetchAttempts,
		InitialDelay:  w.cfg.FetchDelay,
		MaxDelay:      w.cfg.FetchMaxDelay,
		BackoffFactor: w.cfg.BackoffFactor,
		OnRetry: func(_ int, delay time.Duration, err error) {
			if isRateLimited(err) {
				if derr := w.queue.Delay(ctx, job.ID, delay); derr != nil && !errors.Is(derr, ingest.ErrJobNotFound) {
					w.logger.Warn("delay job failed", zap.String("job_id", job.ID), zap.Error(derr))
				}
			}
		},
	}, func(ctx context.Context) (ingest.Page, error) {
		return w.fetcher.Fetch(ctx, url)
	})
}

func (w *Worker) failJob(
	ctx context.Context,
	job ingest.CrawlJob,
	pages int,
	cause error,
	logger *zap.Logger,
) {
	errStatus := ingest.SourceStatusError
	msg := humanizeError(cause)
	_, err := w.store.UpdateSourceIf(
		ctx,
		job.SourceID,
		[]ingest.SourceStatus{ingest.SourceStatusProcessing, ingest.SourceStatusQueued},
		ingest.SourceUpdate{Status: &errStatus, Metadata: map[string]string{"error": msg}},
	)
	if err != nil && !errors.Is(err, ingest.ErrSourceNotFound) {
		logger.Error("mark source error failed", zap.Error(err))
	}

	w.finishJob(ctx, job, ingest.JobStateFailed, logger)
	w.emit(job, progress.PhaseError, crawlProgress(pages, w.cfg.MaxPages), pages, 0, "", msg)
	logger.Warn("crawl failed", zap.Int("pages", pages), zap.Error(cause))
}

func (w *Worker) finishJob(ctx context.Context, job ingest.CrawlJob, state ingest.JobState, logger *zap.Logger) {
	if err := w.queue.Finish(ctx, job.ID, state); err != nil && !errors.Is(err, ingest.ErrJobNotFound) {
		logger.Error("finish job failed", zap.String("state", string(state)), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(state))
}

func (w *Worker) jobExists(ctx context.Context, jobID string) bool {
	_, err := w.queue.Get(ctx, jobID)
	return !errors.Is(err, ingest.ErrJobNotFound)
}

func (w *Worker) emit(
	job ingest.CrawlJob,
	phase progress.Phase,
	pct, pagesProcessed, totalPages int,
	currentURL, errText string,
) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(progress.Event{
		JobID:          job.ID,
		SourceID:       job.SourceID,
		ProjectID:      job.ProjectID,
		Phase:          phase,
		Progress:       pct,
		PagesProcessed: pagesProcessed,
		TotalPages:     totalPages,
		CurrentURL:     currentURL,
		Error:          errText,
		Timestamp:      w.clock.Now(),
	})
}

// crawlProgress maps pages processed onto 0-90; the final persist step owns
// the 90-100 band.
func crawlProgress(pages, maxPages int) int {
	if maxPages <= 0 {
		return 0
	}
	pct := pages * 90 / maxPages
	if pct > 90 {
		pct = 90
	}
	return pct
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ingest.ErrRateLimited) {
		return true
	}
	return strings.Contains(err.Error(), "429")
}

func humanizeError(err error) string {
	switch {
	case errors.Is(err, ingest.ErrValidationRejected):
		return "The website URL was rejected as unsafe. Check the address and try again."
	case errors.Is(err, ingest.ErrRateLimited):
		return "The website rate limited the crawler. Try again later."
	case err != nil:
		return err.Error()
	default:
		return "unknown error"
	}
}
