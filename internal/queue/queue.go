// Package queue defines the durable job queue interface for crawl requests.
// The interface is the single point of mutual exclusion for the pipeline:
// the one-live-job-per-source invariant is enforced at enqueue time, and
// every method surfaces broker connectivity loss as
// ingest.ErrQueueUnavailable so callers degrade uniformly.
package queue

import (
	"context"
	"time"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// EnqueueRequest is the typed payload accepted by Enqueue. Malformed
// payloads are rejected before they enter the queue.
type EnqueueRequest struct {
	SourceID  string
	ProjectID string
	TargetURL string
}

// Queue holds one job per crawl request across its lifecycle.
//
// State machine per job: waiting -> active -> {completed | failed}, with
// active -> delayed -> active permitted for rate-limited retries, and
// waiting <-> paused for operator holds.
type Queue interface {
	// Enqueue admits a new job in the waiting state. It fails with
	// ingest.ErrDuplicateJob when the source already has a job in a live
	// state, and ingest.ErrQueueUnavailable when the broker is unreachable.
	Enqueue(ctx context.Context, req EnqueueRequest) (ingest.CrawlJob, error)

	// Dequeue blocks until a waiting job is available, marks it active, and
	// hands it to exactly one worker.
	Dequeue(ctx context.Context) (ingest.CrawlJob, error)

	// Get returns the job's current snapshot. Workers use this as the
	// job-existence check at phase boundaries for cooperative cancellation.
	Get(ctx context.Context, jobID string) (ingest.CrawlJob, error)

	// ListJobs returns jobs in the given states; no states means all jobs.
	ListJobs(ctx context.Context, states ...ingest.JobState) ([]ingest.CrawlJob, error)

	// UpdateProgress records 0-100 progress for an in-flight job.
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// Delay parks an active job for d while its worker backs off, then
	// returns it to active. Used for rate-limited retries.
	Delay(ctx context.Context, jobID string, d time.Duration) error

	// Finish moves a job to a terminal state and frees its source slot.
	// Finishing an already-removed job is a no-op, not an error.
	Finish(ctx context.Context, jobID string, state ingest.JobState) error

	// Pause holds a waiting job; Resume returns it to waiting.
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error

	// Remove deletes a job. Idempotent. An active job is first forced to
	// failed so no dangling source slot survives the removal.
	Remove(ctx context.Context, jobID string) error

	// Drain removes all non-active jobs and reports how many were removed.
	Drain(ctx context.Context) (int, error)

	// ForceClear removes every job regardless of state. Operational
	// recovery only; never part of the normal request flow.
	ForceClear(ctx context.Context) (int, error)

	// Counts summarizes queue membership by state.
	Counts(ctx context.Context) (ingest.QueueCounts, error)

	// Close releases broker resources. Subsequent calls on any method
	// return ingest.ErrQueueUnavailable.
	Close() error
}
