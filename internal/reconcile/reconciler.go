// Package reconcile detects sources stranded by queue failures and forces
// them into a recoverable error state.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/metrics"
	"github.com/rradofina/alonchat-ingest/internal/queue"
)

// OrphanMessage is written to a source's metadata when it is orphaned.
const OrphanMessage = "Orphaned from queue failure — please delete and re-add"

// Result reports one reconciliation pass.
type Result struct {
	// Orphaned holds the sources that claimed to be queued or processing but
	// had no live job backing them. In the mutating variant only sources
	// actually transitioned to error are included.
	Orphaned []ingest.Source
	// ActiveInQueue is the set of source IDs with a live job.
	ActiveInQueue map[string]struct{}
}

// Reconciler compares queue membership against source statuses.
type Reconciler struct {
	queue  queue.Queue
	store  ingest.SourceStore
	logger *zap.Logger
}

// New constructs a Reconciler.
func New(q queue.Queue, store ingest.SourceStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{queue: q, store: store, logger: logger}
}

// Reconcile finds sources in {queued, processing} with no job in a live or
// paused state. With dryRun the pass only reports; otherwise orphans are
// forced to error with a remediation message. The write re-checks the
// source's status, so a worker finishing between the two reads wins and the
// source is left alone.
func (r *Reconciler) Reconcile(ctx context.Context, dryRun bool) (Result, error) {
	jobs, err := r.queue.ListJobs(ctx,
		ingest.JobStateWaiting,
		ingest.JobStateActive,
		ingest.JobStateDelayed,
		ingest.JobStatePaused,
	)
	if err != nil {
		return Result{}, fmt.Errorf("list queue jobs: %w", err)
	}
	active := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		active[job.SourceID] = struct{}{}
	}

	inFlight := []ingest.SourceStatus{
		ingest.SourceStatusQueued,
		ingest.SourceStatusProcessing,
	}
	sources, err := r.store.ListSources(ctx, ingest.SourceFilter{Statuses: inFlight})
	if err != nil {
		return Result{}, fmt.Errorf("list in-flight sources: %w", err)
	}

	result := Result{ActiveInQueue: active}
	errStatus := ingest.SourceStatusError
	for _, src := range sources {
		if _, ok := active[src.ID]; ok {
			continue
		}
		if dryRun {
			result.Orphaned = append(result.Orphaned, src)
			continue
		}

		applied, err := r.store.UpdateSourceIf(ctx, src.ID, inFlight, ingest.SourceUpdate{
			Status:   &errStatus,
			Metadata: map[string]string{"error": OrphanMessage},
		})
		if errors.Is(err, ingest.ErrSourceNotFound) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("orphan source %s: %w", src.ID, err)
		}
		if !applied {
			// A worker moved the source out of processing between our two
			// reads. Not an orphan.
			continue
		}
		r.logger.Warn("orphaned source recovered to error state",
			zap.String("source_id", src.ID),
			zap.String("prior_status", string(src.Status)),
		)
		result.Orphaned = append(result.Orphaned, src)
	}

	if !dryRun {
		metrics.ObserveOrphanedSources(len(result.Orphaned))
	}
	return result, nil
}
