package ingest

import (
	"context"
	"time"
)

// SourceStore persists Source records. The pipeline assumes last-writer-wins
// semantics with no optimistic locking, except where UpdateSourceIf is used.
type SourceStore interface {
	CreateSource(ctx context.Context, src Source) error
	GetSource(ctx context.Context, id string) (Source, error)
	UpdateSource(ctx context.Context, id string, upd SourceUpdate) error
	// UpdateSourceIf applies upd only if the source's current status is one of
	// expect. It returns false without error when the predicate no longer
	// holds, which lets the reconciler avoid racing an active worker.
	UpdateSourceIf(ctx context.Context, id string, expect []SourceStatus, upd SourceUpdate) (bool, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]Source, error)
}

// Fetcher retrieves a single page. Implementations must run the URL safety
// checks before any network contact and enforce their configured timeouts.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers for jobs and links.
type IDGenerator interface {
	NewID() (string, error)
}
