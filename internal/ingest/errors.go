package ingest

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Sentinel errors shared across the pipeline. Callers classify with errors.Is.
var (
	// ErrQueueUnavailable means the backing broker cannot be reached. The
	// operation is retryable by the caller; it is never auto-retried here.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrDuplicateJob means the source already has a job in a live state.
	ErrDuplicateJob = errors.New("source already has a live job")

	// ErrJobNotFound means the referenced job is not present in the queue.
	ErrJobNotFound = errors.New("job not found")

	// ErrSourceNotFound means the referenced source does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrValidationRejected means the URL is malformed or unsafe. Terminal;
	// never retried.
	ErrValidationRejected = errors.New("url rejected by validation")

	// ErrRateLimited means the upstream responded with a rate-limit signal.
	// Retryable after backoff; the job passes through the delayed state.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthRejected means an upstream 401/403. Never retried.
	ErrAuthRejected = errors.New("authentication rejected")
)

// IsTransient reports whether err looks like a transient network or
// rate-limit failure worth retrying. Validation and auth failures are
// always terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidationRejected) || errors.Is(err, ErrAuthRejected) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	msg := err.Error()
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Signatures of transient failures as surfaced by net/http and upstreams.
var transientSignatures = []string{
	"connection refused",
	"connection reset",
	"temporary failure",
	"timeout",
	"server returned 429",
	"server returned 502",
	"server returned 503",
	"server returned 504",
	"EOF",
}
