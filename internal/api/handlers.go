package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/metrics"
	"github.com/rradofina/alonchat-ingest/internal/queue"
	"github.com/rradofina/alonchat-ingest/internal/urlsafe"
)

type crawlRequest struct {
	URL       string `json:"url"`
	ProjectID string `json:"project_id"`
}

type jobSummary struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	ProjectID string    `json:"project_id"`
	State     string    `json:"state"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

func toJobSummary(job ingest.CrawlJob) jobSummary {
	return jobSummary{
		ID:        job.ID,
		SourceID:  job.SourceID,
		ProjectID: job.ProjectID,
		State:     string(job.State),
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt,
	}
}

// enqueueCrawl admits a crawl job for a source. The URL passes normalization
// and the SSRF check before anything touches the queue; the rate limiter
// gates per project.
func (s *Server) enqueueCrawl(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	src, err := s.store.GetSource(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, ingest.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.logger.Error("get source failed", zap.String("source_id", sourceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}

	target := req.URL
	if target == "" {
		target = src.WebsiteURL
	}
	normalized, err := urlsafe.Validate(target)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "url rejected: "+err.Error())
		return
	}
	if s.checker != nil && !s.checker.IsSafe(normalized) {
		writeError(w, http.StatusUnprocessableEntity, "url rejected: unsafe target")
		return
	}

	if s.cfg.RateLimit.Enabled && s.limiter != nil {
		decision := s.limiter.Check(req.ProjectID, s.cfg.RateLimit.Limit, s.cfg.RateLimitWindow())
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))
		if !decision.Allowed {
			metrics.ObserveRateLimitDenial()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
	}

	job, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		SourceID:  sourceID,
		ProjectID: req.ProjectID,
		TargetURL: normalized,
	})
	switch {
	case errors.Is(err, ingest.ErrDuplicateJob):
		writeError(w, http.StatusConflict, "source already has a live crawl job")
		return
	case errors.Is(err, ingest.ErrQueueUnavailable):
		// The caller may fall back to a synchronous path or retry.
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable, retry later")
		return
	case errors.Is(err, ingest.ErrValidationRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("enqueue failed", zap.String("source_id", sourceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue crawl")
		return
	}

	queued := ingest.SourceStatusQueued
	if err := s.store.UpdateSource(r.Context(), sourceID, ingest.SourceUpdate{Status: &queued}); err != nil {
		s.logger.Warn("mark source queued failed", zap.String("source_id", sourceID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// queueStatus reports per-state counts plus job summaries.
// verifySourceLinks re-probes a source's extracted links for liveness and
// persists the refreshed verification state. Links checked within the
// freshness window are left untouched.
func (s *Server) verifySourceLinks(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	src, err := s.store.GetSource(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, ingest.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.logger.Error("load source failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}

	verified := s.verifier.BatchVerify(r.Context(), src.Links)
	if len(verified) > 0 {
		if err := s.store.UpdateSource(r.Context(), sourceID, ingest.SourceUpdate{Links: verified}); err != nil {
			s.logger.Error("persist verified links failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist links")
			return
		}
	}

	alive := 0
	for _, link := range verified {
		if link.Verified {
			alive++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": len(verified), "verified": alive})
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		s.queueError(w, err, "failed to read queue counts")
		return
	}
	jobs, err := s.queue.ListJobs(r.Context())
	if err != nil {
		s.queueError(w, err, "failed to list jobs")
		return
	}
	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, toJobSummary(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": counts,
		"jobs":   summaries,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, ingest.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.queueError(w, err, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobSummary(job)})
}

// removeJob deletes a job. Removal is idempotent: deleting an unknown job
// still returns 200 with removed=false semantics folded into the queue.
func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.queue.Remove(r.Context(), jobID); err != nil {
		s.queueError(w, err, "failed to remove job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "removed"})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.queue.Pause(r.Context(), jobID)
	switch {
	case errors.Is(err, ingest.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.queueError(w, err, "failed to pause job")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "state": string(ingest.JobStatePaused)})
	}
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.queue.Resume(r.Context(), jobID)
	switch {
	case errors.Is(err, ingest.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ingest.ErrDuplicateJob):
		writeError(w, http.StatusConflict, "source already has a live crawl job")
	case err != nil:
		s.queueError(w, err, "failed to resume job")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "state": string(ingest.JobStateWaiting)})
	}
}

// reconcileOrphans runs an orphan sweep. With ?dry_run=true the pass only
// reports.
func (s *Server) reconcileOrphans(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	result, err := s.reconciler.Reconcile(r.Context(), dryRun)
	if err != nil {
		s.queueError(w, err, "reconcile failed")
		return
	}
	orphanIDs := make([]string, 0, len(result.Orphaned))
	for _, src := range result.Orphaned {
		orphanIDs = append(orphanIDs, src.ID)
	}
	activeIDs := make([]string, 0, len(result.ActiveInQueue))
	for id := range result.ActiveInQueue {
		activeIDs = append(activeIDs, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dry_run":         dryRun,
		"orphaned":        orphanIDs,
		"active_in_queue": activeIDs,
	})
}

func (s *Server) drainQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.Drain(r.Context())
	if err != nil {
		s.queueError(w, err, "drain failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// purgeQueue removes every job regardless of state. Operational recovery
// only.
func (s *Server) purgeQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.ForceClear(r.Context())
	if err != nil {
		s.queueError(w, err, "purge failed")
		return
	}
	s.logger.Warn("queue force-cleared", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) queueError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, ingest.ErrQueueUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}
