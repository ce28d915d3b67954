// Package memory provides the in-process queue implementation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/queue"
)

const defaultCapacity = 256

// Queue is a bounded in-memory job queue. Waiting job IDs flow through a
// channel so Dequeue can block on ctx; all job state lives behind the mutex.
type Queue struct {
	idGen ingest.IDGenerator
	clock ingest.Clock

	ch chan string

	mu           sync.Mutex
	jobs         map[string]*ingest.CrawlJob
	liveBySource map[string]string
	delayTimers  map[string]*time.Timer
	closed       bool
}

// New constructs a Queue with the provided capacity. capacity <= 0 selects
// the default.
func New(capacity int, idGen ingest.IDGenerator, clock ingest.Clock) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		idGen:        idGen,
		clock:        clock,
		ch:           make(chan string, capacity),
		jobs:         make(map[string]*ingest.CrawlJob),
		liveBySource: make(map[string]string),
		delayTimers:  make(map[string]*time.Timer),
	}
}

// Enqueue admits a job in the waiting state, rejecting duplicates for a
// source that already holds a live slot.
func (q *Queue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (ingest.CrawlJob, error) {
	if req.SourceID == "" || req.TargetURL == "" {
		return ingest.CrawlJob{}, fmt.Errorf("%w: source id and target url are required", ingest.ErrValidationRejected)
	}

	id, err := q.idGen.NewID()
	if err != nil {
		return ingest.CrawlJob{}, fmt.Errorf("generate job id: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ingest.CrawlJob{}, ingest.ErrQueueUnavailable
	}
	if liveID, taken := q.liveBySource[req.SourceID]; taken {
		q.mu.Unlock()
		return ingest.CrawlJob{}, fmt.Errorf("%w: job %s", ingest.ErrDuplicateJob, liveID)
	}
	job := &ingest.CrawlJob{
		ID:        id,
		SourceID:  req.SourceID,
		ProjectID: req.ProjectID,
		TargetURL: req.TargetURL,
		State:     ingest.JobStateWaiting,
		CreatedAt: q.clock.Now(),
	}
	q.jobs[id] = job
	q.liveBySource[req.SourceID] = id
	q.mu.Unlock()

	select {
	case q.ch <- id:
		return *job, nil
	case <-ctx.Done():
		q.discard(id)
		return ingest.CrawlJob{}, fmt.Errorf("enqueue canceled: %w", ctx.Err())
	default:
		// Channel full: the broker cannot accept more work right now.
		q.discard(id)
		return ingest.CrawlJob{}, fmt.Errorf("%w: queue at capacity", ingest.ErrQueueUnavailable)
	}
}

func (q *Queue) discard(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		delete(q.jobs, jobID)
		q.releaseSlotLocked(job)
	}
}

// Dequeue blocks until a waiting job is available and marks it active.
// IDs whose jobs were removed or paused while waiting are skipped.
func (q *Queue) Dequeue(ctx context.Context) (ingest.CrawlJob, error) {
	for {
		var id string
		select {
		case <-ctx.Done():
			return ingest.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case id = <-q.ch:
		}

		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ingest.CrawlJob{}, ingest.ErrQueueUnavailable
		}
		job, ok := q.jobs[id]
		if !ok || job.State != ingest.JobStateWaiting {
			q.mu.Unlock()
			continue
		}
		job.State = ingest.JobStateActive
		snapshot := *job
		q.mu.Unlock()
		return snapshot, nil
	}
}

// Get returns a snapshot of the job, or ingest.ErrJobNotFound.
func (q *Queue) Get(_ context.Context, jobID string) (ingest.CrawlJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.CrawlJob{}, ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ingest.CrawlJob{}, ingest.ErrJobNotFound
	}
	return *job, nil
}

// ListJobs returns jobs in the given states; no states means all jobs.
func (q *Queue) ListJobs(_ context.Context, states ...ingest.JobState) ([]ingest.CrawlJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ingest.ErrQueueUnavailable
	}
	wanted := make(map[ingest.JobState]struct{}, len(states))
	for _, s := range states {
		wanted[s] = struct{}{}
	}
	var out []ingest.CrawlJob
	for _, job := range q.jobs {
		if len(wanted) > 0 {
			if _, ok := wanted[job.State]; !ok {
				continue
			}
		}
		out = append(out, *job)
	}
	return out, nil
}

// UpdateProgress records progress for an in-flight job. Updating a removed
// job returns ingest.ErrJobNotFound so workers can treat it as cancellation.
func (q *Queue) UpdateProgress(_ context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ingest.ErrJobNotFound
	}
	job.Progress = progress
	return nil
}

// Delay parks an active job for d, then returns it to active. The owning
// worker keeps the job for the duration; nothing re-enters the channel.
func (q *Queue) Delay(_ context.Context, jobID string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ingest.ErrJobNotFound
	}
	if job.State != ingest.JobStateActive {
		return fmt.Errorf("job %s is %s, only active jobs can be delayed", jobID, job.State)
	}
	job.State = ingest.JobStateDelayed
	q.delayTimers[jobID] = time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.delayTimers, jobID)
		if j, ok := q.jobs[jobID]; ok && j.State == ingest.JobStateDelayed {
			j.State = ingest.JobStateActive
		}
	})
	return nil
}

// Finish moves a job to a terminal state and frees its source slot. A job
// already removed is a no-op: a worker that missed a cancellation must be
// able to complete without error.
func (q *Queue) Finish(_ context.Context, jobID string, state ingest.JobState) error {
	if !state.IsTerminal() {
		return fmt.Errorf("state %s is not terminal", state)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	q.stopDelayTimerLocked(jobID)
	job.State = state
	if state == ingest.JobStateCompleted {
		job.Progress = 100
	}
	q.releaseSlotLocked(job)
	return nil
}

// Pause holds a waiting job. Active and delayed jobs cannot be paused; their
// worker owns them.
func (q *Queue) Pause(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ingest.ErrJobNotFound
	}
	if job.State != ingest.JobStateWaiting {
		return fmt.Errorf("job %s is %s, only waiting jobs can be paused", jobID, job.State)
	}
	job.State = ingest.JobStatePaused
	q.releaseSlotLocked(job)
	return nil
}

// Resume returns a paused job to waiting, reclaiming its source slot.
func (q *Queue) Resume(_ context.Context, jobID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ingest.ErrJobNotFound
	}
	if job.State != ingest.JobStatePaused {
		q.mu.Unlock()
		return fmt.Errorf("job %s is %s, only paused jobs can be resumed", jobID, job.State)
	}
	if liveID, taken := q.liveBySource[job.SourceID]; taken {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s", ingest.ErrDuplicateJob, liveID)
	}
	job.State = ingest.JobStateWaiting
	q.liveBySource[job.SourceID] = jobID
	q.mu.Unlock()

	select {
	case q.ch <- jobID:
		return nil
	default:
		q.mu.Lock()
		job.State = ingest.JobStatePaused
		q.releaseSlotLocked(job)
		q.mu.Unlock()
		return fmt.Errorf("%w: queue at capacity", ingest.ErrQueueUnavailable)
	}
}

// Remove deletes a job. Idempotent. An active job is forced to failed first
// so no source slot dangles; its worker observes the removal at the next
// phase boundary.
func (q *Queue) Remove(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.ErrQueueUnavailable
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	q.stopDelayTimerLocked(jobID)
	if job.State == ingest.JobStateActive || job.State == ingest.JobStateDelayed {
		job.State = ingest.JobStateFailed
	}
	q.releaseSlotLocked(job)
	delete(q.jobs, jobID)
	return nil
}

// Drain removes all non-active jobs.
func (q *Queue) Drain(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ingest.ErrQueueUnavailable
	}
	removed := 0
	for id, job := range q.jobs {
		if job.State == ingest.JobStateActive {
			continue
		}
		q.stopDelayTimerLocked(id)
		q.releaseSlotLocked(job)
		delete(q.jobs, id)
		removed++
	}
	return removed, nil
}

// ForceClear removes every job regardless of state.
func (q *Queue) ForceClear(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ingest.ErrQueueUnavailable
	}
	removed := len(q.jobs)
	for id := range q.delayTimers {
		q.stopDelayTimerLocked(id)
	}
	q.jobs = make(map[string]*ingest.CrawlJob)
	q.liveBySource = make(map[string]string)
	return removed, nil
}

// Counts summarizes queue membership by state.
func (q *Queue) Counts(_ context.Context) (ingest.QueueCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ingest.QueueCounts{}, ingest.ErrQueueUnavailable
	}
	var c ingest.QueueCounts
	for _, job := range q.jobs {
		switch job.State {
		case ingest.JobStateWaiting:
			c.Waiting++
		case ingest.JobStateActive:
			c.Active++
		case ingest.JobStateDelayed:
			c.Delayed++
		case ingest.JobStateCompleted:
			c.Completed++
		case ingest.JobStateFailed:
			c.Failed++
		case ingest.JobStatePaused:
			c.Paused++
		}
	}
	return c, nil
}

// Close marks the queue unavailable. Safe to call multiple times.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for id := range q.delayTimers {
		q.stopDelayTimerLocked(id)
	}
	return nil
}

func (q *Queue) releaseSlotLocked(job *ingest.CrawlJob) {
	if q.liveBySource[job.SourceID] == job.ID {
		delete(q.liveBySource, job.SourceID)
	}
}

func (q *Queue) stopDelayTimerLocked(jobID string) {
	if timer, ok := q.delayTimers[jobID]; ok {
		timer.Stop()
		delete(q.delayTimers, jobID)
	}
}
