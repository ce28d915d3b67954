package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rradofina/alonchat-ingest/internal/clock/system"
	"github.com/rradofina/alonchat-ingest/internal/id/uuid"
	"github.com/rradofina/alonchat-ingest/internal/ingest"
	"github.com/rradofina/alonchat-ingest/internal/queue"
)

func newTestQueue(capacity int) *Queue {
	return New(capacity, uuid.NewGenerator(), system.New())
}

func enqueue(t *testing.T, q *Queue, sourceID string) ingest.CrawlJob {
	t.Helper()
	job, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		SourceID:  sourceID,
		ProjectID: "p1",
		TargetURL: "https://example.com",
	})
	require.NoError(t, err)
	return job
}

func TestEnqueueDequeue(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)

	job := enqueue(t, q, "s1")
	require.Equal(t, ingest.JobStateWaiting, job.State)
	require.NotEmpty(t, job.ID)
	require.False(t, job.CreatedAt.IsZero())

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, ingest.JobStateActive, got.State)
}

func TestEnqueue_RejectsDuplicateLiveSource(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	first := enqueue(t, q, "s1")

	// Duplicate while waiting.
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s1", TargetURL: "https://example.com"})
	require.ErrorIs(t, err, ingest.ErrDuplicateJob)

	// Duplicate while active.
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s1", TargetURL: "https://example.com"})
	require.ErrorIs(t, err, ingest.ErrDuplicateJob)

	// Duplicate while delayed.
	require.NoError(t, q.Delay(ctx, first.ID, time.Minute))
	_, err = q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s1", TargetURL: "https://example.com"})
	require.ErrorIs(t, err, ingest.ErrDuplicateJob)

	// Terminal state frees the slot.
	require.NoError(t, q.Finish(ctx, first.ID, ingest.JobStateFailed))
	_, err = q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s1", TargetURL: "https://example.com"})
	require.NoError(t, err)
}

func TestEnqueue_RejectsMalformedPayload(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)

	_, err := q.Enqueue(context.Background(), queue.EnqueueRequest{SourceID: "", TargetURL: ""})
	require.ErrorIs(t, err, ingest.ErrValidationRejected)
}

func TestEnqueue_QueueAtCapacity(t *testing.T) {
	t.Parallel()
	q := newTestQueue(1)
	ctx := context.Background()

	enqueue(t, q, "s1")
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s2", TargetURL: "https://example.com"})
	require.ErrorIs(t, err, ingest.ErrQueueUnavailable)

	// The rejected job must not hold its source slot.
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s2", TargetURL: "https://example.com"})
	require.NoError(t, err)
}

func TestDequeue_BlocksUntilWork(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeue_SkipsRemovedJobs(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	removed := enqueue(t, q, "s1")
	kept := enqueue(t, q, "s2")
	require.NoError(t, q.Remove(ctx, removed.ID))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, kept.ID, got.ID)
}

func TestDelay_ReturnsToActive(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	job := enqueue(t, q, "s1")
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Delay(ctx, job.ID, 20*time.Millisecond))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.JobStateDelayed, got.State)

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, job.ID)
		return err == nil && got.State == ingest.JobStateActive
	}, time.Second, 5*time.Millisecond)
}

func TestDelay_OnlyActiveJobs(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)

	job := enqueue(t, q, "s1")
	err := q.Delay(context.Background(), job.ID, time.Minute)
	require.Error(t, err)
}

func TestRemove_ActiveJobFreesSlot(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	job := enqueue(t, q, "s1")
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, job.ID))
	_, err = q.Get(ctx, job.ID)
	require.ErrorIs(t, err, ingest.ErrJobNotFound)

	// Slot is free again.
	_, err = q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s1", TargetURL: "https://example.com"})
	require.NoError(t, err)

	// Idempotent.
	require.NoError(t, q.Remove(ctx, job.ID))
}

func TestFinish_MissingJobIsNoOp(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)

	require.NoError(t, q.Finish(context.Background(), "gone", ingest.JobStateCompleted))
}

func TestFinish_RejectsNonTerminalState(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)

	job := enqueue(t, q, "s1")
	require.Error(t, q.Finish(context.Background(), job.ID, ingest.JobStateWaiting))
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	job := enqueue(t, q, "s1")
	require.NoError(t, q.Pause(ctx, job.ID))

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, ingest.JobStatePaused, got.State)

	// Paused job frees the live slot; a new enqueue may take it.
	second, err := q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s1", TargetURL: "https://example.com"})
	require.NoError(t, err)

	// Resume fails while the slot is taken.
	require.ErrorIs(t, q.Resume(ctx, job.ID), ingest.ErrDuplicateJob)

	require.NoError(t, q.Remove(ctx, second.ID))
	require.NoError(t, q.Resume(ctx, job.ID))

	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, dequeued.ID)
}

func TestDrain_KeepsActiveJobs(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	active := enqueue(t, q, "s1")
	enqueue(t, q, "s2")
	enqueue(t, q, "s3")
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	removed, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	jobs, err := q.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, active.ID, jobs[0].ID)
}

func TestForceClear(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	enqueue(t, q, "s1")
	enqueue(t, q, "s2")
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	removed, err := q.ForceClear(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, ingest.QueueCounts{}, counts)
}

func TestCounts(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	a := enqueue(t, q, "s1")
	enqueue(t, q, "s2")
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Finish(ctx, a.ID, ingest.JobStateCompleted))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Waiting)
	require.Equal(t, 1, counts.Completed)
	require.Equal(t, 0, counts.Active)
}

func TestCompletedJobHasFullProgress(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	job := enqueue(t, q, "s1")
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.UpdateProgress(ctx, job.ID, 40))
	require.NoError(t, q.Finish(ctx, job.ID, ingest.JobStateCompleted))

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 100, got.Progress)
}

func TestClose_EverythingUnavailable(t *testing.T) {
	t.Parallel()
	q := newTestQueue(8)
	ctx := context.Background()

	enqueue(t, q, "s1")
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Enqueue(ctx, queue.EnqueueRequest{SourceID: "s9", TargetURL: "https://example.com"})
	require.ErrorIs(t, err, ingest.ErrQueueUnavailable)
	_, err = q.Counts(ctx)
	require.ErrorIs(t, err, ingest.ErrQueueUnavailable)
	_, err = q.ListJobs(ctx)
	require.ErrorIs(t, err, ingest.ErrQueueUnavailable)
	_, err = q.Get(ctx, "any")
	require.ErrorIs(t, err, ingest.ErrQueueUnavailable)
}
