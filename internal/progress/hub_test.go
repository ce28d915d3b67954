package progress

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rradofina/alonchat-ingest/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func droppedCounterValue(t *testing.T) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "ingest_events_dropped_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func event(jobID, sourceID, projectID string, phase Phase, progress int) Event {
	return Event{
		JobID:     jobID,
		SourceID:  sourceID,
		ProjectID: projectID,
		Phase:     phase,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

func TestHub_FanOutByProject(t *testing.T) {
	t.Parallel()

	h := NewHub(8, nil)
	defer h.Close()

	p1 := h.Subscribe(Filter{ProjectID: "p1"})
	p2 := h.Subscribe(Filter{ProjectID: "p2"})
	all := h.Subscribe(Filter{})

	h.Publish(event("j1", "s1", "p1", PhaseFetching, 10))

	select {
	case got := <-p1.C():
		require.Equal(t, "j1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("p1 subscriber did not receive event")
	}
	select {
	case got := <-all.C():
		require.Equal(t, "j1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber did not receive event")
	}
	select {
	case evt := <-p2.C():
		t.Fatalf("p2 should not receive events for p1, got %+v", evt)
	default:
	}
}

func TestHub_EmissionOrderPerJob(t *testing.T) {
	t.Parallel()

	h := NewHub(16, nil)
	defer h.Close()
	sub := h.Subscribe(Filter{SourceID: "s1"})

	for i := 1; i <= 5; i++ {
		h.Publish(event("j1", "s1", "p1", PhaseProcessing, i*10))
	}

	var got []int
	for i := 0; i < 5; i++ {
		select {
		case evt := <-sub.C():
			got = append(got, evt.Progress)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	require.Equal(t, []int{10, 20, 30, 40, 50}, got)
}

func TestHub_SlowSubscriberDropsNotBlocks(t *testing.T) {
	before := droppedCounterValue(t)

	h := NewHub(2, nil)
	defer h.Close()
	sub := h.Subscribe(Filter{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Publish(event("j1", "s1", "p1", PhaseFetching, 1))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// Only the buffered events survive, and the drops are counted.
	received := 0
	for {
		select {
		case <-sub.C():
			received++
		default:
			require.Equal(t, 2, received)
			require.GreaterOrEqual(t, droppedCounterValue(t)-before, float64(8))
			return
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub(4, nil)
	defer h.Close()
	sub := h.Subscribe(Filter{})
	h.Unsubscribe(sub)

	_, open := <-sub.C()
	require.False(t, open)

	// Double unsubscribe is a no-op.
	h.Unsubscribe(sub)
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	h := NewHub(4, nil)
	defer h.Close()
	sub := h.Subscribe(Filter{})

	h.Publish(Event{JobID: "j1"}) // missing source, phase, timestamp

	select {
	case evt := <-sub.C():
		t.Fatalf("invalid event should be discarded, got %+v", evt)
	default:
	}
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(4, nil)
	sub := h.Subscribe(Filter{})
	h.Close()

	_, open := <-sub.C()
	require.False(t, open)

	// Publishing after close must not panic.
	h.Publish(event("j1", "s1", "p1", PhaseCompleted, 100))
}
