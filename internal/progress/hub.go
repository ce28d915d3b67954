package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/metrics"
)

const (
	defaultSubscriberBuffer = 64
	dropLogInterval         = 5 * time.Second
)

// Bus publishes progress events to interested subscribers. Workers emit
// through this interface so a broker-backed implementation can replace the
// in-process hub in multi-instance deployments.
type Bus interface {
	Publish(evt Event)
}

// Filter selects which events a subscriber receives. Empty fields match
// everything; both set means both must match.
type Filter struct {
	ProjectID string
	SourceID  string
}

func (f Filter) matches(evt Event) bool {
	if f.ProjectID != "" && f.ProjectID != evt.ProjectID {
		return false
	}
	if f.SourceID != "" && f.SourceID != evt.SourceID {
		return false
	}
	return true
}

// Subscriber receives events on a buffered channel. Delivery is best-effort:
// when the buffer is full the event is dropped for that subscriber only.
type Subscriber struct {
	id     uint64
	filter Filter
	ch     chan Event
}

// C returns the subscriber's event channel. It is closed on Unsubscribe and
// on hub shutdown.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Hub is the in-process Bus. Publish never blocks the emitter: per-job
// emission order is preserved per subscriber, but a slow subscriber loses
// events rather than stalling workers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscriber
	nextID  uint64
	closed  bool
	dropped atomic.Int64

	logger      *zap.Logger
	dropLimiter dropLimiter
	buffer      int
}

// NewHub builds a Hub. bufferSize <= 0 selects the default per-subscriber
// buffer.
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:        make(map[uint64]*Subscriber),
		logger:      logger,
		dropLimiter: dropLimiter{interval: dropLogInterval},
		buffer:      bufferSize,
	}
}

// Subscribe registers a subscriber for events matching the filter. A
// subscriber connecting after an emission misses prior events; there is no
// replay buffer.
func (h *Hub) Subscribe(filter Filter) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscriber{
		id:     h.nextID,
		filter: filter,
		ch:     make(chan Event, h.buffer),
	}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// for a subscriber that was already removed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Publish fans the event out to matching subscribers. Invalid events are
// discarded; full subscriber buffers drop the event with a rate-limited
// warning.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !sub.filter.matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
			metrics.ObserveDroppedEvent()
			if h.dropLimiter.Allow(time.Now()) {
				count := h.dropped.Swap(0)
				h.logger.Warn("progress events dropped due to slow subscriber",
					zap.Int64("dropped", count))
			}
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

type dropLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *dropLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
