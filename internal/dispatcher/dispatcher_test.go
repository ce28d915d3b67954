package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rradofina/alonchat-ingest/internal/clock/system"
	"github.com/rradofina/alonchat-ingest/internal/id/uuid"
	"github.com/rradofina/alonchat-ingest/internal/metrics"
	queuemem "github.com/rradofina/alonchat-ingest/internal/queue/memory"
	"github.com/rradofina/alonchat-ingest/internal/worker"
)

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	metrics.Init()

	q := queuemem.New(4, uuid.NewGenerator(), system.New())
	defer func() { _ = q.Close() }()

	workers := make([]*worker.Worker, 3)
	for i := range workers {
		workers[i] = worker.New(q, nil, nil, nil, nil, system.New(), worker.Config{}, zap.NewNop())
	}
	d := New(workers, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// Workers block on an empty queue; cancellation must unwind all of them.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
