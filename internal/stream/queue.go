package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hexlattice/cadence/internal/observe"
	"github.com/hexlattice/cadence/internal/turn"
)

// handoffQueue is the bounded queue between the capture loop and the
// transcription worker. When full, pushing evicts the oldest waiting turn so
// capture never stalls on downstream latency.
//
// One producer (the capture loop) and one consumer (the worker); Push never
// blocks.
type handoffQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*turn.Turn
	cap     int
	closed  bool
	metrics *observe.Metrics
}

func newHandoffQueue(capacity int, metrics *observe.Metrics) *handoffQueue {
	if capacity <= 0 {
		capacity = 8
	}
	q := &handoffQueue{cap: capacity, metrics: metrics}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues t, evicting the oldest waiting turn first when the queue is
// full. Pushing to a closed queue drops t.
func (q *handoffQueue) Push(ctx context.Context, t *turn.Turn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.cap {
		dropped := q.items[0]
		q.items = q.items[1:]
		slog.Warn("hand-off queue full, dropping oldest turn",
			"dropped_turn_id", dropped.ID,
			"queue_capacity", q.cap,
		)
		q.metrics.RecordTurnDropped(ctx, "queue_full")
		q.metrics.QueueDepth.Add(ctx, -1)
	}
	q.items = append(q.items, t)
	q.metrics.QueueDepth.Add(ctx, 1)
	q.cond.Signal()
}

// Pop blocks until a turn is available or the queue is closed and drained,
// in which case ok is false.
func (q *handoffQueue) Pop(ctx context.Context) (t *turn.Turn, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	t = q.items[0]
	q.items = q.items[1:]
	q.metrics.QueueDepth.Add(ctx, -1)
	return t, true
}

// Close stops accepting new turns. Waiting Pops drain the remainder, then
// return ok=false.
func (q *handoffQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of waiting turns.
func (q *handoffQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
