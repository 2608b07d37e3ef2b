package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"famfin/internal/amqp"
	"famfin/internal/ledger"
)

// DefaultEventQueueSize bounds the events waiting for the publisher.
const DefaultEventQueueSize = 1024

// publishTimeout bounds one delivery attempt from the queue.
const publishTimeout = 30 * time.Second

// EventPublisher receives committed ledger changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// EventQueue hands ledger events to a publisher on its own goroutine, so a
// slow or unreachable broker never holds up a commit. When the queue is
// full new events are dropped and logged.
type EventQueue struct {
	pub    EventPublisher
	events chan *amqp.LedgerEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	enqueued atomic.Int64
	dropped  atomic.Int64
}

// NewEventQueue starts a queue of the given capacity in front of pub.
func NewEventQueue(pub EventPublisher, size int) *EventQueue {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	q := &EventQueue{
		pub:    pub,
		events: make(chan *amqp.LedgerEvent, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *EventQueue) run() {
	defer close(q.done)
	for ev := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := q.pub.PublishLedgerEvent(ctx, ev); err != nil {
			slog.Error("Failed to publish ledger event",
				"kind", ev.Kind,
				"entity_id", ev.EntityID,
				"error", err)
		}
		cancel()
	}
}

// Enqueue offers ev to the publisher without blocking. It reports false
// when the event was dropped.
func (q *EventQueue) Enqueue(ev *amqp.LedgerEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.events <- ev:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		slog.Warn("Ledger event queue full, dropping event",
			"kind", ev.Kind,
			"entity_id", ev.EntityID)
		return false
	}
}

// Enqueued counts events accepted since start.
func (q *EventQueue) Enqueued() int64 { return q.enqueued.Load() }

// Dropped counts events refused because the queue was full or closed.
func (q *EventQueue) Dropped() int64 { return q.dropped.Load() }

// Close stops accepting events and waits until the queued ones were
// handed to the publisher. It is safe to call more than once.
func (q *EventQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()
	<-q.done
}

// PublishChanges returns a commit hook that queues one event per change.
// Publication is best-effort: the mutation is already committed.
func PublishChanges(q *EventQueue) ledger.CommitHook {
	return func(ctx context.Context, cs ledger.ChangeSet) {
		for _, ch := range cs.Changes {
			month := ""
			if !ch.Month.IsZero() {
				month = ch.Month.String()
			}
			q.Enqueue(amqp.NewLedgerEvent(ch.Entity, ch.Op, ch.ID.String(), month))
		}
	}
}
