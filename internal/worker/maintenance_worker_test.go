package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famfin/internal/amqp"
	"famfin/internal/services"
)

type fakeMaintainer struct {
	runs     atomic.Int32
	repairs  atomic.Int32
	runErr   error
	loopDone chan struct{}
}

func (f *fakeMaintainer) Run(ctx context.Context, asOf time.Time) (services.MaintenanceReport, error) {
	f.runs.Add(1)
	return services.MaintenanceReport{AsOf: asOf}, f.runErr
}

func (f *fakeMaintainer) RequestRepair() { f.repairs.Add(1) }

func (f *fakeMaintainer) Loop(ctx context.Context, interval time.Duration, now func() time.Time) error {
	<-ctx.Done()
	if f.loopDone != nil {
		close(f.loopDone)
	}
	return ctx.Err()
}

type scriptedEvents struct {
	mu     sync.Mutex
	calls  int
	events []*amqp.LedgerEvent
}

// ConsumeLedgerEvents delivers the scripted events on the first call and
// then reports a broken stream; later calls block until ctx ends.
func (s *scriptedEvents) ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		for _, ev := range s.events {
			if err := handler(ctx, ev); err != nil {
				return err
			}
		}
		return errors.New("message channel closed")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *scriptedEvents) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestHandleLedgerEventRequestsRepair(t *testing.T) {
	m := &fakeMaintainer{}
	w := NewMaintenanceWorker(m, nil, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, w.HandleLedgerEvent(ctx, &amqp.LedgerEvent{Kind: amqp.EventImportCompleted}))
	require.NoError(t, w.HandleLedgerEvent(ctx, &amqp.LedgerEvent{Kind: amqp.EventCategoryDeleted, EntityID: "c1"}))
	require.NoError(t, w.HandleLedgerEvent(ctx, amqp.NewLedgerEvent("transaction", "save", "t1", "2024-01")))

	assert.Equal(t, int32(2), m.repairs.Load())
}

func TestStartupPassLogsFailure(t *testing.T) {
	m := &fakeMaintainer{runErr: errors.New("disk full")}
	w := NewMaintenanceWorker(m, nil, time.Hour, nil)

	w.StartupPass(context.Background())

	assert.Equal(t, int32(1), m.runs.Load())
}

func TestRunResubscribesAndStopsCleanly(t *testing.T) {
	m := &fakeMaintainer{loopDone: make(chan struct{})}
	events := &scriptedEvents{events: []*amqp.LedgerEvent{{Kind: amqp.EventImportCompleted}}}
	w := NewMaintenanceWorker(m, events, time.Hour, nil)
	w.resubscribeDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return events.Calls() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	<-m.loopDone
	assert.Equal(t, int32(1), m.repairs.Load())
}

func TestRunWithoutEvents(t *testing.T) {
	m := &fakeMaintainer{}
	w := NewMaintenanceWorker(m, nil, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, w.Run(ctx))
}
