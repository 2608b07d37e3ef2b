package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"famfin/internal/amqp"
	"famfin/internal/log"
	"famfin/internal/services"
)

// Maintainer runs maintenance passes on demand and on a schedule.
type Maintainer interface {
	Run(ctx context.Context, asOf time.Time) (services.MaintenanceReport, error)
	RequestRepair()
	Loop(ctx context.Context, interval time.Duration, now func() time.Time) error
}

// EventSource delivers ledger events until ctx ends. *amqp.Client
// implements it.
type EventSource interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error
}

// MaintenanceWorker runs the maintenance loop and, when an event source is
// configured, asks for an extra repair pass after imports and category
// deletions.
type MaintenanceWorker struct {
	maint    Maintainer
	events   EventSource
	interval time.Duration
	now      func() time.Time
	logger   *log.Logger

	// resubscribeDelay is the pause before consuming again after the event
	// stream broke.
	resubscribeDelay time.Duration
}

// NewMaintenanceWorker creates a worker. events may be nil.
func NewMaintenanceWorker(maint Maintainer, events EventSource, interval time.Duration, logger *log.Logger) *MaintenanceWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MaintenanceWorker{
		maint:            maint,
		events:           events,
		interval:         interval,
		now:              time.Now,
		logger:           logger.WithComponent(log.ComponentWorker),
		resubscribeDelay: 5 * time.Second,
	}
}

// HandleLedgerEvent reacts to one committed ledger change.
func (w *MaintenanceWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	switch ev.Kind {
	case amqp.EventImportCompleted, amqp.EventCategoryDeleted:
		w.logger.InfoContext(ctx, "Requesting repair pass", "kind", ev.Kind, "entity_id", ev.EntityID)
		w.maint.RequestRepair()
	}
	return nil
}

// StartupPass runs one pass before the loop starts, so occurrences missed
// while the worker was down are created immediately.
func (w *MaintenanceWorker) StartupPass(ctx context.Context) {
	report, err := w.maint.Run(ctx, w.now())
	if err != nil {
		w.logger.ErrorContext(ctx, "Startup maintenance pass failed", log.FieldError, err)
		return
	}
	w.logger.InfoContext(ctx, "Startup maintenance pass complete",
		"recurring_created", report.Recurrence.Created,
		"repairs", report.Repair.Total(),
		"duration", report.Duration)
}

// Run blocks until ctx ends.
func (w *MaintenanceWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.maint.Loop(ctx, w.interval, w.now)
	})
	if w.events != nil {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *MaintenanceWorker) consume(ctx context.Context) error {
	for {
		err := w.events.ConsumeLedgerEvents(ctx, w.HandleLedgerEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.WarnContext(ctx, "Ledger event stream stopped, resubscribing",
			log.FieldError, err, "delay", w.resubscribeDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.resubscribeDelay):
		}
	}
}
