package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

// MaintenanceReport describes one maintenance pass.
type MaintenanceReport struct {
	AsOf       time.Time        `json:"as_of"`
	Recurrence RecurrenceReport `json:"recurrence"`
	Repair     RepairReport     `json:"repair"`
	Duration   time.Duration    `json:"duration"`
}

// Maintenance is the explicit lifecycle pass: recurrence first, then the
// integrity guard, then an audit entry summarizing both. Passes never
// overlap, and re-running a pass after a partial failure converges.
type Maintenance struct {
	ledger    *ledger.Ledger
	recurring *RecurringProcessor
	guard     *IntegrityGuard

	mu       sync.Mutex
	requests chan struct{}
}

func NewMaintenance(l *ledger.Ledger, recurring *RecurringProcessor, guard *IntegrityGuard) *Maintenance {
	return &Maintenance{
		ledger:    l,
		recurring: recurring,
		guard:     guard,
		requests:  make(chan struct{}, 1),
	}
}

// Run performs one pass as of asOf.
func (m *Maintenance) Run(ctx context.Context, asOf time.Time) (MaintenanceReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	report := MaintenanceReport{AsOf: asOf}

	var errs []error
	rec, err := m.recurring.ProcessRecurringTransactions(ctx, asOf)
	report.Recurrence = rec
	if err != nil {
		errs = append(errs, fmt.Errorf("recurrence: %w", err))
	}

	rep, err := m.guard.Repair(ctx)
	report.Repair = rep
	if err != nil {
		errs = append(errs, fmt.Errorf("integrity guard: %w", err))
	}
	report.Duration = time.Since(start)

	detail := fmt.Sprintf("as of %s: %d created, %d expired, %d need review, %d failed; %d duplicates, %d orphans, %d categories reparented",
		core.CivilDate(asOf), rec.Created, rec.Expired, rec.NeedsReview, rec.Failed,
		rep.DuplicatesRemoved, rep.OrphansRemoved, rep.CategoriesReparented)
	_, err = m.ledger.Update(ctx, func(tx ledger.Tx) error {
		return tx.AppendAudit(ctx, core.AuditEntry{
			ID:     core.NewID(),
			At:     time.Now().UTC(),
			Kind:   AuditMaintenancePass,
			Detail: detail,
		})
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	slog.InfoContext(ctx, "Maintenance pass complete",
		"as_of", core.CivilDate(asOf),
		"created", rec.Created,
		"repairs", rep.Total(),
		"duration_ms", report.Duration.Milliseconds())

	return report, errors.Join(errs...)
}

// Repair runs only the integrity guard, serialized with full passes.
func (m *Maintenance) Repair(ctx context.Context) (RepairReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard.Repair(ctx)
}

// RequestRepair asks the loop for an extra pass. It never blocks; requests
// made while one is pending are merged.
func (m *Maintenance) RequestRepair() {
	select {
	case m.requests <- struct{}{}:
	default:
	}
}

// Loop runs a pass every interval and whenever a repair is requested, until
// ctx ends. Failed passes are logged and retried on the next trigger.
func (m *Maintenance) Loop(ctx context.Context, interval time.Duration, now func() time.Time) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.requests:
			slog.InfoContext(ctx, "Repair requested, running maintenance pass")
		}
		if _, err := m.Run(ctx, now()); err != nil {
			slog.ErrorContext(ctx, "Maintenance pass failed", "error", err)
		}
	}
}

// RepairOnRequest runs the integrity guard whenever a repair is requested,
// until ctx ends. It serves processes that leave scheduled passes to a
// separate worker.
func (m *Maintenance) RepairOnRequest(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.requests:
		}
		if _, err := m.Repair(ctx); err != nil {
			slog.ErrorContext(ctx, "Requested repair failed", "error", err)
		}
	}
}
