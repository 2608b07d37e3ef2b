package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

// DefaultMaxOccurrences caps how many occurrences one schedule may
// materialize in a single run (about ten years of daily entries).
const DefaultMaxOccurrences = 3660

// RecurrenceReport summarizes one ProcessRecurringTransactions run.
type RecurrenceReport struct {
	Checked     int `json:"checked"`
	Created     int `json:"created"`
	Expired     int `json:"expired"`
	NeedsReview int `json:"needs_review"`
	Failed      int `json:"failed"`
}

// RecurringProcessor materializes due occurrences of recurring transactions.
type RecurringProcessor struct {
	ledger         *ledger.Ledger
	maxOccurrences int
}

// NewRecurringProcessor creates a processor; maxOccurrences <= 0 selects
// DefaultMaxOccurrences.
func NewRecurringProcessor(l *ledger.Ledger, maxOccurrences int) *RecurringProcessor {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &RecurringProcessor{ledger: l, maxOccurrences: maxOccurrences}
}

// plan is the outcome of walking one schedule up to asOf.
type plan struct {
	dates   []time.Time
	next    time.Time
	expired bool
}

// planOccurrences lists every due date of s on or before asOf, without
// touching storage. It fails with ErrComputationBound when the schedule is
// corrupt or would exceed limit occurrences.
func planOccurrences(s core.RecurringTransaction, asOf time.Time, limit int) (plan, error) {
	if s.NextDueDate.IsZero() {
		return plan{}, fmt.Errorf("%w: schedule %s has no next due date", core.ErrComputationBound, s.ID)
	}
	adv, err := GetAdvancer(s.Frequency)
	if err != nil {
		return plan{}, fmt.Errorf("%w: schedule %s: %w", core.ErrComputationBound, s.ID, err)
	}
	interval := s.Interval
	if interval < 1 {
		return plan{}, fmt.Errorf("%w: schedule %s has interval %d", core.ErrComputationBound, s.ID, interval)
	}

	p := plan{next: s.NextDueDate}
	for core.OnOrBeforeDay(p.next, asOf) && !s.PastEnd(p.next) {
		if len(p.dates) == limit {
			return plan{}, fmt.Errorf("%w: schedule %s has more than %d due occurrences", core.ErrComputationBound, s.ID, limit)
		}
		p.dates = append(p.dates, p.next)
		following := adv.Next(p.next, s.AnchorDate, interval)
		if core.OnOrBeforeDay(following, p.next) {
			return plan{}, fmt.Errorf("%w: schedule %s does not advance past %s", core.ErrComputationBound, s.ID, core.CivilDate(p.next))
		}
		p.next = following
	}
	p.expired = s.PastEnd(p.next)
	return p, nil
}

// ProcessRecurringTransactions creates every occurrence due on or before
// asOf. Each schedule commits its new transactions together with its
// advanced NextDueDate, so calling it again with the same asOf creates
// nothing. A schedule that trips the occurrence cap is marked for review and
// the run continues with the others.
func (p *RecurringProcessor) ProcessRecurringTransactions(ctx context.Context, asOf time.Time) (RecurrenceReport, error) {
	var report RecurrenceReport
	if p.ledger == nil {
		return report, fmt.Errorf("processor not properly initialized")
	}

	var ids []uuid.UUID
	err := p.ledger.View(ctx, func(r ledger.Reader) error {
		schedules, err := r.RecurringTransactions(ctx)
		if err != nil {
			return err
		}
		for _, s := range schedules {
			if isActive(s) {
				ids = append(ids, s.ID)
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("list recurring transactions: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring transactions",
		"active", len(ids),
		"as_of", core.CivilDate(asOf))

	var errs []error
	for _, id := range ids {
		report.Checked++
		created, expired, err := p.processOne(ctx, id, asOf)
		switch {
		case errors.Is(err, core.ErrComputationBound):
			report.NeedsReview++
			slog.ErrorContext(ctx, "Recurring schedule needs review", "recurring_id", id, "error", err)
			if markErr := p.markNeedsReview(ctx, id); markErr != nil {
				errs = append(errs, markErr)
			}
		case err != nil:
			report.Failed++
			slog.ErrorContext(ctx, "Failed to process recurring schedule", "recurring_id", id, "error", err)
			errs = append(errs, fmt.Errorf("schedule %s: %w", id, err))
		default:
			report.Created += created
			if expired {
				report.Expired++
			}
		}
	}

	slog.InfoContext(ctx, "Recurring transaction processing complete",
		"checked", report.Checked,
		"created", report.Created,
		"expired", report.Expired,
		"needs_review", report.NeedsReview,
		"failed", report.Failed)

	return report, errors.Join(errs...)
}

func isActive(s core.RecurringTransaction) bool {
	return s.Status == core.ScheduleActive || s.Status == ""
}

func (p *RecurringProcessor) processOne(ctx context.Context, id uuid.UUID, asOf time.Time) (int, bool, error) {
	var (
		created int
		expired bool
	)
	_, err := p.ledger.Update(ctx, func(tx ledger.Tx) error {
		created, expired = 0, false

		s, err := tx.RecurringTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !isActive(s) {
			return nil
		}
		pl, err := planOccurrences(s, asOf, p.maxOccurrences)
		if err != nil {
			return err
		}

		existing := make(map[string]bool)
		if len(pl.dates) > 0 {
			done, err := tx.Transactions(ctx, ledger.TransactionFilter{
				RecurringID: s.ID,
				From:        pl.dates[0],
				To:          pl.dates[len(pl.dates)-1],
			})
			if err != nil {
				return err
			}
			for _, tr := range done {
				existing[core.CivilDate(tr.Date)] = true
			}
		}

		for _, d := range pl.dates {
			if existing[core.CivilDate(d)] {
				continue
			}
			tr := s.Occurrence(d)
			if err := tx.SaveTransaction(ctx, tr); err != nil {
				return fmt.Errorf("materialize %s: %w", core.CivilDate(d), err)
			}
			if err := touchPayee(ctx, tx, tr.Payee, tr.Date, tr.CategoryID); err != nil {
				return err
			}
			created++
		}

		s.NextDueDate = pl.next
		if pl.expired {
			s.Status = core.ScheduleExpired
			expired = true
		}
		if len(pl.dates) == 0 && !pl.expired {
			return nil
		}
		return tx.SaveRecurring(ctx, s)
	})
	if err != nil {
		return 0, false, err
	}

	if created > 0 || expired {
		slog.InfoContext(ctx, "Materialized recurring transactions",
			"recurring_id", id,
			"created", created,
			"expired", expired)
	}
	return created, expired, nil
}

func (p *RecurringProcessor) markNeedsReview(ctx context.Context, id uuid.UUID) error {
	_, err := p.ledger.Update(ctx, func(tx ledger.Tx) error {
		s, err := tx.RecurringTransaction(ctx, id)
		if err != nil {
			return err
		}
		s.Status = core.ScheduleNeedsReview
		if err := tx.SaveRecurring(ctx, s); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, core.AuditEntry{
			ID:       core.NewID(),
			At:       time.Now().UTC(),
			Kind:     AuditScheduleNeedsReview,
			EntityID: id,
			Detail:   "recurrence loop guard tripped",
		})
	})
	if err != nil {
		return fmt.Errorf("mark schedule %s for review: %w", id, err)
	}
	return nil
}
