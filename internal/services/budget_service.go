package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

// Audit entry kinds written by the write path and maintenance.
const (
	AuditDuplicateAllocation = "duplicate_allocation"
	AuditOrphanAllocation    = "orphan_allocation"
	AuditCategoryReparented  = "category_reparented"
	AuditScheduleNeedsReview = "schedule_needs_review"
	AuditMaintenancePass     = "maintenance_pass"
)

// BudgetService is the validated write path into the ledger.
type BudgetService struct {
	ledger *ledger.Ledger
	events *EventQueue
	now    func() time.Time
}

// NewBudgetService creates the write path. When pub is not nil every
// committed mutation is queued for publication to it; Close flushes the
// queue.
func NewBudgetService(l *ledger.Ledger, pub EventPublisher) *BudgetService {
	s := &BudgetService{ledger: l, now: time.Now}
	if pub != nil {
		s.events = NewEventQueue(pub, DefaultEventQueueSize)
		l.OnCommit(PublishChanges(s.events))
	}
	return s
}

// Close waits for queued ledger events to reach the publisher.
func (s *BudgetService) Close() error {
	if s.events != nil {
		s.events.Close()
	}
	return nil
}

// SetBudgeted sets the amount budgeted for a category in a month. The
// allocation is found by (category, month); the budget month is created the
// first time it is budgeted.
func (s *BudgetService) SetBudgeted(ctx context.Context, categoryID uuid.UUID, month core.Month, amount core.Money) (core.BudgetAllocation, error) {
	var out core.BudgetAllocation
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, err := moneyCategory(ctx, tx, categoryID); err != nil {
			return err
		}

		bm, err := tx.BudgetMonthFor(ctx, month)
		switch {
		case errors.Is(err, core.ErrNotFound):
			bm = core.BudgetMonth{ID: core.NewID(), Month: month}
			if err := tx.SaveBudgetMonth(ctx, bm); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		existing, err := tx.Allocations(ctx, ledger.AllocationFilter{CategoryID: categoryID, BudgetMonthID: bm.ID})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			out = core.BudgetAllocation{ID: core.NewID(), CategoryID: categoryID, BudgetMonthID: bm.ID}
		} else {
			out = existing[0]
			for _, dup := range existing[1:] {
				if err := tx.DeleteAllocation(ctx, dup.ID); err != nil {
					return err
				}
				if err := tx.AppendAudit(ctx, core.AuditEntry{
					ID:       core.NewID(),
					At:       s.now().UTC(),
					Kind:     AuditDuplicateAllocation,
					EntityID: dup.ID,
					Detail:   fmt.Sprintf("replaced by budgeting %s for %s", amount, month),
				}); err != nil {
					return err
				}
			}
		}
		out.Budgeted = amount
		if err := out.Validate(); err != nil {
			return err
		}
		return tx.SaveAllocation(ctx, out)
	})
	if err != nil {
		return core.BudgetAllocation{}, fmt.Errorf("set budgeted: %w", err)
	}

	slog.InfoContext(ctx, "Category budgeted",
		"category_id", categoryID,
		"month", month.String(),
		"budgeted", amount.String())
	return out, nil
}

// moneyCategory loads a category that may hold allocations and transactions.
func moneyCategory(ctx context.Context, r ledger.Reader, id uuid.UUID) (core.Category, error) {
	if id == uuid.Nil {
		return core.Category{}, core.ErrMissingCategory
	}
	c, err := r.Category(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	if !c.HoldsMoney() {
		return core.Category{}, core.ErrHeaderCategory
	}
	return c, nil
}

// RecordTransaction validates and stores a new transaction. The amount sign
// follows the transaction type.
func (s *BudgetService) RecordTransaction(ctx context.Context, tr core.Transaction) (core.Transaction, error) {
	if tr.ID == uuid.Nil {
		tr.ID = core.NewID()
	}
	tr = tr.Normalize()
	if err := tr.Validate(); err != nil {
		return core.Transaction{}, err
	}
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Transaction(ctx, tr.ID); err == nil {
			return fmt.Errorf("transaction %s: %w", tr.ID, core.ErrConflict)
		}
		return s.saveTransaction(ctx, tx, tr)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction recorded",
		"id", tr.ID,
		"type", tr.Type,
		"amount", tr.Amount.String(),
		"date", core.CivilDate(tr.Date))
	return tr, nil
}

// UpdateTransaction replaces an existing transaction.
func (s *BudgetService) UpdateTransaction(ctx context.Context, tr core.Transaction) (core.Transaction, error) {
	tr = tr.Normalize()
	if err := tr.Validate(); err != nil {
		return core.Transaction{}, err
	}
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Transaction(ctx, tr.ID); err != nil {
			return err
		}
		return s.saveTransaction(ctx, tx, tr)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	return tr, nil
}

func (s *BudgetService) saveTransaction(ctx context.Context, tx ledger.Tx, tr core.Transaction) error {
	if _, err := tx.Account(ctx, tr.AccountID); err != nil {
		return err
	}
	if tr.Type == core.Transfer {
		if _, err := tx.Account(ctx, tr.TransferToAccountID); err != nil {
			return err
		}
	} else if tr.CategoryID != uuid.Nil {
		if _, err := moneyCategory(ctx, tx, tr.CategoryID); err != nil {
			return err
		}
	}
	if err := tx.SaveTransaction(ctx, tr); err != nil {
		return err
	}
	return touchPayee(ctx, tx, tr.Payee, tr.Date, tr.CategoryID)
}

func (s *BudgetService) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteTransaction(ctx, id) })
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

// touchPayee records that name was used on date. Payees only feed the
// categorization collaborator; the ledger math never reads them.
func touchPayee(ctx context.Context, tx ledger.Tx, name string, date time.Time, category uuid.UUID) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	p, err := tx.Payee(ctx, name)
	switch {
	case errors.Is(err, core.ErrNotFound):
		p = core.Payee{ID: core.NewID(), Name: name}
	case err != nil:
		return err
	}
	p.UseCount++
	if !date.Before(p.LastUsedDate) {
		p.LastUsedDate = date
		if category != uuid.Nil {
			p.LastUsedCategoryID = category
		}
	}
	return tx.SavePayee(ctx, p)
}

func (s *BudgetService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == uuid.Nil {
		a.ID = core.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if _, err := s.ledger.Update(ctx, func(tx ledger.Tx) error { return tx.SaveAccount(ctx, a) }); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// UpdateAccount replaces an existing account. Flipping IsBudget moves the
// account's transactions in or out of category activity.
func (s *BudgetService) UpdateAccount(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Account(ctx, a.ID); err != nil {
			return err
		}
		return tx.SaveAccount(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// DeleteAccount removes the account with its transactions and schedules.
func (s *BudgetService) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if _, err := s.ledger.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteAccount(ctx, id) }); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// CreateCategory stores a category, enforcing the one-level hierarchy.
func (s *BudgetService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == uuid.Nil {
		c.ID = core.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if err := s.saveCategory(ctx, c, false); err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

func (s *BudgetService) UpdateCategory(ctx context.Context, c core.Category) error {
	if err := s.saveCategory(ctx, c, true); err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

func (s *BudgetService) saveCategory(ctx context.Context, c core.Category, mustExist bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if mustExist {
			if _, err := tx.Category(ctx, c.ID); err != nil {
				return err
			}
		}
		if c.ParentID != uuid.Nil {
			parent, err := tx.Category(ctx, c.ParentID)
			if err != nil {
				return err
			}
			if err := c.ValidateParent(parent); err != nil {
				return err
			}
			all, err := tx.Categories(ctx)
			if err != nil {
				return err
			}
			for _, other := range all {
				if other.ParentID == c.ID {
					return core.ErrCategoryTooDeep
				}
			}
		}
		return tx.SaveCategory(ctx, c)
	})
	return err
}

// DeleteCategory removes the category with its allocations and transactions.
// Children become top-level.
func (s *BudgetService) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if _, err := s.ledger.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteCategory(ctx, id) }); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

// CreateRecurring stores a schedule. A zero interval means every period and
// the first occurrence defaults to the anchor date.
func (s *BudgetService) CreateRecurring(ctx context.Context, r core.RecurringTransaction) (core.RecurringTransaction, error) {
	if r.ID == uuid.Nil {
		r.ID = core.NewID()
	}
	if r.Interval == 0 {
		r.Interval = 1
	}
	if r.NextDueDate.IsZero() {
		r.NextDueDate = r.AnchorDate
	}
	if r.Status == "" {
		r.Status = core.ScheduleActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if err := r.Validate(); err != nil {
		return core.RecurringTransaction{}, err
	}
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Account(ctx, r.AccountID); err != nil {
			return err
		}
		if r.Type == core.Transfer {
			if _, err := tx.Account(ctx, r.TransferToAccountID); err != nil {
				return err
			}
		} else if r.CategoryID != uuid.Nil {
			if _, err := moneyCategory(ctx, tx, r.CategoryID); err != nil {
				return err
			}
		}
		return tx.SaveRecurring(ctx, r)
	})
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("create recurring transaction: %w", err)
	}
	slog.InfoContext(ctx, "Recurring transaction created",
		"id", r.ID,
		"frequency", r.Frequency,
		"interval", r.Interval,
		"next_due", core.CivilDate(r.NextDueDate))
	return r, nil
}

func (s *BudgetService) DeleteRecurring(ctx context.Context, id uuid.UUID) error {
	if _, err := s.ledger.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteRecurring(ctx, id) }); err != nil {
		return fmt.Errorf("delete recurring transaction: %w", err)
	}
	return nil
}

// CreateGoal stores a savings goal; the target must be positive.
func (s *BudgetService) CreateGoal(ctx context.Context, g core.SavingsGoal) (core.SavingsGoal, error) {
	if g.ID == uuid.Nil {
		g.ID = core.NewID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now().UTC()
	}
	if err := g.Validate(); err != nil {
		return core.SavingsGoal{}, err
	}
	_, err := s.ledger.Update(ctx, func(tx ledger.Tx) error {
		if g.LinkedCategoryID != uuid.Nil {
			if _, err := moneyCategory(ctx, tx, g.LinkedCategoryID); err != nil {
				return err
			}
		}
		return tx.SaveGoal(ctx, g)
	})
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("create savings goal: %w", err)
	}
	return g, nil
}

func (s *BudgetService) DeleteGoal(ctx context.Context, id uuid.UUID) error {
	if _, err := s.ledger.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteGoal(ctx, id) }); err != nil {
		return fmt.Errorf("delete savings goal: %w", err)
	}
	return nil
}
