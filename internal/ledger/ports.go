// Package ledger defines the storage ports of the budget ledger and the
// Ledger type that serializes writers over a Backend.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"famfin/internal/core"
)

// AllocationFilter narrows an allocation fetch. Zero fields match anything;
// From and To are inclusive.
type AllocationFilter struct {
	CategoryID    uuid.UUID
	BudgetMonthID uuid.UUID
	From, To      core.Month
}

// TransactionFilter narrows a transaction fetch. Zero fields match anything;
// From and To are inclusive civil days.
type TransactionFilter struct {
	CategoryID  uuid.UUID
	AccountID   uuid.UUID
	RecurringID uuid.UUID
	From, To    time.Time
}

// Ports implemented by storage backends.
type (
	// Reader fetches entities. Not-found lookups return core.ErrNotFound.
	// List fetches return entities in insertion order unless stated.
	Reader interface {
		Account(ctx context.Context, id uuid.UUID) (core.Account, error)
		Accounts(ctx context.Context) ([]core.Account, error)

		Category(ctx context.Context, id uuid.UUID) (core.Category, error)
		Categories(ctx context.Context) ([]core.Category, error)

		BudgetMonth(ctx context.Context, id uuid.UUID) (core.BudgetMonth, error)
		BudgetMonthFor(ctx context.Context, m core.Month) (core.BudgetMonth, error)
		// BudgetMonths are ordered by calendar month.
		BudgetMonths(ctx context.Context) ([]core.BudgetMonth, error)

		Allocation(ctx context.Context, id uuid.UUID) (core.BudgetAllocation, error)
		Allocations(ctx context.Context, f AllocationFilter) ([]core.BudgetAllocation, error)

		Transaction(ctx context.Context, id uuid.UUID) (core.Transaction, error)
		// Transactions are ordered by date, then insertion.
		Transactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)

		Payee(ctx context.Context, name string) (core.Payee, error)
		Payees(ctx context.Context) ([]core.Payee, error)

		RecurringTransaction(ctx context.Context, id uuid.UUID) (core.RecurringTransaction, error)
		RecurringTransactions(ctx context.Context) ([]core.RecurringTransaction, error)

		Goal(ctx context.Context, id uuid.UUID) (core.SavingsGoal, error)
		Goals(ctx context.Context) ([]core.SavingsGoal, error)

		// AuditLog returns up to limit entries, newest first.
		AuditLog(ctx context.Context, limit int) ([]core.AuditEntry, error)
	}

	// Writer mutates entities. Save* inserts or replaces by ID. Deleting an
	// account or category cascades to its transactions, allocations and
	// recurring schedules; children of a deleted category become top-level.
	Writer interface {
		SaveAccount(ctx context.Context, a core.Account) error
		DeleteAccount(ctx context.Context, id uuid.UUID) error

		SaveCategory(ctx context.Context, c core.Category) error
		DeleteCategory(ctx context.Context, id uuid.UUID) error

		// SaveBudgetMonth returns core.ErrConflict if another row already
		// holds the same calendar month.
		SaveBudgetMonth(ctx context.Context, m core.BudgetMonth) error

		SaveAllocation(ctx context.Context, a core.BudgetAllocation) error
		DeleteAllocation(ctx context.Context, id uuid.UUID) error

		// SaveTransaction returns core.ErrConflict if another transaction
		// materialized by the same schedule already exists for that day.
		SaveTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id uuid.UUID) error

		SavePayee(ctx context.Context, p core.Payee) error

		SaveRecurring(ctx context.Context, r core.RecurringTransaction) error
		DeleteRecurring(ctx context.Context, id uuid.UUID) error

		SaveGoal(ctx context.Context, g core.SavingsGoal) error
		DeleteGoal(ctx context.Context, id uuid.UUID) error

		AppendAudit(ctx context.Context, e core.AuditEntry) error
	}

	// Tx is the view of the store inside one atomic mutation.
	Tx interface {
		Reader
		Writer
	}

	// Backend runs reads against a consistent snapshot and mutations as
	// all-or-nothing units. If fn returns an error, nothing it wrote is kept.
	Backend interface {
		View(ctx context.Context, fn func(Reader) error) error
		Update(ctx context.Context, fn func(Tx) error) error
		Close() error
	}
)
