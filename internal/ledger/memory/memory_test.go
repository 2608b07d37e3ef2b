package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := core.Account{ID: core.NewID(), Name: "Joint Current", Type: core.AccountCurrent, IsBudget: true}

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.SaveAccount(ctx, acct))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(r ledger.Reader) error {
		_, err := r.Account(ctx, acct.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	}))
}

func TestViewSeesCommittedSnapshotOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := core.Account{ID: core.NewID(), Name: "Cash", Type: core.AccountCash, IsBudget: true}
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error { return tx.SaveAccount(ctx, acct) }))

	require.NoError(t, s.View(ctx, func(r ledger.Reader) error {
		// A mutation committed while this view is open must not leak in.
		require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteAccount(ctx, acct.ID) }))
		got, err := r.Account(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, "Cash", got.Name)
		return nil
	}))
}

func TestDeleteCategoryCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := core.Account{ID: core.NewID(), Name: "Joint Current", Type: core.AccountCurrent, IsBudget: true}
	header := core.Category{ID: core.NewID(), Name: "Living", IsHeader: true}
	groceries := core.Category{ID: core.NewID(), Name: "Groceries", ParentID: header.ID}
	bm := core.BudgetMonth{ID: core.NewID(), Month: core.NewMonth(2025, time.March)}
	goal := core.SavingsGoal{ID: core.NewID(), Name: "Food buffer", TargetAmount: core.MustMoney("100"), LinkedCategoryID: groceries.ID}

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.SaveAccount(ctx, acct))
		require.NoError(t, tx.SaveCategory(ctx, header))
		require.NoError(t, tx.SaveCategory(ctx, groceries))
		require.NoError(t, tx.SaveBudgetMonth(ctx, bm))
		require.NoError(t, tx.SaveAllocation(ctx, core.BudgetAllocation{ID: core.NewID(), Budgeted: core.MustMoney("80"), CategoryID: groceries.ID, BudgetMonthID: bm.ID}))
		require.NoError(t, tx.SaveTransaction(ctx, core.Transaction{ID: core.NewID(), Type: core.Expense, Amount: core.MustMoney("-20"), Date: day(2025, 3, 4), AccountID: acct.ID, CategoryID: groceries.ID}))
		return tx.SaveGoal(ctx, goal)
	}))

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteCategory(ctx, header.ID) }))

	require.NoError(t, s.View(ctx, func(r ledger.Reader) error {
		child, err := r.Category(ctx, groceries.ID)
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, child.ParentID, "children become top-level")
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error { return tx.DeleteCategory(ctx, groceries.ID) }))
	require.NoError(t, s.View(ctx, func(r ledger.Reader) error {
		allocs, _ := r.Allocations(ctx, ledger.AllocationFilter{})
		txs, _ := r.Transactions(ctx, ledger.TransactionFilter{})
		g, err := r.Goal(ctx, goal.ID)
		require.NoError(t, err)
		assert.Empty(t, allocs)
		assert.Empty(t, txs)
		assert.Equal(t, uuid.Nil, g.LinkedCategoryID)
		return nil
	}))
}

func TestBudgetMonthUniqueAndFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	cat := core.NewID()
	feb := core.BudgetMonth{ID: core.NewID(), Month: core.NewMonth(2025, time.February)}
	mar := core.BudgetMonth{ID: core.NewID(), Month: core.NewMonth(2025, time.March)}

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.SaveBudgetMonth(ctx, mar))
		require.NoError(t, tx.SaveBudgetMonth(ctx, feb))
		err := tx.SaveBudgetMonth(ctx, core.BudgetMonth{ID: core.NewID(), Month: feb.Month})
		require.ErrorIs(t, err, core.ErrConflict)
		require.NoError(t, tx.SaveAllocation(ctx, core.BudgetAllocation{ID: core.NewID(), Budgeted: core.MustMoney("1"), CategoryID: cat, BudgetMonthID: feb.ID}))
		return tx.SaveAllocation(ctx, core.BudgetAllocation{ID: core.NewID(), Budgeted: core.MustMoney("2"), CategoryID: cat, BudgetMonthID: mar.ID})
	}))

	require.NoError(t, s.View(ctx, func(r ledger.Reader) error {
		months, err := r.BudgetMonths(ctx)
		require.NoError(t, err)
		require.Len(t, months, 2)
		assert.Equal(t, feb.ID, months[0].ID, "ordered by calendar month")

		got, err := r.Allocations(ctx, ledger.AllocationFilter{CategoryID: cat, From: mar.Month, To: mar.Month})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "2.00", got[0].Budgeted.String())
		return nil
	}))
}

func TestRecurringOccurrenceConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	sched := core.NewID()
	first := core.Transaction{ID: core.NewID(), Type: core.Expense, Date: day(2025, 1, 31), RecurringID: sched}
	dup := first
	dup.ID = core.NewID()

	err := s.Update(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.SaveTransaction(ctx, first))
		return tx.SaveTransaction(ctx, dup)
	})
	require.ErrorIs(t, err, core.ErrConflict)
}

func TestTransactionsDateRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := core.NewID()
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		for _, d := range []time.Time{day(2025, 3, 31), day(2025, 3, 1), day(2025, 4, 1), day(2025, 2, 28)} {
			if err := tx.SaveTransaction(ctx, core.Transaction{ID: core.NewID(), Type: core.Expense, Date: d, AccountID: acct}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.View(ctx, func(r ledger.Reader) error {
		got, err := r.Transactions(ctx, ledger.TransactionFilter{AccountID: acct, From: day(2025, 3, 1), To: day(2025, 3, 31)})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].Date.Day())
		assert.Equal(t, 31, got[1].Date.Day())
		return nil
	}))
}
