package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

func TestSetBudgeted_ReplacesByCategoryAndMonth(t *testing.T) {
	e := newEnv(t)
	mar := month(2025, time.March)

	first, err := e.svc.SetBudgeted(e.ctx, e.groceries.ID, mar, core.MustMoney("100"))
	require.NoError(t, err)
	second, err := e.svc.SetBudgeted(e.ctx, e.groceries.ID, mar, core.MustMoney("125.50"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	allocs := e.allocations(ledger.AllocationFilter{CategoryID: e.groceries.ID})
	require.Len(t, allocs, 1)
	assert.Equal(t, "125.50", allocs[0].Budgeted.String())

	var months []core.BudgetMonth
	require.NoError(t, e.ledger.View(e.ctx, func(r ledger.Reader) error {
		var err error
		months, err = r.BudgetMonths(e.ctx)
		return err
	}))
	require.Len(t, months, 1)
	assert.Equal(t, mar, months[0].Month)
}

func TestSetBudgeted_CollapsesDuplicates(t *testing.T) {
	e := newEnv(t)
	jan := month(2025, time.January)
	dups := e.rawAllocations(e.groceries.ID, jan, "10", "20")

	got, err := e.svc.SetBudgeted(e.ctx, e.groceries.ID, jan, core.MustMoney("40"))
	require.NoError(t, err)
	assert.Equal(t, dups[0].ID, got.ID)

	allocs := e.allocations(ledger.AllocationFilter{CategoryID: e.groceries.ID})
	require.Len(t, allocs, 1)
	assert.Equal(t, "40.00", e.available(e.groceries, jan))

	audit := e.auditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, AuditDuplicateAllocation, audit[0].Kind)
	assert.Equal(t, dups[1].ID, audit[0].EntityID)
}

func TestSetBudgeted_Rejects(t *testing.T) {
	e := newEnv(t)
	header, err := e.svc.CreateCategory(e.ctx, core.Category{Name: "Bills", IsHeader: true})
	require.NoError(t, err)

	_, err = e.svc.SetBudgeted(e.ctx, header.ID, month(2025, time.March), core.MustMoney("10"))
	assert.ErrorIs(t, err, core.ErrHeaderCategory)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.svc.SetBudgeted(e.ctx, uuid.Nil, month(2025, time.March), core.MustMoney("10"))
	assert.ErrorIs(t, err, core.ErrMissingCategory)

	_, err = e.svc.SetBudgeted(e.ctx, uuid.New(), month(2025, time.March), core.MustMoney("10"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Empty(t, e.allocations(ledger.AllocationFilter{}))
}

func TestCreateCategory_OneLevelHierarchy(t *testing.T) {
	e := newEnv(t)
	bills := e.category("Bills", uuid.Nil, time.Time{})
	rent := e.category("Rent", bills.ID, time.Time{})
	assert.False(t, rent.CreatedAt.IsZero())

	_, err := e.svc.CreateCategory(e.ctx, core.Category{Name: "Deposit", ParentID: rent.ID})
	assert.ErrorIs(t, err, core.ErrCategoryTooDeep)

	bills.ParentID = e.groceries.ID
	err = e.svc.UpdateCategory(e.ctx, bills)
	assert.ErrorIs(t, err, core.ErrCategoryTooDeep)

	_, err = e.svc.CreateCategory(e.ctx, core.Category{Name: "  "})
	assert.ErrorIs(t, err, core.ErrEmptyName)

	_, err = e.svc.CreateCategory(e.ctx, core.Category{Name: "Orphan", ParentID: uuid.New()})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRecordTransaction(t *testing.T) {
	e := newEnv(t)

	t.Run("expense sign is normalized", func(t *testing.T) {
		tr := e.spend(e.groceries, date(2025, time.March, 3), "42")
		assert.Equal(t, "-42.00", tr.Amount.String())
		assert.NotEqual(t, uuid.Nil, tr.ID)
	})

	t.Run("income sign is normalized", func(t *testing.T) {
		tr, err := e.svc.RecordTransaction(e.ctx, core.Transaction{
			Type:      core.Income,
			Amount:    core.MustMoney("-2500"),
			Payee:     "Employer",
			Date:      date(2025, time.March, 25),
			AccountID: e.account.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, "2500.00", tr.Amount.String())
	})

	t.Run("transfer cannot be categorized", func(t *testing.T) {
		_, err := e.svc.RecordTransaction(e.ctx, core.Transaction{
			Type:                core.Transfer,
			Amount:              core.MustMoney("10"),
			Date:                date(2025, time.March, 4),
			AccountID:           e.account.ID,
			TransferToAccountID: uuid.New(),
			CategoryID:          e.groceries.ID,
		})
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := e.svc.RecordTransaction(e.ctx, core.Transaction{
			Type:      core.Expense,
			Amount:    core.MustMoney("10"),
			Date:      date(2025, time.March, 4),
			AccountID: uuid.New(),
		})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		tr := e.spend(e.groceries, date(2025, time.March, 5), "1")
		_, err := e.svc.RecordTransaction(e.ctx, tr)
		assert.ErrorIs(t, err, core.ErrConflict)
	})

	t.Run("payee usage is tracked", func(t *testing.T) {
		var p core.Payee
		require.NoError(t, e.ledger.View(e.ctx, func(r ledger.Reader) error {
			var err error
			p, err = r.Payee(e.ctx, "tesco")
			return err
		}))
		assert.Equal(t, 2, p.UseCount)
		assert.Equal(t, e.groceries.ID, p.LastUsedCategoryID)
		assert.Equal(t, "2025-03-05", core.CivilDate(p.LastUsedDate))
	})
}

func TestCreateRecurring_Defaults(t *testing.T) {
	e := newEnv(t)
	r, err := e.svc.CreateRecurring(e.ctx, core.RecurringTransaction{
		Type:       core.Expense,
		Amount:     core.MustMoney("9.99"),
		Payee:      "Streaming",
		AccountID:  e.account.ID,
		CategoryID: e.groceries.ID,
		Frequency:  core.Monthly,
		AnchorDate: date(2025, time.May, 12),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Interval)
	assert.Equal(t, core.ScheduleActive, r.Status)
	assert.Equal(t, r.AnchorDate, r.NextDueDate)

	_, err = e.svc.CreateRecurring(e.ctx, core.RecurringTransaction{
		Type:       core.Expense,
		Payee:      "Streaming",
		AccountID:  e.account.ID,
		Frequency:  "fortnightly",
		AnchorDate: date(2025, time.May, 12),
	})
	assert.ErrorIs(t, err, core.ErrInvalidFrequency)

	_, err = e.svc.CreateRecurring(e.ctx, core.RecurringTransaction{
		Type:       core.Expense,
		Payee:      "Streaming",
		AccountID:  e.account.ID,
		Frequency:  core.Weekly,
		Interval:   -2,
		AnchorDate: date(2025, time.May, 12),
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDeleteCategory_Cascades(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.March), "100")
	e.spend(e.groceries, date(2025, time.March, 2), "20")
	g := e.goal("Pantry", "300", e.groceries.ID, nil)
	assert.Equal(t, "80.00", e.available(e.groceries, month(2025, time.March)))

	require.NoError(t, e.svc.DeleteCategory(e.ctx, e.groceries.ID))
	assert.Empty(t, e.allocations(ledger.AllocationFilter{}))
	assert.Empty(t, e.transactions(ledger.TransactionFilter{}))

	_, err := e.calc.Available(e.ctx, e.groceries.ID, month(2025, time.March))
	assert.ErrorIs(t, err, core.ErrNotFound)

	p, err := NewGoalCalculator(e.ledger, e.calc, 0).ProgressByID(e.ctx, g.ID, month(2025, time.March), date(2025, time.March, 31))
	require.NoError(t, err)
	assert.True(t, p.Current.IsZero())
}

func TestBudgetService_PublishesCommittedChanges(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.March), "100")

	before := e.svc.events.Enqueued()
	_, err := e.svc.SetBudgeted(e.ctx, uuid.New(), month(2025, time.March), core.MustMoney("1"))
	require.Error(t, err)
	assert.Equal(t, before, e.svc.events.Enqueued())

	require.NoError(t, e.svc.Close())
	kinds := e.pub.kinds()
	assert.Len(t, kinds, int(before))
	assert.Contains(t, kinds, "account.save")
	assert.Contains(t, kinds, "category.save")
	assert.Contains(t, kinds, "allocation.save")
}
