package services

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

func TestAvailable_OverspendCarriesForward(t *testing.T) {
	e := newEnv(t)
	jan, feb := month(2025, time.January), month(2025, time.February)

	e.budget(e.groceries, jan, "100")
	e.spend(e.groceries, date(2025, time.January, 10), "150")
	e.budget(e.groceries, feb, "100")

	assert.Equal(t, "-50.00", e.available(e.groceries, jan))
	assert.Equal(t, "50.00", e.available(e.groceries, feb))

	b, err := e.calc.Balance(e.ctx, e.groceries.ID, feb)
	require.NoError(t, err)
	assert.Equal(t, "-50.00", b.CarriedIn.String())
	assert.Equal(t, "100.00", b.Budgeted.String())
	assert.Equal(t, "0.00", b.Activity.String())
}

func TestAvailable_Telescopes(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.January), "300")
	e.budget(e.groceries, month(2025, time.March), "250.50")
	e.budget(e.groceries, month(2025, time.June), "80")
	e.spend(e.groceries, date(2025, time.January, 3), "120.25")
	e.spend(e.groceries, date(2025, time.February, 28), "99.99")
	e.spend(e.groceries, date(2025, time.May, 1), "400")
	_, err := e.svc.RecordTransaction(e.ctx, core.Transaction{
		Type:       core.Income,
		Amount:     core.MustMoney("30"),
		Payee:      "Refund",
		Date:       date(2025, time.May, 20),
		AccountID:  e.account.ID,
		CategoryID: e.groceries.ID,
	})
	require.NoError(t, err)

	prev := core.Zero
	for m := month(2024, time.December); !m.After(month(2025, time.August)); m = m.Next() {
		b, err := e.calc.Balance(e.ctx, e.groceries.ID, m)
		require.NoError(t, err)
		assert.Equal(t, prev.String(), b.CarriedIn.String(), "carried into %s", m)
		assert.Equal(t, prev.Add(b.Budgeted).Add(b.Activity).String(), b.Available.String(), "available in %s", m)
		prev = b.Available
	}
	// 300 + 250.50 + 80 - 120.25 - 99.99 - 400 + 30
	assert.Equal(t, "40.26", prev.String())
}

func TestAvailable_ZeroBeforeCreation(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.March), "100")

	assert.Equal(t, "0.00", e.available(e.groceries, month(2024, time.June)))
	assert.Equal(t, "0.00", e.available(e.groceries, month(2025, time.January)))
	assert.Equal(t, "100.00", e.available(e.groceries, month(2025, time.March)))
	assert.Equal(t, "100.00", e.available(e.groceries, month(2026, time.March)))
}

func TestAvailable_UnknownCategory(t *testing.T) {
	e := newEnv(t)
	_, err := e.calc.Available(e.ctx, uuid.New(), month(2025, time.March))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAvailable_TrackingAccountsAndTransfersExcluded(t *testing.T) {
	e := newEnv(t)
	mar := month(2025, time.March)
	tracking, err := e.svc.CreateAccount(e.ctx, core.Account{Name: "Pension", Type: core.AccountSavings})
	require.NoError(t, err)

	e.budget(e.groceries, mar, "100")
	_, err = e.svc.RecordTransaction(e.ctx, core.Transaction{
		Type:       core.Expense,
		Amount:     core.MustMoney("40"),
		Payee:      "Market",
		Date:       date(2025, time.March, 5),
		AccountID:  tracking.ID,
		CategoryID: e.groceries.ID,
	})
	require.NoError(t, err)
	_, err = e.svc.RecordTransaction(e.ctx, core.Transaction{
		Type:                core.Transfer,
		Amount:              core.MustMoney("-500"),
		Payee:               "Move to pension",
		Date:                date(2025, time.March, 6),
		AccountID:           e.account.ID,
		TransferToAccountID: tracking.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, "100.00", e.available(e.groceries, mar))

	tracking.IsBudget = true
	require.NoError(t, e.svc.UpdateAccount(e.ctx, tracking))
	assert.Equal(t, "60.00", e.available(e.groceries, mar))
}

func TestAvailable_BackdatedWritesInvalidateMemo(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.January), "100")
	assert.Equal(t, "100.00", e.available(e.groceries, month(2025, time.June)))

	tr := e.spend(e.groceries, date(2025, time.February, 14), "30")
	assert.Equal(t, "70.00", e.available(e.groceries, month(2025, time.June)))

	e.budget(e.groceries, month(2025, time.January), "150")
	assert.Equal(t, "120.00", e.available(e.groceries, month(2025, time.June)))

	tr.Date = date(2025, time.July, 1)
	_, err := e.svc.UpdateTransaction(e.ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, "150.00", e.available(e.groceries, month(2025, time.June)))
	assert.Equal(t, "120.00", e.available(e.groceries, month(2025, time.July)))

	require.NoError(t, e.svc.DeleteTransaction(e.ctx, tr.ID))
	assert.Equal(t, "150.00", e.available(e.groceries, month(2025, time.July)))

	fresh := NewCalculator(e.ledger, CalculatorConfig{}, nil)
	for m := month(2025, time.January); !m.After(month(2025, time.September)); m = m.Next() {
		want, err := fresh.Balance(e.ctx, e.groceries.ID, m)
		require.NoError(t, err)
		got, err := e.calc.Balance(e.ctx, e.groceries.ID, m)
		require.NoError(t, err)
		assert.Equal(t, want.CarriedIn.String(), got.CarriedIn.String(), "carried into %s", m)
		assert.Equal(t, want.Budgeted.String(), got.Budgeted.String(), "budgeted in %s", m)
		assert.Equal(t, want.Activity.String(), got.Activity.String(), "activity in %s", m)
		assert.Equal(t, want.Available.String(), got.Available.String(), "available in %s", m)
	}
}

func TestAvailable_CategoryEditResetsMemo(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.March), "100")
	assert.Equal(t, "100.00", e.available(e.groceries, month(2025, time.April)))

	e.groceries.CreatedAt = date(2024, time.October, 1)
	require.NoError(t, e.svc.UpdateCategory(e.ctx, e.groceries))

	b, err := e.calc.Balance(e.ctx, e.groceries.ID, month(2024, time.November))
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero())
	assert.Equal(t, "100.00", e.available(e.groceries, month(2025, time.April)))
}

func TestAvailable_DuplicateAllocationsSummedAndRepairRequested(t *testing.T) {
	e := newEnv(t)
	jan := month(2025, time.January)
	first, err := e.svc.SetBudgeted(e.ctx, e.groceries.ID, jan, core.MustMoney("50"))
	require.NoError(t, err)

	_, err = e.ledger.Update(e.ctx, func(tx ledger.Tx) error {
		return tx.SaveAllocation(e.ctx, core.BudgetAllocation{
			ID:            core.NewID(),
			Budgeted:      core.MustMoney("80"),
			CategoryID:    e.groceries.ID,
			BudgetMonthID: first.BudgetMonthID,
		})
	})
	require.NoError(t, err)

	budgeted, err := e.calc.Budgeted(e.ctx, e.groceries.ID, jan)
	require.NoError(t, err)
	assert.Equal(t, "130.00", budgeted.String())
	assert.GreaterOrEqual(t, e.repairs.n.Load(), int32(1))
}

func TestAvailable_ConcurrentReadersSeeCommittedState(t *testing.T) {
	e := newEnv(t)
	e.budget(e.groceries, month(2025, time.January), "100")
	june := month(2025, time.June)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := e.calc.Available(e.ctx, e.groceries.ID, june)
				assert.NoError(t, err)
			}
		}()
	}
	for i := range 20 {
		e.spend(e.groceries, date(2025, time.March, 1+i), "1")
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, "80.00", e.available(e.groceries, june))
}

func TestMonthSummary(t *testing.T) {
	e := newEnv(t)
	mar := month(2025, time.March)
	bills := e.category("Bills", uuid.Nil, date(2025, time.January, 1))
	bills.IsHeader = true
	require.NoError(t, e.svc.UpdateCategory(e.ctx, bills))
	rent := e.category("Rent", bills.ID, date(2025, time.January, 1))

	e.budget(e.groceries, mar, "200")
	e.budget(rent, mar, "900")
	e.spend(e.groceries, date(2025, time.March, 2), "75")
	e.spend(rent, date(2025, time.March, 1), "900")

	_, err := e.svc.SetBudgeted(e.ctx, bills.ID, mar, core.MustMoney("10"))
	require.ErrorIs(t, err, core.ErrHeaderCategory)

	sum, err := e.calc.MonthSummary(e.ctx, mar)
	require.NoError(t, err)
	require.Len(t, sum.Categories, 2)
	ids := []uuid.UUID{sum.Categories[0].CategoryID, sum.Categories[1].CategoryID}
	assert.ElementsMatch(t, []uuid.UUID{e.groceries.ID, rent.ID}, ids)
	assert.Equal(t, "1100.00", sum.TotalBudgeted.String())
	assert.Equal(t, "-975.00", sum.TotalActivity.String())
	assert.Equal(t, "125.00", sum.TotalAvailable.String())
}
