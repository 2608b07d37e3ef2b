package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"famfin/internal/amqp"
	"famfin/internal/core"
	"famfin/internal/ledger"
	"famfin/internal/ledger/memory"
)

type countingRepair struct{ n atomic.Int32 }

func (c *countingRepair) RequestRepair() { c.n.Add(1) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testEnv struct {
	t       *testing.T
	ctx     context.Context
	ledger  *ledger.Ledger
	svc     *BudgetService
	calc    *Calculator
	repairs *countingRepair
	pub     *recordingPublisher

	account   core.Account
	groceries core.Category
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	return newEnvWithBackend(t, memory.New())
}

func newEnvWithBackend(t *testing.T, backend ledger.Backend) *testEnv {
	t.Helper()
	l := ledger.New(backend)
	e := &testEnv{
		t:       t,
		ctx:     context.Background(),
		ledger:  l,
		repairs: &countingRepair{},
		pub:     &recordingPublisher{},
	}
	e.svc = NewBudgetService(l, e.pub)
	e.calc = NewCalculator(l, CalculatorConfig{CacheSize: 64}, e.repairs)

	var err error
	e.account, err = e.svc.CreateAccount(e.ctx, core.Account{Name: "Joint Current", Type: core.AccountCurrent, IsBudget: true})
	require.NoError(t, err)
	e.groceries = e.category("Groceries", uuid.Nil, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	return e
}

func (e *testEnv) category(name string, parent uuid.UUID, created time.Time) core.Category {
	e.t.Helper()
	c, err := e.svc.CreateCategory(e.ctx, core.Category{Name: name, ParentID: parent, CreatedAt: created})
	require.NoError(e.t, err)
	return c
}

func (e *testEnv) budget(c core.Category, m core.Month, amount string) {
	e.t.Helper()
	_, err := e.svc.SetBudgeted(e.ctx, c.ID, m, core.MustMoney(amount))
	require.NoError(e.t, err)
}

func (e *testEnv) spend(c core.Category, day time.Time, amount string) core.Transaction {
	e.t.Helper()
	tr, err := e.svc.RecordTransaction(e.ctx, core.Transaction{
		Type:       core.Expense,
		Amount:     core.MustMoney(amount),
		Payee:      "Tesco",
		Date:       day,
		AccountID:  e.account.ID,
		CategoryID: c.ID,
	})
	require.NoError(e.t, err)
	return tr
}

func (e *testEnv) available(c core.Category, m core.Month) string {
	e.t.Helper()
	v, err := e.calc.Available(e.ctx, c.ID, m)
	require.NoError(e.t, err)
	return v.String()
}

func (e *testEnv) transactions(f ledger.TransactionFilter) []core.Transaction {
	e.t.Helper()
	var out []core.Transaction
	require.NoError(e.t, e.ledger.View(e.ctx, func(r ledger.Reader) error {
		var err error
		out, err = r.Transactions(e.ctx, f)
		return err
	}))
	return out
}

func (e *testEnv) allocations(f ledger.AllocationFilter) []core.BudgetAllocation {
	e.t.Helper()
	var out []core.BudgetAllocation
	require.NoError(e.t, e.ledger.View(e.ctx, func(r ledger.Reader) error {
		var err error
		out, err = r.Allocations(e.ctx, f)
		return err
	}))
	return out
}

func (e *testEnv) schedule(id uuid.UUID) core.RecurringTransaction {
	e.t.Helper()
	var out core.RecurringTransaction
	require.NoError(e.t, e.ledger.View(e.ctx, func(r ledger.Reader) error {
		var err error
		out, err = r.RecurringTransaction(e.ctx, id)
		return err
	}))
	return out
}

func (e *testEnv) auditLog() []core.AuditEntry {
	e.t.Helper()
	var out []core.AuditEntry
	require.NoError(e.t, e.ledger.View(e.ctx, func(r ledger.Reader) error {
		var err error
		out, err = r.AuditLog(e.ctx, 0)
		return err
	}))
	return out
}

func month(y int, m time.Month) core.Month { return core.NewMonth(y, m) }
