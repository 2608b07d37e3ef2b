package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"famfin/internal/core"
)

// Change describes one committed write, for event publication.
type Change struct {
	Entity string
	ID     uuid.UUID
	Op     string
	Month  core.Month
}

// ChangeSet summarizes a committed mutation.
type ChangeSet struct {
	// Touched maps a category to the earliest month whose budgeted or
	// activity value may have changed.
	Touched map[uuid.UUID]core.Month
	// Reset lists categories whose whole history must be recomputed
	// (category edited or deleted, epoch may have moved).
	Reset   map[uuid.UUID]struct{}
	Changes []Change
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Touched: make(map[uuid.UUID]core.Month),
		Reset:   make(map[uuid.UUID]struct{}),
	}
}

func (cs *ChangeSet) touch(category uuid.UUID, m core.Month) {
	if category == uuid.Nil || m.IsZero() {
		return
	}
	if cur, ok := cs.Touched[category]; !ok || m.Before(cur) {
		cs.Touched[category] = m
	}
}

func (cs *ChangeSet) reset(category uuid.UUID) {
	if category != uuid.Nil {
		cs.Reset[category] = struct{}{}
	}
}

func (cs *ChangeSet) record(entity string, id uuid.UUID, op string, m core.Month) {
	cs.Changes = append(cs.Changes, Change{Entity: entity, ID: id, Op: op, Month: m})
}

// Empty reports whether the mutation wrote nothing.
func (cs ChangeSet) Empty() bool {
	return len(cs.Touched) == 0 && len(cs.Reset) == 0 && len(cs.Changes) == 0
}

// CommitHook runs after a mutation committed. Hooks must not call Update.
type CommitHook func(ctx context.Context, cs ChangeSet)

// Ledger is the single entry point to the store. Mutations are serialized
// (one logical writer) and each runs as one backend transaction; reads may
// run concurrently and always observe a committed snapshot.
type Ledger struct {
	backend Backend
	writeMu sync.Mutex
	// version is odd while a mutation (including its hooks) is in flight.
	version atomic.Uint64

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

func New(backend Backend) *Ledger {
	return &Ledger{backend: backend}
}

// OnCommit registers a hook called after every successful mutation.
func (l *Ledger) OnCommit(h CommitHook) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.hooks = append(l.hooks, h)
}

func (l *Ledger) View(ctx context.Context, fn func(Reader) error) error {
	return l.backend.View(ctx, fn)
}

// Update runs fn as one atomic mutation and returns the committed change
// set. On error nothing is kept and no hook runs.
func (l *Ledger) Update(ctx context.Context, fn func(Tx) error) (ChangeSet, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.version.Add(1)
	defer l.version.Add(1)

	var cs *ChangeSet
	err := l.backend.Update(ctx, func(tx Tx) error {
		cs = newChangeSet()
		return fn(&trackedTx{Tx: tx, cs: cs})
	})
	if err != nil {
		return ChangeSet{}, err
	}

	l.hooksMu.RLock()
	hooks := append([]CommitHook(nil), l.hooks...)
	l.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, *cs)
	}
	return *cs, nil
}

// Version changes whenever a mutation starts or finishes. Readers that cache
// derived values compare it before and after a read to detect a concurrent
// commit; an odd value means a mutation is in flight.
func (l *Ledger) Version() uint64 {
	return l.version.Load()
}

func (l *Ledger) Close() error {
	return l.backend.Close()
}

// trackedTx records which (category, month) pairs each write touches,
// reading the previous version of updated rows so that both the old and the
// new position are invalidated.
type trackedTx struct {
	Tx
	cs *ChangeSet
}

func (t *trackedTx) monthOf(ctx context.Context, budgetMonthID uuid.UUID) core.Month {
	bm, err := t.Tx.BudgetMonth(ctx, budgetMonthID)
	if err != nil {
		return core.Month{}
	}
	return bm.Month
}

func (t *trackedTx) SaveAllocation(ctx context.Context, a core.BudgetAllocation) error {
	if old, err := t.Tx.Allocation(ctx, a.ID); err == nil {
		t.cs.touch(old.CategoryID, t.monthOf(ctx, old.BudgetMonthID))
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if err := t.Tx.SaveAllocation(ctx, a); err != nil {
		return err
	}
	m := t.monthOf(ctx, a.BudgetMonthID)
	t.cs.touch(a.CategoryID, m)
	t.cs.record("allocation", a.ID, "save", m)
	return nil
}

func (t *trackedTx) DeleteAllocation(ctx context.Context, id uuid.UUID) error {
	old, err := t.Tx.Allocation(ctx, id)
	if err != nil {
		return err
	}
	if err := t.Tx.DeleteAllocation(ctx, id); err != nil {
		return err
	}
	m := t.monthOf(ctx, old.BudgetMonthID)
	t.cs.touch(old.CategoryID, m)
	t.cs.record("allocation", id, "delete", m)
	return nil
}

func (t *trackedTx) SaveTransaction(ctx context.Context, tr core.Transaction) error {
	if old, err := t.Tx.Transaction(ctx, tr.ID); err == nil {
		t.cs.touch(old.CategoryID, core.MonthOf(old.Date))
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if err := t.Tx.SaveTransaction(ctx, tr); err != nil {
		return err
	}
	t.cs.touch(tr.CategoryID, core.MonthOf(tr.Date))
	t.cs.record("transaction", tr.ID, "save", core.MonthOf(tr.Date))
	return nil
}

func (t *trackedTx) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	old, err := t.Tx.Transaction(ctx, id)
	if err != nil {
		return err
	}
	if err := t.Tx.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	t.cs.touch(old.CategoryID, core.MonthOf(old.Date))
	t.cs.record("transaction", id, "delete", core.MonthOf(old.Date))
	return nil
}

// touchAccount invalidates every category the account's transactions feed.
func (t *trackedTx) touchAccount(ctx context.Context, id uuid.UUID) error {
	txs, err := t.Tx.Transactions(ctx, TransactionFilter{AccountID: id})
	if err != nil {
		return fmt.Errorf("load account transactions: %w", err)
	}
	for _, tr := range txs {
		t.cs.touch(tr.CategoryID, core.MonthOf(tr.Date))
	}
	return nil
}

func (t *trackedTx) SaveAccount(ctx context.Context, a core.Account) error {
	old, err := t.Tx.Account(ctx, a.ID)
	switch {
	case err == nil && old.IsBudget != a.IsBudget:
		if err := t.touchAccount(ctx, a.ID); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return err
	}
	if err := t.Tx.SaveAccount(ctx, a); err != nil {
		return err
	}
	t.cs.record("account", a.ID, "save", core.Month{})
	return nil
}

func (t *trackedTx) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := t.touchAccount(ctx, id); err != nil {
		return err
	}
	if err := t.Tx.DeleteAccount(ctx, id); err != nil {
		return err
	}
	t.cs.record("account", id, "delete", core.Month{})
	return nil
}

func (t *trackedTx) SaveCategory(ctx context.Context, c core.Category) error {
	if err := t.Tx.SaveCategory(ctx, c); err != nil {
		return err
	}
	t.cs.reset(c.ID)
	t.cs.record("category", c.ID, "save", core.Month{})
	return nil
}

func (t *trackedTx) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if err := t.Tx.DeleteCategory(ctx, id); err != nil {
		return err
	}
	t.cs.reset(id)
	t.cs.record("category", id, "delete", core.Month{})
	return nil
}

func (t *trackedTx) SaveRecurring(ctx context.Context, r core.RecurringTransaction) error {
	if err := t.Tx.SaveRecurring(ctx, r); err != nil {
		return err
	}
	t.cs.record("recurring", r.ID, "save", core.Month{})
	return nil
}

func (t *trackedTx) SaveGoal(ctx context.Context, g core.SavingsGoal) error {
	if err := t.Tx.SaveGoal(ctx, g); err != nil {
		return err
	}
	t.cs.record("goal", g.ID, "save", core.Month{})
	return nil
}

// LogCommit is a CommitHook that logs a one-line summary of each mutation.
func LogCommit(ctx context.Context, cs ChangeSet) {
	if cs.Empty() {
		return
	}
	slog.DebugContext(ctx, "Ledger mutation committed",
		"changes", len(cs.Changes),
		"categories_touched", len(cs.Touched),
		"categories_reset", len(cs.Reset))
}
