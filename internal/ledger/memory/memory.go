// Package memory is an in-process ledger backend. Every mutation works on a
// private copy of the state that replaces the committed state only when the
// mutation succeeds, so readers always see a complete snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

type state struct {
	accounts     []core.Account
	categories   []core.Category
	months       []core.BudgetMonth
	allocations  []core.BudgetAllocation
	transactions []core.Transaction
	payees       []core.Payee
	recurring    []core.RecurringTransaction
	goals        []core.SavingsGoal
	audit        []core.AuditEntry
}

func (s *state) clone() *state {
	return &state{
		accounts:     append([]core.Account(nil), s.accounts...),
		categories:   append([]core.Category(nil), s.categories...),
		months:       append([]core.BudgetMonth(nil), s.months...),
		allocations:  append([]core.BudgetAllocation(nil), s.allocations...),
		transactions: append([]core.Transaction(nil), s.transactions...),
		payees:       append([]core.Payee(nil), s.payees...),
		recurring:    append([]core.RecurringTransaction(nil), s.recurring...),
		goals:        append([]core.SavingsGoal(nil), s.goals...),
		audit:        append([]core.AuditEntry(nil), s.audit...),
	}
}

type Store struct {
	mu  sync.RWMutex
	cur *state
}

func New() *Store {
	return &Store{cur: &state{}}
}

// View implements ledger.Backend.
func (s *Store) View(_ context.Context, fn func(ledger.Reader) error) error {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	return fn(&tx{s: snap})
}

// Update implements ledger.Backend.
func (s *Store) Update(_ context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.clone()
	if err := fn(&tx{s: next}); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func (s *Store) Close() error { return nil }

type tx struct {
	s *state
}

func find[T any](items []T, id uuid.UUID, idOf func(T) uuid.UUID) int {
	for i, it := range items {
		if idOf(it) == id {
			return i
		}
	}
	return -1
}

func get[T any](items []T, id uuid.UUID, idOf func(T) uuid.UUID, what string) (T, error) {
	if i := find(items, id, idOf); i >= 0 {
		return items[i], nil
	}
	var zero T
	return zero, fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
}

func upsert[T any](items *[]T, item T, idOf func(T) uuid.UUID) {
	if i := find(*items, idOf(item), idOf); i >= 0 {
		(*items)[i] = item
		return
	}
	*items = append(*items, item)
}

func remove[T any](items *[]T, keep func(T) bool) int {
	out := (*items)[:0:0]
	removed := 0
	for _, it := range *items {
		if keep(it) {
			out = append(out, it)
		} else {
			removed++
		}
	}
	*items = out
	return removed
}

func accountID(a core.Account) uuid.UUID { return a.ID }
func categoryID(c core.Category) uuid.UUID { return c.ID }
func monthID(m core.BudgetMonth) uuid.UUID { return m.ID }
func allocationID(a core.BudgetAllocation) uuid.UUID { return a.ID }
func transactionID(t core.Transaction) uuid.UUID { return t.ID }
func payeeID(p core.Payee) uuid.UUID { return p.ID }
func recurringID(r core.RecurringTransaction) uuid.UUID { return r.ID }
func goalID(g core.SavingsGoal) uuid.UUID { return g.ID }

func (t *tx) Account(_ context.Context, id uuid.UUID) (core.Account, error) {
	return get(t.s.accounts, id, accountID, "account")
}

func (t *tx) Accounts(context.Context) ([]core.Account, error) {
	return append([]core.Account(nil), t.s.accounts...), nil
}

func (t *tx) Category(_ context.Context, id uuid.UUID) (core.Category, error) {
	return get(t.s.categories, id, categoryID, "category")
}

func (t *tx) Categories(context.Context) ([]core.Category, error) {
	return append([]core.Category(nil), t.s.categories...), nil
}

func (t *tx) BudgetMonth(_ context.Context, id uuid.UUID) (core.BudgetMonth, error) {
	return get(t.s.months, id, monthID, "budget month")
}

func (t *tx) BudgetMonthFor(_ context.Context, m core.Month) (core.BudgetMonth, error) {
	for _, bm := range t.s.months {
		if bm.Month == m {
			return bm, nil
		}
	}
	return core.BudgetMonth{}, fmt.Errorf("budget month %s: %w", m, core.ErrNotFound)
}

func (t *tx) BudgetMonths(context.Context) ([]core.BudgetMonth, error) {
	out := append([]core.BudgetMonth(nil), t.s.months...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (t *tx) Allocation(_ context.Context, id uuid.UUID) (core.BudgetAllocation, error) {
	return get(t.s.allocations, id, allocationID, "allocation")
}

func (t *tx) Allocations(_ context.Context, f ledger.AllocationFilter) ([]core.BudgetAllocation, error) {
	monthOf := make(map[uuid.UUID]core.Month, len(t.s.months))
	for _, bm := range t.s.months {
		monthOf[bm.ID] = bm.Month
	}
	var out []core.BudgetAllocation
	for _, a := range t.s.allocations {
		if f.CategoryID != uuid.Nil && a.CategoryID != f.CategoryID {
			continue
		}
		if f.BudgetMonthID != uuid.Nil && a.BudgetMonthID != f.BudgetMonthID {
			continue
		}
		if !f.From.IsZero() || !f.To.IsZero() {
			m, ok := monthOf[a.BudgetMonthID]
			if !ok {
				continue
			}
			if !f.From.IsZero() && m.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && m.After(f.To) {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *tx) Transaction(_ context.Context, id uuid.UUID) (core.Transaction, error) {
	return get(t.s.transactions, id, transactionID, "transaction")
}

func (t *tx) Transactions(_ context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tr := range t.s.transactions {
		if f.CategoryID != uuid.Nil && tr.CategoryID != f.CategoryID {
			continue
		}
		if f.AccountID != uuid.Nil && tr.AccountID != f.AccountID {
			continue
		}
		if f.RecurringID != uuid.Nil && tr.RecurringID != f.RecurringID {
			continue
		}
		if !f.From.IsZero() && core.CompareDay(tr.Date, f.From) < 0 {
			continue
		}
		if !f.To.IsZero() && core.CompareDay(tr.Date, f.To) > 0 {
			continue
		}
		out = append(out, tr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return core.CompareDay(out[i].Date, out[j].Date) < 0
	})
	return out, nil
}

func (t *tx) Payee(_ context.Context, name string) (core.Payee, error) {
	for _, p := range t.s.payees {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return core.Payee{}, fmt.Errorf("payee %q: %w", name, core.ErrNotFound)
}

func (t *tx) Payees(context.Context) ([]core.Payee, error) {
	return append([]core.Payee(nil), t.s.payees...), nil
}

func (t *tx) RecurringTransaction(_ context.Context, id uuid.UUID) (core.RecurringTransaction, error) {
	return get(t.s.recurring, id, recurringID, "recurring transaction")
}

func (t *tx) RecurringTransactions(context.Context) ([]core.RecurringTransaction, error) {
	return append([]core.RecurringTransaction(nil), t.s.recurring...), nil
}

func (t *tx) Goal(_ context.Context, id uuid.UUID) (core.SavingsGoal, error) {
	return get(t.s.goals, id, goalID, "savings goal")
}

func (t *tx) Goals(context.Context) ([]core.SavingsGoal, error) {
	return append([]core.SavingsGoal(nil), t.s.goals...), nil
}

func (t *tx) AuditLog(_ context.Context, limit int) ([]core.AuditEntry, error) {
	out := make([]core.AuditEntry, 0, len(t.s.audit))
	for i := len(t.s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, t.s.audit[i])
	}
	return out, nil
}

func (t *tx) SaveAccount(_ context.Context, a core.Account) error {
	upsert(&t.s.accounts, a, accountID)
	return nil
}

func (t *tx) DeleteAccount(_ context.Context, id uuid.UUID) error {
	if remove(&t.s.accounts, func(a core.Account) bool { return a.ID != id }) == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	remove(&t.s.transactions, func(tr core.Transaction) bool {
		return tr.AccountID != id && tr.TransferToAccountID != id
	})
	remove(&t.s.recurring, func(r core.RecurringTransaction) bool {
		return r.AccountID != id && r.TransferToAccountID != id
	})
	return nil
}

func (t *tx) SaveCategory(_ context.Context, c core.Category) error {
	upsert(&t.s.categories, c, categoryID)
	return nil
}

func (t *tx) DeleteCategory(_ context.Context, id uuid.UUID) error {
	if remove(&t.s.categories, func(c core.Category) bool { return c.ID != id }) == 0 {
		return fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	remove(&t.s.transactions, func(tr core.Transaction) bool { return tr.CategoryID != id })
	remove(&t.s.allocations, func(a core.BudgetAllocation) bool { return a.CategoryID != id })
	remove(&t.s.recurring, func(r core.RecurringTransaction) bool { return r.CategoryID != id })
	for i := range t.s.categories {
		if t.s.categories[i].ParentID == id {
			t.s.categories[i].ParentID = uuid.Nil
		}
	}
	for i := range t.s.goals {
		if t.s.goals[i].LinkedCategoryID == id {
			t.s.goals[i].LinkedCategoryID = uuid.Nil
		}
	}
	for i := range t.s.payees {
		if t.s.payees[i].LastUsedCategoryID == id {
			t.s.payees[i].LastUsedCategoryID = uuid.Nil
		}
	}
	return nil
}

func (t *tx) SaveBudgetMonth(_ context.Context, m core.BudgetMonth) error {
	for _, bm := range t.s.months {
		if bm.Month == m.Month && bm.ID != m.ID {
			return fmt.Errorf("budget month %s: %w", m.Month, core.ErrConflict)
		}
	}
	upsert(&t.s.months, m, monthID)
	return nil
}

func (t *tx) SaveAllocation(_ context.Context, a core.BudgetAllocation) error {
	upsert(&t.s.allocations, a, allocationID)
	return nil
}

func (t *tx) DeleteAllocation(_ context.Context, id uuid.UUID) error {
	if remove(&t.s.allocations, func(a core.BudgetAllocation) bool { return a.ID != id }) == 0 {
		return fmt.Errorf("allocation %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (t *tx) SaveTransaction(_ context.Context, tr core.Transaction) error {
	if tr.RecurringID != uuid.Nil {
		day := core.CivilDate(tr.Date)
		for _, o := range t.s.transactions {
			if o.RecurringID == tr.RecurringID && o.ID != tr.ID && core.CivilDate(o.Date) == day {
				return fmt.Errorf("occurrence %s of %s: %w", day, tr.RecurringID, core.ErrConflict)
			}
		}
	}
	upsert(&t.s.transactions, tr, transactionID)
	return nil
}

func (t *tx) DeleteTransaction(_ context.Context, id uuid.UUID) error {
	if remove(&t.s.transactions, func(tr core.Transaction) bool { return tr.ID != id }) == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (t *tx) SavePayee(_ context.Context, p core.Payee) error {
	upsert(&t.s.payees, p, payeeID)
	return nil
}

func (t *tx) SaveRecurring(_ context.Context, r core.RecurringTransaction) error {
	upsert(&t.s.recurring, r, recurringID)
	return nil
}

func (t *tx) DeleteRecurring(_ context.Context, id uuid.UUID) error {
	if remove(&t.s.recurring, func(r core.RecurringTransaction) bool { return r.ID != id }) == 0 {
		return fmt.Errorf("recurring transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (t *tx) SaveGoal(_ context.Context, g core.SavingsGoal) error {
	upsert(&t.s.goals, g, goalID)
	return nil
}

func (t *tx) DeleteGoal(_ context.Context, id uuid.UUID) error {
	if remove(&t.s.goals, func(g core.SavingsGoal) bool { return g.ID != id }) == 0 {
		return fmt.Errorf("savings goal %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e core.AuditEntry) error {
	t.s.audit = append(t.s.audit, e)
	return nil
}
