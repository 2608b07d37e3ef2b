package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries implements ledger.Tx over one database transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

var _ ledger.Tx = (*Queries)(nil)

const timeLayout = time.RFC3339Nano

type scanner interface {
	Scan(dest ...any) error
}

func nullID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseID(s sql.NullString) (uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s.String)
}

func formatTime(t time.Time) string { return t.Format(timeLayout) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// classify maps driver errors onto the core taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")) {
			return fmt.Errorf("%s: %w: %v", op, core.ErrConflict, err)
		}
	}
	return core.StorageError(op, err)
}

func (q *Queries) execDelete(ctx context.Context, op, query string, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, core.ErrNotFound)
	}
	return nil
}

// --- accounts

const accountColumns = `id, name, type, is_budget, sort_order, created_at`

func scanAccount(row scanner) (core.Account, error) {
	var (
		a       core.Account
		id      string
		created string
	)
	if err := row.Scan(&id, &a.Name, &a.Type, &a.IsBudget, &a.SortOrder, &created); err != nil {
		return a, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return a, err
	}
	a.CreatedAt, err = parseTime(created)
	return a, err
}

func (q *Queries) Account(ctx context.Context, id uuid.UUID) (core.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	a, err := scanAccount(row)
	return a, classify("get account", err)
}

func (q *Queries) Accounts(ctx context.Context) ([]core.Account, error) {
	return queryAll(ctx, q, "list accounts", scanAccount, `SELECT `+accountColumns+` FROM accounts ORDER BY rowid`)
}

func (q *Queries) SaveAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, type = excluded.type, is_budget = excluded.is_budget,
			sort_order = excluded.sort_order, created_at = excluded.created_at`,
		a.ID.String(), a.Name, string(a.Type), a.IsBudget, a.SortOrder, formatTime(a.CreatedAt))
	return classify("save account", err)
}

func (q *Queries) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return q.execDelete(ctx, "delete account", `DELETE FROM accounts WHERE id = ?`, id)
}

// --- categories

const categoryColumns = `id, name, emoji, is_header, is_system, sort_order, parent_id, created_at`

func scanCategory(row scanner) (core.Category, error) {
	var (
		c       core.Category
		id      string
		parent  sql.NullString
		created string
	)
	if err := row.Scan(&id, &c.Name, &c.Emoji, &c.IsHeader, &c.IsSystem, &c.SortOrder, &parent, &created); err != nil {
		return c, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return c, err
	}
	if c.ParentID, err = parseID(parent); err != nil {
		return c, err
	}
	c.CreatedAt, err = parseTime(created)
	return c, err
}

func (q *Queries) Category(ctx context.Context, id uuid.UUID) (core.Category, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id.String())
	c, err := scanCategory(row)
	return c, classify("get category", err)
}

func (q *Queries) Categories(ctx context.Context) ([]core.Category, error) {
	return queryAll(ctx, q, "list categories", scanCategory, `SELECT `+categoryColumns+` FROM categories ORDER BY rowid`)
}

func (q *Queries) SaveCategory(ctx context.Context, c core.Category) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, emoji = excluded.emoji, is_header = excluded.is_header,
			is_system = excluded.is_system, sort_order = excluded.sort_order,
			parent_id = excluded.parent_id, created_at = excluded.created_at`,
		c.ID.String(), c.Name, c.Emoji, c.IsHeader, c.IsSystem, c.SortOrder, nullID(c.ParentID), formatTime(c.CreatedAt))
	return classify("save category", err)
}

func (q *Queries) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return q.execDelete(ctx, "delete category", `DELETE FROM categories WHERE id = ?`, id)
}

// --- budget months

func scanBudgetMonth(row scanner) (core.BudgetMonth, error) {
	var (
		bm    core.BudgetMonth
		id    string
		month string
	)
	if err := row.Scan(&id, &month, &bm.Note); err != nil {
		return bm, err
	}
	var err error
	if bm.ID, err = uuid.Parse(id); err != nil {
		return bm, err
	}
	bm.Month, err = core.ParseMonth(month)
	return bm, err
}

func (q *Queries) BudgetMonth(ctx context.Context, id uuid.UUID) (core.BudgetMonth, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id, month, note FROM budget_months WHERE id = ?`, id.String())
	bm, err := scanBudgetMonth(row)
	return bm, classify("get budget month", err)
}

func (q *Queries) BudgetMonthFor(ctx context.Context, m core.Month) (core.BudgetMonth, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id, month, note FROM budget_months WHERE month = ?`, m.String())
	bm, err := scanBudgetMonth(row)
	return bm, classify("get budget month "+m.String(), err)
}

func (q *Queries) BudgetMonths(ctx context.Context) ([]core.BudgetMonth, error) {
	return queryAll(ctx, q, "list budget months", scanBudgetMonth, `SELECT id, month, note FROM budget_months ORDER BY month`)
}

func (q *Queries) SaveBudgetMonth(ctx context.Context, m core.BudgetMonth) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO budget_months (id, month, note) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET month = excluded.month, note = excluded.note`,
		m.ID.String(), m.Month.String(), m.Note)
	return classify("save budget month", err)
}

// --- allocations

func scanAllocation(row scanner) (core.BudgetAllocation, error) {
	var (
		a                     core.BudgetAllocation
		id, budgeted, monthID string
		category              sql.NullString
	)
	if err := row.Scan(&id, &budgeted, &category, &monthID); err != nil {
		return a, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return a, err
	}
	if a.Budgeted, err = core.ParseMoney(budgeted); err != nil {
		return a, err
	}
	if a.CategoryID, err = parseID(category); err != nil {
		return a, err
	}
	a.BudgetMonthID, err = uuid.Parse(monthID)
	return a, err
}

func (q *Queries) Allocation(ctx context.Context, id uuid.UUID) (core.BudgetAllocation, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, budgeted, category_id, budget_month_id FROM allocations WHERE id = ?`, id.String())
	a, err := scanAllocation(row)
	return a, classify("get allocation", err)
}

func (q *Queries) Allocations(ctx context.Context, f ledger.AllocationFilter) ([]core.BudgetAllocation, error) {
	var (
		where []string
		args  []any
	)
	if f.CategoryID != uuid.Nil {
		where = append(where, "a.category_id = ?")
		args = append(args, f.CategoryID.String())
	}
	if f.BudgetMonthID != uuid.Nil {
		where = append(where, "a.budget_month_id = ?")
		args = append(args, f.BudgetMonthID.String())
	}
	if !f.From.IsZero() {
		where = append(where, "m.month >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "m.month <= ?")
		args = append(args, f.To.String())
	}
	query := `SELECT a.id, a.budgeted, a.category_id, a.budget_month_id
		FROM allocations a JOIN budget_months m ON m.id = a.budget_month_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.rowid"
	return queryAll(ctx, q, "list allocations", scanAllocation, query, args...)
}

func (q *Queries) SaveAllocation(ctx context.Context, a core.BudgetAllocation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO allocations (id, budgeted, category_id, budget_month_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			budgeted = excluded.budgeted, category_id = excluded.category_id,
			budget_month_id = excluded.budget_month_id`,
		a.ID.String(), a.Budgeted.String(), nullID(a.CategoryID), a.BudgetMonthID.String())
	return classify("save allocation", err)
}

func (q *Queries) DeleteAllocation(ctx context.Context, id uuid.UUID) error {
	return q.execDelete(ctx, "delete allocation", `DELETE FROM allocations WHERE id = ?`, id)
}

// --- transactions

const transactionColumns = `id, amount, payee, memo, date, type, is_cleared,
	account_id, category_id, transfer_to_account_id, recurring_id`

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                               core.Transaction
		id, amount, date, account       string
		category, transferTo, recurring sql.NullString
	)
	if err := row.Scan(&id, &amount, &t.Payee, &t.Memo, &date, &t.Type, &t.IsCleared,
		&account, &category, &transferTo, &recurring); err != nil {
		return t, err
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return t, err
	}
	if t.Amount, err = core.ParseMoney(amount); err != nil {
		return t, err
	}
	if t.Date, err = parseTime(date); err != nil {
		return t, err
	}
	if t.AccountID, err = uuid.Parse(account); err != nil {
		return t, err
	}
	if t.CategoryID, err = parseID(category); err != nil {
		return t, err
	}
	if t.TransferToAccountID, err = parseID(transferTo); err != nil {
		return t, err
	}
	t.RecurringID, err = parseID(recurring)
	return t, err
}

func (q *Queries) Transaction(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id.String())
	t, err := scanTransaction(row)
	return t, classify("get transaction", err)
}

func (q *Queries) Transactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.CategoryID != uuid.Nil {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID.String())
	}
	if f.AccountID != uuid.Nil {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID.String())
	}
	if f.RecurringID != uuid.Nil {
		where = append(where, "recurring_id = ?")
		args = append(args, f.RecurringID.String())
	}
	if !f.From.IsZero() {
		where = append(where, "day >= ?")
		args = append(args, core.CivilDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "day <= ?")
		args = append(args, core.CivilDate(f.To))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY day, rowid"
	return queryAll(ctx, q, "list transactions", scanTransaction, query, args...)
}

func (q *Queries) SaveTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`, day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount, payee = excluded.payee, memo = excluded.memo,
			date = excluded.date, type = excluded.type, is_cleared = excluded.is_cleared,
			account_id = excluded.account_id, category_id = excluded.category_id,
			transfer_to_account_id = excluded.transfer_to_account_id,
			recurring_id = excluded.recurring_id, day = excluded.day`,
		t.ID.String(), t.Amount.String(), t.Payee, t.Memo, formatTime(t.Date), string(t.Type), t.IsCleared,
		t.AccountID.String(), nullID(t.CategoryID), nullID(t.TransferToAccountID), nullID(t.RecurringID),
		core.CivilDate(t.Date))
	return classify("save transaction", err)
}

func (q *Queries) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	return q.execDelete(ctx, "delete transaction", `DELETE FROM transactions WHERE id = ?`, id)
}

// --- payees

func scanPayee(row scanner) (core.Payee, error) {
	var (
		p        core.Payee
		id, used string
		category sql.NullString
	)
	if err := row.Scan(&id, &p.Name, &used, &p.UseCount, &category); err != nil {
		return p, err
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return p, err
	}
	if p.LastUsedDate, err = parseTime(used); err != nil {
		return p, err
	}
	p.LastUsedCategoryID, err = parseID(category)
	return p, err
}

const payeeColumns = `id, name, last_used_date, use_count, last_used_category_id`

func (q *Queries) Payee(ctx context.Context, name string) (core.Payee, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+payeeColumns+` FROM payees WHERE name = ?`, name)
	p, err := scanPayee(row)
	return p, classify(fmt.Sprintf("get payee %q", name), err)
}

func (q *Queries) Payees(ctx context.Context) ([]core.Payee, error) {
	return queryAll(ctx, q, "list payees", scanPayee, `SELECT `+payeeColumns+` FROM payees ORDER BY rowid`)
}

func (q *Queries) SavePayee(ctx context.Context, p core.Payee) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payees (`+payeeColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, last_used_date = excluded.last_used_date,
			use_count = excluded.use_count, last_used_category_id = excluded.last_used_category_id`,
		p.ID.String(), p.Name, formatTime(p.LastUsedDate), p.UseCount, nullID(p.LastUsedCategoryID))
	return classify("save payee", err)
}

// --- recurring transactions

const recurringColumns = `id, amount, payee, memo, type, is_cleared, account_id, category_id,
	transfer_to_account_id, frequency, interval_count, anchor_date, next_due_date, end_date, status, created_at`

func scanRecurring(row scanner) (core.RecurringTransaction, error) {
	var (
		r                                          core.RecurringTransaction
		id, amount, account, anchor, next, created string
		category, transferTo, end                  sql.NullString
	)
	if err := row.Scan(&id, &amount, &r.Payee, &r.Memo, &r.Type, &r.IsCleared, &account, &category,
		&transferTo, &r.Frequency, &r.Interval, &anchor, &next, &end, &r.Status, &created); err != nil {
		return r, err
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return r, err
	}
	if r.Amount, err = core.ParseMoney(amount); err != nil {
		return r, err
	}
	if r.AccountID, err = uuid.Parse(account); err != nil {
		return r, err
	}
	if r.CategoryID, err = parseID(category); err != nil {
		return r, err
	}
	if r.TransferToAccountID, err = parseID(transferTo); err != nil {
		return r, err
	}
	if r.AnchorDate, err = parseTime(anchor); err != nil {
		return r, err
	}
	if r.NextDueDate, err = parseTime(next); err != nil {
		return r, err
	}
	if r.EndDate, err = parseNullTime(end); err != nil {
		return r, err
	}
	r.CreatedAt, err = parseTime(created)
	return r, err
}

func (q *Queries) RecurringTransaction(ctx context.Context, id uuid.UUID) (core.RecurringTransaction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_transactions WHERE id = ?`, id.String())
	r, err := scanRecurring(row)
	return r, classify("get recurring transaction", err)
}

func (q *Queries) RecurringTransactions(ctx context.Context) ([]core.RecurringTransaction, error) {
	return queryAll(ctx, q, "list recurring transactions", scanRecurring,
		`SELECT `+recurringColumns+` FROM recurring_transactions ORDER BY rowid`)
}

func (q *Queries) SaveRecurring(ctx context.Context, r core.RecurringTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount, payee = excluded.payee, memo = excluded.memo,
			type = excluded.type, is_cleared = excluded.is_cleared,
			account_id = excluded.account_id, category_id = excluded.category_id,
			transfer_to_account_id = excluded.transfer_to_account_id,
			frequency = excluded.frequency, interval_count = excluded.interval_count,
			anchor_date = excluded.anchor_date, next_due_date = excluded.next_due_date,
			end_date = excluded.end_date, status = excluded.status, created_at = excluded.created_at`,
		r.ID.String(), r.Amount.String(), r.Payee, r.Memo, string(r.Type), r.IsCleared,
		r.AccountID.String(), nullID(r.CategoryID), nullID(r.TransferToAccountID),
		string(r.Frequency), r.Interval, formatTime(r.AnchorDate), formatTime(r.NextDueDate),
		nullTime(r.EndDate), string(r.Status), formatTime(r.CreatedAt))
	return classify("save recurring transaction", err)
}

func (q *Queries) DeleteRecurring(ctx context.Context, id uuid.UUID) error {
	return q.execDelete(ctx, "delete recurring transaction", `DELETE FROM recurring_transactions WHERE id = ?`, id)
}

// --- savings goals

const goalColumns = `id, name, target_amount, target_date, linked_category_id, created_at`

func scanGoal(row scanner) (core.SavingsGoal, error) {
	var (
		g                   core.SavingsGoal
		id, target, created string
		date, category      sql.NullString
	)
	if err := row.Scan(&id, &g.Name, &target, &date, &category, &created); err != nil {
		return g, err
	}
	var err error
	if g.ID, err = uuid.Parse(id); err != nil {
		return g, err
	}
	if g.TargetAmount, err = core.ParseMoney(target); err != nil {
		return g, err
	}
	if g.TargetDate, err = parseNullTime(date); err != nil {
		return g, err
	}
	if g.LinkedCategoryID, err = parseID(category); err != nil {
		return g, err
	}
	g.CreatedAt, err = parseTime(created)
	return g, err
}

func (q *Queries) Goal(ctx context.Context, id uuid.UUID) (core.SavingsGoal, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE id = ?`, id.String())
	g, err := scanGoal(row)
	return g, classify("get savings goal", err)
}

func (q *Queries) Goals(ctx context.Context) ([]core.SavingsGoal, error) {
	return queryAll(ctx, q, "list savings goals", scanGoal, `SELECT `+goalColumns+` FROM savings_goals ORDER BY rowid`)
}

func (q *Queries) SaveGoal(ctx context.Context, g core.SavingsGoal) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO savings_goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, target_amount = excluded.target_amount,
			target_date = excluded.target_date, linked_category_id = excluded.linked_category_id,
			created_at = excluded.created_at`,
		g.ID.String(), g.Name, g.TargetAmount.String(), nullTime(g.TargetDate), nullID(g.LinkedCategoryID),
		formatTime(g.CreatedAt))
	return classify("save savings goal", err)
}

func (q *Queries) DeleteGoal(ctx context.Context, id uuid.UUID) error {
	return q.execDelete(ctx, "delete savings goal", `DELETE FROM savings_goals WHERE id = ?`, id)
}

// --- audit log

func scanAudit(row scanner) (core.AuditEntry, error) {
	var (
		e      core.AuditEntry
		id, at string
		entity sql.NullString
	)
	if err := row.Scan(&id, &at, &e.Kind, &entity, &e.Detail); err != nil {
		return e, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return e, err
	}
	if e.At, err = parseTime(at); err != nil {
		return e, err
	}
	e.EntityID, err = parseID(entity)
	return e, err
}

func (q *Queries) AuditLog(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	query := `SELECT id, at, kind, entity_id, detail FROM maintenance_audit ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return queryAll(ctx, q, "list audit log", scanAudit, query, args...)
}

func (q *Queries) AppendAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO maintenance_audit (id, at, kind, entity_id, detail) VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), formatTime(e.At), e.Kind, nullID(e.EntityID), e.Detail)
	return classify("append audit entry", err)
}

func queryAll[T any](ctx context.Context, q *Queries, op string, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}
