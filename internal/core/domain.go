package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	ScheduleActive      ScheduleStatus = "active"
	ScheduleExpired     ScheduleStatus = "expired"
	ScheduleNeedsReview ScheduleStatus = "needs_review"
)

const (
	AccountCurrent    AccountType = "current"
	AccountSavings    AccountType = "savings"
	AccountCreditCard AccountType = "credit_card"
	AccountLoan       AccountType = "loan"
	AccountMortgage   AccountType = "mortgage"
	AccountCash       AccountType = "cash"
	AccountOther      AccountType = "other"
)

const maxNameLength = 200

// Entity references are uuid.UUID values; uuid.Nil means "no reference".
type (
	Frequency       string
	TransactionType string
	ScheduleStatus  string
	AccountType     string

	Account struct {
		ID        uuid.UUID
		Name      string
		Type      AccountType
		IsBudget  bool // false for tracking accounts
		SortOrder int
		CreatedAt time.Time
	}

	Category struct {
		ID        uuid.UUID
		Name      string
		Emoji     string
		IsHeader  bool
		IsSystem  bool
		SortOrder int
		ParentID  uuid.UUID
		CreatedAt time.Time
	}

	BudgetMonth struct {
		ID    uuid.UUID
		Month Month
		Note  string
	}

	BudgetAllocation struct {
		ID            uuid.UUID
		Budgeted      Money
		CategoryID    uuid.UUID
		BudgetMonthID uuid.UUID
	}

	Transaction struct {
		ID                  uuid.UUID
		Amount              Money
		Payee               string
		Memo                string
		Date                time.Time
		Type                TransactionType
		IsCleared           bool
		AccountID           uuid.UUID
		CategoryID          uuid.UUID
		TransferToAccountID uuid.UUID
		RecurringID         uuid.UUID // schedule that materialized it, if any
	}

	Payee struct {
		ID                 uuid.UUID
		Name               string
		LastUsedDate       time.Time
		UseCount           int
		LastUsedCategoryID uuid.UUID
	}

	RecurringTransaction struct {
		ID                  uuid.UUID
		Amount              Money
		Payee               string
		Memo                string
		Type                TransactionType
		IsCleared           bool
		AccountID           uuid.UUID
		CategoryID          uuid.UUID
		TransferToAccountID uuid.UUID

		Frequency   Frequency
		Interval    int
		AnchorDate  time.Time
		NextDueDate time.Time
		EndDate     *time.Time
		Status      ScheduleStatus
		CreatedAt   time.Time
	}

	SavingsGoal struct {
		ID               uuid.UUID
		Name             string
		TargetAmount     Money
		TargetDate       *time.Time
		LinkedCategoryID uuid.UUID
		CreatedAt        time.Time
	}

	// AuditEntry records one repair or maintenance action.
	AuditEntry struct {
		ID       uuid.UUID
		At       time.Time
		Kind     string
		EntityID uuid.UUID
		Detail   string
	}
)

// NewID returns a fresh random entity ID.
func NewID() uuid.UUID { return uuid.New() }

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return invalid("name", "too long (max %d characters)", maxNameLength)
	}
	return nil
}

func (t AccountType) IsValid() bool {
	switch t {
	case AccountCurrent, AccountSavings, AccountCreditCard, AccountLoan, AccountMortgage, AccountCash, AccountOther:
		return true
	}
	return false
}

func (a Account) Validate() error {
	if err := validName(a.Name); err != nil {
		return err
	}
	if !a.Type.IsValid() {
		return invalid("type", "unknown account type %q", a.Type)
	}
	return nil
}

// Validate checks the category on its own. The depth rule needs the parent
// and is checked by ValidateParent.
func (c Category) Validate() error {
	if err := validName(c.Name); err != nil {
		return err
	}
	if c.ParentID != uuid.Nil && c.ParentID == c.ID {
		return invalid("parent", "category cannot be its own parent")
	}
	return nil
}

// ValidateParent enforces the one-level hierarchy: a parent must itself be
// top-level.
func (c Category) ValidateParent(parent Category) error {
	if parent.ParentID != uuid.Nil {
		return ErrCategoryTooDeep
	}
	return nil
}

// HoldsMoney reports whether allocations and transactions may reference c.
func (c Category) HoldsMoney() bool { return !c.IsHeader }

func (a BudgetAllocation) Validate() error {
	if a.CategoryID == uuid.Nil {
		return ErrMissingCategory
	}
	if a.BudgetMonthID == uuid.Nil {
		return invalid("month", "budget month is required")
	}
	return nil
}

func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

// Normalize applies the sign convention from the owning account's point of
// view: expenses are negative, income positive. Transfers keep their sign.
func (t Transaction) Normalize() Transaction {
	switch t.Type {
	case Expense:
		t.Amount = t.Amount.Abs().Neg()
	case Income:
		t.Amount = t.Amount.Abs()
	}
	return t
}

func (t Transaction) Validate() error {
	if !t.Type.IsValid() {
		return invalid("type", "unknown transaction type %q", t.Type)
	}
	if t.Date.IsZero() {
		return invalid("date", "date cannot be zero")
	}
	if err := validDate("date", t.Date); err != nil {
		return err
	}
	if t.AccountID == uuid.Nil {
		return invalid("account", "account is required")
	}
	if len(t.Payee) > maxNameLength {
		return invalid("payee", "too long (max %d characters)", maxNameLength)
	}
	return validTransferShape(t.Type, t.AccountID, t.CategoryID, t.TransferToAccountID)
}

func validTransferShape(typ TransactionType, account, category, transferTo uuid.UUID) error {
	if typ == Transfer {
		if transferTo == uuid.Nil {
			return invalid("transfer_to", "transfer needs a destination account")
		}
		if transferTo == account {
			return invalid("transfer_to", "transfer destination must differ from source")
		}
		if category != uuid.Nil {
			return invalid("category", "transfers cannot be categorized")
		}
		return nil
	}
	if transferTo != uuid.Nil {
		return invalid("transfer_to", "only transfers have a destination account")
	}
	return nil
}

// CountsAsActivity reports whether t contributes to category activity on an
// account with the given budget flag.
func (t Transaction) CountsAsActivity(onBudget bool) bool {
	return onBudget && t.Type != Transfer && t.CategoryID != uuid.Nil
}

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (r RecurringTransaction) Validate() error {
	if !r.Frequency.IsValid() {
		return ErrInvalidFrequency
	}
	if r.Interval < 1 {
		return invalid("interval", "interval must be at least 1, got %d", r.Interval)
	}
	if r.AnchorDate.IsZero() {
		return invalid("anchor_date", "anchor date cannot be zero")
	}
	if err := validDate("anchor_date", r.AnchorDate); err != nil {
		return err
	}
	if r.EndDate != nil {
		if err := validDate("end_date", *r.EndDate); err != nil {
			return err
		}
		if CompareDay(*r.EndDate, r.AnchorDate) < 0 {
			return invalid("end_date", "end date must not be before anchor date")
		}
	}
	if !r.Type.IsValid() {
		return invalid("type", "unknown transaction type %q", r.Type)
	}
	if r.AccountID == uuid.Nil {
		return invalid("account", "account is required")
	}
	if strings.TrimSpace(r.Payee) == "" {
		return invalid("payee", "payee cannot be empty")
	}
	return validTransferShape(r.Type, r.AccountID, r.CategoryID, r.TransferToAccountID)
}

// Occurrence builds the concrete transaction materialized on date.
func (r RecurringTransaction) Occurrence(date time.Time) Transaction {
	return Transaction{
		ID:                  NewID(),
		Amount:              r.Amount,
		Payee:               r.Payee,
		Memo:                r.Memo,
		Date:                date,
		Type:                r.Type,
		IsCleared:           r.IsCleared,
		AccountID:           r.AccountID,
		CategoryID:          r.CategoryID,
		TransferToAccountID: r.TransferToAccountID,
		RecurringID:         r.ID,
	}.Normalize()
}

// PastEnd reports whether date lies after the schedule's end date.
func (r RecurringTransaction) PastEnd(date time.Time) bool {
	return r.EndDate != nil && CompareDay(date, *r.EndDate) > 0
}

func (g SavingsGoal) Validate() error {
	if err := validName(g.Name); err != nil {
		return err
	}
	if !g.TargetAmount.IsPositive() {
		return invalid("target_amount", "target amount must be positive, got %s", g.TargetAmount)
	}
	if g.TargetDate != nil {
		return validDate("target_date", *g.TargetDate)
	}
	return nil
}
