package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"famfin/internal/amqp"
	"famfin/internal/core"
	"famfin/internal/ledger"
	"famfin/internal/log"
	"famfin/internal/services"
)

// Report counts the entities an import created or updated.
type Report struct {
	Accounts     int `json:"accounts"`
	Categories   int `json:"categories"`
	Allocations  int `json:"allocations"`
	Transactions int `json:"transactions"`
	Recurring    int `json:"recurring"`
	Goals        int `json:"goals"`
}

// Importer writes a seed file through the validated write path.
type Importer struct {
	ledger *ledger.Ledger
	budget *services.BudgetService
	pub    services.EventPublisher
	logger *log.Logger
	now    func() time.Time
}

// NewImporter creates an importer. pub may be nil; when set it receives an
// import.completed event after a successful import.
func NewImporter(l *ledger.Ledger, budget *services.BudgetService, pub services.EventPublisher, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Importer{
		ledger: l,
		budget: budget,
		pub:    pub,
		logger: logger.WithComponent(log.ComponentSeed),
		now:    time.Now,
	}
}

// names resolves seed references. Keys are case-folded.
type names struct {
	accounts   map[string]uuid.UUID
	categories map[string]uuid.UUID
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func unknown(field, name string) error {
	return &core.ValidationError{Field: field, Reason: fmt.Sprintf("unknown %s %q", field, name)}
}

func (n names) account(name string) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, nil
	}
	id, ok := n.accounts[key(name)]
	if !ok {
		return uuid.Nil, unknown("account", name)
	}
	return id, nil
}

func (n names) category(name string) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, nil
	}
	id, ok := n.categories[key(name)]
	if !ok {
		return uuid.Nil, unknown("category", name)
	}
	return id, nil
}

// Import writes f in dependency order. Accounts and categories that already
// exist with the same name are reused, and allocations replace the amount
// for their (category, month), so re-importing a file only duplicates its
// transactions, schedules and goals. Import stops at the first invalid
// entry; entries written before it are kept.
func (im *Importer) Import(ctx context.Context, f *File) (Report, error) {
	var rep Report
	n, err := im.existingNames(ctx)
	if err != nil {
		return rep, err
	}

	for i, a := range f.Accounts {
		if _, ok := n.accounts[key(a.Name)]; ok {
			continue
		}
		typ := a.Type
		if typ == "" {
			typ = core.AccountCurrent
		}
		created, err := im.budget.CreateAccount(ctx, core.Account{Name: a.Name, Type: typ, IsBudget: !a.Tracking, SortOrder: i})
		if err != nil {
			return rep, fmt.Errorf("account %d (%s): %w", i+1, a.Name, err)
		}
		n.accounts[key(a.Name)] = created.ID
		rep.Accounts++
	}

	// Parents first: a child may be listed before its parent.
	for _, pass := range []bool{false, true} {
		for i, c := range f.Categories {
			if (c.Parent != "") != pass {
				continue
			}
			if _, ok := n.categories[key(c.Name)]; ok {
				continue
			}
			parent, err := n.category(c.Parent)
			if err != nil {
				return rep, fmt.Errorf("category %d (%s): %w", i+1, c.Name, err)
			}
			cat := core.Category{Name: c.Name, Emoji: c.Emoji, IsHeader: c.Header, ParentID: parent, SortOrder: i}
			if c.Created != nil {
				cat.CreatedAt = c.Created.Time
			}
			created, err := im.budget.CreateCategory(ctx, cat)
			if err != nil {
				return rep, fmt.Errorf("category %d (%s): %w", i+1, c.Name, err)
			}
			n.categories[key(c.Name)] = created.ID
			rep.Categories++
		}
	}

	for i, a := range f.Allocations {
		cat, err := n.category(a.Category)
		if err == nil && cat == uuid.Nil {
			err = core.ErrMissingCategory
		}
		if err == nil {
			_, err = im.budget.SetBudgeted(ctx, cat, a.Month, a.Amount)
		}
		if err != nil {
			return rep, fmt.Errorf("allocation %d (%s %s): %w", i+1, a.Category, a.Month, err)
		}
		rep.Allocations++
	}

	for i, t := range f.Transactions {
		tr, err := n.transaction(t)
		if err == nil {
			_, err = im.budget.RecordTransaction(ctx, tr)
		}
		if err != nil {
			return rep, fmt.Errorf("transaction %d (%s %s): %w", i+1, t.Date.Format("2006-01-02"), t.Payee, err)
		}
		rep.Transactions++
	}

	for i, r := range f.Recurring {
		sched, err := n.recurring(r)
		if err == nil {
			_, err = im.budget.CreateRecurring(ctx, sched)
		}
		if err != nil {
			return rep, fmt.Errorf("recurring %d (%s): %w", i+1, r.Payee, err)
		}
		rep.Recurring++
	}

	for i, g := range f.Goals {
		cat, err := n.category(g.Category)
		if err == nil {
			_, err = im.budget.CreateGoal(ctx, core.SavingsGoal{
				Name:             g.Name,
				TargetAmount:     g.Target,
				TargetDate:       g.TargetDate.ptr(),
				LinkedCategoryID: cat,
			})
		}
		if err != nil {
			return rep, fmt.Errorf("goal %d (%s): %w", i+1, g.Name, err)
		}
		rep.Goals++
	}

	im.logger.InfoContext(ctx, "Seed import complete",
		log.FieldOperation, log.OpImport,
		"accounts", rep.Accounts,
		"categories", rep.Categories,
		"allocations", rep.Allocations,
		"transactions", rep.Transactions,
		"recurring", rep.Recurring,
		"goals", rep.Goals)
	im.announce(ctx)
	return rep, nil
}

func (n names) transaction(t Transaction) (core.Transaction, error) {
	acct, err := n.account(t.Account)
	if err != nil {
		return core.Transaction{}, err
	}
	to, err := n.account(t.TransferTo)
	if err != nil {
		return core.Transaction{}, err
	}
	cat, err := n.category(t.Category)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		Amount:              t.Amount,
		Payee:               t.Payee,
		Memo:                t.Memo,
		Date:                t.Date.Time,
		Type:                t.Type,
		IsCleared:           t.Cleared,
		AccountID:           acct,
		CategoryID:          cat,
		TransferToAccountID: to,
	}, nil
}

func (n names) recurring(r Recurring) (core.RecurringTransaction, error) {
	acct, err := n.account(r.Account)
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	to, err := n.account(r.TransferTo)
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	cat, err := n.category(r.Category)
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	return core.RecurringTransaction{
		Amount:              r.Amount,
		Payee:               r.Payee,
		Memo:                r.Memo,
		Type:                r.Type,
		AccountID:           acct,
		CategoryID:          cat,
		TransferToAccountID: to,
		Frequency:           r.Frequency,
		Interval:            r.Interval,
		AnchorDate:          r.Anchor.Time,
		EndDate:             r.End.ptr(),
	}, nil
}

func (im *Importer) existingNames(ctx context.Context) (names, error) {
	n := names{accounts: map[string]uuid.UUID{}, categories: map[string]uuid.UUID{}}
	err := im.ledger.View(ctx, func(r ledger.Reader) error {
		accounts, err := r.Accounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			n.accounts[key(a.Name)] = a.ID
		}
		cats, err := r.Categories(ctx)
		if err != nil {
			return err
		}
		for _, c := range cats {
			n.categories[key(c.Name)] = c.ID
		}
		return nil
	})
	if err != nil {
		return names{}, fmt.Errorf("load existing names: %w", err)
	}
	return n, nil
}

// announce tells the maintenance worker an import finished so it runs the
// integrity guard. Best-effort.
func (im *Importer) announce(ctx context.Context) {
	if im.pub == nil {
		return
	}
	ev := &amqp.LedgerEvent{Kind: amqp.EventImportCompleted, Timestamp: im.now()}
	if err := im.pub.PublishLedgerEvent(ctx, ev); err != nil {
		im.logger.WarnContext(ctx, "Failed to announce import", log.FieldError, err)
	}
}
