package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"famfin/internal/cache"
	"famfin/internal/core"
	"famfin/internal/ledger"
)

// RepairRequester is signalled when a read observes data that the integrity
// guard must repair. Implementations must not block.
type RepairRequester interface {
	RequestRepair()
}

// CategoryMonth is the budget state of one category in one month.
type CategoryMonth struct {
	CategoryID uuid.UUID  `json:"category_id"`
	Month      core.Month `json:"month"`
	CarriedIn  core.Money `json:"carried_in"`
	Budgeted   core.Money `json:"budgeted"`
	Activity   core.Money `json:"activity"`
	Available  core.Money `json:"available"`
}

// MonthSummary is the budget state of every money-holding category.
type MonthSummary struct {
	Month          core.Month      `json:"month"`
	Categories     []CategoryMonth `json:"categories"`
	TotalBudgeted  core.Money      `json:"total_budgeted"`
	TotalActivity  core.Money      `json:"total_activity"`
	TotalAvailable core.Money      `json:"total_available"`
}

// series is the memoized running balance of one category: rows[i] covers
// epoch+i, contiguous through the month `through`. An empty series means the
// category had no data at all through `through`. Series values are never
// mutated once stored.
type series struct {
	epoch   core.Month
	through core.Month
	rows    []monthRow
}

type monthRow struct {
	budgeted  core.Money
	activity  core.Money
	available core.Money
}

func (s *series) row(m core.Month) (CategoryMonth, bool) {
	if m.After(s.through) {
		return CategoryMonth{}, false
	}
	out := CategoryMonth{Month: m}
	if len(s.rows) == 0 || m.Before(s.epoch) {
		return out, true
	}
	i := s.epoch.MonthsUntil(m)
	r := s.rows[i]
	out.Budgeted, out.Activity, out.Available = r.budgeted, r.activity, r.available
	if i > 0 {
		out.CarriedIn = s.rows[i-1].available
	}
	return out, true
}

// truncate drops every row from m on. It returns nil when nothing usable is
// left.
func (s *series) truncate(m core.Month) *series {
	if len(s.rows) == 0 || !s.epoch.Before(m) {
		return nil
	}
	if m.After(s.through) {
		return s
	}
	n := s.epoch.MonthsUntil(m)
	return &series{epoch: s.epoch, through: m.Prev(), rows: s.rows[:n:n]}
}

// CalculatorConfig sizes the running-balance memo.
type CalculatorConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Calculator derives budgeted, activity and available amounts per category
// and month. Available balances carry forward month to month, including
// negative balances. Results are memoized per category and invalidated from
// the earliest month a committed mutation touched.
type Calculator struct {
	ledger *ledger.Ledger
	memo   *cache.LRUCache[uuid.UUID, *series]
	repair RepairRequester
}

// NewCalculator creates a calculator and subscribes it to ledger commits.
// repair may be nil.
func NewCalculator(l *ledger.Ledger, cfg CalculatorConfig, repair RepairRequester) *Calculator {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	c := &Calculator{
		ledger: l,
		memo:   cache.NewLRUCache[uuid.UUID, *series](cfg.CacheSize, cfg.CacheTTL),
		repair: repair,
	}
	l.OnCommit(c.invalidate)
	return c
}

// Cache exposes the memo for periodic expiry sweeps.
func (c *Calculator) Cache() cache.Cleaner { return c.memo }

func (c *Calculator) invalidate(ctx context.Context, cs ledger.ChangeSet) {
	if len(cs.Reset) == 0 && len(cs.Touched) == 0 {
		return
	}
	for id := range cs.Reset {
		c.memo.Delete(id)
	}
	for id, m := range cs.Touched {
		c.memo.Update(id, func(cur *series, ok bool) (*series, bool) {
			if !ok {
				return nil, false
			}
			next := cur.truncate(m)
			return next, next != nil
		})
	}
	slog.DebugContext(ctx, "Availability memo invalidated",
		"reset", len(cs.Reset),
		"touched", len(cs.Touched))
}

func (c *Calculator) Budgeted(ctx context.Context, category uuid.UUID, m core.Month) (core.Money, error) {
	b, err := c.Balance(ctx, category, m)
	return b.Budgeted, err
}

func (c *Calculator) Activity(ctx context.Context, category uuid.UUID, m core.Month) (core.Money, error) {
	b, err := c.Balance(ctx, category, m)
	return b.Activity, err
}

func (c *Calculator) Available(ctx context.Context, category uuid.UUID, m core.Month) (core.Money, error) {
	b, err := c.Balance(ctx, category, m)
	return b.Available, err
}

// Balance returns budgeted, activity, carried-in and available for the
// category in month m.
func (c *Calculator) Balance(ctx context.Context, category uuid.UUID, m core.Month) (CategoryMonth, error) {
	if cur, ok := c.memo.Get(category); ok {
		if out, ok := cur.row(m); ok {
			out.CategoryID = category
			return out, nil
		}
	}

	v := c.ledger.Version()
	var base *series
	if v%2 == 0 {
		base, _ = c.memo.Get(category)
	}
	next, err := c.compute(ctx, category, base, m)
	if err != nil {
		return CategoryMonth{}, err
	}

	if c.ledger.Version() != v {
		// A mutation raced this read. The memo may predate the snapshot we
		// just read, so recompute from one snapshot and keep nothing.
		if base != nil {
			if next, err = c.compute(ctx, category, nil, m); err != nil {
				return CategoryMonth{}, err
			}
		}
	} else {
		c.memo.Update(category, func(cur *series, ok bool) (*series, bool) {
			if c.ledger.Version() != v {
				return cur, ok
			}
			if ok && cur.through.After(next.through) {
				return cur, true
			}
			return next, true
		})
	}

	out, _ := next.row(m)
	out.CategoryID = category
	return out, nil
}

func (c *Calculator) compute(ctx context.Context, category uuid.UUID, base *series, m core.Month) (*series, error) {
	var next *series
	err := c.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		next, err = c.extend(ctx, r, category, base, m)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("availability of %s in %s: %w", category, m, err)
	}
	return next, nil
}

// extend returns a series covering m. base, when it has rows, is reused and
// only the missing months are fetched.
func (c *Calculator) extend(ctx context.Context, r ledger.Reader, category uuid.UUID, base *series, m core.Month) (*series, error) {
	if base != nil && len(base.rows) > 0 && base.through.Before(m) {
		return c.fill(ctx, r, category, base, base.through.Next(), m)
	}

	cat, err := r.Category(ctx, category)
	if err != nil {
		return nil, err
	}
	out, err := c.fill(ctx, r, category, &series{}, core.Month{}, m)
	if err != nil {
		return nil, err
	}
	if len(out.rows) > 0 && !cat.CreatedAt.IsZero() {
		created := core.MonthOf(cat.CreatedAt)
		if created.Before(out.epoch) {
			// Months between creation and the first data are zero rows.
			pad := make([]monthRow, created.MonthsUntil(out.epoch), created.MonthsUntil(out.epoch)+len(out.rows))
			out.rows = append(pad, out.rows...)
			out.epoch = created
		}
	}
	return out, nil
}

// fill computes rows for months from..to (from zero means "from the start")
// and appends them to base.
func (c *Calculator) fill(ctx context.Context, r ledger.Reader, category uuid.UUID, base *series, from, to core.Month) (*series, error) {
	budgeted, err := c.budgetedByMonth(ctx, r, category, from, to)
	if err != nil {
		return nil, err
	}
	activity, err := activityByMonth(ctx, r, category, from, to)
	if err != nil {
		return nil, err
	}

	out := &series{epoch: base.epoch, through: to, rows: append([]monthRow(nil), base.rows...)}
	if len(out.rows) == 0 {
		var first core.Month
		for m := range budgeted {
			first = core.MinMonth(first, m)
		}
		for m := range activity {
			first = core.MinMonth(first, m)
		}
		if first.IsZero() {
			return out, nil
		}
		out.epoch = first
		from = first
	}

	prev := core.Zero
	if n := len(out.rows); n > 0 {
		prev = out.rows[n-1].available
	}
	for m := from; !m.After(to); m = m.Next() {
		row := monthRow{budgeted: budgeted[m], activity: activity[m]}
		row.available = prev.Add(row.budgeted).Add(row.activity)
		out.rows = append(out.rows, row)
		prev = row.available
	}
	return out, nil
}

func (c *Calculator) budgetedByMonth(ctx context.Context, r ledger.Reader, category uuid.UUID, from, to core.Month) (map[core.Month]core.Money, error) {
	allocs, err := r.Allocations(ctx, ledger.AllocationFilter{CategoryID: category, From: from, To: to})
	if err != nil {
		return nil, err
	}
	months, err := r.BudgetMonths(ctx)
	if err != nil {
		return nil, err
	}
	monthOf := make(map[uuid.UUID]core.Month, len(months))
	for _, bm := range months {
		monthOf[bm.ID] = bm.Month
	}

	out := make(map[core.Month]core.Money)
	seen := make(map[core.Month]int)
	for _, a := range allocs {
		m, ok := monthOf[a.BudgetMonthID]
		if !ok {
			continue
		}
		out[m] = out[m].Add(a.Budgeted)
		seen[m]++
	}
	for m, n := range seen {
		if n > 1 {
			slog.WarnContext(ctx, "Duplicate allocations summed, repair requested",
				"category_id", category,
				"month", m.String(),
				"count", n,
				"error", core.ErrIntegrityViolation)
			if c.repair != nil {
				c.repair.RequestRepair()
			}
		}
	}
	return out, nil
}

func activityByMonth(ctx context.Context, r ledger.Reader, category uuid.UUID, from, to core.Month) (map[core.Month]core.Money, error) {
	f := ledger.TransactionFilter{CategoryID: category, To: lastDay(to)}
	if !from.IsZero() {
		f.From = from.Start(time.UTC)
	}
	txs, err := r.Transactions(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	accounts, err := r.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	onBudget := make(map[uuid.UUID]bool, len(accounts))
	for _, a := range accounts {
		onBudget[a.ID] = a.IsBudget
	}

	out := make(map[core.Month]core.Money)
	for _, tr := range txs {
		if !tr.CountsAsActivity(onBudget[tr.AccountID]) {
			continue
		}
		m := core.MonthOf(tr.Date)
		out[m] = out[m].Add(tr.Amount)
	}
	return out, nil
}

func lastDay(m core.Month) time.Time {
	return time.Date(m.Year, m.Month, core.DaysIn(m.Year, m.Month), 0, 0, 0, 0, time.UTC)
}

// MonthSummary computes the balance of every money-holding category in m,
// ordered like the category list.
func (c *Calculator) MonthSummary(ctx context.Context, m core.Month) (MonthSummary, error) {
	var cats []core.Category
	err := c.ledger.View(ctx, func(r ledger.Reader) error {
		all, err := r.Categories(ctx)
		if err != nil {
			return err
		}
		for _, cat := range all {
			if cat.HoldsMoney() {
				cats = append(cats, cat)
			}
		}
		return nil
	})
	if err != nil {
		return MonthSummary{}, fmt.Errorf("list categories: %w", err)
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].SortOrder < cats[j].SortOrder })

	out := MonthSummary{Month: m, Categories: make([]CategoryMonth, len(cats))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, cat := range cats {
		g.Go(func() error {
			b, err := c.Balance(gctx, cat.ID, m)
			if err != nil {
				return err
			}
			out.Categories[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MonthSummary{}, err
	}

	for _, b := range out.Categories {
		out.TotalBudgeted = out.TotalBudgeted.Add(b.Budgeted)
		out.TotalActivity = out.TotalActivity.Add(b.Activity)
		out.TotalAvailable = out.TotalAvailable.Add(b.Available)
	}
	return out, nil
}
