package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

// RepairReport counts what one guard pass fixed.
type RepairReport struct {
	DuplicatesRemoved    int `json:"duplicates_removed"`
	OrphansRemoved       int `json:"orphans_removed"`
	CategoriesReparented int `json:"categories_reparented"`
}

func (r RepairReport) Total() int {
	return r.DuplicatesRemoved + r.OrphansRemoved + r.CategoriesReparented
}

// IntegrityGuard restores the one-allocation-per-(category, month) invariant
// and the one-level category hierarchy. Every repair is logged and audited;
// violations are never returned to callers.
type IntegrityGuard struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

func NewIntegrityGuard(l *ledger.Ledger) *IntegrityGuard {
	return &IntegrityGuard{ledger: l, now: time.Now}
}

// Repair runs one pass as a single mutation. Running it again on repaired
// data changes nothing.
func (g *IntegrityGuard) Repair(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	_, err := g.ledger.Update(ctx, func(tx ledger.Tx) error {
		report = RepairReport{}
		audit := func(kind string, id uuid.UUID, detail string) error {
			slog.WarnContext(ctx, "Integrity violation repaired",
				"kind", kind,
				"entity_id", id,
				"detail", detail,
				"error", core.ErrIntegrityViolation)
			return tx.AppendAudit(ctx, core.AuditEntry{
				ID:       core.NewID(),
				At:       g.now().UTC(),
				Kind:     kind,
				EntityID: id,
				Detail:   detail,
			})
		}

		cats, err := tx.Categories(ctx)
		if err != nil {
			return err
		}
		n, err := repairHierarchy(ctx, tx, cats, audit)
		if err != nil {
			return err
		}
		report.CategoriesReparented = n

		months, err := tx.BudgetMonths(ctx)
		if err != nil {
			return err
		}
		allocs, err := tx.Allocations(ctx, ledger.AllocationFilter{})
		if err != nil {
			return err
		}
		report.OrphansRemoved, report.DuplicatesRemoved, err = repairAllocations(ctx, tx, cats, months, allocs, audit)
		return err
	})
	if err != nil {
		return RepairReport{}, fmt.Errorf("integrity repair: %w", err)
	}

	if report.Total() > 0 {
		slog.InfoContext(ctx, "Integrity repair complete",
			"duplicates_removed", report.DuplicatesRemoved,
			"orphans_removed", report.OrphansRemoved,
			"categories_reparented", report.CategoriesReparented)
	}
	return report, nil
}

type auditFunc func(kind string, id uuid.UUID, detail string) error

// repairHierarchy makes categories with a missing parent top-level and moves
// grandchildren under their top-level ancestor.
func repairHierarchy(ctx context.Context, tx ledger.Tx, cats []core.Category, audit auditFunc) (int, error) {
	byID := make(map[uuid.UUID]core.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	// root walks up to the top-level ancestor; cycles resolve to nil.
	root := func(c core.Category) uuid.UUID {
		seen := map[uuid.UUID]bool{c.ID: true}
		cur := c
		for cur.ParentID != uuid.Nil {
			parent, ok := byID[cur.ParentID]
			if !ok || seen[parent.ID] {
				return uuid.Nil
			}
			seen[parent.ID] = true
			cur = parent
		}
		if cur.ID == c.ID {
			return uuid.Nil
		}
		return cur.ID
	}

	fixed := 0
	for i, c := range cats {
		if c.ParentID == uuid.Nil {
			continue
		}
		parent, ok := byID[c.ParentID]
		if ok && parent.ParentID == uuid.Nil && parent.ID != c.ID {
			continue
		}
		newParent := root(c)
		c.ParentID = newParent
		if err := tx.SaveCategory(ctx, c); err != nil {
			return fixed, err
		}
		cats[i] = c
		byID[c.ID] = c
		fixed++
		detail := "parent missing, made top-level"
		if newParent != uuid.Nil {
			detail = fmt.Sprintf("nested too deep, moved under %s", newParent)
		}
		if err := audit(AuditCategoryReparented, c.ID, detail); err != nil {
			return fixed, err
		}
	}
	return fixed, nil
}

// better reports whether allocation a should be kept over b: a larger
// non-zero amount wins, ties keep the earlier one.
func better(a, b core.BudgetAllocation) bool {
	if a.Budgeted.IsZero() {
		return false
	}
	if b.Budgeted.IsZero() {
		return true
	}
	return a.Budgeted.GreaterThan(b.Budgeted)
}

func repairAllocations(ctx context.Context, tx ledger.Tx, cats []core.Category, months []core.BudgetMonth, allocs []core.BudgetAllocation, audit auditFunc) (orphans, duplicates int, err error) {
	knownCat := make(map[uuid.UUID]bool, len(cats))
	for _, c := range cats {
		knownCat[c.ID] = true
	}
	knownMonth := make(map[uuid.UUID]core.Month, len(months))
	for _, bm := range months {
		knownMonth[bm.ID] = bm.Month
	}

	type key struct{ month, category uuid.UUID }
	groups := make(map[key][]core.BudgetAllocation)
	var order []key

	for _, a := range allocs {
		_, monthOK := knownMonth[a.BudgetMonthID]
		if a.CategoryID == uuid.Nil || !knownCat[a.CategoryID] || !monthOK {
			if err := tx.DeleteAllocation(ctx, a.ID); err != nil {
				return orphans, duplicates, err
			}
			orphans++
			if err := audit(AuditOrphanAllocation, a.ID, fmt.Sprintf("budgeted %s, category %s", a.Budgeted, a.CategoryID)); err != nil {
				return orphans, duplicates, err
			}
			continue
		}
		k := key{a.BudgetMonthID, a.CategoryID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}

	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		keep := group[0]
		for _, a := range group[1:] {
			if better(a, keep) {
				keep = a
			}
		}
		for _, a := range group {
			if a.ID == keep.ID {
				continue
			}
			if err := tx.DeleteAllocation(ctx, a.ID); err != nil {
				return orphans, duplicates, err
			}
			duplicates++
			detail := fmt.Sprintf("%s in %s: dropped %s, kept %s (%s)",
				k.category, knownMonth[k.month], a.Budgeted, keep.Budgeted, keep.ID)
			if err := audit(AuditDuplicateAllocation, a.ID, detail); err != nil {
				return orphans, duplicates, err
			}
		}
	}
	return orphans, duplicates, nil
}
