package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"famfin/internal/core"
	"famfin/internal/ledger"
)

// DefaultProjectionMonths is how many recent months feed the completion
// projection of goals without a target date.
const DefaultProjectionMonths = 3

// Projection classifies how a goal's completion is estimated.
type Projection string

const (
	ProjectionComplete      Projection = "complete"
	ProjectionScheduled     Projection = "scheduled"
	ProjectionOnTrack       Projection = "on_track"
	ProjectionIndeterminate Projection = "indeterminate"
)

// GoalProgress is derived on demand and never stored.
type GoalProgress struct {
	GoalID    uuid.UUID  `json:"goal_id"`
	Through   core.Month `json:"through"`
	Target    core.Money `json:"target"`
	Current   core.Money `json:"current"`
	Remaining core.Money `json:"remaining"`
	// Progress is Current/Target; it exceeds 1 once the goal is overfunded.
	Progress   float64    `json:"progress"`
	IsComplete bool       `json:"is_complete"`
	Projection Projection `json:"projection"`
	// MonthlyTarget is set for incomplete goals with a target date.
	MonthlyTarget *core.Money `json:"monthly_target,omitempty"`
	// ProjectedCompletion is set for incomplete goals without a target date
	// whose linked category is growing.
	ProjectedCompletion *core.Month `json:"projected_completion,omitempty"`
}

// GoalCalculator derives savings goal progress from the linked category's
// available balance.
type GoalCalculator struct {
	ledger *ledger.Ledger
	avail  *Calculator
	window int
}

func NewGoalCalculator(l *ledger.Ledger, avail *Calculator, projectionMonths int) *GoalCalculator {
	if projectionMonths <= 0 {
		projectionMonths = DefaultProjectionMonths
	}
	return &GoalCalculator{ledger: l, avail: avail, window: projectionMonths}
}

// ProgressByID loads the goal and computes its progress.
func (g *GoalCalculator) ProgressByID(ctx context.Context, id uuid.UUID, through core.Month, now time.Time) (GoalProgress, error) {
	var goal core.SavingsGoal
	err := g.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		goal, err = r.Goal(ctx, id)
		return err
	})
	if err != nil {
		return GoalProgress{}, fmt.Errorf("load savings goal: %w", err)
	}
	return g.Progress(ctx, goal, through, now)
}

// Progress computes the goal's state as of the end of month through. now
// anchors the months remaining until the target date.
func (g *GoalCalculator) Progress(ctx context.Context, goal core.SavingsGoal, through core.Month, now time.Time) (GoalProgress, error) {
	if err := goal.Validate(); err != nil {
		return GoalProgress{}, err
	}

	out := GoalProgress{GoalID: goal.ID, Through: through, Target: goal.TargetAmount}
	if goal.LinkedCategoryID != uuid.Nil {
		avail, err := g.avail.Available(ctx, goal.LinkedCategoryID, through)
		if err != nil {
			return GoalProgress{}, err
		}
		// A negative balance means nothing saved yet, not a negative goal.
		out.Current = avail.Max(core.Zero)
	}

	out.Progress = out.Current.Ratio(goal.TargetAmount)
	out.Remaining = goal.TargetAmount.Sub(out.Current).Max(core.Zero)
	out.IsComplete = !out.Current.LessThan(goal.TargetAmount)

	switch {
	case out.IsComplete:
		out.Projection = ProjectionComplete
	case goal.TargetDate != nil:
		months := core.MonthOf(now).MonthsUntil(core.MonthOf(*goal.TargetDate))
		if months < 1 {
			months = 1
		}
		monthly := out.Remaining.DivInt(int64(months))
		out.MonthlyTarget = &monthly
		out.Projection = ProjectionScheduled
	default:
		projected, err := g.project(ctx, goal.LinkedCategoryID, through, out.Remaining)
		if err != nil {
			return GoalProgress{}, err
		}
		out.ProjectedCompletion = projected
		out.Projection = ProjectionIndeterminate
		if projected != nil {
			out.Projection = ProjectionOnTrack
		}
	}
	return out, nil
}

// project extrapolates the average net monthly contribution of the recent
// window. A non-positive average never completes, so no date is returned.
func (g *GoalCalculator) project(ctx context.Context, category uuid.UUID, through core.Month, remaining core.Money) (*core.Month, error) {
	if category == uuid.Nil {
		return nil, nil
	}
	total := core.Zero
	for i := g.window - 1; i >= 0; i-- {
		b, err := g.avail.Balance(ctx, category, through.AddMonths(-i))
		if err != nil {
			return nil, err
		}
		total = total.Add(b.Budgeted).Add(b.Activity)
	}
	if !total.IsPositive() {
		return nil, nil
	}
	// remaining / (total / window), rounded up to whole months.
	months := remaining.Decimal().Mul(decimal.NewFromInt(int64(g.window))).Div(total.Decimal()).Ceil().IntPart()
	done := through.AddMonths(int(months))
	return &done, nil
}
