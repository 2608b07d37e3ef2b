package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGoalCommand(e *env) *cobra.Command {
	var through string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "goal <name|id>",
		Short: "Show a savings goal's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := e.now()
			m, err := parseMonthFlag(through, now)
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			goal, err := findGoal(cmd.Context(), a.Ledger, args[0])
			if err != nil {
				return err
			}
			p, err := a.Goals.ProgressByID(cmd.Context(), goal.ID, m, now)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), p)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (through %s)\n", goal.Name, p.Through)
			fmt.Fprintf(out, "  Saved:     %s of %s (%.0f%%)\n", p.Current, p.Target, p.Progress*100)
			fmt.Fprintf(out, "  Remaining: %s\n", p.Remaining)
			fmt.Fprintf(out, "  Status:    %s\n", p.Projection)
			if p.MonthlyTarget != nil {
				fmt.Fprintf(out, "  Needed:    %s per month\n", *p.MonthlyTarget)
			}
			if p.ProjectedCompletion != nil {
				fmt.Fprintf(out, "  Complete:  %s at the current pace\n", *p.ProjectedCompletion)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&through, "through", "", "evaluate through this month (YYYY-MM, default current month)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
