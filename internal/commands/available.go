package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"famfin/internal/ledger"
	"famfin/internal/services"
)

func newAvailableCommand(e *env) *cobra.Command {
	var month string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "available [category]",
		Short: "Show budgeted, activity and available amounts for a month",
		Long: "Without a category, prints every money-holding category for the month.\n" +
			"The category may be given by name or ID.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMonthFlag(month, e.now())
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			var summary services.MonthSummary
			if len(args) == 1 {
				cat, err := findCategory(ctx, a.Ledger, args[0])
				if err != nil {
					return err
				}
				row, err := a.Calculator.Balance(ctx, cat.ID, m)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), row)
				}
				summary = services.MonthSummary{
					Month:          m,
					Categories:     []services.CategoryMonth{row},
					TotalBudgeted:  row.Budgeted,
					TotalActivity:  row.Activity,
					TotalAvailable: row.Available,
				}
			} else {
				summary, err = a.Calculator.MonthSummary(ctx, m)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
			}

			names, err := categoryNames(cmd, a.Ledger)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintf(tw, "%s\tCarried in\tBudgeted\tActivity\tAvailable\t\n", summary.Month)
			for _, row := range summary.Categories {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", names[row.CategoryID], row.CarriedIn, row.Budgeted, row.Activity, row.Available)
			}
			if len(summary.Categories) > 1 {
				fmt.Fprintf(tw, "Total\t\t%s\t%s\t%s\t\n", summary.TotalBudgeted, summary.TotalActivity, summary.TotalAvailable)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "budget month (YYYY-MM, default current month)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func categoryNames(cmd *cobra.Command, l *ledger.Ledger) (map[uuid.UUID]string, error) {
	names := map[uuid.UUID]string{}
	err := l.View(cmd.Context(), func(r ledger.Reader) error {
		cats, err := r.Categories(cmd.Context())
		for _, c := range cats {
			names[c.ID] = c.Name
		}
		return err
	})
	return names, err
}
