package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMaintainCommand(e *env) *cobra.Command {
	var asOf string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Materialize due recurring transactions and repair allocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when := e.now()
			if asOf != "" {
				t, err := time.ParseInLocation("2006-01-02", asOf, when.Location())
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				when = t
			}

			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Maintenance.Run(cmd.Context(), when)
			if asJSON {
				if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
					return werr
				}
			} else {
				out := cmd.OutOrStdout()
				rec, rep := report.Recurrence, report.Repair
				fmt.Fprintf(out, "Recurring: %d checked, %d created, %d expired, %d need review, %d failed\n",
					rec.Checked, rec.Created, rec.Expired, rec.NeedsReview, rec.Failed)
				fmt.Fprintf(out, "Repairs:   %d duplicates, %d orphans, %d categories reparented\n",
					rep.DuplicatesRemoved, rep.OrphansRemoved, rep.CategoriesReparented)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "run the pass as of this day (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
