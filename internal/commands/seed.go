package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"famfin/internal/seed"
)

func newSeedCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Import accounts, categories, allocations and transactions from YAML",
		Long: "Imports a seed file through the validated write path. Accounts and\n" +
			"categories are matched by name, so re-importing a file only adds\n" +
			"transactions, recurring schedules and goals again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := seed.NewImporter(a.Ledger, a.Budget, a.Publisher, a.Logger).Import(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Imported %d accounts, %d categories, %d allocations, %d transactions, %d recurring, %d goals\n",
				report.Accounts, report.Categories, report.Allocations, report.Transactions, report.Recurring, report.Goals)

			// The worker repairs again on import.completed; this covers runs
			// without a broker.
			repair, err := a.Maintenance.Repair(cmd.Context())
			if err != nil {
				return fmt.Errorf("integrity check after import: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Integrity check: %d duplicates, %d orphans, %d categories reparented\n",
				repair.DuplicatesRemoved, repair.OrphansRemoved, repair.CategoriesReparented)
			return nil
		},
	}
	return cmd
}
