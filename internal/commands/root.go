// Package commands implements the famfin command line.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"famfin/internal/app"
	"famfin/internal/cli"
	"famfin/internal/config"
	"famfin/internal/core"
	"famfin/internal/ledger"
	"famfin/internal/log"
)

// Version is set at build time.
var Version = "dev"

// env carries what PersistentPreRunE loaded to the subcommands.
type env struct {
	cfg    *config.Config
	logger *log.Logger
	now    func() time.Time
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&env{now: time.Now})
}

func newRootCommand(e *env) *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:     "famfin",
		Short:   "Envelope budgeting ledger and recurrence engine",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				cli.LoadEnvFile(envFile)
			}
			cfg, logger, err := cli.Bootstrap(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file first")

	rootCmd.AddCommand(
		newMaintainCommand(e),
		newAvailableCommand(e),
		newGoalCommand(e),
		newSeedCommand(e),
		newServeCommand(e),
	)
	return rootCmd
}

// open wires the application for one command run.
func (e *env) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, e.cfg, e.logger)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMonthFlag parses YYYY-MM, defaulting to the month containing now.
func parseMonthFlag(s string, now time.Time) (core.Month, error) {
	if s == "" {
		return core.MonthOf(now), nil
	}
	return core.ParseMonth(s)
}

// findCategory resolves a category by ID or case-insensitive name.
func findCategory(ctx context.Context, l *ledger.Ledger, ref string) (core.Category, error) {
	var out core.Category
	err := l.View(ctx, func(r ledger.Reader) error {
		if id, err := uuid.Parse(ref); err == nil {
			out, err = r.Category(ctx, id)
			return err
		}
		cats, err := r.Categories(ctx)
		if err != nil {
			return err
		}
		for _, c := range cats {
			if strings.EqualFold(c.Name, ref) {
				out = c
				return nil
			}
		}
		return fmt.Errorf("category %q: %w", ref, core.ErrNotFound)
	})
	return out, err
}

// findGoal resolves a savings goal by ID or case-insensitive name.
func findGoal(ctx context.Context, l *ledger.Ledger, ref string) (core.SavingsGoal, error) {
	var out core.SavingsGoal
	err := l.View(ctx, func(r ledger.Reader) error {
		if id, err := uuid.Parse(ref); err == nil {
			out, err = r.Goal(ctx, id)
			return err
		}
		goals, err := r.Goals(ctx)
		if err != nil {
			return err
		}
		for _, g := range goals {
			if strings.EqualFold(g.Name, ref) {
				out = g
				return nil
			}
		}
		return fmt.Errorf("goal %q: %w", ref, core.ErrNotFound)
	})
	return out, err
}
