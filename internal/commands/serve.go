package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"famfin/internal/cli"
	apphttp "famfin/internal/http"
	"famfin/internal/log"
	"famfin/internal/middleware/ratelimit"
	"famfin/internal/worker"
)

func newServeCommand(e *env) *cobra.Command {
	var withMaintenance bool
	var maintenanceLimit int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.SignalContext(cmd.Context(), e.logger)
			defer cancel()

			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			a.StartCacheSweeps()

			limit := ratelimit.DefaultConfig()
			if maintenanceLimit > 0 {
				limit.Limit = maintenanceLimit
			}
			srv := apphttp.NewServer(":"+e.cfg.Port, apphttp.Deps{
				Summaries:        a.Calculator,
				Balances:         a.Calculator,
				Goals:            a.Goals,
				Maintenance:      a.Maintenance,
				Ready:            a.Ready,
				Logger:           e.logger,
				MaintenanceLimit: limit,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				e.logger.Info("Starting famfin server", "port", e.cfg.Port, "backend", e.cfg.DataBackend)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					e.logger.Error("Server shutdown error", log.FieldError, err)
				}
				return nil
			})
			if withMaintenance {
				w := worker.NewMaintenanceWorker(a.Maintenance, nil, e.cfg.MaintenanceInterval, e.logger)
				g.Go(func() error {
					w.StartupPass(gctx)
					return w.Run(gctx)
				})
			} else {
				// Scheduled passes belong to maintenance-worker; repairs
				// requested by this process's reads run here.
				g.Go(func() error {
					if err := a.Maintenance.RepairOnRequest(gctx); !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}

			err = g.Wait()
			stats := srv.Stats()
			e.logger.Info("Server stopped",
				"requests", stats.TotalRequests,
				"server_failures", stats.ServerFailures)
			return err
		},
	}

	cmd.Flags().BoolVar(&withMaintenance, "with-maintenance", false, "also run the maintenance loop in this process")
	cmd.Flags().IntVar(&maintenanceLimit, "maintenance-limit", 0, "maintenance triggers allowed per client per minute")
	return cmd
}
