// Package app assembles the ledger, its services and their background
// plumbing from configuration. Every binary and command starts here.
package app

import (
	"context"
	"fmt"
	"time"

	"famfin/internal/amqp"
	"famfin/internal/backend"
	"famfin/internal/cache"
	"famfin/internal/config"
	"famfin/internal/ledger"
	"famfin/internal/log"
	"famfin/internal/services"
)

// App holds the wired services. Close releases the store and broker.
type App struct {
	Config *config.Config
	Logger *log.Logger

	Ledger      *ledger.Ledger
	Budget      *services.BudgetService
	Calculator  *services.Calculator
	Goals       *services.GoalCalculator
	Recurring   *services.RecurringProcessor
	Guard       *services.IntegrityGuard
	Maintenance *services.Maintenance
	Caches      *cache.Manager

	// Events is nil unless an AMQP broker is configured and reachable.
	Events *amqp.Client
	// Publisher is Events as an interface, nil when Events is nil.
	Publisher services.EventPublisher

	cleanup backend.CleanupFunc
}

// New opens the configured backend and wires the services over it. The
// availability calculator asks the maintenance loop for a repair pass when
// it reads duplicate allocations.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	return assemble(cfg, logger, res), nil
}

func assemble(cfg *config.Config, logger *log.Logger, res *backend.BackendResult) *App {
	l := res.Ledger
	recurring := services.NewRecurringProcessor(l, cfg.RecurringMaxOccurrences)
	guard := services.NewIntegrityGuard(l)
	maint := services.NewMaintenance(l, recurring, guard)
	calc := services.NewCalculator(l, services.CalculatorConfig{
		CacheSize: cfg.AvailabilityCacheSize,
		CacheTTL:  cfg.AvailabilityCacheTTL,
	}, maint)

	caches := cache.NewManager()
	caches.Register(calc.Cache())

	return &App{
		Config:      cfg,
		Logger:      logger,
		Ledger:      l,
		Budget:      services.NewBudgetService(l, res.Publisher),
		Calculator:  calc,
		Goals:       services.NewGoalCalculator(l, calc, cfg.GoalProjectionMonths),
		Recurring:   recurring,
		Guard:       guard,
		Maintenance: maint,
		Caches:      caches,
		Events:      res.Events,
		Publisher:   res.Publisher,
		cleanup:     res.Cleanup,
	}
}

// StartCacheSweeps expires memo entries in the background when a TTL is
// configured. Close stops the sweeps.
func (a *App) StartCacheSweeps() {
	if ttl := a.Config.AvailabilityCacheTTL; ttl > 0 {
		a.Caches.StartCleanup(max(ttl, time.Minute))
	}
}

// Ready reports whether the store answers reads.
func (a *App) Ready(ctx context.Context) error {
	return a.Ledger.View(ctx, func(r ledger.Reader) error {
		_, err := r.Accounts(ctx)
		return err
	})
}

func (a *App) Close() error {
	a.Budget.Close()
	a.Caches.Stop()
	if a.cleanup == nil {
		return nil
	}
	return a.cleanup()
}
