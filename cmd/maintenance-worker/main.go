package main

import (
	"context"
	"os"

	"famfin/internal/amqp"
	"famfin/internal/app"
	"famfin/internal/cli"
	"famfin/internal/log"
	"famfin/internal/worker"
)

func main() {
	cfg, logger, err := cli.Bootstrap(os.Stdout)
	if err != nil {
		os.Stderr.WriteString("famfin maintenance-worker: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger = logger.WithComponent(log.ComponentWorker)
	logger.Info("Starting maintenance-worker",
		"interval", cfg.MaintenanceInterval,
		"backend", cfg.DataBackend)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err)
		os.Exit(1)
	}
	defer a.Close()
	a.StartCacheSweeps()

	var events worker.EventSource
	if cfg.AMQPURL != "" {
		sub, err := amqp.NewSubscriber(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPWorkerQueue)
		if err != nil {
			logger.Warn("Failed to subscribe to ledger events, running on schedule only", log.FieldError, err)
		} else {
			defer sub.Close()
			events = sub
			logger.Info("Listening for ledger events", "queue", cfg.AMQPWorkerQueue)
		}
	} else {
		logger.Info("AMQP disabled, running on schedule only")
	}

	w := worker.NewMaintenanceWorker(a.Maintenance, events, cfg.MaintenanceInterval, logger)
	w.StartupPass(ctx)
	if err := w.Run(ctx); err != nil {
		logger.Error("Maintenance worker stopped", log.FieldError, err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("Maintenance-worker shutdown complete")
}
