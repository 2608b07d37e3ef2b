package backend

import (
	"context"
	"errors"
	"fmt"

	"famfin/internal/amqp"
	"famfin/internal/ledger"
	"famfin/internal/ledger/memory"
	"famfin/internal/log"
	"famfin/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
	// dialAMQP is replaced in tests.
	dialAMQP func(url, exchange, queue string) (*amqp.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(log.ComponentBackend),
		dialAMQP: amqp.NewClient,
	}
}

// CreateBackend opens the configured store, wraps it in a ledger and
// attaches the optional AMQP client.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var store ledger.Backend
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		store = repo
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		store = memory.New()
		f.logger.Info("Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	l := ledger.New(store)
	l.OnCommit(ledger.LogCommit)
	result := &BackendResult{Ledger: l}

	if config.AMQPURL != "" {
		client, err := f.dialAMQP(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			result.Publisher = client
			result.Events = client
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if result.Events != nil {
			errs = append(errs, result.Events.Close())
		}
		errs = append(errs, l.Close())
		return errors.Join(errs...)
	}
	return result, nil
}
