package backend

import (
	"context"

	"famfin/internal/amqp"
	"famfin/internal/ledger"
	"famfin/internal/services"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult is an opened ledger plus its optional event transport.
type BackendResult struct {
	Ledger *ledger.Ledger
	// Publisher is nil when no AMQP URL is configured or the broker was
	// unreachable at startup.
	Publisher services.EventPublisher
	// Events is the same client as Publisher, for consumers.
	Events  *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	// AMQP is optional for every backend type.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
