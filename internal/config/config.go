package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP (optional ledger event publication)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// AMQPWorkerQueue is the maintenance worker's own copy of the event
	// stream; AMQPQueue stays with the sync collaborator.
	AMQPWorkerQueue string

	// Maintenance
	MaintenanceInterval     time.Duration
	RecurringMaxOccurrences int

	// Availability memo
	AvailabilityCacheSize int
	AvailabilityCacheTTL  time.Duration

	GoalProjectionMonths int

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/famfin.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "famfin"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		AMQPWorkerQueue: getEnv("AMQP_WORKER_QUEUE", "famfin_maintenance"),

		MaintenanceInterval:     getEnvDuration("MAINTENANCE_INTERVAL", time.Hour),
		RecurringMaxOccurrences: getEnvInt("RECURRING_MAX_OCCURRENCES", 3660),

		AvailabilityCacheSize: getEnvInt("AVAILABILITY_CACHE_SIZE", 1024),
		AvailabilityCacheTTL:  getEnvDuration("AVAILABILITY_CACHE_TTL", 0),

		GoalProjectionMonths: getEnvInt("GOAL_PROJECTION_MONTHS", 3),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// AMQP is optional; when a URL is given the rest must be usable.
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPWorkerQueue == "" {
			errors = append(errors, "AMQP worker queue name cannot be empty when AMQP URL is provided")
		} else if c.AMQPWorkerQueue == c.AMQPQueue {
			errors = append(errors, fmt.Sprintf("AMQP worker queue '%s' must differ from the sync queue", c.AMQPWorkerQueue))
		}
	}

	if c.MaintenanceInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid maintenance interval %v: must be at least 1 second", c.MaintenanceInterval))
	} else if c.MaintenanceInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid maintenance interval %v: must be at most 24 hours", c.MaintenanceInterval))
	}

	if c.RecurringMaxOccurrences < 1 {
		errors = append(errors, fmt.Sprintf("invalid recurring max occurrences %d: must be at least 1", c.RecurringMaxOccurrences))
	}

	if c.AvailabilityCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid availability cache size %d: must be at least 1", c.AvailabilityCacheSize))
	}
	if c.AvailabilityCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid availability cache TTL %v: must not be negative", c.AvailabilityCacheTTL))
	}

	if c.GoalProjectionMonths < 1 || c.GoalProjectionMonths > 24 {
		errors = append(errors, fmt.Sprintf("invalid goal projection months %d: must be between 1 and 24", c.GoalProjectionMonths))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
