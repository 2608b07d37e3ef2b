package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"famfin/internal/core"
	"famfin/internal/log"
	"famfin/internal/middleware/ratelimit"
	"famfin/internal/middleware/security"
	"famfin/internal/middleware/trace"
	"famfin/internal/services"
)

// MonthSummarizer reports every category's budget state for a month.
type MonthSummarizer interface {
	MonthSummary(ctx context.Context, m core.Month) (services.MonthSummary, error)
}

// BalanceReader reports one category's budget state for a month.
type BalanceReader interface {
	Balance(ctx context.Context, category uuid.UUID, m core.Month) (services.CategoryMonth, error)
}

// GoalProgressReader reports a savings goal's progress.
type GoalProgressReader interface {
	ProgressByID(ctx context.Context, id uuid.UUID, through core.Month, now time.Time) (services.GoalProgress, error)
}

// MaintenanceRunner runs one maintenance pass.
type MaintenanceRunner interface {
	Run(ctx context.Context, asOf time.Time) (services.MaintenanceReport, error)
}

// Deps are the collaborators the API reads from.
type Deps struct {
	Summaries   MonthSummarizer
	Balances    BalanceReader
	Goals       GoalProgressReader
	Maintenance MaintenanceRunner
	// Ready reports whether the store is reachable; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *log.Logger
	// MaintenanceLimit throttles POST /api/maintenance per client.
	MaintenanceLimit ratelimit.Config
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type Server struct {
	http.Server
	deps    Deps
	logger  *log.StructuredLogger
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger.WithComponent(log.ComponentHTTP)
	clientIP := security.NewClientIPResolver()

	s := &Server{
		deps:    deps,
		logger:  log.NewStructuredLogger(logger),
		limiter: ratelimit.NewLimiter(deps.MaintenanceLimit),
		tracer:  trace.NewMiddleware(logger, clientIP.ClientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/months/{month}", s.handleMonthSummary)
	mux.HandleFunc("GET /api/categories/{id}/months/{month}", s.handleCategoryMonth)
	mux.HandleFunc("GET /api/goals/{id}/progress", s.handleGoalProgress)
	mux.Handle("POST /api/maintenance",
		s.limiter.Middleware(clientIP.ClientIP, s.handleRateLimited)(http.HandlerFunc(s.handleMaintenance)))

	var h http.Handler = mux
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = log.Middleware(logger)(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Stats reports request counters from the tracing middleware.
func (s *Server) Stats() trace.Stats {
	return s.tracer.Stats()
}
