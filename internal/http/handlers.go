package http

import (
	"net/http"

	"famfin/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.LogError(r.Context(), "Readiness check failed", err, log.OpRead, nil)
			ErrorResponse(http.StatusServiceUnavailable, CodeInternal, "store unavailable").Write(w)
			return
		}
	}
	NewResponse().JSON(map[string]string{"status": "ready"}).Write(w)
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	m, bad := pathMonth(r)
	if bad != nil {
		bad.Write(w)
		return
	}

	summary, err := s.deps.Summaries.MonthSummary(r.Context(), m)
	if err != nil {
		s.fail(w, r, "Month summary failed", err, log.OpSummary, log.NewFields().WithBudget("", m.String()))
		return
	}
	NewResponse().JSON(summary).Write(w)
}

func (s *Server) handleCategoryMonth(w http.ResponseWriter, r *http.Request) {
	id, bad := pathID(r)
	if bad != nil {
		bad.Write(w)
		return
	}
	m, bad := pathMonth(r)
	if bad != nil {
		bad.Write(w)
		return
	}

	balance, err := s.deps.Balances.Balance(r.Context(), id, m)
	if err != nil {
		s.fail(w, r, "Category balance failed", err, log.OpRead, log.NewFields().WithBudget(id.String(), m.String()))
		return
	}
	NewResponse().JSON(balance).Write(w)
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	id, bad := pathID(r)
	if bad != nil {
		bad.Write(w)
		return
	}
	now := s.deps.Now()
	through, bad := queryMonth(r, "through", now)
	if bad != nil {
		bad.Write(w)
		return
	}

	progress, err := s.deps.Goals.ProgressByID(r.Context(), id, through, now)
	if err != nil {
		fields := log.NewFields()
		fields[log.FieldGoalID] = id.String()
		s.fail(w, r, "Goal progress failed", err, log.OpProgress, fields)
		return
	}
	NewResponse().JSON(progress).Write(w)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	asOf, bad := queryDate(r, "as_of", s.deps.Now())
	if bad != nil {
		bad.Write(w)
		return
	}

	report, err := s.deps.Maintenance.Run(r.Context(), asOf)
	if err != nil {
		s.fail(w, r, "Maintenance pass failed", err, log.OpMaintain, nil)
		return
	}
	NewResponse().JSON(report).Write(w)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "too many maintenance requests").Write(w)
}

// fail writes the mapped error response. Only unexpected failures are
// logged at error level; client errors are already logged by the tracer.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error, op string, fields log.LogFields) {
	resp := ErrorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		s.logger.LogError(r.Context(), msg, err, op, fields)
	}
	resp.Write(w)
}
