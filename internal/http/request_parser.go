package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"famfin/internal/core"
)

// pathMonth parses the {month} path value as YYYY-MM.
func pathMonth(r *http.Request) (core.Month, *ResponseBuilder) {
	raw := strings.TrimSpace(r.PathValue("month"))
	m, err := core.ParseMonth(raw)
	if err != nil {
		return core.Month{}, BadRequestError("month must be YYYY-MM")
	}
	return m, nil
}

// pathID parses the {id} path value as a UUID.
func pathID(r *http.Request) (uuid.UUID, *ResponseBuilder) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, BadRequestError("id must be a UUID")
	}
	return id, nil
}

// queryMonth parses an optional YYYY-MM query parameter, defaulting to the
// month containing now.
func queryMonth(r *http.Request, key string, now time.Time) (core.Month, *ResponseBuilder) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return core.MonthOf(now), nil
	}
	m, err := core.ParseMonth(raw)
	if err != nil {
		return core.Month{}, BadRequestError(key + " must be YYYY-MM")
	}
	return m, nil
}

// queryDate parses an optional YYYY-MM-DD query parameter, defaulting to
// now.
func queryDate(r *http.Request, key string, now time.Time) (time.Time, *ResponseBuilder) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return now, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, now.Location())
	if err != nil {
		return time.Time{}, BadRequestError(key + " must be YYYY-MM-DD")
	}
	return t, nil
}
