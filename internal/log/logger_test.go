package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_AddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentLedger, Output: &buf})

	logger.Info("budget set", FieldMonth, "2025-03")
	logger.WithComponent(ComponentMaintenance).Debug("pass complete")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "component=ledger")
	assert.Contains(t, lines[0], "month=2025-03")
	assert.Contains(t, lines[1], "component=maintenance")
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Component: ComponentApp, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestMiddleware_RequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Output: &buf})

	handler := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
			w.WriteHeader(http.StatusNoContent)
		})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, buf.String(), "request_id=req_1")
	assert.Contains(t, buf.String(), "component=http")
}

func TestFromContext_Default(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	assert.Equal(t, "unknown", logger.Component())
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Output: &buf}))
	req := httptest.NewRequest(http.MethodGet, "/api/months/2025-13", nil)

	sl.LogHTTPEnd(context.Background(), req, "req_2", http.StatusBadRequest, 3, "10.0.0.1")
	sl.LogError(context.Background(), "summary failed", errors.New("boom"), OpSummary, NewFields().WithBudget("", "2025-03"))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status_code=400")
	assert.Contains(t, out, "success=false")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "operation=summary")
}
