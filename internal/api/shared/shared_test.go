package shared

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

	"github.com/phrazzld/scry-pipeline/internal/platform/logger"
)

func TestRespondWithErrorAndLog_RedactsDetails(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	req := httptest.NewRequest(http.MethodGet, "/api/providers/openai/models", nil)
	ctx := logger.WithLogger(WithTraceID(req.Context(), "trace-1"), log)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	err := errors.New("openai returned status 401: Incorrect API key provided: sk-abcdefghijklmnopqrstuvwxyz123456")
	RespondWithErrorAndLog(rec, req, http.StatusBadGateway, "Provider request failed", err)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Provider request failed","trace_id":"trace-1"}`, rec.Body.String())
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.NotContains(t, logs.String(), "sk-abcdefghijklmnopqrstuvwxyz123456")
}

func TestRespondWithErrorAndLog_LogLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		opts   []ResponseOption
		level  string
	}{
		{"client error", http.StatusBadRequest, nil, "level=DEBUG"},
		{"elevated client error", http.StatusUnauthorized, []ResponseOption{WithElevatedLogLevel()}, "level=WARN"},
		{"rate limited", http.StatusTooManyRequests, nil, "level=WARN"},
		{"elevation ignored for server errors", http.StatusInternalServerError, []ResponseOption{WithElevatedLogLevel()}, "level=ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
			req := httptest.NewRequest(http.MethodGet, "/api/exports", nil)
			req = req.WithContext(logger.WithLogger(req.Context(), log))

			RespondWithErrorAndLog(httptest.NewRecorder(), req, tt.status, "failed", errors.New("cause"), tt.opts...)
			assert.Contains(t, logs.String(), tt.level)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		Name string `json:"name" validate:"required"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"cells"}`))
	require.NoError(t, DecodeJSON(rec, req, &v))
	assert.Equal(t, "cells", v.Name)
	assert.NoError(t, ValidateRequest(&v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"cells","extra":1}`))
	assert.Error(t, DecodeJSON(rec, req, &v))

	v.Name = ""
	assert.Error(t, ValidateRequest(&v))
}

func TestContextValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSubject(ctx))

	id := NewTraceID()
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, NewTraceID())
	assert.Equal(t, id, GetTraceID(WithTraceID(ctx, id)))
}
