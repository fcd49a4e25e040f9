package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/scry-pipeline/internal/auth"
	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApplication builds the application against the local provider
// with no database.
func newTestApplication(t *testing.T, mutate func(*config.Config)) *application {
	t.Helper()
	t.Setenv("SCRY_PROVIDERS_LOCAL_ENABLED", "true")
	t.Setenv("SCRY_MODELS_GENERATION", "local/llama3.1")
	t.Setenv("SCRY_MODELS_ANALYSIS", "local/llama3.1")
	t.Setenv("SCRY_MODELS_VALIDATION", "local/llama3.1")
	cfg, err := config.Load()
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	app, err := newApplication(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.cleanup(context.Background()) })
	return app
}

func TestHealth(t *testing.T) {
	app := newTestApplication(t, nil)
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"local"}, body.Providers)
	assert.Zero(t, body.ActiveRuns)
}

func TestRouter_ProvidersAndResolve(t *testing.T) {
	app := newTestApplication(t, nil)
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/providers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"full_text":"Whole document.","selection":"  Just this part.  "}`
	resp, err = http.Post(srv.URL+"/api/content/resolve", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var resolved map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&resolved))
	assert.Equal(t, "selection", resolved["source"])
	assert.Equal(t, "Just this part.", resolved["content"])
}

func TestRouter_AuthRequiredWhenConfigured(t *testing.T) {
	app := newTestApplication(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testSecret
	})
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/providers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tokens, err := auth.NewJWTService(app.config.Auth)
	require.NoError(t, err)
	token, err := tokens.GenerateToken(context.Background(), "editor-1")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/providers", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")
}

func TestRouter_GenerateRejectsEmptyContent(t *testing.T) {
	app := newTestApplication(t, nil)
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/generate", "application/json", bytes.NewBufferString(`{"text":"   "}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "event: error")
}

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := setupTracing(context.Background(), config.TracingConfig{}, io.Discard, testLogger())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_Enabled(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := setupTracing(context.Background(), config.TracingConfig{Enabled: true}, &out, testLogger())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestHandleMigrations_NoDatabase(t *testing.T) {
	err := handleMigrations(context.Background(), &config.Config{}, "up", testLogger())
	assert.ErrorIs(t, err, errNoDatabase)
}
