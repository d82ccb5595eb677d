package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmrelay/llm-relay/internal/config"
	"github.com/llmrelay/llm-relay/internal/store"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, store.Store) {
	t.Helper()

	consolePath := filepath.Join(t.TempDir(), "admin.html")
	require.NoError(t, os.WriteFile(consolePath, []byte("<html>console</html>"), 0644))

	cfg := &config.Config{
		ListenAddr:       ":0",
		RequestTimeout:   10 * time.Second,
		AppEnv:           "test",
		DefaultAPIURL:    "https://api.openai.com",
		AdminToken:       testAdminToken,
		AdminAuth:        config.AdminAuthBearer,
		StoreBackend:     config.StoreBackendMemory,
		AdminConsolePath: consolePath,
	}
	if mutate != nil {
		mutate(cfg)
	}

	s := store.NewMemoryStore(zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	srv, err := New(cfg, s, nil, zap.NewNop())
	require.NoError(t, err)
	return srv, s
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, path := range []string{"/", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		var health HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, Version, health.Version)
		assert.False(t, health.Timestamp.IsZero())
	}
}

func TestHealthMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPreflight(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, path := range []string{"/v1/chat/completions", "/admin/config", "/anything"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, allowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-target-api-url")
	}
}

func TestForwardRouting(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	srv, s := newTestServer(t, func(cfg *config.Config) {
		cfg.DefaultAPIURL = upstream.URL
	})

	for _, path := range []string{"/v1/chat/completions", "/v1/completions", "/v1/embeddings"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, `{"ok":true}`, rec.Body.String(), path)
	}

	entries, err := s.GetLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestForwardRejectsOtherV1Paths(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForwardRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestAdminMounted(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Unauthenticated admin API call is rejected by the admin layer.
	req := httptest.NewRequest(http.MethodGet, "/admin/config", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/config", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The console itself needs no credentials.
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestProductionRequiresHTTPS(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.AppEnv = "production"
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTTPS")

	// A TLS-terminating proxy in front satisfies the check.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	handler := srv.recoverMiddleware(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestStartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.ListenAddr = "127.0.0.1:0"
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// Give the listener a moment, then shut down cleanly.
	time.Sleep(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	_, err := io.WriteString(rw, "short and stout")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
