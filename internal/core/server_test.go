package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praiafinder/internal/config"
	"praiafinder/internal/types"
)

type mockMetricsCollector struct {
	mu    sync.Mutex
	calls []metricsCall
}

type metricsCall struct {
	method, endpoint, status string
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricsCall{method, endpoint, status})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, registrar func(chi.Router)) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Build.Version = "1.2.3"
	srv, err := NewServer(cfg, discardLogger())
	require.NoError(t, err)
	if registrar != nil {
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, registrar)
	}
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, discardLogger())
	assert.Error(t, err)
	_, err = NewServer(&config.Config{}, nil)
	assert.Error(t, err)

	srv, err := NewServer(&config.Config{}, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, srv.Validator)
	assert.NotNil(t, srv.Router())
}

func TestShutdown_RunsClosers(t *testing.T) {
	srv := newTestServer(t, nil)
	var order []string
	srv.Closers = append(srv.Closers, func() { order = append(order, "pool") }, func() { order = append(order, "listener") })
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, []string{"pool", "listener"}, order)
}

func TestMountRoutes_ChainAndMetrics(t *testing.T) {
	metrics := &mockMetricsCollector{}
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/locations/{id}", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
		})
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	})
	srv.Metrics = metrics
	srv.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	srv.MountRoutes()

	t.Run("request id and security headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/locations/carcavelos", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.JSONEq(t, `{"id":"carcavelos"}`, rec.Body.String())
	})

	t.Run("incoming request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(HeaderRequestID, "req-42")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	})

	t.Run("panic becomes 500 envelope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
		req.Header.Set(HeaderRequestID, "req-panic")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body APIErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(types.ErrCodeInternalUnexpected), body.Error.Code)
		assert.Equal(t, "req-panic", body.Error.RequestID)
	})

	t.Run("unknown route and method get envelopes", func(t *testing.T) {
		for _, tc := range []struct {
			method, path string
			status       int
			code         types.ErrorCode
		}{
			{http.MethodGet, "/v1/nowhere", http.StatusNotFound, types.ErrCodeNotFoundRoute},
			{http.MethodDelete, "/v1/locations/carcavelos", http.StatusMethodNotAllowed, types.ErrCodeMethodNotAllowed},
		} {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.status, rec.Code, tc.path)
			var body APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.code), body.Error.Code)
		}
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "# metrics")
	})

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Contains(t, metrics.calls, metricsCall{"GET", "/v1/locations/{id}", "200"}, "route pattern, not raw path")
}

func TestCORS(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://praia.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/top", nil)
		req.Header.Set("Origin", "https://praia.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://praia.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), HeaderAvailableUntil)
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/top", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewCORSMiddleware([]string{"*"})(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestLogger_RedactsAndInjectsLogger(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var fromCtx *slog.Logger
	h := RequestIDMiddleware(RequestLogger(logger, []string{"Authorization"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = types.LoggerFromContext(r.Context(), nil)
		w.WriteHeader(http.StatusNotFound)
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/top?mode=surf", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set(HeaderRequestID, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.NotContains(t, out, "secret-token")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"request_id":"req-7"`)
	assert.NotSame(t, logger, fromCtx, "handlers get the request-scoped logger")
}

func TestContextTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := ContextTimeoutMiddleware(time.Second)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

func TestHandleHealth(t *testing.T) {
	ok := CheckFunc{Label: "dataset", Fn: func(context.Context) error { return nil }}
	failing := CheckFunc{Label: "snapshot", Fn: func(context.Context) error { return errors.New("no snapshot loaded") }}
	panicking := CheckFunc{Label: "catalog", Fn: func(context.Context) error { panic("nil map") }}

	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantBody   string
	}{
		{name: "no checks", wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "all healthy", checks: []HealthCheck{ok}, wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "one failing", checks: []HealthCheck{ok, failing}, wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
		{name: "panicking check", checks: []HealthCheck{panicking}, wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			srv.HealthChecks = tt.checks

			rec := httptest.NewRecorder()
			srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, "1.2.3", body.Version)
			assert.Len(t, body.Components, len(tt.checks))
		})
	}
}

func TestHandleHealth_SlowCheckTimesOut(t *testing.T) {
	var started atomic.Bool
	slow := CheckFunc{Label: "slow", Fn: func(ctx context.Context) error {
		started.Store(true)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}}
	srv := newTestServer(t, nil)
	srv.HealthChecks = []HealthCheck{slow}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 20*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, req.WithContext(ctx))
	assert.True(t, started.Load())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "timed out")
}
