package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jfgonzales/fred/internal/log"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, db Pinger, origins []string) *Server {
	t.Helper()
	logger := log.NewNop()
	srv, err := NewServer(Config{
		Chat:        NewChatHandler(&fakeEngine{}, logger),
		Ingest:      NewIngestHandler(&fakeIngestor{}, &fakeSourceLister{}, logger),
		Health:      NewHealthHandler(db, logger),
		Logger:      logger,
		CORSOrigins: origins,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestNewServerRequiresHandlers(t *testing.T) {
	_, err := NewServer(Config{Logger: log.NewNop()})
	if err == nil {
		t.Fatal("expected error for missing handlers")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakePinger{}, nil)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", rec.Code)
	}
}

func TestReadinessFailsWhenDatabaseDown(t *testing.T) {
	srv := newTestServer(t, &fakePinger{err: errors.New("connection refused")}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready status = %d, want 503", rec.Code)
	}
}

func TestCORSAllowAll(t *testing.T) {
	srv := newTestServer(t, &fakePinger{}, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORSSpecificOrigin(t *testing.T) {
	srv := newTestServer(t, &fakePinger{}, []string{"https://fred.example.com"})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://fred.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://fred.example.com" {
		t.Errorf("Allow-Origin = %q, want the configured origin", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for disallowed origin, want empty", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakePinger{}, []string{"*"})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("preflight missing Allow-Methods header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})
	handler := recoveryMiddleware(log.NewNop())(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
