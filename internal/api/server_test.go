package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/engine"
	"github.com/seantiz/foundry/internal/router"
	"github.com/seantiz/foundry/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, _ := newTestServerWithDispatcher(t, nil)
	return srv
}

// newTestServerWithDispatcher builds a server over an in-memory store and a
// router whose every backend type is a mock. A nil reg uses that default.
func newTestServerWithDispatcher(t *testing.T, reg *backend.Registry) (*Server, *engine.Dispatcher) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if reg == nil {
		reg = mockRegistry()
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rt, err := router.New(router.Config{DefaultBackend: backend.TypeMock}, reg, logger)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	d, err := engine.NewDispatcher(s, rt, nil, engine.Config{
		Workspace:  t.TempDir(),
		BaseBranch: "main",
		MaxWorkers: 4,
		Timeout:    10 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	t.Cleanup(func() { d.Shutdown(time.Second) })

	return NewServer(":0", s, rt, d, logger), d
}

// mockRegistry registers the mock factory under every built-in type name so
// no test shells out to a real CLI.
func mockRegistry() *backend.Registry {
	reg := backend.NewRegistry()
	for _, name := range []string{backend.TypeMock, backend.TypeClaudeCode, backend.TypeCCPM, backend.TypeCodex} {
		reg.Register(name, backend.NewMockFromConfig)
	}
	return reg
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
