package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/crawler"
	"github.com/Zeeeepa/browserqa/internal/dsl"
	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/runner"
	"github.com/Zeeeepa/browserqa/internal/transport"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// fakeRemoteServer answers health checks, context creation, and every
// tool call with an empty success envelope, enough to exercise the
// pool and crawler against a real transport.Transport.
func fakeRemoteServer() *httptest.Server {
	var counter int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(types.HealthResponse{Status: "ok", Version: "test", MaxContexts: 8})
		case "/command":
			var cmd types.CommandRequest
			_ = json.NewDecoder(r.Body).Decode(&cmd)
			if cmd.Cmd == types.CmdContextCreate {
				id := atomic.AddInt64(&counter, 1)
				_ = json.NewEncoder(w).Encode(types.ExecuteResponse{
					Success: true,
					Result:  map[string]interface{}{"context_id": fmt.Sprintf("00000000-0000-0000-0000-%012d", id)},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(types.ExecuteResponse{Success: true})
		default:
			_ = json.NewEncoder(w).Encode(types.ExecuteResponse{Success: true, Result: map[string]interface{}{}})
		}
	}))
}

func testDeps(t *testing.T) (Deps, func()) {
	t.Helper()
	srv := fakeRemoteServer()

	cfg := &config.Config{
		Host: "127.0.0.1", Port: 0,
		CORSAllowedOrigins: []string{"https://example.com"},
		RequestTimeout:     2 * time.Second,
		Remote: config.RemoteConfig{
			BaseURL: srv.URL, AuthMode: types.AuthNone, BaseTimeout: time.Second,
			MaxIdleConns: 8, MaxConcurrent: 8,
			Retry: config.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond},
		},
		Pool: config.PoolConfig{
			MinSize: 1, MaxSize: 4,
			HealthCheckInterval: 50 * time.Millisecond, AcquireTimeout: time.Second,
			GracefulShutdownTimeout: time.Second,
		},
		Runner: config.RunnerConfig{MaxParallelTests: 2, MaxRetries: 1, DefaultTestTimeout: time.Second},
		Crawl:  config.CrawlConfig{MaxDepth: 1, MaxPages: 5, SameDomainOnly: true},
	}

	tr, err := transport.New(cfg.Remote)
	if err != nil {
		t.Fatalf("transport.New() error: %v", err)
	}
	p := pool.New(cfg.Pool, tr, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start() error: %v", err)
	}
	cr, err := crawler.New(cfg.Crawl)
	if err != nil {
		t.Fatalf("crawler.New() error: %v", err)
	}
	executor := dsl.NewStubExecutor(tr, nil)
	rn := runner.New(cfg.Runner, p, executor, nil)

	cleanup := func() {
		p.Close(context.Background())
		tr.Close()
		srv.Close()
	}
	return Deps{Config: cfg, Pool: p, Runner: rn, Crawler: cr, Transport: tr}, cleanup
}

func TestHealthEndpointBypassesAPIKeyAuth(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	deps.Config.APIKeyEnabled = true
	deps.Config.APIKey = "a-valid-looking-test-key"

	srv := NewServer(deps)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCrawlEndpointRunsCrawlAndReturnsResult(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	srv := NewServer(deps)
	defer srv.Close()

	body, _ := json.Marshal(crawlRequest{SeedURL: "https://example.com"})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result types.CrawlResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.SeedURL != "https://example.com" {
		t.Errorf("expected seed_url echoed back, got %q", result.SeedURL)
	}
	if result.RunID == "" {
		t.Error("expected a generated run_id when none was supplied")
	}
}

func TestCrawlEndpointRejectsInvalidRunID(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	srv := NewServer(deps)
	defer srv.Close()

	body, _ := json.Marshal(crawlRequest{SeedURL: "https://example.com", RunID: "../etc/passwd"})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid run_id, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCrawlEndpointRejectsMissingSeedURL(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	srv := NewServer(deps)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTestsRunEndpointAggregatesResult(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	srv := NewServer(deps)
	defer srv.Close()

	suite := dsl.TestSuite{
		Name: "smoke",
		Tests: []dsl.TestSpec{
			{Name: "one", Steps: []dsl.Action{{Kind: dsl.ActionNavigate, Value: "https://example.com"}}},
		},
	}
	body, _ := json.Marshal(suite)
	req := httptest.NewRequest(http.MethodPost, "/tests/run", bytes.NewReader(body))
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result types.ParallelExecutionResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("expected 1 test, got %d", result.Total)
	}
}

func TestPoolStatsEndpointReportsSnapshot(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	srv := NewServer(deps)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/stats/pool", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats poolStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Size < deps.Config.Pool.MinSize {
		t.Errorf("expected pool size to be at least MinSize, got %d", stats.Size)
	}
}

func TestCORSRejectsDisallowedOrigin(t *testing.T) {
	deps, cleanup := testDeps(t)
	defer cleanup()
	srv := NewServer(deps)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no CORS header for a disallowed origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}
