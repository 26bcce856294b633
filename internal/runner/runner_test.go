package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/dsl"
	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/transport"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// fakeExecutor reports a fixed outcome per test name, optionally
// failing the first N attempts with an infrastructure-shaped error to
// exercise the runner's retry path, and sleeping to exercise timeouts.
type fakeExecutor struct {
	failUntilAttempt map[string]int
	attempts         map[string]*int64
	sleep            map[string]time.Duration
	status           map[string]types.TestStatus
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		failUntilAttempt: map[string]int{},
		attempts:         map[string]*int64{},
		sleep:            map[string]time.Duration{},
		status:           map[string]types.TestStatus{},
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, bctx *pool.Context, spec dsl.TestSpec) (*types.TestRunResult, error) {
	counter, ok := f.attempts[spec.Name]
	if !ok {
		var c int64
		counter = &c
		f.attempts[spec.Name] = counter
	}
	n := atomic.AddInt64(counter, 1)

	if d, ok := f.sleep[spec.Name]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if threshold, ok := f.failUntilAttempt[spec.Name]; ok && int(n) <= threshold {
		return nil, errors.New("simulated transport error")
	}

	status := types.TestPassed
	if s, ok := f.status[spec.Name]; ok {
		status = s
	}
	return &types.TestRunResult{
		ID:       "run-" + spec.Name,
		TestName: spec.Name,
		Status:   status,
		StartedAt: time.Now(),
	}, nil
}

func newFakePoolServer() *httptest.Server {
	var counter int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/command":
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
			_ = json.NewEncoder(w).Encode(types.ExecuteResponse{Success: true})
		}
	}))
}

func newTestRunner(t *testing.T, executor dsl.Executor, runnerCfg config.RunnerConfig) (*Runner, func()) {
	t.Helper()
	srv := newFakePoolServer()

	tr, err := transport.New(config.RemoteConfig{
		BaseURL: srv.URL, AuthMode: types.AuthNone, BaseTimeout: time.Second,
		MaxIdleConns: 8, MaxConcurrent: 8,
		Retry: config.RetryPolicy{MaxAttempts: 0, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("transport.New() error: %v", err)
	}

	p := pool.New(config.PoolConfig{
		MinSize: 2, MaxSize: 8,
		HealthCheckInterval:     50 * time.Millisecond,
		AcquireTimeout:          2 * time.Second,
		GracefulShutdownTimeout: time.Second,
	}, tr, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start() error: %v", err)
	}

	r := New(runnerCfg, p, executor, nil)
	cleanup := func() {
		p.Close(context.Background())
		tr.Close()
		srv.Close()
	}
	return r, cleanup
}

func testRunnerConfig() config.RunnerConfig {
	return config.RunnerConfig{
		MaxParallelTests:   4,
		MaxRetries:         2,
		DefaultTestTimeout: 2 * time.Second,
	}
}

func TestRunOneReturnsPassedResult(t *testing.T) {
	exec := newFakeExecutor()
	r, cleanup := newTestRunner(t, exec, testRunnerConfig())
	defer cleanup()

	result := r.RunOne(context.Background(), dsl.TestSpec{Name: "smoke"})
	if result.Status != types.TestPassed {
		t.Errorf("expected passed, got %v (%s)", result.Status, result.Error)
	}
}

func TestRunWithRetriesRecoversFromInfrastructureFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.failUntilAttempt["flaky"] = 2

	cfg := testRunnerConfig()
	cfg.MaxRetries = 3
	r, cleanup := newTestRunner(t, exec, cfg)
	defer cleanup()

	result := r.RunOne(context.Background(), dsl.TestSpec{Name: "flaky"})
	if result.Status != types.TestPassed {
		t.Fatalf("expected eventual pass after retries, got %v (%s)", result.Status, result.Error)
	}
	if result.Retries != 2 {
		t.Errorf("expected 2 retries recorded, got %d", result.Retries)
	}
}

func TestRunWithRetriesExhaustsAndFails(t *testing.T) {
	exec := newFakeExecutor()
	exec.failUntilAttempt["always-broken"] = 999

	cfg := testRunnerConfig()
	cfg.MaxRetries = 1
	r, cleanup := newTestRunner(t, exec, cfg)
	defer cleanup()

	result := r.RunOne(context.Background(), dsl.TestSpec{Name: "always-broken"})
	if result.Status != types.TestFailed {
		t.Fatalf("expected failed after exhausting retries, got %v", result.Status)
	}
}

func TestRunOneRecordsTimeoutWithoutRetry(t *testing.T) {
	exec := newFakeExecutor()
	exec.sleep["slow"] = 200 * time.Millisecond

	cfg := testRunnerConfig()
	cfg.DefaultTestTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 3
	r, cleanup := newTestRunner(t, exec, cfg)
	defer cleanup()

	result := r.RunOne(context.Background(), dsl.TestSpec{Name: "slow"})
	if result.Status != types.TestFailed {
		t.Fatalf("expected failed on timeout, got %v", result.Status)
	}
	if result.Retries != 0 {
		t.Errorf("expected a timeout to not be retried, got retries=%d", result.Retries)
	}
}

func TestRunSuiteSequentialRunsInOrderAndRespectsFailFast(t *testing.T) {
	exec := newFakeExecutor()
	exec.status["b"] = types.TestFailed

	r, cleanup := newTestRunner(t, exec, testRunnerConfig())
	defer cleanup()

	suite := dsl.TestSuite{
		Name:              "seq",
		ParallelExecution: false,
		FailFast:          true,
		Tests: []dsl.TestSpec{
			{Name: "a"}, {Name: "b"}, {Name: "c"},
		},
	}

	result, err := r.RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite() error: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected fail-fast to stop after the failing test, got %d results", len(result.Results))
	}
	if result.Passed != 1 || result.Failed != 1 {
		t.Errorf("expected 1 passed and 1 failed, got passed=%d failed=%d", result.Passed, result.Failed)
	}
}

func TestRunSuiteParallelAggregatesAllResults(t *testing.T) {
	exec := newFakeExecutor()

	r, cleanup := newTestRunner(t, exec, testRunnerConfig())
	defer cleanup()

	suite := dsl.TestSuite{
		Name:              "par",
		ParallelExecution: true,
		Tests: []dsl.TestSpec{
			{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"},
		},
	}

	result, err := r.RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite() error: %v", err)
	}
	if result.Total != 4 || result.Passed != 4 {
		t.Errorf("expected all 4 tests to pass, got %+v", result)
	}
	if result.MaxConcurrency < 1 {
		t.Errorf("expected max concurrency to be recorded as at least 1, got %d", result.MaxConcurrency)
	}
}

func TestDesiredParallelismMatchesPressureTable(t *testing.T) {
	cases := []struct {
		level types.PressureLevel
		want  int64
	}{
		{types.PressureNone, 10},
		{types.PressureLow, 9},
		{types.PressureMedium, 5},
		{types.PressureHigh, 3},
		{types.PressureCritical, 1},
	}
	for _, tc := range cases {
		if got := desiredParallelism(10, tc.level); got != tc.want {
			t.Errorf("desiredParallelism(10, %v) = %d, want %d", tc.level, got, tc.want)
		}
	}
}
