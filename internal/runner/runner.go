// Package runner implements the Async Test Runner: a bounded-concurrency
// executor that runs TestSpecs drawn from the DSL layer, isolating each
// test in its own acquired browser context, retrying infrastructure
// failures, and adapting its parallelism to resource pressure.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/dsl"
	"github.com/Zeeeepa/browserqa/internal/metrics"
	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/resource"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Runner bounds concurrency across calls to RunSuite/RunOne, acquiring
// contexts from a Pool and driving each test through an Executor.
type Runner struct {
	cfg      config.RunnerConfig
	pool     *pool.Pool
	executor dsl.Executor
	monitor  *resource.Monitor

	sem      *semaphore.Weighted
	inFlight int64

	mu      sync.Mutex
	desired int64

	pressureCh <-chan types.PressureLevel
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func New(cfg config.RunnerConfig, p *pool.Pool, executor dsl.Executor, monitor *resource.Monitor) *Runner {
	max := int64(cfg.MaxParallelTests)
	if max < 1 {
		max = 1
	}
	return &Runner{
		cfg:      cfg,
		pool:     p,
		executor: executor,
		monitor:  monitor,
		sem:      semaphore.NewWeighted(max),
		desired:  max,
		stopCh:   make(chan struct{}),
	}
}

// Start applies the monitor's current pressure level, subscribes to
// later resource-pressure transitions and keeps adjusting desired
// parallelism. Safe to call with a nil monitor (no adaptive behavior,
// fixed at maxParallelTests).
func (r *Runner) Start() {
	if r.monitor == nil {
		return
	}
	r.pressureCh = r.monitor.Subscribe()
	r.setDesired(desiredParallelism(int64(r.cfg.MaxParallelTests), r.monitor.Level()))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stopCh:
				r.monitor.Unsubscribe(r.pressureCh)
				return
			case level, ok := <-r.pressureCh:
				if !ok {
					return
				}
				r.setDesired(desiredParallelism(int64(r.cfg.MaxParallelTests), level))
			}
		}
	}()
}

// Stop ends the pressure-subscription goroutine started by Start.
func (r *Runner) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.wg.Wait()
}

func desiredParallelism(max int64, level types.PressureLevel) int64 {
	if max < 1 {
		max = 1
	}
	switch level {
	case types.PressureNone:
		return max
	case types.PressureLow:
		return max64(1, max-1)
	case types.PressureMedium:
		return max64(1, max/2)
	case types.PressureHigh:
		return max64(1, max/3)
	case types.PressureCritical:
		return 1
	default:
		return max
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (r *Runner) setDesired(v int64) {
	r.mu.Lock()
	r.desired = v
	r.mu.Unlock()
	metrics.RunnerParallelism.Set(float64(v))
}

func (r *Runner) getDesired() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desired
}

// RunOne runs a single TestSpec to completion, outside of any suite's
// fail-fast or concurrency bookkeeping.
func (r *Runner) RunOne(ctx context.Context, spec dsl.TestSpec) types.TestRunResult {
	if err := r.admit(ctx); err != nil {
		return timeoutOrCanceledResult(spec, err)
	}
	defer r.release()
	return r.runWithRetries(ctx, spec)
}

// RunSuite runs every TestSpec in suite and aggregates the outcome. If
// suite.ParallelExecution is false, tests run strictly sequentially in
// the order given.
func (r *Runner) RunSuite(ctx context.Context, suite dsl.TestSuite) (*types.ParallelExecutionResult, error) {
	start := time.Now()
	result := &types.ParallelExecutionResult{Total: len(suite.Tests)}

	if !suite.ParallelExecution {
		for _, spec := range suite.Tests {
			tr := r.runWithRetries(ctx, spec)
			result.Results = append(result.Results, tr)
			tally(result, tr)
			if suite.FailFast && tr.Status == types.TestFailed {
				break
			}
		}
		result.MaxConcurrency = 1
		result.Duration = time.Since(start)
		return result, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var inFlight int64
	var maxSeen int64
	var failed atomic.Bool

	for _, spec := range suite.Tests {
		if suite.FailFast && failed.Load() {
			break
		}
		if err := r.admit(ctx); err != nil {
			mu.Lock()
			result.Results = append(result.Results, timeoutOrCanceledResult(spec, err))
			tally(result, result.Results[len(result.Results)-1])
			mu.Unlock()
			continue
		}

		n := atomic.AddInt64(&inFlight, 1)
		for {
			seen := atomic.LoadInt64(&maxSeen)
			if n <= seen || atomic.CompareAndSwapInt64(&maxSeen, seen, n) {
				break
			}
		}

		wg.Add(1)
		go func(spec dsl.TestSpec) {
			defer wg.Done()
			defer r.release()
			defer atomic.AddInt64(&inFlight, -1)

			tr := r.runWithRetries(ctx, spec)
			if tr.Status == types.TestFailed {
				failed.Store(true)
			}
			mu.Lock()
			result.Results = append(result.Results, tr)
			tally(result, tr)
			mu.Unlock()
		}(spec)
	}

	wg.Wait()
	result.MaxConcurrency = int(maxSeen)
	result.Duration = time.Since(start)
	return result, nil
}

func tally(result *types.ParallelExecutionResult, tr types.TestRunResult) {
	switch tr.Status {
	case types.TestPassed:
		result.Passed++
	case types.TestFailed:
		result.Failed++
	case types.TestSkipped:
		result.Skipped++
	}
}

// admit blocks until both the desired-parallelism gate and the
// semaphore permit a new worker to start, per §4.3's adaptive
// parallelism: the semaphore stays fixed at maxParallelTests while
// admission polls the monitor-derived desired level in between
// acquisitions, avoiding a resize race on the semaphore itself.
func (r *Runner) admit(ctx context.Context) error {
	for atomic.LoadInt64(&r.inFlight) >= r.getDesired() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&r.inFlight, 1)
	return nil
}

// release returns the permit acquired by admit.
func (r *Runner) release() {
	atomic.AddInt64(&r.inFlight, -1)
	r.sem.Release(1)
}

// runWithRetries runs spec, retrying on infrastructure failures
// (pool acquisition, transport errors surfaced by the Executor) up to
// cfg.MaxRetries times with linear backoff 1s*(attempt+1). A per-test
// timeout is recorded as Failed without retry.
func (r *Runner) runWithRetries(ctx context.Context, spec dsl.TestSpec) types.TestRunResult {
	start := time.Now()
	var lastResult *types.TestRunResult
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		attempts = attempt
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-ctx.Done():
				return canceledResult(spec, start, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastResult, lastErr = r.attempt(ctx, spec)
		if lastErr == nil {
			break
		}
		log.Warn().Str("test", spec.Name).Int("attempt", attempt).Err(lastErr).Msg("runner: infrastructure failure, retrying")
	}

	var tr types.TestRunResult
	if lastErr != nil {
		tr = types.TestRunResult{
			ID:        uuid.NewString(),
			TestName:  spec.Name,
			Status:    types.TestFailed,
			Error:     lastErr.Error(),
			StartedAt: start,
			Duration:  time.Since(start),
			Retries:   attempts,
		}
	} else {
		tr = *lastResult
		tr.Retries = attempts
	}

	metrics.RecordTestRun(string(tr.Status))
	return tr
}

// attempt acquires a context, runs the Executor under the spec's
// timeout, and releases the context. A returned error is treated as an
// infrastructure failure eligible for retry; a timeout or a normal
// test failure is returned as a TestRunResult instead.
func (r *Runner) attempt(ctx context.Context, spec dsl.TestSpec) (*types.TestRunResult, error) {
	bctx, err := r.pool.Acquire(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("acquire context: %w", err)
	}
	defer r.pool.Release(ctx, bctx)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTestTimeout
	}
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, execErr := r.executor.Execute(testCtx, bctx, spec)
	if execErr != nil {
		if testCtx.Err() == context.DeadlineExceeded {
			return &types.TestRunResult{
				ID:        uuid.NewString(),
				TestName:  spec.Name,
				Status:    types.TestFailed,
				Error:     fmt.Sprintf("timed out after %s", timeout),
				StartedAt: start,
				Duration:  time.Since(start),
			}, nil
		}
		return nil, execErr
	}
	return result, nil
}

func canceledResult(spec dsl.TestSpec, start time.Time, err error) types.TestRunResult {
	return types.TestRunResult{
		ID:        uuid.NewString(),
		TestName:  spec.Name,
		Status:    types.TestFailed,
		Error:     err.Error(),
		StartedAt: start,
		Duration:  time.Since(start),
	}
}

func timeoutOrCanceledResult(spec dsl.TestSpec, err error) types.TestRunResult {
	return canceledResult(spec, time.Now(), err)
}
