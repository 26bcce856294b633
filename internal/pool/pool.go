// Package pool manages the Browser Context Pool: a fixed-capacity set
// of browser contexts minted on the remote browser server, handed out
// to callers and recycled according to use-count, age, idle time and
// health-check outcome, modeled on the way a connection pool manages
// a bounded set of expensive remote resources.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/metrics"
	"github.com/Zeeeepa/browserqa/internal/resource"
	"github.com/Zeeeepa/browserqa/internal/transport"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Stats is a snapshot of pool counters, reported by the admin API.
type Stats struct {
	Size      int
	Available int
	InUse     int
	Acquired  int64
	Released  int64
	Recycled  int64
	Errors    int64
}

type Pool struct {
	cfg       config.PoolConfig
	transport *transport.Transport
	monitor   *resource.Monitor

	mu        sync.Mutex
	all       map[uuid.UUID]*Context
	available []*Context

	// Counters below are guarded by mu, not atomics, since every
	// update already happens under the lock.
	acquired int64
	released int64
	recycled int64
	errors   int64

	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	pressureCh <-chan types.PressureLevel
}

func New(cfg config.PoolConfig, t *transport.Transport, monitor *resource.Monitor) *Pool {
	return &Pool{
		cfg:       cfg,
		transport: t,
		monitor:   monitor,
		all:       make(map[uuid.UUID]*Context),
		stopCh:    make(chan struct{}),
	}
}

// Start pre-warms the pool to MinSize and launches the background
// cleanup loop that enforces the recycling policy.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.MinSize; i++ {
		c, err := p.createContext(ctx, "")
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.available = append(p.available, c)
		p.mu.Unlock()
	}
	metrics.UpdatePoolMetrics(p.size(), p.availableCount())

	if p.monitor != nil {
		p.pressureCh = p.monitor.Subscribe()
	}

	p.wg.Add(1)
	go p.cleanupLoop()
	return nil
}

// Acquire returns an Available context, growing the pool up to MaxSize
// if none is free, or creating one synchronously as a last resort.
// serviceTag scopes the context to a caller-defined service/tenant so
// unrelated callers never share browser state.
func (p *Pool) Acquire(ctx context.Context, serviceTag string) (*Context, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, types.ErrPoolClosed
		}

		if c := p.popAvailableLocked(serviceTag); c != nil {
			c.State = types.ContextInUse
			c.LastUsedAt = time.Now()
			c.UseCount++
			p.acquired++
			size, avail := p.size(), len(p.available)
			p.mu.Unlock()
			metrics.UpdatePoolMetrics(size, avail)
			return c, nil
		}

		canGrow := len(p.all) < p.cfg.MaxSize
		p.mu.Unlock()

		if canGrow {
			c, err := p.createContext(ctx, serviceTag)
			if err == nil {
				p.mu.Lock()
				c.State = types.ContextInUse
				c.UseCount++
				p.acquired++
				size, avail := p.size(), len(p.available)
				p.mu.Unlock()
				metrics.UpdatePoolMetrics(size, avail)
				return c, nil
			}
			p.mu.Lock()
			p.errors++
			p.mu.Unlock()
		}

		if time.Now().After(deadline) {
			return nil, types.NewPoolAcquireError("timeout waiting for available context", types.ErrPoolTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// popAvailableLocked prefers a context already tagged for serviceTag,
// falling back to any untagged/available context, so repeated callers
// for the same service reuse warm browser state when possible.
func (p *Pool) popAvailableLocked(serviceTag string) *Context {
	if serviceTag != "" {
		for i, c := range p.available {
			if c.ServiceTag == serviceTag {
				p.available = append(p.available[:i], p.available[i+1:]...)
				return c
			}
		}
	}
	if len(p.available) == 0 {
		return nil
	}
	c := p.available[0]
	p.available = p.available[1:]
	c.ServiceTag = serviceTag
	return c
}

// Release returns a context to the pool, or recycles it first if the
// recycling policy calls for it.
func (p *Pool) Release(ctx context.Context, c *Context) {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()

	if reason := p.shouldRecycle(c); reason != "" {
		p.recycle(ctx, c, reason)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	c.State = types.ContextAvailable
	c.LastUsedAt = time.Now()
	p.available = append(p.available, c)
	metrics.UpdatePoolMetrics(p.size(), len(p.available))
}

// shouldRecycle implements the pool's recycling policy: a context is
// retired once it has served MaxUseCount requests, has lived past
// MaxAge, or has sat idle past MaxIdle while the pool is above its
// minimum size.
func (p *Pool) shouldRecycle(c *Context) string {
	now := time.Now()
	switch {
	case p.cfg.MaxUseCount > 0 && c.UseCount >= p.cfg.MaxUseCount:
		return "max_use_count"
	case p.cfg.MaxAge > 0 && c.age(now) >= p.cfg.MaxAge:
		return "max_age"
	case p.cfg.MaxIdle > 0 && c.idle(now) >= p.cfg.MaxIdle && p.size() > p.cfg.MinSize:
		return "max_idle"
	default:
		return ""
	}
}

func (p *Pool) recycle(ctx context.Context, c *Context, reason string) {
	p.mu.Lock()
	c.State = types.ContextRecycling
	p.mu.Unlock()

	p.closeContext(ctx, c)

	p.mu.Lock()
	delete(p.all, c.ID)
	p.recycled++
	needsReplacement := !p.closed && p.size() < p.cfg.MinSize
	p.mu.Unlock()

	metrics.RecordPoolRecycled(reason)
	log.Debug().Str("context_id", c.ID.String()).Str("reason", reason).Msg("recycled browser context")

	if needsReplacement {
		if nc, err := p.createContext(ctx, ""); err == nil {
			p.mu.Lock()
			if !p.closed {
				p.available = append(p.available, nc)
			} else {
				p.closeContext(ctx, nc)
			}
			p.mu.Unlock()
		}
	}
	metrics.UpdatePoolMetrics(p.size(), p.availableCount())
}

// healthCheck probes a context with a cheap, side-effect-free tool
// call so a stale or crashed remote page fails fast instead of being
// handed to the next caller.
func (p *Pool) healthCheck(ctx context.Context, c *Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.transport.ExecuteTool(hctx, "get_current_url", c.ID.String(), nil)
	return err == nil
}

func (p *Pool) createContext(ctx context.Context, serviceTag string) (*Context, error) {
	result, err := p.transport.SendRaw(ctx, types.CommandRequest{
		Cmd:        types.CmdContextCreate,
		ServiceTag: serviceTag,
	})
	if err != nil {
		return nil, types.NewPoolAcquireError("remote context creation failed", err)
	}

	id := uuid.New()
	if m, ok := result.(map[string]interface{}); ok {
		if raw, ok := m["context_id"].(string); ok {
			if parsed, err := uuid.Parse(raw); err == nil {
				id = parsed
			}
		}
	}

	c := newContext(id, serviceTag)
	p.mu.Lock()
	p.all[c.ID] = c
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) closeContext(ctx context.Context, c *Context) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.transport.SendRaw(cctx, types.CommandRequest{
		Cmd:       types.CmdContextClose,
		ContextID: c.ID.String(),
	})
	if err != nil {
		log.Warn().Str("context_id", c.ID.String()).Err(err).Msg("failed to close remote browser context")
	}
}

// cleanupLoop periodically enforces the recycling policy against idle
// contexts and reacts to resource pressure by shedding contexts above
// the pool's minimum size.
func (p *Pool) cleanupLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepIdle()
		case level, ok := <-p.pressureCh:
			if !ok {
				p.pressureCh = nil
				continue
			}
			if level >= types.PressureHigh {
				p.shedUnderPressure()
			}
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var candidates []*Context
	kept := p.available[:0:0]
	for _, c := range p.available {
		if reason := p.shouldRecycle(c); reason != "" {
			candidates = append(candidates, c)
			continue
		}
		kept = append(kept, c)
	}
	p.available = kept
	p.mu.Unlock()

	for _, c := range candidates {
		p.recycle(context.Background(), c, "idle_sweep")
	}

	p.sweepUnhealthy()
}

// sweepUnhealthy probes one available context per cycle with a cheap
// remote call and recycles it on failure, spreading health-check load
// across cleanup ticks instead of probing the whole pool at once.
func (p *Pool) sweepUnhealthy() {
	p.mu.Lock()
	var target *Context
	if len(p.available) > 0 {
		target = p.available[0]
	}
	p.mu.Unlock()
	if target == nil {
		return
	}

	if p.healthCheck(context.Background(), target) {
		return
	}

	p.mu.Lock()
	for i, c := range p.available {
		if c.ID == target.ID {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.recycle(context.Background(), target, "health_check_failed")
}

// shedUnderPressure recycles available contexts down to MinSize when
// the resource monitor reports sustained high or critical pressure.
func (p *Pool) shedUnderPressure() {
	p.mu.Lock()
	var excess []*Context
	for len(p.available) > p.cfg.MinSize {
		excess = append(excess, p.available[len(p.available)-1])
		p.available = p.available[:len(p.available)-1]
	}
	p.mu.Unlock()

	for _, c := range excess {
		p.recycle(context.Background(), c, "resource_pressure")
	}
}

// Close drains the pool: it waits up to GracefulShutdownTimeout for
// in-use contexts to be released, then closes every remaining context
// on the remote browser server.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	deadline := time.Now().Add(p.cfg.GracefulShutdownTimeout)
	for {
		p.mu.Lock()
		inUse := len(p.all) - len(p.available)
		p.mu.Unlock()
		if inUse <= 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	p.mu.Lock()
	remaining := make([]*Context, 0, len(p.all))
	for _, c := range p.all {
		remaining = append(remaining, c)
	}
	p.all = make(map[uuid.UUID]*Context)
	p.available = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	sem := make(chan struct{}, 4)
	for _, c := range remaining {
		c := c
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.closeContext(ctx, c)
		}()
	}
	wg.Wait()

	if p.monitor != nil && p.pressureCh != nil {
		p.monitor.Unsubscribe(p.pressureCh)
	}

	metrics.UpdatePoolMetrics(0, 0)
	return nil
}

func (p *Pool) size() int {
	return len(p.all)
}

func (p *Pool) availableCount() int {
	return len(p.available)
}

// Stats returns a snapshot of pool counters for the admin API.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      len(p.all),
		Available: len(p.available),
		InUse:     len(p.all) - len(p.available),
		Acquired:  p.acquired,
		Released:  p.released,
		Recycled:  p.recycled,
		Errors:    p.errors,
	}
}
