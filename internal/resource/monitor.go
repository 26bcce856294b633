// Package resource samples process and system memory on an interval and
// emits a coarse pressure level that the Context Pool and Test Runner
// subscribe to, so the rest of the system can shed load before the
// process is killed by the OS or the remote browser server falls over.
package resource

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/metrics"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Sample is one reading of process/system memory.
type Sample struct {
	ProcessRSSMB  int
	SystemUsedPct float64
	Level         types.PressureLevel
	At            time.Time
}

// Monitor periodically samples memory and fans out pressure-level
// transitions to subscribers. Thresholds are process-RSS megabytes with a
// hysteresis band, matching the bounds-correction idiom used throughout
// internal/config: generous but not silent about misconfiguration.
type Monitor struct {
	cfg  config.ResourceConfig
	proc *process.Process

	mu          sync.Mutex
	level       types.PressureLevel
	subscribers map[chan types.PressureLevel]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Monitor for the current process. gopsutil's
// process.Process wraps the PID so repeated calls to MemoryInfo don't
// re-open /proc on every sample.
func New(cfg config.ResourceConfig) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Monitor{
		cfg:         cfg,
		proc:        proc,
		subscribers: make(map[chan types.PressureLevel]struct{}),
	}, nil
}

// Start begins periodic sampling. Call Stop to release the ticker
// goroutine.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx)
}

// Stop halts sampling and closes all subscriber channels.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = make(map[chan types.PressureLevel]struct{})
}

// Subscribe registers a channel that receives every pressure-level
// transition (not every sample). The channel is created here with a
// buffer of 4; Monitor sends non-blockingly and drops a notification if the
// subscriber is behind, since only the latest level matters.
func (m *Monitor) Subscribe() <-chan types.PressureLevel {
	ch := make(chan types.PressureLevel, 4)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (m *Monitor) Unsubscribe(ch <-chan types.PressureLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.subscribers {
		if c == ch {
			delete(m.subscribers, c)
			close(c)
			return
		}
	}
}

// Level returns the most recently computed pressure level.
func (m *Monitor) Level() types.PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	interval := m.cfg.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	rssMB := 0
	if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
		rssMB = int(info.RSS / (1024 * 1024))
	} else if err != nil {
		log.Warn().Err(err).Msg("resource monitor: process memory sample failed, falling back to runtime.MemStats")
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		rssMB = int(ms.Sys / (1024 * 1024))
	}

	sysPct := 0.0
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		sysPct = vm.UsedPercent
	}

	newLevel := m.classify(rssMB)

	m.mu.Lock()
	oldLevel := m.level
	m.level = newLevel
	m.mu.Unlock()

	metrics.ResourcePressureLevel.Set(float64(newLevel))

	if newLevel != oldLevel {
		log.Info().
			Str("old_level", oldLevel.String()).
			Str("new_level", newLevel.String()).
			Int("rss_mb", rssMB).
			Float64("system_used_pct", sysPct).
			Msg("resource monitor: pressure level transition")
		m.broadcast(newLevel)
	}
}

// classify applies the configured thresholds with a hysteresis band: once
// in a level, the level only drops back down once usage falls
// HysteresisMB below that level's entry threshold. This satisfies the
// "stable hysteresis, no flapping at boundaries" requirement without
// tracking per-boundary state machines for each of the four edges.
func (m *Monitor) classify(rssMB int) types.PressureLevel {
	c := m.cfg
	current := m.Level()

	enter := func(level types.PressureLevel, threshold int) bool {
		if current >= level {
			return rssMB >= threshold-c.HysteresisMB
		}
		return rssMB >= threshold
	}

	switch {
	case enter(types.PressureCritical, c.CriticalThresholdMB):
		return types.PressureCritical
	case enter(types.PressureHigh, c.HighThresholdMB):
		return types.PressureHigh
	case enter(types.PressureMedium, c.MediumThresholdMB):
		return types.PressureMedium
	case enter(types.PressureLow, c.LowThresholdMB):
		return types.PressureLow
	default:
		return types.PressureNone
	}
}

func (m *Monitor) broadcast(level types.PressureLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- level:
		default:
		}
	}
}
