package resource

import (
	"testing"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/types"
)

func testConfig() config.ResourceConfig {
	return config.ResourceConfig{
		LowThresholdMB:      200,
		MediumThresholdMB:   400,
		HighThresholdMB:     600,
		CriticalThresholdMB: 800,
		HysteresisMB:        50,
	}
}

func TestClassifyMonotonic(t *testing.T) {
	m := &Monitor{cfg: testConfig()}

	cases := []struct {
		rssMB int
		want  types.PressureLevel
	}{
		{0, types.PressureNone},
		{199, types.PressureNone},
		{200, types.PressureLow},
		{399, types.PressureLow},
		{400, types.PressureMedium},
		{600, types.PressureHigh},
		{800, types.PressureCritical},
		{10000, types.PressureCritical},
	}

	for _, tc := range cases {
		got := m.classify(tc.rssMB)
		if got != tc.want {
			t.Errorf("classify(%d) = %v, want %v", tc.rssMB, got, tc.want)
		}
		m.mu.Lock()
		m.level = got
		m.mu.Unlock()
	}
}

func TestClassifyHysteresisPreventsFlapping(t *testing.T) {
	m := &Monitor{cfg: testConfig()}

	// Climb into Medium.
	if got := m.classify(400); got != types.PressureMedium {
		t.Fatalf("expected Medium, got %v", got)
	}
	m.level = types.PressureMedium

	// Drop just below the Medium threshold but within the hysteresis band:
	// must NOT fall back to Low yet.
	if got := m.classify(360); got != types.PressureMedium {
		t.Errorf("expected level to stay Medium inside hysteresis band, got %v", got)
	}

	// Drop below threshold minus hysteresis: now it may fall.
	if got := m.classify(340); got != types.PressureLow {
		t.Errorf("expected level to drop to Low once below hysteresis band, got %v", got)
	}
}

func TestClassifyFromZeroStateIgnoresHysteresis(t *testing.T) {
	m := &Monitor{cfg: testConfig()}

	// Starting at None, a sample just under the Low threshold should not
	// be treated as "already in Low" - hysteresis only applies once a
	// level has actually been entered.
	if got := m.classify(180); got != types.PressureNone {
		t.Errorf("classify(180) from None = %v, want None", got)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	m := &Monitor{
		cfg:         testConfig(),
		subscribers: make(map[chan types.PressureLevel]struct{}),
	}

	ch := m.Subscribe()
	m.broadcast(types.PressureHigh)

	select {
	case lvl := <-ch:
		if lvl != types.PressureHigh {
			t.Errorf("got %v, want PressureHigh", lvl)
		}
	default:
		t.Error("expected a buffered notification")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}
