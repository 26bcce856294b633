package healing

import (
	"context"
	"testing"

	"github.com/Zeeeepa/browserqa/internal/config"
)

// fakeProber treats any selector in visible as resolving to a visible
// element, everything else as not found.
type fakeProber struct {
	visible map[string]bool
	calls   []string
}

func (f *fakeProber) ExecuteTool(_ context.Context, verb, contextID string, params map[string]interface{}) (interface{}, error) {
	script, _ := params["script"].(string)
	f.calls = append(f.calls, script)
	for sel, ok := range f.visible {
		if ok && containsSelector(script, sel) {
			return true, nil
		}
	}
	return false, nil
}

func containsSelector(script, selector string) bool {
	return len(selector) > 0 && stringsContains(script, escapeJSString(selector))
}

func stringsContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.HealingConfig{
		HistoryDir:    t.TempDir(),
		MinConfidence: 0.6,
		MaxCandidates: 15,
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func TestHealFindsAttributeFallback(t *testing.T) {
	e := testEngine(t)
	prober := &fakeProber{visible: map[string]bool{`[data-testid="login-button"]`: true}}

	result, err := e.Heal(context.Background(), prober, "example.com", `#login-btn[data-testid="login-button"]`, "ctx-1")
	if err != nil {
		t.Fatalf("Heal() error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected healing to succeed, got %+v", result)
	}
	if result.Selector != `[data-testid="login-button"]` {
		t.Errorf("expected healed selector [data-testid=\"login-button\"], got %q (strategy=%s)", result.Selector, result.Strategy)
	}
}

func TestHealReusesCachedSelectorOnSecondCall(t *testing.T) {
	e := testEngine(t)
	prober := &fakeProber{visible: map[string]bool{`[data-testid="ok"]`: true}}

	original := `#missing[data-testid="ok"]`
	first, err := e.Heal(context.Background(), prober, "example.com", original, "ctx-1")
	if err != nil || !first.Success {
		t.Fatalf("expected first heal to succeed: %+v, err=%v", first, err)
	}

	prober.calls = nil
	second, err := e.Heal(context.Background(), prober, "example.com", original, "ctx-1")
	if err != nil || !second.Success {
		t.Fatalf("expected second heal to succeed from cache: %+v, err=%v", second, err)
	}
	if second.Strategy != "cached_history" {
		t.Errorf("expected second call to hit cached_history strategy, got %q", second.Strategy)
	}
}

func TestHealReturnsFailureWhenNoCandidateResolves(t *testing.T) {
	e := testEngine(t)
	prober := &fakeProber{visible: map[string]bool{}}

	result, err := e.Heal(context.Background(), prober, "example.com", "#totally-gone", "ctx-1")
	if err != nil {
		t.Fatalf("Heal() error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected healing to fail when no candidate is visible, got %+v", result)
	}
}

func TestHealRespectsBlockListAfterRepeatedFailures(t *testing.T) {
	e := testEngine(t)
	prober := &fakeProber{visible: map[string]bool{}}

	for i := 0; i < 5; i++ {
		if _, err := e.Heal(context.Background(), prober, "example.com", "#dead-selector", "ctx-1"); err != nil {
			t.Fatalf("Heal() error on attempt %d: %v", i, err)
		}
	}

	history, err := e.store.Load(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("store.Load() error: %v", err)
	}
	if !blocked(history.BlockList, "#dead-selector") {
		t.Errorf("expected #dead-selector to be block-listed after 5 failures, block list: %v", history.BlockList)
	}
}
