package healing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Prober is the minimal transport surface the engine needs to check
// whether a candidate selector resolves to a visible element. Satisfied
// structurally by *transport.Transport.
type Prober interface {
	ExecuteTool(ctx context.Context, verb, contextID string, params map[string]interface{}) (interface{}, error)
}

// Engine runs the ordered selector-healing strategies from §4.4 against
// a failing selector and persists whichever replacement works.
type Engine struct {
	cfg   config.HealingConfig
	store Store

	mu    sync.Mutex
	cache map[string]string // original selector -> last working selector, process-local
}

func New(cfg config.HealingConfig) (*Engine, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:   cfg,
		store: store,
		cache: make(map[string]string),
	}, nil
}

// Heal attempts to find a working replacement for selector against the
// page currently loaded in contextID, on domain.
func (e *Engine) Heal(ctx context.Context, prober Prober, domain, selector, contextID string) (*types.HealingResult, error) {
	start := time.Now()

	history, err := e.store.Load(ctx, domain)
	if err != nil {
		return nil, err
	}

	if blocked(history.BlockList, selector) {
		if alt := preemptiveAlternative(history, selector); alt != "" {
			selector = alt
		} else {
			return &types.HealingResult{Success: false, TimeMs: time.Since(start).Milliseconds()}, nil
		}
	}

	// Strategy 1: process-local cache of the most recent healing for
	// this exact selector.
	e.mu.Lock()
	cached := e.cache[selector]
	e.mu.Unlock()
	if cached != "" {
		if e.probe(ctx, prober, contextID, cached) {
			return e.succeed(ctx, history, selector, cached, "cached_history", 0.99, start)
		}
	}

	// Strategy 2: persisted per-domain last-working selector.
	if entry, ok := history.Entries[selector]; ok && entry.LastWorkingSelector != "" {
		if e.probe(ctx, prober, contextID, entry.LastWorkingSelector) {
			return e.succeed(ctx, history, selector, entry.LastWorkingSelector, "persisted_history", 0.97, start)
		}
	}

	// Strategies 3-7: generated candidates, sorted by confidence.
	candidates := generateCandidates(selector, e.cfg.MaxCandidates)
	for _, c := range candidates {
		if c.Confidence < e.cfg.MinConfidence {
			continue
		}
		if e.probe(ctx, prober, contextID, c.Selector) {
			return e.succeed(ctx, history, selector, c.Selector, c.Strategy, c.Confidence, start)
		}
	}

	e.fail(ctx, history, selector)
	return &types.HealingResult{Success: false, TimeMs: time.Since(start).Milliseconds()}, nil
}

// probe runs a cheap visibility check for candidate against contextID.
func (e *Engine) probe(ctx context.Context, prober Prober, contextID, candidate string) bool {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := prober.ExecuteTool(pctx, "evaluate", contextID, map[string]interface{}{
		"script": visibilityProbeScript(candidate),
	})
	if err != nil {
		return false
	}
	visible, _ := result.(bool)
	return visible
}

func visibilityProbeScript(selector string) string {
	return `(function(sel){try{var el=document.querySelector(sel);if(!el)return false;var r=el.getBoundingClientRect();return r.width>0&&r.height>0;}catch(e){return false;}})(` + quoteJS(selector) + `)`
}

func quoteJS(s string) string {
	return `"` + escapeJSString(s) + `"`
}

func escapeJSString(s string) string {
	out := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (e *Engine) succeed(ctx context.Context, history *types.DomainHealingHistory, original, working, strategy string, confidence float64, start time.Time) (*types.HealingResult, error) {
	e.mu.Lock()
	e.cache[original] = working
	e.mu.Unlock()

	entry, ok := history.Entries[original]
	if !ok {
		entry = &types.DomainHealingEntry{OriginalSelector: original}
		history.Entries[original] = entry
	}
	entry.LastWorkingSelector = working
	entry.SuccessCount++
	entry.LastUpdated = time.Now()
	history.LastUpdated = entry.LastUpdated

	if err := e.store.Save(ctx, history); err != nil {
		log.Warn().Str("domain", history.Domain).Err(err).Msg("failed to persist healing history")
	}

	return &types.HealingResult{
		Success:    true,
		Strategy:   strategy,
		Selector:   working,
		Confidence: confidence,
		TimeMs:     time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) fail(ctx context.Context, history *types.DomainHealingHistory, original string) {
	entry, ok := history.Entries[original]
	if !ok {
		entry = &types.DomainHealingEntry{OriginalSelector: original}
		history.Entries[original] = entry
	}
	entry.FailureCount++
	entry.LastUpdated = time.Now()
	history.LastUpdated = entry.LastUpdated

	if entry.FailureCount >= 5 {
		history.BlockList = appendUnique(history.BlockList, original)
	}

	if err := e.store.Save(ctx, history); err != nil {
		log.Warn().Str("domain", history.Domain).Err(err).Msg("failed to persist healing history")
	}
}

func blocked(blockList []string, selector string) bool {
	for _, b := range blockList {
		if b == selector {
			return true
		}
	}
	return false
}

// preemptiveAlternative returns a known-working selector for a blocked
// original, if history has one recorded.
func preemptiveAlternative(history *types.DomainHealingHistory, selector string) string {
	if entry, ok := history.Entries[selector]; ok {
		return entry.LastWorkingSelector
	}
	return ""
}

func appendUnique(list []string, val string) []string {
	for _, v := range list {
		if v == val {
			return list
		}
	}
	return append(list, val)
}
