// Package crawler implements the Intelligent Crawler: starting from a
// seed URL it explores a web application up to configured bounds,
// producing CrawledPages with discovered URLs, forms and a coverage
// score, driven entirely through the remote browser server.
package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/ratelimit"
	"github.com/Zeeeepa/browserqa/internal/security"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Prober is the transport surface the crawler needs: navigate, read
// the page, and drive a login form. Satisfied structurally by
// *transport.Transport.
type Prober interface {
	ExecuteTool(ctx context.Context, verb, contextID string, params map[string]interface{}) (interface{}, error)
}

// Credentials are optional login credentials supplied for one crawl
// run; if a login form is detected and Credentials is non-nil, the
// crawler attempts to authenticate per §4.5 step 6.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Crawler runs one crawl at a time against a single remote browser
// context.
type Crawler struct {
	cfg     config.CrawlConfig
	limiter *rate.Limiter
}

func New(cfg config.CrawlConfig) (*Crawler, error) {
	if cfg.ProxyURL != "" {
		if err := security.ValidateProxyURL(cfg.ProxyURL, false); err != nil {
			return nil, fmt.Errorf("crawler: invalid proxy_url: %w", err)
		}
		log.Info().Str("proxy_url", security.RedactProxyURL(cfg.ProxyURL)).Msg("crawler: proxy configured")
	}
	interval := time.Duration(cfg.RateLimitMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Crawler{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

// Crawl explores seedURL to the bounds in cfg, using contextID as the
// browser context to navigate within.
func (c *Crawler) Crawl(ctx context.Context, prober Prober, seedURL, contextID string, creds *Credentials) (*types.CrawlResult, error) {
	if err := security.ValidateURL(seedURL); err != nil {
		return nil, fmt.Errorf("crawler: seed url rejected: %w", err)
	}

	seedHost := hostOf(seedURL)
	start := time.Now()

	q := newQueue()
	q.Enqueue(seedURL, 0, classifyPriority(seedURL), "")

	result := &types.CrawlResult{SeedURL: seedURL, StartedAt: start}
	seenFingerprints := make(map[string]bool)
	authAttempted := false

	maxDuration := time.Duration(c.cfg.MaxDurationSeconds) * time.Second

	for {
		if ctx.Err() != nil {
			result.StoppedReason = "canceled"
			break
		}
		if maxDuration > 0 && time.Since(start) >= maxDuration {
			result.StoppedReason = "max_duration"
			break
		}
		if c.cfg.MaxPages > 0 && len(result.Pages) >= c.cfg.MaxPages {
			result.StoppedReason = "max_pages"
			break
		}

		item, ok := q.Dequeue()
		if !ok {
			result.StoppedReason = "queue_empty"
			break
		}

		if err := c.limiter.Wait(ctx); err != nil {
			result.StoppedReason = "canceled"
			break
		}

		page := c.crawlPage(ctx, prober, contextID, item, seenFingerprints, creds, &authAttempted)
		result.Pages = append(result.Pages, page)

		if page.Depth > result.MaxDepthReached {
			result.MaxDepthReached = page.Depth
		}
		result.FormsFound += len(page.Forms)
		if page.AuthDetected {
			result.AuthDetected = true
		}
		if page.AuthCompleted {
			result.AuthCompleted = true
		}

		if page.State == types.PageFailed && item.RetryCount < c.cfg.MaxRetries {
			q.Requeue(item)
			continue
		}

		if page.State == types.PageCompleted {
			for _, discovered := range page.DiscoveredURLs {
				norm := Normalize(discovered)
				if !admit(c.cfg, seedHost, norm, item.Depth+1) {
					continue
				}
				q.Enqueue(discovered, item.Depth+1, classifyPriority(discovered), item.URL)
			}
		}
	}

	result.Duration = time.Since(start)
	result.CoverageScore = coverageScore(c.cfg, result)
	return result, nil
}

// crawlPage runs the per-page pipeline from §4.5 steps 3-7 for one
// dequeued item.
func (c *Crawler) crawlPage(ctx context.Context, prober Prober, contextID string, item types.CrawlQueueItem, seenFingerprints map[string]bool, creds *Credentials, authAttempted *bool) types.CrawledPage {
	page := types.CrawledPage{URL: item.URL, Depth: item.Depth, StartedAt: time.Now(), State: types.PageInProgress}

	opTimeout := 30 * time.Second
	navCtx, cancel := context.WithTimeout(ctx, opTimeout)
	_, err := prober.ExecuteTool(navCtx, "navigate", contextID, map[string]interface{}{"url": item.URL})
	cancel()
	if err != nil {
		log.Warn().Str("url", security.RedactURL(item.URL)).Err(err).Msg("crawler: navigation failed")
		page.State = types.PageFailed
		page.Error = err.Error()
		page.Duration = time.Since(page.StartedAt)
		return page
	}

	if c.cfg.WaitAfterNavigationMs > 0 {
		waitCtx, waitCancel := context.WithTimeout(ctx, opTimeout)
		_, _ = prober.ExecuteTool(waitCtx, "wait", contextID, map[string]interface{}{"timeoutMs": c.cfg.WaitAfterNavigationMs})
		waitCancel()
	}

	qpCtx, qpCancel := context.WithTimeout(ctx, opTimeout)
	raw, err := prober.ExecuteTool(qpCtx, "query_page", contextID, nil)
	qpCancel()
	if err != nil {
		page.State = types.PageFailed
		page.Error = err.Error()
		page.Duration = time.Since(page.StartedAt)
		return page
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		page.State = types.PageFailed
		page.Error = err.Error()
		page.Duration = time.Since(page.StartedAt)
		return page
	}

	if info := ratelimit.Detect(0, snap.Text); info.Detected && info.Category == ratelimit.CategoryRateLimit {
		page.State = types.PageFailed
		page.Error = info.Description
		page.Duration = time.Since(page.StartedAt)
		return page
	}

	fp := fingerprint(snap)
	if seenFingerprints[fp] {
		page.State = types.PageSkipped
		page.Fingerprint = fp
		page.FinalURL = snap.URL
		page.Title = snap.Title
		page.Duration = time.Since(page.StartedAt)
		return page
	}
	seenFingerprints[fp] = true

	page.FinalURL = snap.URL
	page.Title = snap.Title
	page.Fingerprint = fp
	page.DiscoveredURLs = snap.Links
	page.Forms = toDiscoveredForms(snap.Forms)
	page.AuthDetected = detectAuth(snap.Forms)

	if page.AuthDetected && creds != nil && !*authAttempted {
		*authAttempted = true
		page.AuthCompleted = c.attemptLogin(ctx, prober, contextID, snap.Forms, creds)
	}

	page.State = types.PageCompleted
	page.Duration = time.Since(page.StartedAt)
	return page
}

var loginFieldHints = []string{"email", "username", "user", "login"}

// attemptLogin fills and submits the first form that has a password
// field, using the first text/email field that looks like a username
// input, per §4.5 step 6.
func (c *Crawler) attemptLogin(ctx context.Context, prober Prober, contextID string, forms []rawForm, creds *Credentials) bool {
	for _, f := range forms {
		var userSel, passSel string
		for _, field := range f.Fields {
			sel := fieldSelector(field)
			if sel == "" {
				continue
			}
			if strings.EqualFold(field.Type, "password") {
				passSel = sel
				continue
			}
			if userSel == "" && looksLikeLoginField(field) {
				userSel = sel
			}
		}
		if passSel == "" || userSel == "" {
			continue
		}

		loginCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		ok := c.submitLogin(loginCtx, prober, contextID, userSel, passSel, creds)
		cancel()
		return ok
	}
	return false
}

func (c *Crawler) submitLogin(ctx context.Context, prober Prober, contextID, userSel, passSel string, creds *Credentials) bool {
	if _, err := prober.ExecuteTool(ctx, "type", contextID, map[string]interface{}{"selector": userSel, "text": creds.Username}); err != nil {
		return false
	}
	if _, err := prober.ExecuteTool(ctx, "type", contextID, map[string]interface{}{"selector": passSel, "text": creds.Password}); err != nil {
		return false
	}
	if _, err := prober.ExecuteTool(ctx, "click", contextID, map[string]interface{}{"selector": passSel}); err != nil {
		return false
	}
	if _, err := prober.ExecuteTool(ctx, "wait", contextID, map[string]interface{}{"timeoutMs": c.cfg.WaitAfterNavigationMs}); err != nil {
		return false
	}
	return true
}

func looksLikeLoginField(field rawField) bool {
	if strings.EqualFold(field.Type, "email") {
		return true
	}
	if !strings.EqualFold(field.Type, "text") {
		return false
	}
	lower := strings.ToLower(field.Name + " " + field.ID + " " + field.Placeholder)
	for _, hint := range loginFieldHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func fieldSelector(field rawField) string {
	if field.ID != "" {
		return "#" + field.ID
	}
	if field.Name != "" {
		return fmt.Sprintf(`[name="%s"]`, field.Name)
	}
	return ""
}

func hostOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// coverageScore computes the §4.5 coverage formula, rounded to 3
// decimals.
func coverageScore(cfg config.CrawlConfig, result *types.CrawlResult) float64 {
	pagesRatio := ratio(float64(len(result.Pages)), float64(cfg.MaxPages))
	depthRatio := ratio(float64(result.MaxDepthReached), float64(cfg.MaxDepth))
	formsRatio := ratio(float64(result.FormsFound), 10)

	authComponent := 1.0
	if result.AuthDetected {
		if result.AuthCompleted {
			authComponent = 1.0
		} else {
			authComponent = 0.5
		}
	}

	score := 0.4*pagesRatio + 0.3*depthRatio + 0.2*formsRatio + 0.1*authComponent
	return roundTo3(score)
}

func ratio(n, max float64) float64 {
	if max <= 0 {
		return 0
	}
	if n/max > 1 {
		return 1
	}
	return n / max
}

func roundTo3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
