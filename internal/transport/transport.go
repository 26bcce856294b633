// Package transport implements the Remote Browser Transport: the single
// authenticated, retry-aware request channel every higher layer uses to
// talk to the remote browser server.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/metrics"
	"github.com/Zeeeepa/browserqa/internal/security"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// longRunningMultiplier scales the base timeout for tools flagged long
// running, per §4.1 ("2 minutes or 4x base, whichever is larger").
const longRunningMultiplier = 4

const minLongRunningTimeout = 2 * time.Minute

// Transport is the connection pool + command surface facing the remote
// browser server. It is safe for concurrent use.
type Transport struct {
	cfg    config.RemoteConfig
	auth   authenticator
	client *retryablehttp.Client
	sem    *semaphore.Weighted
	closed atomic.Bool
}

// New constructs a Transport from RemoteConfig. The underlying
// retryablehttp.Client supplies the pooled keep-alive http.Transport and
// the retry execution loop; OUR Backoff/CheckRetry callbacks decide
// timing and classification per §4.1, so the retry *policy* stays ours
// while the library owns the mechanical retry loop and connection pool.
func New(cfg config.RemoteConfig) (*Transport, error) {
	auth, err := newAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	httpTransport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: httpTransport,
		Timeout:   0, // per-request context deadline governs timeout, not a blanket client timeout
	}
	client.RetryMax = cfg.Retry.MaxAttempts
	client.Logger = zerologAdapter{}
	client.Backoff = func(_, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		return backoffDelay(cfg.Retry, attempt)
	}
	// Only connection-layer errors are retried here (§4.1/§7): a
	// response that made it back, however its status classifies, is
	// left for doJSON's error mapping to fail fast on. A 429 in
	// particular must reach the caller with its Retry-After intact
	// rather than be silently spent against RetryPolicy.MaxAttempts.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err == nil {
			return false, nil
		}
		retry := isRetryableNetError(err)
		if retry {
			metrics.RecordTransportRetry("connection_error")
		}
		return retry, nil
	}

	t := &Transport{
		cfg:    cfg,
		auth:   auth,
		client: client,
		sem:    semaphore.NewWeighted(int64(maxInt(cfg.MaxConcurrent, 1))),
	}
	return t, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ExecuteTool is the primary surface: invokes verb (an SDK tool name)
// against contextID with params, mapped to the server's wire protocol.
func (t *Transport) ExecuteTool(ctx context.Context, verb, contextID string, params map[string]interface{}) (interface{}, error) {
	if t.closed.Load() {
		return nil, types.ErrClosed
	}

	if verb == "set_headers" {
		if err := security.ValidateHeaders(headerParams(params)); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
	}

	tool := serverToolName(verb)
	timeout := t.cfg.BaseTimeout
	if isLongRunning(verb) {
		timeout = t.cfg.BaseTimeout * longRunningMultiplier
		if timeout < minLongRunningTimeout {
			timeout = minLongRunningTimeout
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := types.ExecuteRequest{
		ContextID: contextID,
		Params:    mapParams(params),
	}

	start := time.Now()
	result, err := t.doJSON(reqCtx, http.MethodPost, "/execute/"+tool, body, tool)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordTransportRequest(tool, status, time.Since(start))
	return result, err
}

// SendRaw is the unmapped passthrough for privileged context-lifecycle
// commands (create/close/list) that don't go through the tool-name table.
func (t *Transport) SendRaw(ctx context.Context, cmd types.CommandRequest) (interface{}, error) {
	if t.closed.Load() {
		return nil, types.ErrClosed
	}
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.BaseTimeout)
	defer cancel()
	return t.doJSON(reqCtx, http.MethodPost, "/command", cmd, cmd.Cmd)
}

// HealthCheck queries the unauthenticated /health endpoint.
func (t *Transport) HealthCheck(ctx context.Context) (*types.HealthResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.BaseTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, t.cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build health request: %w", err)
	}

	if err := t.sem.Acquire(reqCtx, 1); err != nil {
		return nil, types.NewTimeoutError("health")
	}
	defer t.sem.Release(1)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.wrapNetErr(err, "health")
	}
	defer resp.Body.Close()

	var out types.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transport: decode health response: %w", err)
	}
	return &out, nil
}

// ListTools queries the unauthenticated /tools endpoint.
func (t *Transport) ListTools(ctx context.Context) ([]types.ToolInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.BaseTimeout)
	defer cancel()

	var out []types.ToolInfo
	raw, err := t.doJSON(reqCtx, http.MethodGet, "/tools", nil, "list_tools")
	if err != nil {
		return nil, err
	}
	if err := remarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("transport: decode tools list: %w", err)
	}
	return out, nil
}

// ToolInfo looks up a single tool's static description.
func (t *Transport) ToolInfo(ctx context.Context, name string) (*types.ToolInfo, error) {
	tools, err := t.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], nil
		}
	}
	return nil, types.ErrUnknownTool
}

// Close closes the pool's idle connections. ExecuteTool and SendRaw
// calls made after Close fail with types.ErrClosed; HealthCheck,
// ListTools and ToolInfo do not check for a closed Transport.
func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.client.HTTPClient.CloseIdleConnections()
	}
	return nil
}

// doJSON performs one authenticated, semaphore-gated JSON request and
// returns the decoded result payload, unwrapping a nested {id, result}
// IPC envelope if present per §4.1 "Response shape".
func (t *Transport) doJSON(ctx context.Context, method, path string, payload interface{}, tool string) (interface{}, error) {
	var reader *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, t.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if header, err := t.auth.header(); err != nil {
		return nil, fmt.Errorf("transport: auth: %w", err)
	} else if header != "" {
		req.Header.Set("Authorization", header)
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, types.NewTimeoutError(tool)
	}
	defer t.sem.Release(1)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.wrapNetErr(err, tool)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody types.WireErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, classifyStatus(resp.StatusCode, tool, &errBody)
	}

	var envelope types.ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	if !envelope.Success {
		reason := "unknown failure"
		if envelope.Error != nil && envelope.Error.Reason != "" {
			reason = envelope.Error.Reason
		}
		return nil, types.NewCommandFailedError(tool, reason)
	}

	return unwrapNestedResult(envelope.Result), nil
}

// unwrapNestedResult unwraps a {id, result} nested IPC reply one level,
// per §4.1's response-shape rule.
func unwrapNestedResult(result interface{}) interface{} {
	obj, ok := result.(map[string]interface{})
	if !ok {
		return result
	}
	if _, hasID := obj["id"]; !hasID {
		return result
	}
	inner, hasResult := obj["result"]
	if !hasResult {
		return result
	}
	return inner
}

func (t *Transport) wrapNetErr(err error, tool string) error {
	if err == context.DeadlineExceeded {
		return types.NewTimeoutError(tool)
	}
	return &types.TransportError{
		Kind:      "network",
		Tool:      tool,
		Message:   "transport request failed: " + err.Error(),
		Retryable: isRetryableNetError(err),
		Err:       err,
	}
}

func remarshal(in interface{}, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// zerologAdapter bridges retryablehttp.LeveledLogger to zerolog, so
// retry-loop diagnostics land in the same structured log stream as the
// rest of the service.
type zerologAdapter struct{}

func (zerologAdapter) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(redactURLFields(keysAndValues)).Msg(msg)
}

func (zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(redactURLFields(keysAndValues)).Msg(msg)
}

func (zerologAdapter) Debug(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(redactURLFields(keysAndValues)).Msg(msg)
}

func (zerologAdapter) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(redactURLFields(keysAndValues)).Msg(msg)
}

// redactURLFields scans retryablehttp's alternating key/value log
// fields and redacts any "url" value through security.RedactURL, so a
// retry-loop log line never leaks a bearer token or signed query
// parameter carried in the request URL.
func redactURLFields(kv []interface{}) []interface{} {
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok || !strings.EqualFold(key, "url") {
			continue
		}
		if s, ok := out[i+1].(string); ok {
			out[i+1] = security.RedactURL(s)
		} else if stringer, ok := out[i+1].(fmt.Stringer); ok {
			out[i+1] = security.RedactURL(stringer.String())
		}
	}
	return out
}
