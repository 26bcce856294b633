// Package types provides shared types, interfaces, and errors used across
// the core server: transport, pool, healing, crawler and runner packages.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These can be checked with errors.Is() and wrapped by the typed errors
// below for context-specific detail.
var (
	// Transport errors
	ErrTimeout             = errors.New("remote browser operation timed out")
	ErrAuthError           = errors.New("remote browser authentication failed")
	ErrRateLimited         = errors.New("remote browser server rate limited the request")
	ErrIPBlocked           = errors.New("client ip blocked by remote browser server")
	ErrValidationError     = errors.New("request failed validation")
	ErrBrowserNotReady     = errors.New("remote browser server not ready")
	ErrLicenseError        = errors.New("remote browser server license error")
	ErrBrowserCommandFailed = errors.New("remote browser command failed")
	ErrUnknownTool         = errors.New("unknown tool name")
	ErrEndpointNotFound    = errors.New("remote browser server endpoint not found")

	// Context pool errors
	ErrPoolExhausted = errors.New("context pool exhausted: no contexts available")
	ErrPoolClosed    = errors.New("context pool is closed")
	ErrPoolTimeout   = errors.New("timeout waiting for context from pool")
	ErrContextFailed = errors.New("browser context failed health check")

	// Selector healing errors
	ErrHealingFailed    = errors.New("selector healing exhausted all strategies")
	ErrSelectorBlocked  = errors.New("selector is on the block list")
	ErrNoHealingHistory = errors.New("no healing history for domain")

	// Crawler errors
	ErrURLExcluded     = errors.New("url excluded by crawl rules")
	ErrMaxDepthReached = errors.New("maximum crawl depth reached")
	ErrDuplicateURL    = errors.New("url already visited or enqueued")
	ErrCrawlerClosed   = errors.New("crawler is closed")

	// Test runner errors
	ErrTestTimeout       = errors.New("test run timed out")
	ErrTestInfraFailure  = errors.New("test run failed due to infrastructure error")
	ErrRunnerClosed      = errors.New("test runner is closed")
	ErrRunnerFailFast    = errors.New("test runner stopped early: fail-fast triggered")

	// Generic
	ErrClosed          = errors.New("resource is closed")
	ErrContextCanceled = errors.New("operation canceled")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidURL      = errors.New("invalid url")
)

// TransportError provides detailed information about a failed remote
// browser call. It implements the error interface and supports
// errors.Is/errors.As via Unwrap.
type TransportError struct {
	Kind       string // classification: "timeout", "auth", "rate_limited", "ip_blocked", "validation", "not_ready", "license", "command_failed", "endpoint_not_found", "network", "unknown"
	Tool       string // tool name that was invoked, if any
	StatusCode int    // HTTP status code from the remote server, 0 if none
	Message    string
	Retryable  bool
	RetryAfter int // seconds, from a Retry-After style hint; 0 if absent
	Err        error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTimeoutError creates a transport error for a timed-out call.
func NewTimeoutError(tool string) *TransportError {
	return &TransportError{
		Kind:      "timeout",
		Tool:      tool,
		Message:   "remote browser call timed out: " + tool,
		Retryable: true,
		Err:       ErrTimeout,
	}
}

// NewRateLimitedError creates a transport error for a rate-limited response.
func NewRateLimitedError(tool string, retryAfter int) *TransportError {
	return &TransportError{
		Kind:       "rate_limited",
		Tool:       tool,
		StatusCode: 429,
		Message:    "remote browser server rate limited the request",
		Retryable:  true,
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// NewIPBlockedError creates a transport error for a blocked client IP.
func NewIPBlockedError(clientIP string) *TransportError {
	return &TransportError{
		Kind:       "ip_blocked",
		StatusCode: 403,
		Message:    "client ip blocked by remote browser server: " + clientIP,
		Retryable:  false,
		Err:        ErrIPBlocked,
	}
}

// NewValidationError creates a transport error for a rejected request body.
func NewValidationError(reason string) *TransportError {
	return &TransportError{
		Kind:       "validation",
		StatusCode: 422,
		Message:    "request failed validation: " + reason,
		Retryable:  false,
		Err:        ErrValidationError,
	}
}

// NewCommandFailedError creates a transport error for a tool execution failure.
func NewCommandFailedError(tool, reason string) *TransportError {
	return &TransportError{
		Kind:      "command_failed",
		Tool:      tool,
		Message:   "tool execution failed: " + tool + ": " + reason,
		Retryable: false,
		Err:       ErrBrowserCommandFailed,
	}
}

// NewEndpointNotFoundError creates a transport error for a 404 response.
func NewEndpointNotFoundError(tool string) *TransportError {
	return &TransportError{
		Kind:       "endpoint_not_found",
		Tool:       tool,
		StatusCode: 404,
		Message:    "remote browser server endpoint not found: " + tool,
		Retryable:  false,
		Err:        ErrEndpointNotFound,
	}
}

// NewLicenseError creates a transport error for a 503 response carrying
// license information.
func NewLicenseError(status, message string) *TransportError {
	return &TransportError{
		Kind:       "license",
		StatusCode: 503,
		Message:    "remote browser server license error: " + message,
		Retryable:  false,
		Err:        ErrLicenseError,
	}
}

// NewBrowserNotReadyError creates a transport error for a plain 503
// response (no license info).
func NewBrowserNotReadyError(tool string) *TransportError {
	return &TransportError{
		Kind:      "not_ready",
		Tool:      tool,
		StatusCode: 503,
		Message:   "remote browser server not ready",
		Retryable: true,
		Err:       ErrBrowserNotReady,
	}
}

// NewAuthError creates a transport error for a 401 response.
func NewAuthError(tool string) *TransportError {
	return &TransportError{
		Kind:       "auth",
		Tool:       tool,
		StatusCode: 401,
		Message:    "remote browser authentication failed",
		Retryable:  false,
		Err:        ErrAuthError,
	}
}

// PoolError provides detailed information about context pool failures.
type PoolError struct {
	Operation string
	Message   string
	Err       error
}

func (e *PoolError) Error() string {
	return e.Message
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolAcquireError creates an error for pool acquire failures.
func NewPoolAcquireError(reason string, err error) *PoolError {
	return &PoolError{
		Operation: "acquire",
		Message:   "failed to acquire browser context from pool: " + reason,
		Err:       err,
	}
}

// HealingError provides detailed information about selector healing failures.
type HealingError struct {
	Domain       string
	Selector     string
	StrategiesTried []string
	Message      string
	Err          error
}

func (e *HealingError) Error() string {
	return e.Message
}

func (e *HealingError) Unwrap() error {
	return e.Err
}

// NewHealingFailedError creates an error for exhausted healing strategies.
func NewHealingFailedError(domain, selector string, tried []string) *HealingError {
	return &HealingError{
		Domain:          domain,
		Selector:        selector,
		StrategiesTried: tried,
		Message:         "could not heal selector " + selector + " on " + domain,
		Err:             ErrHealingFailed,
	}
}
