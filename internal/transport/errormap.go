package transport

import (
	"net/http"

	"github.com/Zeeeepa/browserqa/internal/types"
)

// classifyStatus builds the TransportError for a non-2xx response per the
// status->error-kind table in §4.1. body is the already-decoded error
// detail, if the server sent one.
func classifyStatus(status int, tool string, body *types.WireErrorBody) *types.TransportError {
	switch status {
	case http.StatusUnauthorized:
		return types.NewAuthError(tool)
	case http.StatusForbidden:
		clientIP := ""
		if body != nil {
			clientIP = body.ClientIP
		}
		return types.NewIPBlockedError(clientIP)
	case http.StatusNotFound:
		return types.NewEndpointNotFoundError(tool)
	case http.StatusUnprocessableEntity:
		reason := "request validation failed"
		if body != nil {
			reason = body.Reason
		}
		err := types.NewValidationError(reason)
		if body != nil {
			err.Message = reason
		}
		return err
	case http.StatusTooManyRequests:
		retryAfter := 0
		if body != nil {
			retryAfter = body.RetryAfter
		}
		return types.NewRateLimitedError(tool, retryAfter)
	case http.StatusBadGateway:
		reason := "bad gateway"
		if body != nil {
			reason = body.Reason
		}
		return types.NewCommandFailedError(tool, reason)
	case http.StatusServiceUnavailable:
		if body != nil && body.LicenseStatus != "" {
			return types.NewLicenseError(body.LicenseStatus, body.LicenseMessage)
		}
		return types.NewBrowserNotReadyError(tool)
	default:
		reason := http.StatusText(status)
		if body != nil && body.Reason != "" {
			reason = body.Reason
		}
		return &types.TransportError{
			Kind:       "unknown",
			Tool:       tool,
			StatusCode: status,
			Message:    "remote browser server returned unexpected status: " + reason,
			Retryable:  isRetryableStatus(status),
			Err:        types.ErrBrowserCommandFailed,
		}
	}
}
