package httpfn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("trigger status: %s: %s", e.Status, body)
	}
	return fmt.Sprintf("trigger status: %s", e.Status)
}

// classifyTriggerError retries only failures where the function cannot have
// started the analysis: the connection was never established, or the server
// explicitly refused the request. Anything else may already have run.
func classifyTriggerError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		if isTransientHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}

	if isDialError(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// wrapTemporaryIfNeeded marks failures a caller may retry later, including the
// ones not retried here because the request might have been processed.
func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if isTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, "trigger", err)
	}
	return err
}

func isTemporary(err error) bool {
	if classifyTriggerError(err).Retryable {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return isTransientHTTPStatus(statusErr.StatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// isRetryableHTTPStatus lists statuses that mean the request was not acted on.
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode >= 500 || isRetryableHTTPStatus(statusCode)
}
