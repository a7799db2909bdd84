package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	if reason, ok := domain.ValidationReasonOf(err); ok {
		switch reason {
		case domain.ReasonInvalidType:
			return http.StatusUnsupportedMediaType
		case domain.ReasonTooLarge:
			return http.StatusRequestEntityTooLarge
		default:
			return http.StatusBadRequest
		}
	}

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrJobNotFound), domain.IsKind(err, domain.ErrResultNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrSessionActive):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable error field of every JSON error body.
func errorCode(err error) string {
	if reason, ok := domain.ValidationReasonOf(err); ok {
		return string(reason)
	}
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) {
		return "submission_" + string(subErr.Step)
	}
	switch mapErrorToHTTPStatus(err) {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "session_active"
	case http.StatusServiceUnavailable:
		return "temporarily_unavailable"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusRequestEntityTooLarge:
		return string(domain.ReasonTooLarge)
	default:
		return "internal"
	}
}
