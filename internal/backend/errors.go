package backend

import (
	"errors"
	"fmt"

	"github.com/ent0n29/robocomic/internal/reliability"
)

// User-facing copy for backend failures.
const (
	MsgNetworkError       = "Network error: Unable to connect to server"
	MsgUnexpectedError    = "An unexpected error occurred"
	MsgGenerateShowFailed = "Failed to generate show"
	MsgTTSFailed          = "Failed to generate audio"
	MsgPersonasFailed     = "Failed to load comedian personas"
	MsgJudgeFailed        = "Failed to judge show"
	MsgRateLimited        = "Too many requests. Please wait a moment and try again."
)

// Error codes attached to APIError.
const (
	CodeNetwork     = "NETWORK_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeBadResponse = "BAD_RESPONSE"
)

// APIError is the single shape every backend failure is converted to.
// Status is 0 when the backend never answered.
type APIError struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`

	Err error `json:"-"`
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// RateLimited reports whether the backend signalled a usage limit.
func (e *APIError) RateLimited() bool {
	return reliability.IsRateLimited(e.Status, e.Code)
}

// Network reports whether the backend could not be reached.
func (e *APIError) Network() bool {
	return e.Status == 0 && e.Code == CodeNetwork
}

// AsAPIError extracts an APIError from err, wrapping foreign errors with
// fallback as the message.
func AsAPIError(err error, fallback string) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Message: fallback, Err: err}
}

// IsRateLimited reports whether err is a rate-limited backend answer.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}
