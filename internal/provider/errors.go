package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error codes carried by *Error. The transient/permanent split drives
// the gateway's retry policy: transient failures are retried with
// backoff, permanent ones skip straight to the next provider.
const (
	ErrCodeRateLimit   = "RATE_LIMITED"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeNetwork     = "NETWORK"
	ErrCodeAPIError    = "API_ERROR"
	ErrCodeBadSymbol   = "BAD_SYMBOL"
	ErrCodeBadPayload  = "BAD_PAYLOAD"
	ErrCodeNoData      = "NO_DATA"
	ErrCodeAuth        = "AUTH"
	ErrCodeExhausted   = "ALL_PROVIDERS_EXHAUSTED"
	ErrCodeBudget      = "BUDGET_EXHAUSTED"
)

// Error is the structured failure every provider-facing operation
// returns. Provider names the source, Code the failure class, and
// Transient whether a retry could plausibly succeed.
type Error struct {
	Provider   string `json:"provider"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Transient  bool   `json:"transient"`
	Cause      error  `json:"-"`
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (%s, http %d)", e.Provider, e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// RateLimited reports whether the failure was an upstream throttle.
func (e *Error) RateLimited() bool {
	return e.Code == ErrCodeRateLimit
}

// NewError builds a provider error with an explicit code.
func NewError(provider, code, message string, transient bool) *Error {
	return &Error{Provider: provider, Code: code, Message: message, Transient: transient}
}

// WrapError attaches a cause to a new provider error.
func WrapError(provider, code, message string, transient bool, cause error) *Error {
	return &Error{Provider: provider, Code: code, Message: message, Transient: transient, Cause: cause}
}

// FromHTTPStatus classifies an upstream HTTP status into a provider
// error. 429 is a rate limit, 5xx is transient, auth failures and other
// 4xx are permanent.
func FromHTTPStatus(provider string, status int, body string) *Error {
	e := &Error{
		Provider:   provider,
		HTTPStatus: status,
		Message:    fmt.Sprintf("unexpected status %d: %s", status, truncate(body, 140)),
	}
	switch {
	case status == 429:
		e.Code = ErrCodeRateLimit
		e.Transient = true
	case status == 401 || status == 403:
		e.Code = ErrCodeAuth
		e.Transient = false
	case status == 404:
		e.Code = ErrCodeBadSymbol
		e.Transient = false
	case status >= 500:
		e.Code = ErrCodeAPIError
		e.Transient = true
	default:
		e.Code = ErrCodeAPIError
		e.Transient = false
	}
	return e
}

// FromTransport classifies a transport-level failure: timeouts and
// connection errors are transient, context cancellation propagates the
// caller's intent.
func FromTransport(provider string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return WrapError(provider, ErrCodeTimeout, "request cancelled", true, err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(provider, ErrCodeTimeout, "request timed out", true, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WrapError(provider, ErrCodeTimeout, "request timed out", true, err)
	}
	return WrapError(provider, ErrCodeNetwork, err.Error(), true, err)
}

// IsTransient reports whether an error is worth retrying. Unclassified
// errors are treated as permanent so unknown failure modes do not burn
// retry budget.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// IsRateLimited reports whether an error is an upstream throttle.
func IsRateLimited(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RateLimited()
	}
	return false
}

// CodeOf extracts the error code, or empty for foreign errors.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
