package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds reported by APIError.
const (
	KindTransport = "transport"
	KindStatus    = "status"
	KindTimeout   = "timeout"
	KindSchema    = "schema"
	KindCanceled  = "canceled"
)

// APIError is an upstream transport, status or response validation failure.
// TokensUsed is set when the provider answered and billed the call but the
// answer was rejected.
type APIError struct {
	Provider   string
	Kind       string
	StatusCode int
	Transient  bool
	TokensUsed int
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s error", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Code() string {
	return "upstream_error"
}

func (e *APIError) Reason() string {
	switch e.Kind {
	case KindSchema:
		return "The match analysis service returned an unusable answer. Please try again later."
	case KindTimeout:
		return "The match analysis service did not answer in time. Please try again later."
	case KindCanceled:
		return "The match analysis was cancelled before it finished."
	default:
		return "The match analysis service is unavailable right now. Please try again later."
	}
}

// QuotaExceededError means the provider itself refused the call because its
// budget is exhausted. It is never retried.
type QuotaExceededError struct {
	Provider string
	Message  string
	Err      error
}

func (e *QuotaExceededError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s quota exceeded: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s quota exceeded", e.Provider)
}

func (e *QuotaExceededError) Unwrap() error {
	return e.Err
}

func (e *QuotaExceededError) Code() string {
	return "provider_quota_exceeded"
}

func (e *QuotaExceededError) Reason() string {
	return "The match analysis provider has run out of budget for now. Please try again later."
}

// IsTransient reports whether err is an APIError worth one more attempt.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient
}

// StatusError classifies an HTTP status from a provider. 429 becomes a
// QuotaExceededError, 5xx is transient, everything else is permanent.
func StatusError(provider string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &QuotaExceededError{Provider: provider, Err: err}
	case status >= http.StatusInternalServerError:
		return &APIError{Provider: provider, Kind: KindStatus, StatusCode: status, Transient: true, Err: err}
	default:
		return &APIError{Provider: provider, Kind: KindStatus, StatusCode: status, Err: err}
	}
}

// SchemaError wraps a response validation failure. tokens is what the
// provider billed for the rejected answer.
func SchemaError(provider string, tokens int, err error) error {
	return &APIError{Provider: provider, Kind: KindSchema, TokensUsed: tokens, Err: err}
}

// BilledTokens returns the tokens a failed call was still billed for.
func BilledTokens(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.TokensUsed > 0 {
		return apiErr.TokensUsed, true
	}
	return 0, false
}
