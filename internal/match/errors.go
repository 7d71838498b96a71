package match

import (
	"errors"
	"fmt"

	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/store"
)

// ErrNotFound is returned when the application does not exist for the user.
var ErrNotFound = store.ErrNotFound

// ValidationError is a precondition failure the user can fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string {
	return "validation"
}

func (e *ValidationError) Reason() string {
	return e.Message
}

// PersistenceError is a data store failure while loading or saving.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Code() string {
	return "persistence_failed"
}

func (e *PersistenceError) Reason() string {
	if e.Op == opSave {
		return "The analysis finished but could not be saved. Please run it again."
	}
	return "Your application data could not be loaded. Please try again."
}

const (
	opLoad = "load application"
	opSave = "save analysis"
)

// Description is the user-facing view of an error.
type Description struct {
	Code       string `json:"code"`
	Reason     string `json:"reason"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type describedError interface {
	error
	Code() string
	Reason() string
}

// Describe maps any error returned by AnalyzeJobMatch to a stable code and a
// human-readable reason.
func Describe(err error) Description {
	if err == nil {
		return Description{Code: "ok"}
	}

	if errors.Is(err, ErrNotFound) {
		return Description{Code: "not_found", Reason: "This application does not exist."}
	}

	var rateErr *quota.RateLimitError
	if errors.As(err, &rateErr) {
		return Description{Code: rateErr.Code(), Reason: rateErr.Reason(), RetryAfter: rateErr.RetryAfterSeconds()}
	}

	var described describedError
	if errors.As(err, &described) {
		return Description{Code: described.Code(), Reason: described.Reason()}
	}

	return Description{Code: "internal", Reason: "Something went wrong while analyzing this job. Please try again."}
}
