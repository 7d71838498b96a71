package quota

import (
	"fmt"
	"math"
	"time"
)

// RateLimitError reports a local quota rejection.
type RateLimitError struct {
	UserID     string
	Operation  Operation
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d calls per hour, retry after %s", e.Operation, e.Limit, e.RetryAfter)
}

// Code is the machine-readable error code.
func (e *RateLimitError) Code() string {
	return "rate_limited"
}

// Reason is the message shown to the user.
func (e *RateLimitError) Reason() string {
	if e.RetryAfter <= 0 {
		return fmt.Sprintf("The %s request was not admitted by the usage limiter. Try again later.", humanOperation(e.Operation))
	}
	return fmt.Sprintf("You have reached the limit of %d %s requests per hour. Try again in %s.",
		e.Limit, humanOperation(e.Operation), humanDuration(e.RetryAfter))
}

// RetryAfterSeconds returns the retry hint in whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func humanOperation(op Operation) string {
	switch op {
	case OperationJobAnalysis:
		return "job analysis"
	case OperationResumeParse:
		return "resume parsing"
	case OperationSummarizeNotes:
		return "note summary"
	default:
		return string(op)
	}
}

func humanDuration(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 60 {
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := (secs + 59) / 60
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
