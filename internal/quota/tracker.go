// Package quota enforces hourly per-user budgets for costed operations.
package quota

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Operation is a costed operation type with its own hourly budget.
type Operation string

const (
	OperationResumeParse    Operation = "resume_parse"
	OperationJobAnalysis    Operation = "job_analysis"
	OperationSummarizeNotes Operation = "summarize_notes"
)

// Window is the length of a quota window.
const Window = time.Hour

// DefaultLimits are the hourly ceilings per operation type.
var DefaultLimits = map[Operation]int{
	OperationResumeParse:    10,
	OperationJobAnalysis:    10,
	OperationSummarizeNotes: 50,
}

type key struct {
	userID    string
	operation Operation
}

// window is the counter for one (user, operation) pair. A dead window has been
// swept from the tracker and must not be used.
type window struct {
	mu    sync.Mutex
	count int
	start time.Time
	dead  bool
}

// Tracker admits or rejects operations against fixed hourly windows keyed by
// user and operation type. A window starts on the first call and resets once
// more than an hour has passed since it started.
type Tracker struct {
	limits map[Operation]int
	now    func() time.Time

	mu        sync.Mutex
	windows   map[key]*window
	lastSweep time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLimits overrides ceilings of the given operations. Non-positive values
// are ignored.
func WithLimits(limits map[Operation]int) Option {
	return func(t *Tracker) {
		for op, limit := range limits {
			if limit > 0 {
				t.limits[op] = limit
			}
		}
	}
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		limits:  make(map[Operation]int, len(DefaultLimits)),
		now:     time.Now,
		windows: make(map[key]*window),
	}
	for op, limit := range DefaultLimits {
		t.limits[op] = limit
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Decision is the outcome of TryAdmit. A rejected decision carries the time
// left until the window resets.
type Decision struct {
	Admitted   bool
	Count      int
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time

	ticket *Ticket
}

// Ticket returns the admission ticket, nil for rejections.
func (d Decision) Ticket() *Ticket {
	return d.ticket
}

// Err returns a RateLimitError for rejected decisions.
func (d Decision) Err(userID string, op Operation) error {
	if d.Admitted {
		return nil
	}
	return &RateLimitError{
		UserID:     userID,
		Operation:  op,
		Limit:      d.Limit,
		RetryAfter: d.RetryAfter,
	}
}

// TryAdmit checks the budget for the key and, when there is room, consumes one
// slot in the same critical section.
func (t *Tracker) TryAdmit(userID string, op Operation) (Decision, error) {
	limit, ok := t.limits[op]
	if !ok {
		return Decision{}, fmt.Errorf("unknown operation type %q", op)
	}
	if userID == "" {
		return Decision{}, fmt.Errorf("user id is required")
	}

	w := t.lockedWindow(key{userID: userID, operation: op})
	defer w.mu.Unlock()

	now := t.now()
	if w.start.IsZero() || now.Sub(w.start) > Window {
		w.count = 0
		w.start = now
	}

	resetAt := w.start.Add(Window)
	if w.count >= limit {
		return Decision{
			Admitted:   false,
			Count:      w.count,
			Limit:      limit,
			RetryAfter: retryAfter(resetAt.Sub(now)),
			ResetAt:    resetAt,
		}, nil
	}

	w.count++

	return Decision{
		Admitted: true,
		Count:    w.count,
		Limit:    limit,
		ResetAt:  resetAt,
		ticket: &Ticket{
			UserID:    userID,
			Operation: op,
			IssuedAt:  now,
			issuer:    t,
		},
	}, nil
}

// Status is a read-only view of a window.
type Status struct {
	Operation Operation `json:"operation"`
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
}

// Usage reports the current window for the key without consuming quota.
func (t *Tracker) Usage(userID string, op Operation) (Status, error) {
	limit, ok := t.limits[op]
	if !ok {
		return Status{}, fmt.Errorf("unknown operation type %q", op)
	}

	status := Status{Operation: op, Limit: limit, Remaining: limit}

	t.mu.Lock()
	w, ok := t.windows[key{userID: userID, operation: op}]
	t.mu.Unlock()
	if !ok {
		return status, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || t.now().Sub(w.start) > Window {
		return status, nil
	}

	status.Count = w.count
	status.Remaining = max(limit-w.count, 0)
	status.ResetAt = w.start.Add(Window)
	return status, nil
}

// Operations lists the known operation types.
func (t *Tracker) Operations() []Operation {
	ops := make([]Operation, 0, len(t.limits))
	for _, op := range []Operation{OperationResumeParse, OperationJobAnalysis, OperationSummarizeNotes} {
		if _, ok := t.limits[op]; ok {
			ops = append(ops, op)
		}
	}
	return ops
}

// lockedWindow returns the live window of k with its mutex held.
func (t *Tracker) lockedWindow(k key) *window {
	for {
		w := t.window(k)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

func (t *Tracker) window(k key) *window {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now := t.now(); now.Sub(t.lastSweep) > Window {
		t.sweep(now)
	}

	w, ok := t.windows[k]
	if !ok {
		w = &window{}
		t.windows[k] = w
	}
	return w
}

// sweep drops expired windows. Callers hold t.mu. Windows busy in another
// call are skipped, they are not expired.
func (t *Tracker) sweep(now time.Time) {
	t.lastSweep = now
	for k, w := range t.windows {
		if !w.mu.TryLock() {
			continue
		}
		if !w.start.IsZero() && now.Sub(w.start) > Window {
			w.dead = true
			delete(t.windows, k)
		}
		w.mu.Unlock()
	}
}

// retryAfter rounds up to whole seconds and never returns less than one.
func retryAfter(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Ticket proves that an operation was admitted. Retries of the same call reuse
// it instead of consuming quota again.
type Ticket struct {
	UserID    string
	Operation Operation
	IssuedAt  time.Time

	issuer *Tracker
}

// Valid reports whether the ticket was issued by a tracker for op.
func (t *Ticket) Valid(op Operation) bool {
	return t != nil && t.issuer != nil && t.Operation == op && t.UserID != ""
}
