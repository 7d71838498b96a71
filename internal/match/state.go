package match

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// State is a step of one AnalyzeJobMatch call.
//
//	Loaded ──► Scored ──► QuotaChecked ──► Adjusted ──► Persisted
//	   │          │             │             │
//	   │          └──► QuotaRejected          │
//	   └──────────┴─────────────┴─────────────┴──► Failed
//
// Persisted, QuotaRejected and Failed are terminal.
type State string

const (
	StateLoaded        State = "loaded"
	StateScored        State = "scored"
	StateQuotaChecked  State = "quota_checked"
	StateQuotaRejected State = "quota_rejected"
	StateAdjusted      State = "adjusted"
	StatePersisted     State = "persisted"
	StateFailed        State = "failed"
)

var validTransitions = map[State][]State{
	StateLoaded:       {StateScored, StateFailed},
	StateScored:       {StateQuotaChecked, StateQuotaRejected, StateFailed},
	StateQuotaChecked: {StateAdjusted, StateFailed},
	StateAdjusted:     {StatePersisted, StateFailed},
}

// IsTransitionAllowed reports whether from → to is part of the state machine.
func IsTransitionAllowed(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	_, ok := validTransitions[s]
	return !ok
}

// run tracks the state of a single call.
type run struct {
	state  State
	logger *zap.Logger
}

func newRun(logger *zap.Logger) *run {
	r := &run{state: StateLoaded, logger: logger}
	return r
}

func (r *run) advance(to State) error {
	if !IsTransitionAllowed(r.state, to) {
		return fmt.Errorf("invalid analysis transition %s -> %s", r.state, to)
	}
	r.logger.Debug("analysis state changed", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
	return nil
}

// fail moves the run to Failed unless it already reached a terminal state.
func (r *run) fail() {
	if r.state.Terminal() {
		return
	}
	r.logger.Debug("analysis state changed", zap.String("from", string(r.state)), zap.String("to", string(StateFailed)))
	r.state = StateFailed
}
