// Package ratelimit implements the feedback-driven rate limiter that caps the
// forwarding budget of a destination while that destination reports a
// bandwidth reduction on its downlink.
//
// Each link carries a two-state machine:
//
//   - NATURAL: the forwarding budget is the congestion-sampled budget.
//   - LIMIT: the budget is min(sampled, ceil(capacity * feedback)), where
//     capacity is the sampled budget recorded on entry into LIMIT.
//
// A Session counts the links currently in LIMIT and refuses new entries once
// half of the active links are degraded. Links only leave LIMIT on a full
// recovery signal (feedback exactly 1.0).
package ratelimit

import (
	"fmt"

	"github.com/opd-ai/confrelay/header"
)

// State is the rate-limit state of a link.
type State uint8

const (
	// StateNatural forwards at the congestion-sampled budget.
	StateNatural State = iota
	// StateLimit caps the budget by the receiver-reported reduction.
	StateLimit
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNatural:
		return "natural"
	case StateLimit:
		return "limit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

const (
	// InitialSampledBudget is the per-frame budget a link starts with before
	// the first congestion sample: 10 Mbit/s at 20 frames per second.
	InitialSampledBudget uint32 = 10_000_000 / 8 / 20

	// InitialCapacityBudget is the capacity recorded for a link that has
	// never entered LIMIT.
	InitialCapacityBudget uint32 = 10_000_000
)

// Limiter holds the per-link rate-limit state together with the
// congestion-sampled budget it overrides.
type Limiter struct {
	state    State
	sampled  uint32
	capacity uint32
	feedback header.FeedbackFactor
}

// NewLimiter returns a limiter in NATURAL state with the initial budgets.
func NewLimiter() *Limiter {
	return &Limiter{
		state:    StateNatural,
		sampled:  InitialSampledBudget,
		capacity: InitialCapacityBudget,
		feedback: header.FullFeedback,
	}
}

// State returns the current rate-limit state.
func (l *Limiter) State() State {
	return l.state
}

// Sampled returns the current congestion-sampled budget in bytes per frame.
func (l *Limiter) Sampled() uint32 {
	return l.sampled
}

// SetSampled records a new congestion-sampled budget.
func (l *Limiter) SetSampled(budget uint32) {
	l.sampled = budget
}

// Capacity returns the budget snapshot taken on the last entry into LIMIT.
func (l *Limiter) Capacity() uint32 {
	return l.capacity
}

// Feedback returns the last feedback factor the link reported.
func (l *Limiter) Feedback() header.FeedbackFactor {
	return l.feedback
}

// TargetBudget returns the forwarding budget for this link as a destination.
func (l *Limiter) TargetBudget() uint32 {
	if l.state == StateLimit {
		return min(l.sampled, l.feedback.Apply(l.capacity))
	}
	return l.sampled
}
