package ratelimit

import "github.com/opd-ai/confrelay/header"

// Transition describes the outcome of observing a feedback factor.
type Transition struct {
	From State
	To   State
}

// Changed reports whether the observation moved the limiter to another state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Session is the conference-scoped context shared by every limiter. It owns
// the degraded-user counter. It is not safe for concurrent use; the relay
// drives it from its event loop.
type Session struct {
	degraded int
}

// NewSession returns a session with no degraded links.
func NewSession() *Session {
	return &Session{}
}

// Degraded returns the number of links currently in LIMIT.
func (s *Session) Degraded() int {
	return s.degraded
}

// CanDegrade reports whether another link may enter LIMIT given the number
// of active links. At most floor(activeLinks/2) links are degraded at once.
func (s *Session) CanDegrade(activeLinks int) bool {
	return s.degraded < activeLinks/2
}

// Observe records the feedback factor carried by a packet from the link that
// owns l and evaluates the transition rules.
//
// NATURAL -> LIMIT when the factor is below 1.0 and CanDegrade holds; the
// current sampled budget becomes the capacity snapshot.
// LIMIT -> NATURAL when the factor is exactly 1.0; the sampled budget is
// restored from the capacity snapshot until the next sample.
// Any other observation only updates the stored factor.
func (s *Session) Observe(l *Limiter, factor header.FeedbackFactor, activeLinks int) Transition {
	l.feedback = factor
	t := Transition{From: l.state, To: l.state}

	switch {
	case l.state == StateNatural && factor.IsReduced() && s.CanDegrade(activeLinks):
		l.state = StateLimit
		l.capacity = l.sampled
		s.degraded++
	case l.state == StateLimit && factor.IsFull():
		l.state = StateNatural
		l.sampled = l.capacity
		s.degraded--
	}

	t.To = l.state
	return t
}

// Release returns the degraded slot held by a departing link. It reports
// whether a slot was released.
func (s *Session) Release(l *Limiter) bool {
	if l.state != StateLimit {
		return false
	}
	l.state = StateNatural
	s.degraded--
	return true
}
