package ratelimit

import (
	"math/rand"
	"testing"

	"github.com/opd-ai/confrelay/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateNatural, "natural"},
		{StateLimit, "limit"},
		{State(9), "unknown(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewLimiterDefaults(t *testing.T) {
	l := NewLimiter()
	assert.Equal(t, StateNatural, l.State())
	assert.Equal(t, uint32(62500), l.Sampled())
	assert.Equal(t, InitialCapacityBudget, l.Capacity())
	assert.Equal(t, header.FullFeedback, l.Feedback())
	assert.Equal(t, uint32(62500), l.TargetBudget())
}

func TestNaturalBudgetFollowsSample(t *testing.T) {
	l := NewLimiter()
	l.SetSampled(1200)
	assert.Equal(t, uint32(1200), l.TargetBudget())
}

// Link 1 of 4 reports 0.5 with nobody degraded, then recovers.
func TestEnterAndLeaveLimit(t *testing.T) {
	s := NewSession()
	l := NewLimiter()
	l.SetSampled(10000)

	tr := s.Observe(l, header.FactorFromRatio(0.5), 4)
	require.True(t, tr.Changed())
	assert.Equal(t, Transition{From: StateNatural, To: StateLimit}, tr)
	assert.Equal(t, StateLimit, l.State())
	assert.Equal(t, uint32(10000), l.Capacity())
	assert.Equal(t, 1, s.Degraded())
	assert.Equal(t, uint32(5000), l.TargetBudget())

	// A later, lower sample wins over the capped capacity.
	l.SetSampled(3000)
	assert.Equal(t, uint32(3000), l.TargetBudget())

	tr = s.Observe(l, header.FullFeedback, 4)
	assert.Equal(t, Transition{From: StateLimit, To: StateNatural}, tr)
	assert.Equal(t, 0, s.Degraded())
	assert.Equal(t, uint32(10000), l.Sampled(), "sampled budget restored from capacity")
	assert.Equal(t, uint32(10000), l.TargetBudget())
}

func TestLimitCapRoundsUp(t *testing.T) {
	s := NewSession()
	l := NewLimiter()
	l.SetSampled(1001)

	s.Observe(l, header.FactorFromRatio(0.5), 4)
	l.SetSampled(5000)
	assert.Equal(t, uint32(501), l.TargetBudget())
}

func TestFurtherReductionDoesNotResnapshot(t *testing.T) {
	s := NewSession()
	l := NewLimiter()
	l.SetSampled(8000)
	s.Observe(l, header.FactorFromRatio(0.5), 4)

	l.SetSampled(6000)
	tr := s.Observe(l, header.FactorFromRatio(0.25), 4)

	assert.False(t, tr.Changed())
	assert.Equal(t, uint32(8000), l.Capacity())
	assert.Equal(t, uint32(2000), l.TargetBudget())
	assert.Equal(t, 1, s.Degraded())
}

func TestHalfCapBlocksEntry(t *testing.T) {
	tests := []struct {
		name        string
		activeLinks int
		degraded    int
		wantLimit   bool
	}{
		{"single link never degrades", 1, 0, false},
		{"two links allow one", 2, 0, true},
		{"two links with one degraded", 2, 1, false},
		{"three links allow one", 3, 0, true},
		{"three links with one degraded", 3, 1, false},
		{"four links allow two", 4, 1, true},
		{"four links with two degraded", 4, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{degraded: tt.degraded}
			l := NewLimiter()
			s.Observe(l, header.FactorFromRatio(0.5), tt.activeLinks)

			if tt.wantLimit {
				assert.Equal(t, StateLimit, l.State())
				assert.Equal(t, tt.degraded+1, s.Degraded())
			} else {
				assert.Equal(t, StateNatural, l.State())
				assert.Equal(t, tt.degraded, s.Degraded())
			}
		})
	}
}

func TestOnlyExactRecoveryLeavesLimit(t *testing.T) {
	s := NewSession()
	l := NewLimiter()
	s.Observe(l, header.FactorFromRatio(0.5), 4)

	for _, f := range []header.FeedbackFactor{9999, header.FeedbackScale + 1, 0} {
		tr := s.Observe(l, f, 4)
		assert.False(t, tr.Changed(), "factor %d", f)
		assert.Equal(t, StateLimit, l.State())
	}

	s.Observe(l, header.FullFeedback, 4)
	assert.Equal(t, StateNatural, l.State())
}

func TestFullFeedbackInNaturalIsNoop(t *testing.T) {
	s := NewSession()
	l := NewLimiter()
	l.SetSampled(700)

	tr := s.Observe(l, header.FullFeedback, 4)
	assert.False(t, tr.Changed())
	assert.Equal(t, uint32(700), l.Sampled())
	assert.Equal(t, 0, s.Degraded())
}

func TestRelease(t *testing.T) {
	s := NewSession()
	l := NewLimiter()

	assert.False(t, s.Release(l))
	assert.Equal(t, 0, s.Degraded())

	s.Observe(l, header.FactorFromRatio(0.1), 2)
	require.Equal(t, 1, s.Degraded())

	assert.True(t, s.Release(l))
	assert.Equal(t, 0, s.Degraded())
	assert.Equal(t, StateNatural, l.State())
	assert.False(t, s.Release(l))
}

// Random feedback across many links never breaks the counter bounds and
// every transition is one of the two legal ones.
func TestDegradedCountInvariants(t *testing.T) {
	const links = 7
	rng := rand.New(rand.NewSource(42))
	s := NewSession()
	limiters := make([]*Limiter, links)
	for i := range limiters {
		limiters[i] = NewLimiter()
	}
	factors := []header.FeedbackFactor{0, 2500, 5000, 9999, header.FullFeedback}

	for step := 0; step < 5000; step++ {
		l := limiters[rng.Intn(links)]
		f := factors[rng.Intn(len(factors))]
		before := s.Degraded()
		canDegrade := s.CanDegrade(links)

		tr := s.Observe(l, f, links)

		switch {
		case !tr.Changed():
			assert.Equal(t, before, s.Degraded())
		case tr.To == StateLimit:
			assert.True(t, f.IsReduced())
			assert.True(t, canDegrade)
			assert.Equal(t, before+1, s.Degraded())
		case tr.To == StateNatural:
			assert.True(t, f.IsFull())
			assert.Equal(t, before-1, s.Degraded())
		}

		require.GreaterOrEqual(t, s.Degraded(), 0)
		require.LessOrEqual(t, s.Degraded(), links/2)
	}
}
