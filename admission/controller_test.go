package admission

import (
	"math/rand"
	"testing"

	"github.com/opd-ai/confrelay/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBudget(b uint32) BudgetFunc {
	return func(link.ID) uint32 { return b }
}

type step struct {
	frame    uint16
	size     uint32
	decision Decision
	reason   Reason
	total    uint64
}

func runSteps(t *testing.T, c *Controller, src, dst link.ID, steps []step) {
	t.Helper()
	for i, s := range steps {
		d, r := c.Admit(src, dst, s.size, s.frame)
		assert.Equal(t, s.decision, d, "step %d decision", i)
		assert.Equal(t, s.reason, r, "step %d reason", i)
		st, ok := c.State(src, dst)
		require.True(t, ok)
		assert.Equal(t, s.total, st.Forwarded, "step %d total", i)
	}
}

func TestAdmitScenarios(t *testing.T) {
	tests := []struct {
		name   string
		budget uint32
		steps  []step
	}{
		{
			name:   "overshoot by one packet",
			budget: 1200,
			steps: []step{
				{7, 500, Forward, ReasonNone, 500},
				{7, 500, Forward, ReasonNone, 1000},
				{7, 500, Forward, ReasonNone, 1500},
			},
		},
		{
			name:   "trailing packet dropped",
			budget: 900,
			steps: []step{
				{7, 500, Forward, ReasonNone, 500},
				{7, 500, Forward, ReasonNone, 1000},
				{7, 500, Drop, ReasonBudget, 1000},
			},
		},
		{
			name:   "newer frame resets, older frame is stale",
			budget: 10000,
			steps: []step{
				{5, 300, Forward, ReasonNone, 300},
				{5, 300, Forward, ReasonNone, 600},
				{7, 200, Forward, ReasonNone, 200},
				{6, 100, Drop, ReasonStale, 200},
			},
		},
		{
			name:   "new frame admitted even with zero budget",
			budget: 0,
			steps: []step{
				{1, 100, Drop, ReasonBudget, 0},
				{2, 100, Forward, ReasonNone, 100},
				{2, 100, Drop, ReasonBudget, 100},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(fixedBudget(tt.budget))
			runSteps(t, c, 0, 1, tt.steps)
		})
	}
}

func TestBudgetEvaluatedAtDecisionTime(t *testing.T) {
	budget := uint32(600)
	c := NewController(func(link.ID) uint32 { return budget })

	d, _ := c.Admit(0, 1, 500, 3)
	assert.Equal(t, Forward, d)

	budget = 400
	d, r := c.Admit(0, 1, 500, 3)
	assert.Equal(t, Drop, d)
	assert.Equal(t, ReasonBudget, r)

	budget = 2000
	d, _ = c.Admit(0, 1, 500, 3)
	assert.Equal(t, Forward, d)
}

func TestPairsAreIndependent(t *testing.T) {
	budgets := map[link.ID]uint32{1: 500, 2: 5000}
	c := NewController(func(dst link.ID) uint32 { return budgets[dst] })

	for i := 0; i < 3; i++ {
		c.Admit(0, 1, 400, 9)
		c.Admit(0, 2, 400, 9)
	}
	st1, _ := c.State(0, 1)
	st2, _ := c.State(0, 2)
	assert.Equal(t, uint64(800), st1.Forwarded)
	assert.Equal(t, uint64(1200), st2.Forwarded)

	// The reverse direction is a separate pair.
	_, ok := c.State(1, 0)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestForget(t *testing.T) {
	c := NewController(fixedBudget(1000))
	for src := link.ID(0); src < 3; src++ {
		for dst := link.ID(0); dst < 3; dst++ {
			if src != dst {
				c.Admit(src, dst, 10, 1)
			}
		}
	}
	require.Equal(t, 6, c.Len())

	assert.Equal(t, 4, c.Forget(1))
	assert.Equal(t, 2, c.Len())
	_, ok := c.State(0, 1)
	assert.False(t, ok)
	_, ok = c.State(0, 2)
	assert.True(t, ok)
}

func TestAdmissionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	budget := uint32(0)
	c := NewController(func(link.ID) uint32 { return budget })

	frame := uint16(0)
	var total uint64
	var maxPacket uint32
	var maxBudget uint32

	for i := 0; i < 10000; i++ {
		budget = uint32(rng.Intn(5000))
		size := uint32(1 + rng.Intn(1500))

		id := frame
		switch p := rng.Intn(10); {
		case p == 0:
			frame++
			id = frame
			total, maxPacket, maxBudget = 0, 0, 0
		case p == 1 && frame > 0:
			id = frame - 1
		}

		before, _ := c.State(0, 1)
		d, r := c.Admit(0, 1, size, id)
		after, _ := c.State(0, 1)

		if id < frame {
			assert.Equal(t, Drop, d, "stale packet must drop")
			assert.Equal(t, ReasonStale, r)
			assert.Equal(t, before, after)
			continue
		}

		if budget > maxBudget {
			maxBudget = budget
		}
		if d == Forward {
			total += uint64(size)
			if size > maxPacket {
				maxPacket = size
			}
			if before.Frame != after.Frame {
				assert.Equal(t, uint64(size), after.Forwarded, "new frame starts at first packet size")
			}
		}
		if before.Frame == after.Frame {
			assert.GreaterOrEqual(t, after.Forwarded, before.Forwarded, "bytes never decrease within a frame")
		}
		assert.Equal(t, total, after.Forwarded)
		assert.LessOrEqual(t, after.Forwarded, uint64(maxBudget)+uint64(maxPacket))
	}
}

func TestDecisionAndReasonStrings(t *testing.T) {
	assert.Equal(t, "forward", Forward.String())
	assert.Equal(t, "drop", Drop.String())
	assert.Equal(t, "budget", ReasonBudget.String())
	assert.Equal(t, "stale", ReasonStale.String())
	assert.Equal(t, "none", ReasonNone.String())
}
