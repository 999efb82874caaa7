// Package admission decides, packet by packet, which copies the relay
// forwards for every ordered (source, destination) pair.
//
// Each pair tracks the frame currently being forwarded and how many bytes
// of it have been admitted. A packet of the current frame is admitted while
// the running total is below the destination's budget; the check precedes
// the add, so a frame may overshoot the budget by at most one packet. A
// packet of a newer frame resets the total and is always admitted. A packet
// of an older frame is dropped.
package admission

import (
	"github.com/opd-ai/confrelay/link"
)

// Decision is the outcome of Admit.
type Decision uint8

const (
	// Drop discards the copy for the destination.
	Drop Decision = iota
	// Forward enqueues a copy for the destination.
	Forward
)

func (d Decision) String() string {
	if d == Forward {
		return "forward"
	}
	return "drop"
}

// Reason explains a decision.
type Reason uint8

const (
	// ReasonNone is given for forwarded packets.
	ReasonNone Reason = iota
	// ReasonBudget indicates the current frame already reached the budget.
	ReasonBudget
	// ReasonStale indicates the packet belongs to a superseded frame.
	ReasonStale
)

func (r Reason) String() string {
	switch r {
	case ReasonBudget:
		return "budget"
	case ReasonStale:
		return "stale"
	default:
		return "none"
	}
}

// Pair identifies an ordered source to destination relation.
type Pair struct {
	Src link.ID
	Dst link.ID
}

// FrameState is the forwarding state of one pair.
type FrameState struct {
	Frame     uint16
	Forwarded uint64
}

// BudgetFunc returns the current per-frame byte budget of a destination.
type BudgetFunc func(dst link.ID) uint32

// Controller holds the forwarding state of every pair seen so far.
type Controller struct {
	pairs  map[Pair]*FrameState
	budget BudgetFunc
}

// NewController creates a controller that asks budget for destination
// budgets at evaluation time.
func NewController(budget BudgetFunc) *Controller {
	return &Controller{
		pairs:  make(map[Pair]*FrameState),
		budget: budget,
	}
}

// Admit decides whether a packet of size bytes from frame frameID on src is
// forwarded to dst.
func (c *Controller) Admit(src, dst link.ID, size uint32, frameID uint16) (Decision, Reason) {
	key := Pair{Src: src, Dst: dst}
	st, ok := c.pairs[key]
	if !ok {
		st = &FrameState{Frame: frameID}
		c.pairs[key] = st
	}

	switch {
	case frameID == st.Frame:
		if st.Forwarded >= uint64(c.budget(dst)) {
			return Drop, ReasonBudget
		}
		st.Forwarded += uint64(size)
		return Forward, ReasonNone
	case frameID > st.Frame:
		st.Frame = frameID
		st.Forwarded = uint64(size)
		return Forward, ReasonNone
	default:
		return Drop, ReasonStale
	}
}

// State returns a copy of the forwarding state of a pair.
func (c *Controller) State(src, dst link.ID) (FrameState, bool) {
	st, ok := c.pairs[Pair{Src: src, Dst: dst}]
	if !ok {
		return FrameState{}, false
	}
	return *st, true
}

// Forget removes every pair that names id as source or destination.
func (c *Controller) Forget(id link.ID) int {
	removed := 0
	for p := range c.pairs {
		if p.Src == id || p.Dst == id {
			delete(c.pairs, p)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked pairs.
func (c *Controller) Len() int {
	return len(c.pairs)
}
