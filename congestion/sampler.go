// Package congestion converts transport congestion state into per-link
// forwarding budgets.
//
// On every tick the Sampler reads each active link's uplink congestion
// snapshot and stores a bytes-per-frame budget in the link's rate limiter.
// With pacing available the budget is the pacing rate divided by the frame
// rate. Otherwise it falls back to an RTT-scaled share of the congestion
// window.
package congestion

import (
	"time"

	"github.com/opd-ai/confrelay/eventloop"
	"github.com/opd-ai/confrelay/link"
	"github.com/opd-ai/confrelay/transport"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultFrameRate is the target frame rate in frames per second.
	DefaultFrameRate = 20

	// DefaultWindowScale divides the window-based estimate.
	DefaultWindowScale = 40
)

// TargetBudget returns the per-frame byte budget for one congestion snapshot.
func TargetBudget(info transport.CongestionInfo, frameRate, windowScale uint32) uint32 {
	if frameRate == 0 {
		frameRate = DefaultFrameRate
	}
	if windowScale == 0 {
		windowScale = DefaultWindowScale
	}

	if info.PacingEnabled {
		budget := info.PacingRate / uint64(frameRate)
		if budget > uint64(^uint32(0)) {
			return ^uint32(0)
		}
		return uint32(budget)
	}

	bits := uint64(info.Window) * 8 / uint64(windowScale)
	return uint32(bits / 8 / uint64(frameRate))
}

// Observer receives every sample taken. It may be nil.
type Observer interface {
	ObserveSample(id link.ID, sampled, target uint32)
}

// Sampler polls uplink congestion state for every active link.
type Sampler struct {
	registry    *link.Registry
	frameRate   uint32
	windowScale uint32
	observer    Observer
	handle      *eventloop.Handle
	log         *logrus.Entry
}

// NewSampler creates a sampler over registry. Zero frameRate or windowScale
// select the defaults. A nil log uses the standard logger.
func NewSampler(registry *link.Registry, frameRate, windowScale uint32, observer Observer, log *logrus.Entry) *Sampler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if frameRate == 0 {
		frameRate = DefaultFrameRate
	}
	if windowScale == 0 {
		windowScale = DefaultWindowScale
	}
	return &Sampler{
		registry:    registry,
		frameRate:   frameRate,
		windowScale: windowScale,
		observer:    observer,
		log:         log,
	}
}

// Interval returns the sampling period, one frame interval.
func (s *Sampler) Interval() time.Duration {
	return time.Second / time.Duration(s.frameRate)
}

// Sample updates the sampled budget of every active link. Links whose
// uplink has no snapshot keep their previous value.
func (s *Sampler) Sample() {
	s.registry.Each(func(l *link.Link) {
		if l.Uplink == nil {
			return
		}
		info, ok := l.Uplink.Congestion()
		if !ok {
			return
		}

		budget := TargetBudget(info, s.frameRate, s.windowScale)
		l.Limiter.SetSampled(budget)

		if s.observer != nil {
			s.observer.ObserveSample(l.ID, budget, l.Limiter.TargetBudget())
		}

		if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			s.log.WithFields(logrus.Fields{
				"function": "Sample",
				"link_id":  l.ID,
				"window":   info.Window,
				"pacing":   info.PacingEnabled,
				"rate":     info.PacingRate,
				"rtt":      info.RTT.String(),
				"budget":   budget,
			}).Trace("Sampled congestion state")
		}
	})
}

// Start takes one sample immediately and then one per frame interval on
// loop. It must be called from the loop goroutine or before the loop runs.
func (s *Sampler) Start(loop *eventloop.Loop) {
	if s.handle != nil {
		return
	}
	s.Sample()
	s.handle = loop.SchedulePeriodic(s.Interval(), s.Sample)

	s.log.WithFields(logrus.Fields{
		"function":   "Start",
		"frame_rate": s.frameRate,
		"interval":   s.Interval().String(),
	}).Info("Congestion sampler started")
}

// Running reports whether a schedule is active.
func (s *Sampler) Running() bool {
	return s.handle != nil && !s.handle.Cancelled()
}

// Stop cancels the schedule. No sample runs after Stop returns when it is
// called from the loop goroutine.
func (s *Sampler) Stop() {
	if s.handle == nil {
		return
	}
	s.handle.Cancel()
	s.handle = nil
}
