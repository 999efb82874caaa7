// Package forwarder fans every uplink packet out to the other links of the
// conference.
//
// For each packet the forwarder parses the application header, feeds the
// sender's feedback factor to its rate limiter, asks the admission
// controller about every other active link and queues admitted copies on
// the destination's send buffer. Buffers drain through the destination's
// non-blocking sender; a frame that cannot be sent stays at the head until
// the next enqueue or send-ready event.
//
// A Forwarder is not safe for concurrent use. The relay calls it from its
// event loop only.
package forwarder

import (
	"errors"

	"github.com/opd-ai/confrelay/admission"
	"github.com/opd-ai/confrelay/header"
	"github.com/opd-ai/confrelay/link"
	"github.com/opd-ai/confrelay/metrics"
	"github.com/opd-ai/confrelay/ratelimit"
	"github.com/opd-ai/confrelay/transport"
	"github.com/sirupsen/logrus"
)

// Forwarder routes uplink packets to downlink send buffers.
type Forwarder struct {
	registry  *link.Registry
	session   *ratelimit.Session
	admission *admission.Controller
	metrics   *metrics.RelayMetrics
	log       *logrus.Entry
}

// New creates a forwarder over registry. m may be nil. A nil log uses the
// standard logger.
func New(registry *link.Registry, session *ratelimit.Session, m *metrics.RelayMetrics, log *logrus.Entry) *Forwarder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Forwarder{
		registry:  registry,
		session:   session,
		admission: admission.NewController(registry.TargetBudget),
		metrics:   m,
		log:       log,
	}
}

// Admission returns the admission controller.
func (f *Forwarder) Admission() *admission.Controller {
	return f.admission
}

// HandlePacket processes one frame received on src's uplink.
func (f *Forwarder) HandlePacket(src link.ID, frame []byte) {
	l, ok := f.registry.Get(src)
	if !ok {
		return
	}
	f.metrics.RecordReceived(src)

	h, payload, err := header.Parse(frame)
	if err != nil {
		f.log.WithFields(logrus.Fields{
			"function": "HandlePacket",
			"link_id":  src,
			"size":     len(frame),
			"error":    err.Error(),
		}).Warn("Dropping malformed packet")
		f.metrics.RecordDropped(metrics.ReasonMalformed)
		return
	}

	f.observeFeedback(l, h.Feedback)

	size := uint32(len(payload))
	f.registry.Each(func(dst *link.Link) {
		if dst.ID == src {
			return
		}
		f.forwardTo(src, dst, frame, size, h)
	})
}

func (f *Forwarder) observeFeedback(l *link.Link, factor header.FeedbackFactor) {
	t := f.session.Observe(l.Limiter, factor, f.registry.Active())
	if !t.Changed() {
		return
	}

	f.metrics.RecordTransition(t.To.String())
	f.metrics.UpdateLinkCounts(f.registry.Active(), f.session.Degraded())
	f.metrics.RecordTargetBudget(l.ID, l.Limiter.TargetBudget())

	f.log.WithFields(logrus.Fields{
		"function": "observeFeedback",
		"link_id":  l.ID,
		"from":     t.From.String(),
		"to":       t.To.String(),
		"feedback": factor.String(),
		"capacity": l.Limiter.Capacity(),
		"degraded": f.session.Degraded(),
	}).Info("Rate-limit state changed")
}

func (f *Forwarder) forwardTo(src link.ID, dst *link.Link, frame []byte, size uint32, h header.Header) {
	decision, reason := f.admission.Admit(src, dst.ID, size, h.FrameID)

	if f.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		f.log.WithFields(logrus.Fields{
			"function":  "forwardTo",
			"src":       src,
			"dst":       dst.ID,
			"frame_id":  h.FrameID,
			"packet_id": h.PacketID,
			"size":      size,
			"decision":  decision.String(),
			"reason":    reason.String(),
		}).Trace("Admission decision")
	}

	if decision == admission.Drop {
		f.metrics.RecordDropped(reason.String())
		return
	}

	if !dst.Queue.Push(frame) {
		f.metrics.RecordDropped(metrics.ReasonQueueFull)
		f.log.WithFields(logrus.Fields{
			"function": "forwardTo",
			"dst":      dst.ID,
			"queued":   dst.Queue.Len(),
		}).Debug("Send buffer full, dropping copy")
		return
	}
	f.metrics.RecordForwarded(dst.ID, size)
	f.Drain(dst.ID)
}

// Drain sends queued frames to dst until its buffer is empty, the sender
// would block or a send fails. It returns the number of frames sent.
func (f *Forwarder) Drain(dst link.ID) int {
	l, ok := f.registry.Get(dst)
	if !ok || l.Downlink == nil {
		return 0
	}

	sent := 0
	for {
		frame, ok := l.Queue.Front()
		if !ok {
			break
		}
		if err := l.Downlink.Send(frame); err != nil {
			if !errors.Is(err, transport.ErrWouldBlock) {
				f.log.WithFields(logrus.Fields{
					"function": "Drain",
					"link_id":  dst,
					"queued":   l.Queue.Len(),
					"error":    err.Error(),
				}).Debug("Send failed, frame kept at head")
			}
			break
		}
		l.Queue.Pop()
		sent++
	}

	f.metrics.RecordQueueDepth(dst, l.Queue.Len())
	return sent
}

// Forget drops the forwarding state of every pair naming id.
func (f *Forwarder) Forget(id link.ID) {
	removed := f.admission.Forget(id)
	f.metrics.ForgetLink(id)

	f.log.WithFields(logrus.Fields{
		"function": "Forget",
		"link_id":  id,
		"pairs":    removed,
	}).Debug("Forwarding state evicted")
}
