package transport

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CongestionInfo is one snapshot of a connection's congestion state.
type CongestionInfo struct {
	// Window is the congestion window in bytes.
	Window uint32

	// PacingEnabled reports whether PacingRate carries a usable rate.
	PacingEnabled bool

	// PacingRate is the kernel pacing rate in bytes per second.
	PacingRate uint64

	// RTT is the smoothed round-trip time estimate.
	RTT time.Duration
}

// CongestionSource exposes congestion state for a connection.
// The boolean is false when no snapshot could be taken.
type CongestionSource interface {
	Congestion() (CongestionInfo, bool)
}

// Sender is the non-blocking send primitive of a connection.
// Send returns ErrWouldBlock when the frame cannot be accepted right now.
type Sender interface {
	Send(frame []byte) error
}

// Handlers are the callbacks a Conn invokes from its goroutines.
// Any of them may be nil.
type Handlers struct {
	// OnFrame receives each reassembled frame. The slice is owned by the
	// callee.
	OnFrame func(frame []byte)

	// OnClose is called once when the connection ends. err is nil for an
	// orderly close by the peer or by Close.
	OnClose func(err error)

	// OnSendReady is called after the writer frees outbox space following a
	// Send that returned ErrWouldBlock. It may also fire when no Send is
	// waiting.
	OnSendReady func()
}

// Options tune a connection.
type Options struct {
	// WriteQueue is the outbox depth in frames. Values <= 0 use
	// DefaultWriteQueue.
	WriteQueue int

	// Pacing allows Congestion to report the kernel pacing rate.
	Pacing bool

	// Log receives connection events. Nil uses the standard logger.
	Log *logrus.Entry
}

// DefaultWriteQueue is the outbox depth used when Options.WriteQueue is unset.
const DefaultWriteQueue = 64

func (o Options) logger() *logrus.Entry {
	if o.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return o.Log
}

func (o Options) writeQueue() int {
	if o.WriteQueue <= 0 {
		return DefaultWriteQueue
	}
	return o.WriteQueue
}
