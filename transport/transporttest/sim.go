package transporttest

import (
	"sync"

	"github.com/opd-ai/confrelay/transport"
	"github.com/sirupsen/logrus"
)

// Unlimited disables the capacity limit.
const Unlimited = -1

// DeliveryRecord represents a send attempt for test verification
type DeliveryRecord struct {
	Size    int
	Success bool
	Error   error
}

// SimulatedConn is an in-memory transport.Sender and transport.CongestionSource.
type SimulatedConn struct {
	mu          sync.Mutex
	delivered   [][]byte
	deliveryLog []DeliveryRecord
	capacity    int
	failure     error

	congestion   transport.CongestionInfo
	congestionOK bool
	polls        int
}

// NewSimulatedConn creates a connection with unlimited capacity and no
// congestion snapshot.
func NewSimulatedConn() *SimulatedConn {
	return &SimulatedConn{capacity: Unlimited}
}

// Send implements transport.Sender.
func (s *SimulatedConn) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch {
	case s.failure != nil:
		err = s.failure
	case s.capacity != Unlimited && len(s.delivered) >= s.capacity:
		err = transport.ErrWouldBlock
	}

	s.deliveryLog = append(s.deliveryLog, DeliveryRecord{
		Size:    len(frame),
		Success: err == nil,
		Error:   err,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "SimulatedConn.Send",
			"frame_size": len(frame),
			"error":      err.Error(),
		}).Debug("Simulated send refused")
		return err
	}

	s.delivered = append(s.delivered, frame)
	return nil
}

// Congestion implements transport.CongestionSource.
func (s *SimulatedConn) Congestion() (transport.CongestionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.congestion, s.congestionOK
}

// SetCapacity sets the total number of frames Send accepts before it
// reports would-block. Unlimited removes the limit.
func (s *SimulatedConn) SetCapacity(frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = frames
}

// SetFailure makes every Send fail with err. A nil err clears it.
func (s *SimulatedConn) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// SetCongestion scripts the snapshot returned by Congestion.
func (s *SimulatedConn) SetCongestion(info transport.CongestionInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.congestion = info
	s.congestionOK = ok
}

// Delivered returns the frames accepted so far, in order.
func (s *SimulatedConn) Delivered() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.delivered))
	copy(out, s.delivered)
	return out
}

// DeliveryLog returns every send attempt.
func (s *SimulatedConn) DeliveryLog() []DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeliveryRecord, len(s.deliveryLog))
	copy(out, s.deliveryLog)
	return out
}

// Polls returns how many times Congestion was called.
func (s *SimulatedConn) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// ClearDeliveryLog resets the log and the delivered frames.
func (s *SimulatedConn) ClearDeliveryLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryLog = nil
	s.delivered = nil
}
