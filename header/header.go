// Package header implements the application-layer header that prefixes every
// packet a conference peer sends to the relay.
//
// Wire layout (big-endian, 12 bytes):
//
//	[frame id (2)][packet id (2)][downlink feedback factor (4)][payload size (4)]
//
// The header is logical metadata for the forwarding layer. Forwarded copies
// carry the frame exactly as it was received.
package header

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/opd-ai/confrelay/limits"
)

// Size is the encoded header size in bytes.
const Size = limits.HeaderSize

// FeedbackScale is the fixed-point scale of the feedback factor. A factor of
// FeedbackScale means the receiver experiences no bandwidth reduction.
const FeedbackScale = 10000

// FeedbackFactor is a fixed-point ratio in [0,1] with scale FeedbackScale,
// reported by a peer about the bandwidth reduction on its own downlink.
type FeedbackFactor uint32

// FullFeedback is the factor reported by a peer that is not bandwidth limited.
const FullFeedback FeedbackFactor = FeedbackScale

// FactorFromRatio converts a ratio to its fixed-point representation.
// Ratios outside [0,1] are clamped.
func FactorFromRatio(ratio float64) FeedbackFactor {
	if ratio <= 0 || math.IsNaN(ratio) {
		return 0
	}
	if ratio >= 1 {
		return FullFeedback
	}
	return FeedbackFactor(math.Round(ratio * FeedbackScale))
}

// Ratio returns the factor as a floating point ratio.
func (f FeedbackFactor) Ratio() float64 {
	return float64(f) / FeedbackScale
}

// IsFull reports whether the factor signals a full recovery (exactly 1.0).
func (f FeedbackFactor) IsFull() bool {
	return f == FullFeedback
}

// IsReduced reports whether the factor signals a bandwidth reduction (< 1.0).
func (f FeedbackFactor) IsReduced() bool {
	return f < FullFeedback
}

// Apply returns ceil(value * factor) computed in exact fixed point,
// saturating at math.MaxUint32.
func (f FeedbackFactor) Apply(value uint32) uint32 {
	scaled := (uint64(value)*uint64(f) + FeedbackScale - 1) / FeedbackScale
	if scaled > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(scaled)
}

// String returns the factor formatted as a ratio.
func (f FeedbackFactor) String() string {
	return fmt.Sprintf("%.4f", f.Ratio())
}

// Header is the decoded application-layer header.
type Header struct {
	// FrameID identifies the frame within the source link. Monotonically
	// non-decreasing except at 16-bit wraparound.
	FrameID uint16
	// PacketID is informational and never used for ordering decisions.
	PacketID uint16
	// Feedback is the sending peer's own downlink reduction factor.
	Feedback FeedbackFactor
	// PayloadSize is carried on the wire but unused by forwarding.
	PayloadSize uint32
}

// Marshal encodes the header followed by payload into a single frame.
func (h Header) Marshal(payload []byte) []byte {
	frame := make([]byte, Size+len(payload))
	h.Put(frame)
	copy(frame[Size:], payload)
	return frame
}

// Put writes the encoded header into the first Size bytes of buf.
// It panics if buf is shorter than Size.
func (h Header) Put(buf []byte) {
	_ = buf[Size-1]
	binary.BigEndian.PutUint16(buf[0:2], h.FrameID)
	binary.BigEndian.PutUint16(buf[2:4], h.PacketID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Feedback))
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadSize)
}

// Parse decodes the header at the front of frame and returns it together
// with the payload that follows. The payload aliases frame.
func Parse(frame []byte) (Header, []byte, error) {
	if err := limits.ValidateUplinkFrame(frame); err != nil {
		return Header{}, nil, fmt.Errorf("parse header: %w", err)
	}

	h := Header{
		FrameID:     binary.BigEndian.Uint16(frame[0:2]),
		PacketID:    binary.BigEndian.Uint16(frame[2:4]),
		Feedback:    FeedbackFactor(binary.BigEndian.Uint32(frame[4:8])),
		PayloadSize: binary.BigEndian.Uint32(frame[8:12]),
	}
	return h, frame[Size:], nil
}
