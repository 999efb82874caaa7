// Package limits provides centralized frame size limits for the relay.
// This ensures consistent validation across the transport and forwarding layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the application-layer header carried at the
	// front of every uplink frame (frame id, packet id, feedback factor, payload size).
	HeaderSize = 12

	// MaxPayload is the largest media payload a single packet may carry.
	// Peers fragment frames into packets well below this size.
	MaxPayload = 64 * 1024

	// MaxFrame is the largest length-prefixed frame accepted from the transport.
	MaxFrame = HeaderSize + MaxPayload

	// MaxLinks is the size of the link id space. Link ids are a single byte.
	MaxLinks = 256

	// LengthPrefixSize is the size of the big-endian length prefix in front of each frame.
	LengthPrefixSize = 4
)

var (
	// ErrFrameEmpty indicates an empty frame was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates the frame exceeds the maximum size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameTooShort indicates the frame cannot hold an application header
	ErrFrameTooShort = errors.New("frame too short")
)

// ValidateFrameSize validates a frame against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateFrameSize(frame []byte, maxSize int) error {
	if len(frame) == 0 {
		return ErrFrameEmpty
	}
	if len(frame) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(frame), maxSize)
	}
	return nil
}

// ValidateFrameLength checks a length prefix read off the wire before the
// frame body is allocated. It guards against memory exhaustion from
// corrupt or hostile prefixes.
func ValidateFrameLength(length uint32) error {
	if length == 0 {
		return ErrFrameEmpty
	}
	if length > MaxFrame {
		return fmt.Errorf("%w: length prefix %d exceeds limit %d", ErrFrameTooLarge, length, MaxFrame)
	}
	return nil
}

// ValidateUplinkFrame validates a frame received on an uplink. It must hold
// at least a full header and must not exceed MaxFrame.
func ValidateUplinkFrame(frame []byte) error {
	if err := ValidateFrameSize(frame, MaxFrame); err != nil {
		return err
	}
	if len(frame) < HeaderSize {
		return fmt.Errorf("%w: size %d below header size %d", ErrFrameTooShort, len(frame), HeaderSize)
	}
	return nil
}
