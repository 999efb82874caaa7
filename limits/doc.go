// Package limits provides centralized frame size constants and validation functions
// for the relay. Every frame read off an uplink passes through these checks before
// the header is parsed.
//
// # Size Hierarchy
//
//   - HeaderSize (12 bytes): the application header carried by each packet.
//
//   - MaxPayload (64 KiB): the largest media payload a single packet may carry.
//
//   - MaxFrame: HeaderSize + MaxPayload, the largest frame the transport accepts.
//     Length prefixes above this value are rejected before any allocation.
//
// # Validation Functions
//
//	if err := limits.ValidateUplinkFrame(frame); err != nil {
//	    // ErrFrameEmpty, ErrFrameTooLarge or ErrFrameTooShort
//	}
//
// MaxLinks documents the byte-sized link id space used by the registry.
package limits
