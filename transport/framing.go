package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/opd-ai/confrelay/limits"
)

// WriteFrame writes frame to w behind its 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, frame []byte) error {
	if err := limits.ValidateFrameSize(frame, limits.MaxFrame); err != nil {
		return err
	}

	var prefix [limits.LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))

	bufs := net.Buffers{prefix[:], frame}
	_, err := bufs.WriteTo(w)
	return err
}

// ReadFrame reads one length-prefixed frame from r. It returns io.EOF when r
// ends cleanly before a new prefix and io.ErrUnexpectedEOF when it ends
// inside a frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [limits.LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if err := limits.ValidateFrameLength(length); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}
