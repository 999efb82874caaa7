// Package transport provides the reliable byte-stream connections the relay
// uses for peer uplinks and downlinks.
//
// # Framing
//
// Every application-layer packet travels as one frame: a 4-byte big-endian
// length prefix followed by the packet bytes. ReadFrame and WriteFrame
// implement the codec; frames longer than limits.MaxFrame are rejected
// before any payload is read.
//
// # Connections
//
// A Conn owns two goroutines once started: a reader that reassembles
// frames and hands them to Handlers.OnFrame, and a writer that drains a
// bounded outbox. Send never blocks:
//
//	err := conn.Send(frame)
//	switch {
//	case err == nil:
//	    // queued for the writer
//	case errors.Is(err, transport.ErrWouldBlock):
//	    // keep the frame; Handlers.OnSendReady fires once space is available
//	default:
//	    // connection closed or frame rejected
//	}
//
// Handlers run on the connection goroutines. Callers that keep
// single-threaded state should forward them to their own event loop.
//
// # Congestion state
//
// Conn.Congestion reports the kernel's view of the connection: congestion
// window, pacing rate and smoothed RTT. On Linux the values come from
// TCP_INFO; on other platforms the snapshot is unavailable.
//
// # Errors
//
// Listen and Dial wrap failures in *OpError. IsBindError distinguishes
// local address failures, which the relay treats as fatal, from remote
// connect failures.
package transport
