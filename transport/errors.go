package transport

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/opd-ai/confrelay/limits"
)

var (
	// ErrWouldBlock indicates the outbox is full; retry after OnSendReady
	ErrWouldBlock = errors.New("send would block")

	// ErrConnectionClosed indicates the connection has been closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrFrameTooLarge indicates a frame exceeds limits.MaxFrame
	ErrFrameTooLarge = limits.ErrFrameTooLarge

	// errCongestionUnavailable indicates the platform exposes no congestion state
	errCongestionUnavailable = errors.New("congestion state unavailable")
)

// OpError represents a transport error with additional context
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// IsBindError reports whether err comes from binding a local address.
func IsBindError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) ||
		errors.Is(err, syscall.EACCES)
}
