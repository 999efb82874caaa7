package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/confrelay/limits"
	"github.com/sirupsen/logrus"
)

// Conn is a framed TCP connection with a non-blocking send path.
type Conn struct {
	conn   *net.TCPConn
	local  netip.AddrPort
	remote netip.AddrPort
	pacing bool
	log    *logrus.Entry

	outbox  chan []byte
	done    chan struct{}
	blocked atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  atomic.Pointer[error]
}

func newConn(c *net.TCPConn, opts Options) *Conn {
	var local, remote netip.AddrPort
	if addr, ok := c.LocalAddr().(*net.TCPAddr); ok {
		local = addr.AddrPort()
	}
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		remote = addr.AddrPort()
	}

	return &Conn{
		conn:   c,
		local:  local,
		remote: remote,
		pacing: opts.Pacing,
		log:    opts.logger(),
		outbox: make(chan []byte, opts.writeQueue()),
		done:   make(chan struct{}),
	}
}

// LocalAddr returns the local endpoint of the connection.
func (c *Conn) LocalAddr() netip.AddrPort {
	return c.local
}

// RemoteAddr returns the peer endpoint of the connection.
func (c *Conn) RemoteAddr() netip.AddrPort {
	return c.remote
}

// PeerIdentity returns the address that identifies the peer.
func (c *Conn) PeerIdentity() netip.Addr {
	return c.remote.Addr().Unmap()
}

// Start launches the reader and writer goroutines. Calls after the first
// are ignored.
func (c *Conn) Start(h Handlers) {
	c.startOnce.Do(func() {
		go c.writeLoop(h.OnSendReady)
		go c.readLoop(h.OnFrame, h.OnClose)
	})
}

// Send queues frame for the writer. It never blocks: a full outbox yields
// ErrWouldBlock and OnSendReady fires once the writer frees a slot.
func (c *Conn) Send(frame []byte) error {
	if err := limits.ValidateFrameSize(frame, limits.MaxFrame); err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbox <- frame:
		return nil
	default:
	}

	// The writer may have emptied the outbox before the flag was visible.
	c.blocked.Store(true)
	select {
	case c.outbox <- frame:
		return nil
	default:
		return ErrWouldBlock
	}
}

// Queued returns the number of frames waiting in the outbox.
func (c *Conn) Queued() int {
	return len(c.outbox)
}

// Congestion returns the current congestion state of the connection.
func (c *Conn) Congestion() (CongestionInfo, bool) {
	info, err := readCongestion(c.conn, c.pacing)
	if err != nil {
		return CongestionInfo{}, false
	}
	return info, true
}

// Close shuts the connection down. Frames still in the outbox are discarded.
func (c *Conn) Close() error {
	return c.closeWith(nil)
}

func (c *Conn) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		if cause != nil {
			c.closeErr.Store(&cause)
		}
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) cause() error {
	if p := c.closeErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Conn) writeLoop(onSendReady func()) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			if err := WriteFrame(c.conn, frame); err != nil {
				c.log.WithFields(logrus.Fields{
					"function": "writeLoop",
					"remote":   c.remote.String(),
					"error":    err.Error(),
				}).Warn("Write failed, closing connection")
				_ = c.closeWith(newOpError("write", c.remote.String(), err))
				return
			}
			if c.blocked.CompareAndSwap(true, false) && onSendReady != nil {
				onSendReady()
			}
		}
	}
}

func (c *Conn) readLoop(onFrame func([]byte), onClose func(error)) {
	r := bufio.NewReader(c.conn)
	var readErr error
	for {
		frame, err := ReadFrame(r)
		if err != nil {
			readErr = err
			break
		}
		if onFrame != nil {
			onFrame(frame)
		}
	}

	closedLocally := false
	select {
	case <-c.done:
		closedLocally = true
	default:
	}
	_ = c.closeWith(nil)

	err := c.cause()
	if err == nil && !closedLocally && !errors.Is(readErr, io.EOF) {
		err = newOpError("read", c.remote.String(), readErr)
	}

	c.log.WithFields(logrus.Fields{
		"function":       "readLoop",
		"remote":         c.remote.String(),
		"closed_locally": closedLocally,
	}).Debug("Connection ended")

	if onClose != nil {
		onClose(err)
	}
}
