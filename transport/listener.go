package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// Listener accepts framed uplink connections.
type Listener struct {
	ln   *net.TCPListener
	addr netip.AddrPort
	opts Options
}

// Listen binds a TCP listener on addr.
func Listen(ctx context.Context, addr netip.AddrPort, opts Options) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return nil, newOpError("listen", addr.String(), err)
	}

	tcpLn := ln.(*net.TCPListener)
	bound := addr
	if a, ok := tcpLn.Addr().(*net.TCPAddr); ok {
		bound = a.AddrPort()
	}

	opts.logger().WithFields(logrus.Fields{
		"function": "Listen",
		"address":  bound.String(),
	}).Info("Listening for uplinks")

	return &Listener{ln: tcpLn, addr: bound, opts: opts}, nil
}

// Accept waits for the next connection. It returns ErrConnectionClosed once
// the listener has been closed.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.AcceptTCP()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, newOpError("accept", l.addr.String(), err)
	}
	_ = c.SetNoDelay(true)
	return newConn(c, l.opts), nil
}

// Addr returns the bound address.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}
