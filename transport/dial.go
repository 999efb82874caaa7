package transport

import (
	"context"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// Dial connects to remote from the local address local. A zero local port
// lets the kernel choose one.
func Dial(ctx context.Context, local, remote netip.AddrPort, opts Options) (*Conn, error) {
	d := net.Dialer{}
	if local.IsValid() {
		d.LocalAddr = net.TCPAddrFromAddrPort(local)
		if local.Port() != 0 {
			d.Control = dialControl
		}
	}

	c, err := d.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, newOpError("dial", remote.String(), err)
	}

	tcp := c.(*net.TCPConn)
	_ = tcp.SetNoDelay(true)
	conn := newConn(tcp, opts)

	conn.log.WithFields(logrus.Fields{
		"function": "Dial",
		"local":    conn.LocalAddr().String(),
		"remote":   remote.String(),
	}).Debug("Connected")

	return conn, nil
}
