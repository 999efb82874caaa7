//go:build !linux

package transport

import "net"

func readCongestion(_ *net.TCPConn, _ bool) (CongestionInfo, error) {
	return CongestionInfo{}, errCongestionUnavailable
}
