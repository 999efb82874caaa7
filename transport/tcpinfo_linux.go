//go:build linux

package transport

import (
	"math"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// unlimitedPacing is the pacing rate the kernel reports when pacing is off.
const unlimitedPacing = ^uint64(0)

func readCongestion(c *net.TCPConn, pacing bool) (CongestionInfo, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return CongestionInfo{}, err
	}

	var info *unix.TCPInfo
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	})
	if ctrlErr != nil {
		return CongestionInfo{}, ctrlErr
	}
	if sockErr != nil {
		return CongestionInfo{}, sockErr
	}

	return congestionFromTCPInfo(info, pacing), nil
}

func congestionFromTCPInfo(info *unix.TCPInfo, pacing bool) CongestionInfo {
	window := uint64(info.Snd_cwnd) * uint64(info.Snd_mss)
	if window > math.MaxUint32 {
		window = math.MaxUint32
	}

	ci := CongestionInfo{
		Window: uint32(window),
		RTT:    time.Duration(info.Rtt) * time.Microsecond,
	}
	if pacing && info.Pacing_rate != 0 && info.Pacing_rate != unlimitedPacing {
		ci.PacingEnabled = true
		ci.PacingRate = info.Pacing_rate
	}
	return ci
}
