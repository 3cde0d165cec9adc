//go:build linux

package peer

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// dialControl applies the TCP MD5 signature option (RFC 2385) and an
// optional outgoing TTL before the connect.
func dialControl(md5 string, remote string, ttl int) func(network, address string, c syscall.RawConn) error {
	if md5 == "" && ttl == 0 {
		return nil
	}
	return func(network, address string, raw syscall.RawConn) error {
		var opErr error
		err := raw.Control(func(fd uintptr) {
			if md5 != "" {
				opErr = setTCPMD5(int(fd), remote, md5)
			}
			if opErr == nil && ttl > 0 {
				opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// ListenerMD5 installs an MD5 key for one expected source on a bound
// listener socket, so the kernel accepts signed SYNs from that peer.
func ListenerMD5(l net.Listener, peer string, md5 string) error {
	tcpl, ok := l.(*net.TCPListener)
	if !ok {
		return nil
	}
	raw, err := tcpl.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = setTCPMD5(int(fd), peer, md5)
	}); err != nil {
		return err
	}
	return opErr
}

func setTCPMD5(fd int, address, key string) error {
	sig := &unix.TCPMD5Sig{Keylen: uint16(len(key))}
	copy(sig.Key[:], key)
	ip := net.ParseIP(address)
	if v4 := ip.To4(); v4 != nil {
		sig.Addr.Family = unix.AF_INET
		copy(sig.Addr.Data[2:], v4)
	} else {
		sig.Addr.Family = unix.AF_INET6
		copy(sig.Addr.Data[6:], ip.To16())
	}
	return unix.SetsockoptTCPMD5Sig(fd, unix.IPPROTO_TCP, unix.TCP_MD5SIG, sig)
}
