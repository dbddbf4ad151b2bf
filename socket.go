package udptun

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// IPMode selects which address family a wildcard bind uses.
type IPMode int

const (
	IPModeBoth IPMode = iota
	IPModeV4Only
	IPModeV6Only
)

// DefaultListenAddr returns the wildcard address to bind when the operator
// didn't specify one, for the given IP mode.
func DefaultListenAddr(mode IPMode) string {
	switch mode {
	case IPModeV4Only:
		return "0.0.0.0:0"
	default:
		return "[::]:0"
	}
}

// listenNetwork maps an IPMode to the network string net.ListenConfig
// expects; "udp" lets the runtime pick the family from the address,
// "udp4"/"udp6" pin it.
func listenNetwork(mode IPMode) string {
	switch mode {
	case IPModeV4Only:
		return "udp4"
	case IPModeV6Only:
		return "udp6"
	default:
		return "udp"
	}
}

// reusableListenConfig returns a ListenConfig whose Control hook enables
// SO_REUSEADDR and SO_REUSEPORT before bind. Both must be set pre-bind —
// unlike the receive-buffer size or ToS, there's no fixing this up on an
// already-bound socket, so this can't reuse the conn.File()-then-setsockopt
// pattern SetRecvBufferSize below uses.
func reusableListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// ListenReusableUDP binds a UDP socket at addr (or the IP-mode wildcard, if
// addr is empty) with SO_REUSEADDR and SO_REUSEPORT enabled, so several
// per-flow sockets may share a source port when a source-address pattern
// calls for it.
func ListenReusableUDP(ctx context.Context, mode IPMode, addr string) (*net.UDPConn, error) {
	if addr == "" {
		addr = DefaultListenAddr(mode)
	}
	pc, err := reusableListenConfig().ListenPacket(ctx, listenNetwork(mode), addr)
	if err != nil {
		return nil, fmt.Errorf("udptun: binding %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("udptun: %s did not yield a UDP socket", addr)
	}
	return conn, nil
}

// SetRecvBufferSize sets conn's kernel receive buffer to size bytes via a
// raw setsockopt, mirroring the fact that Go's net package doesn't expose
// SO_RCVBUF directly on an already-open *net.UDPConn in every Go version
// this targets.
func SetRecvBufferSize(conn *net.UDPConn, size int) error {
	file, err := conn.File()
	if err != nil {
		return fmt.Errorf("udptun: obtaining socket file: %w", err)
	}
	defer FileCloseHandler(file)
	if err := unix.SetsockoptInt(int(file.Fd()), unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return fmt.Errorf("udptun: setting SO_RCVBUF: %w", err)
	}
	return nil
}

// ConnectFlowSocket restricts an already-bound per-flow UDP socket to the
// real server address, so its Write/Read calls need no destination.
func ConnectFlowSocket(conn *net.UDPConn, remote *net.UDPAddr) error {
	return connectUDP(conn, remote)
}

// connectUDP restricts an already-bound, unconnected UDP socket to a
// single peer by issuing connect(2) on its underlying file descriptor —
// the passive side of the handshake needs this after it learns the
// remote's address from an inbound CONNECT, which Go's net package has
// no higher-level call for on a *net.UDPConn obtained from
// ListenUDP/ListenPacket.
func connectUDP(conn *net.UDPConn, peer *net.UDPAddr) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("udptun: obtaining raw socket: %w", err)
	}
	sa, err := sockaddrOf(peer)
	if err != nil {
		return err
	}
	var connectErr error
	err = raw.Control(func(fd uintptr) {
		connectErr = unix.Connect(int(fd), sa)
	})
	if err != nil {
		return fmt.Errorf("udptun: raw control: %w", err)
	}
	if connectErr != nil {
		return fmt.Errorf("udptun: connecting to %s: %w", peer, connectErr)
	}
	return nil
}

func sockaddrOf(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("udptun: invalid IP address %v", addr.IP)
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip16)
	return &sa, nil
}
