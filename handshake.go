package udptun

import (
	"fmt"
	"net"
	"time"
)

// ErrHandshakeTimeout is returned by SendConnect when no CONN_ACK arrives
// within the configured timeout.
type ErrHandshakeTimeout struct {
	Waited time.Duration
}

func (e *ErrHandshakeTimeout) Error() string {
	return fmt.Sprintf("udptun: handshake timed out after %s waiting for CONN_ACK", e.Waited)
}

// ErrHandshakeMismatch is returned by SendConnect when the remote answers
// with a role or protocol version this side doesn't recognize.
type ErrHandshakeMismatch struct {
	Got []byte
}

func (e *ErrHandshakeMismatch) Error() string {
	return fmt.Sprintf("udptun: remote sent invalid CONN_ACK: % X", e.Got)
}

// SendConnect drives the active side of the handshake:
// send CONNECT, then wait for {CONN_ACK, expectedRole, ProtoVersion}. conn
// must already be connected to the remote tunnel endpoint. timeout of zero
// uses DefaultHandshakeTimeout.
func SendConnect(conn *net.UDPConn, buf []byte, expectedRole byte, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}
	buf[0] = PacketConnect
	if _, err := conn.Write(buf[:1]); err != nil {
		return fmt.Errorf("udptun: sending connect packet: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("udptun: setting handshake read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return &ErrHandshakeTimeout{Waited: timeout}
		}
		return fmt.Errorf("udptun: receiving connect response: %w", err)
	}
	want := [3]byte{PacketConnAck, expectedRole, ProtoVersion}
	if n != 3 || buf[0] != want[0] || buf[1] != want[1] || buf[2] != want[2] {
		got := make([]byte, n)
		copy(got, buf[:n])
		return &ErrHandshakeMismatch{Got: got}
	}
	return nil
}

// RespondConnect drives the passive side of the handshake: restrict conn
// to sender (the address a CONNECT just arrived from), then answer with
// our own CONN_ACK carrying role. Restricting first, same as the reply
// order this mirrors, means the ack itself travels over the now-connected
// socket rather than an explicit destination.
func RespondConnect(conn *net.UDPConn, sender *net.UDPAddr, buf []byte, role byte) error {
	if err := connectUDP(conn, sender); err != nil {
		return err
	}
	buf[0] = PacketConnAck
	buf[1] = role
	buf[2] = ProtoVersion
	if _, err := conn.Write(buf[:3]); err != nil {
		return fmt.Errorf("udptun: sending connect response: %w", err)
	}
	return nil
}
