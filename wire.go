package udptun

import "errors"

// Packet type tags. Every wire datagram on the tunnel begins with one of
// these as its first byte.
const (
	PacketConnect = byte(0x00) // no further payload
	PacketConnAck = byte(0x01) // {peer_role, version}
	PacketData    = byte(0x10) // {connection_id, payload...}
)

// Role tags exchanged during the handshake.
const (
	RoleServer = byte(0x00) // the target process
	RoleClient = byte(0x01) // the entry process
)

// ProtoVersion is the single supported wire protocol version.
const ProtoVersion = byte(0x01)

// headerLen is the number of bytes reserved at the front of the shared
// datagram buffer for DATA framing: one type byte, one connection id byte.
const headerLen = 2

var (
	// ErrShortData is returned when a DATA packet is too small to contain
	// a connection id byte.
	ErrShortData = errors.New("udptun: DATA packet shorter than 2 bytes")
)

// FrameData writes a DATA header into buf[0:2] so that buf[0:2+len(payload)]
// is ready to send on the tunnel, assuming payload already occupies
// buf[2:2+len(payload)]. It returns the total framed length.
//
// This mirrors the shared-buffer convention described in the design notes:
// recv into buf[2:], frame in place, send buf[:size+2].
func FrameData(buf []byte, id byte, payloadLen int) int {
	buf[0] = PacketData
	buf[1] = id
	return headerLen + payloadLen
}

// ParseData reads a DATA packet's connection id and payload slice out of
// buf, which is the full received datagram with its type byte still in
// place (buf[0] == PacketData, checked by the caller).
func ParseData(buf []byte) (id byte, payload []byte, err error) {
	if len(buf) < headerLen {
		return 0, nil, ErrShortData
	}
	return buf[1], buf[2:], nil
}
