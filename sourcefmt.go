package udptun

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
)

// byteRange is a single octet value, or an exclusive [start, end) range to
// draw one from.
type byteRange struct {
	start, end byte
	ranged     bool
}

func (r byteRange) random(rnd *rand.Rand) byte {
	if !r.ranged {
		return r.start
	}
	span := int(r.end) - int(r.start)
	if span <= 0 {
		return r.start
	}
	return r.start + byte(rnd.Intn(span))
}

// portRange is the same idea for the 16-bit port component.
type portRange struct {
	start, end uint16
	ranged     bool
}

func (r portRange) random(rnd *rand.Rand) uint16 {
	if !r.ranged {
		return r.start
	}
	span := int(r.end) - int(r.start)
	if span <= 0 {
		return r.start
	}
	return r.start + uint16(rnd.Intn(span))
}

// SourceFormat is a parsed source-address pattern: four octet components
// and a port component, each either a fixed value or a range, used to draw
// a randomized local address for a per-flow target-side socket.
//
// Only IPv4 patterns are supported. The upstream tool this is modeled on
// never implemented IPv6 range parsing either — a literal v6 address
// would need its own component syntax this parser doesn't have one for,
// so it's left out rather than half-done.
type SourceFormat struct {
	octets [4]byteRange
	port   portRange
}

// ParseSourceFormat parses a pattern of the form "A.B.C.D:P", where A-D
// and P may each be a literal value or a "start-end" range (end
// exclusive). Examples: "10.0.0.1:9000", "10.0.0-255.1-2:10000-20000".
func ParseSourceFormat(s string) (*SourceFormat, error) {
	addrPart, portPart, ok := cutLast(s, ':')
	if !ok {
		return nil, fmt.Errorf("udptun: source format %q: missing port component", s)
	}
	octetParts := strings.Split(addrPart, ".")
	if len(octetParts) != 4 {
		return nil, fmt.Errorf("udptun: source format %q: expected 4 dotted octets, got %d", s, len(octetParts))
	}
	var f SourceFormat
	for i, p := range octetParts {
		r, err := parseByteRange(p)
		if err != nil {
			return nil, fmt.Errorf("udptun: source format %q: octet %d: %w", s, i, err)
		}
		f.octets[i] = r
	}
	pr, err := parsePortRange(portPart)
	if err != nil {
		return nil, fmt.Errorf("udptun: source format %q: port: %w", s, err)
	}
	f.port = pr
	return &f, nil
}

// cutLast splits s on the final occurrence of sep, the way a "host:port"
// address needs to (an IPv4 octet range like "10-20" must not be mistaken
// for the separator).
func cutLast(s string, sep byte) (before, after string, ok bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func parseByteRange(s string) (byteRange, error) {
	start, end, ranged, err := parseRangeBounds(s, 8)
	if err != nil {
		return byteRange{}, err
	}
	return byteRange{start: byte(start), end: byte(end), ranged: ranged}, nil
}

func parsePortRange(s string) (portRange, error) {
	start, end, ranged, err := parseRangeBounds(s, 16)
	if err != nil {
		return portRange{}, err
	}
	return portRange{start: uint16(start), end: uint16(end), ranged: ranged}, nil
}

func parseRangeBounds(s string, bitSize int) (start, end uint64, ranged bool, err error) {
	parts := strings.SplitN(s, "-", 2)
	start, err = strconv.ParseUint(parts[0], 10, bitSize)
	if err != nil {
		return 0, 0, false, err
	}
	if len(parts) == 1 {
		return start, start, false, nil
	}
	end, err = strconv.ParseUint(parts[1], 10, bitSize)
	if err != nil {
		return 0, 0, false, err
	}
	return start, end, true, nil
}

// RandomAddr draws one concrete address from the pattern using rnd.
func (f *SourceFormat) RandomAddr(rnd *rand.Rand) *net.UDPAddr {
	ip := net.IPv4(
		f.octets[0].random(rnd),
		f.octets[1].random(rnd),
		f.octets[2].random(rnd),
		f.octets[3].random(rnd),
	)
	return &net.UDPAddr{IP: ip, Port: int(f.port.random(rnd))}
}
