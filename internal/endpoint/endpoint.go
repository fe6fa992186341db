package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MaxValue is the exclusive upper bound of a packed endpoint.
const MaxValue = uint64(1) << 48

var (
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidAddress  = errors.New("invalid IPv4 address")
	ErrInvalidEndpoint = errors.New("invalid endpoint identifier")
)

// Endpoint identifies one OpenFlow control connection by the datapath side
// (IPv4 address, TCP port), packed as (ip << 16) | port.
//
// The 32-bit ip word is the address's network-order octets loaded as a
// little-endian integer, so 127.0.0.1:58668 packs to 1099520009516.
type Endpoint uint64

// Encode packs an IPv4 address and a port.
func Encode(ip [4]byte, port uint16) Endpoint {
	word := binary.LittleEndian.Uint32(ip[:])
	return Endpoint(uint64(word)<<16 | uint64(port))
}

// FromIP packs a net.IP, which must be an IPv4 (or IPv4-mapped) address.
func FromIP(ip net.IP, port uint16) (Endpoint, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAddress, ip)
	}
	var octets [4]byte
	copy(octets[:], v4)
	return Encode(octets, port), nil
}

// Parse packs a dotted-quad address string and an integer port.
func Parse(ip string, port int) (Endpoint, error) {
	if port < 0 || port > 0xffff {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	octets, err := parseIPv4(ip)
	if err != nil {
		return 0, err
	}
	return Encode(octets, uint16(port)), nil
}

// FromUint64 validates a raw identifier, for example one received over an API.
func FromUint64(v uint64) (Endpoint, error) {
	if v >= MaxValue {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEndpoint, v)
	}
	return Endpoint(v), nil
}

// ParseID parses a decimal identifier string.
func ParseID(s string) (Endpoint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
	}
	return FromUint64(v)
}

// Decode is the exact inverse of Encode.
func (e Endpoint) Decode() ([4]byte, uint16) {
	var ip [4]byte
	binary.LittleEndian.PutUint32(ip[:], uint32(uint64(e)>>16))
	return ip, uint16(e & 0xffff)
}

// IP returns the address part.
func (e Endpoint) IP() net.IP {
	ip, _ := e.Decode()
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]).To4()
}

// Port returns the port part.
func (e Endpoint) Port() uint16 {
	return uint16(e & 0xffff)
}

// ID returns the raw packed value.
func (e Endpoint) ID() uint64 {
	return uint64(e)
}

func (e Endpoint) String() string {
	ip, port := e.Decode()
	return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
}

// parseIPv4 accepts exactly four decimal octets in 0..255.
func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 || strings.HasPrefix(p, "+") {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		out[i] = byte(n)
	}
	return out, nil
}
