package openflow

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the size of the fixed OpenFlow header.
const HeaderLen = 8

// Wire versions seen on control channels.
const (
	Version10 uint8 = 0x01
	Version13 uint8 = 0x04
	versionMax      = 0x06
)

// Type is the OpenFlow message type. The values used here are shared by 1.0 and 1.3.
type Type uint8

const (
	TypeHello           Type = 0
	TypeError           Type = 1
	TypeEchoRequest     Type = 2
	TypeEchoReply       Type = 3
	TypeExperimenter    Type = 4
	TypeFeaturesRequest Type = 5
	TypeFeaturesReply   Type = 6
	TypePacketIn        Type = 10
	TypeFlowRemoved     Type = 11
	TypePortStatus      Type = 12
	TypePacketOut       Type = 13
	TypeFlowMod         Type = 14
)

var typeNames = map[Type]string{
	TypeHello:           "Hello",
	TypeError:           "Error",
	TypeEchoRequest:     "EchoRequest",
	TypeEchoReply:       "EchoReply",
	TypeExperimenter:    "Experimenter",
	TypeFeaturesRequest: "FeaturesRequest",
	TypeFeaturesReply:   "FeaturesReply",
	TypePacketIn:        "PacketIn",
	TypeFlowRemoved:     "FlowRemoved",
	TypePortStatus:      "PortStatus",
	TypePacketOut:       "PacketOut",
	TypeFlowMod:         "FlowMod",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ErrMalformedMessage reports a header that cannot start a legal message. The
// owning connection's buffered bytes must be discarded.
var ErrMalformedMessage = errors.New("malformed openflow message")

// Header is the fixed part of every OpenFlow message.
type Header struct {
	Version uint8
	Type    Type
	Length  uint16
	XID     uint32
}

// Message is one fully framed OpenFlow message. Body excludes the header and
// aliases the buffer it was parsed from.
type Message struct {
	Header
	Body []byte
}

// ParseHeader decodes the header at the start of b. It needs HeaderLen bytes.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrMalformedMessage, len(b))
	}
	h := Header{
		Version: b[0],
		Type:    Type(b[1]),
		Length:  binary.BigEndian.Uint16(b[2:4]),
		XID:     binary.BigEndian.Uint32(b[4:8]),
	}
	if h.Version == 0 || h.Version > versionMax {
		return h, fmt.Errorf("%w: version 0x%02x", ErrMalformedMessage, h.Version)
	}
	if h.Length < HeaderLen {
		return h, fmt.Errorf("%w: declared length %d", ErrMalformedMessage, h.Length)
	}
	return h, nil
}

// Parse frames as many complete messages as buf holds. consumed counts the
// bytes of the returned messages. A trailing partial message is left in place
// and is not an error. On ErrMalformedMessage the messages framed before the
// bad header are still returned.
func Parse(buf []byte) (msgs []Message, consumed int, err error) {
	for len(buf)-consumed >= HeaderLen {
		h, err := ParseHeader(buf[consumed:])
		if err != nil {
			return msgs, consumed, err
		}
		end := consumed + int(h.Length)
		if end > len(buf) {
			break
		}
		msgs = append(msgs, Message{Header: h, Body: buf[consumed+HeaderLen : end]})
		consumed = end
	}
	return msgs, consumed, nil
}

// Marshal encodes a message with the given body, setting Length. Used to build
// synthetic control traffic.
func Marshal(version uint8, t Type, xid uint32, body []byte) []byte {
	out := make([]byte, HeaderLen+len(body))
	out[0] = version
	out[1] = uint8(t)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(out)))
	binary.BigEndian.PutUint32(out[4:8], xid)
	copy(out[HeaderLen:], body)
	return out
}
