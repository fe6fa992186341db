package openflow

import (
	"encoding/binary"
	"fmt"
)

// NoBuffer marks a Packet-In/Out whose frame travels in the message body.
const NoBuffer uint32 = 0xffffffff

// Reserved "max" port numbers. A probe that loops back on this port went
// controller -> switch pipeline -> controller without touching a link.
const (
	PortMax10 uint32 = 0xff00
	PortMax13 uint32 = 0xffffff00
)

const (
	oxmClassOpenFlowBasic = 0x8000
	oxmFieldInPort        = 0
	matchTypeOXM          = 1
)

// PacketIn is the subset of a Packet-In needed for latency correlation.
type PacketIn struct {
	BufferID uint32
	InPort   uint32
	Data     []byte
}

// PacketOut is the subset of a Packet-Out needed for latency correlation.
type PacketOut struct {
	BufferID uint32
	InPort   uint32
	Data     []byte
}

// IsPortMax reports whether port is the reserved max port of either version.
func IsPortMax(port uint32) bool {
	return port == PortMax10 || port == PortMax13
}

// DecodePacketIn reads a Packet-In body for OpenFlow 1.0 or 1.3.
func DecodePacketIn(m Message) (PacketIn, error) {
	if m.Type != TypePacketIn {
		return PacketIn{}, fmt.Errorf("%w: %s is not a PacketIn", ErrMalformedMessage, m.Type)
	}
	b := m.Body
	switch m.Version {
	case Version10:
		if len(b) < 10 {
			return PacketIn{}, fmt.Errorf("%w: short 1.0 PacketIn", ErrMalformedMessage)
		}
		return PacketIn{
			BufferID: binary.BigEndian.Uint32(b[0:4]),
			InPort:   uint32(binary.BigEndian.Uint16(b[6:8])),
			Data:     b[10:],
		}, nil
	default:
		// 1.3 layout: buffer_id, total_len, reason, table_id, cookie, match, pad(2), data.
		if len(b) < 20 {
			return PacketIn{}, fmt.Errorf("%w: short PacketIn", ErrMalformedMessage)
		}
		pi := PacketIn{BufferID: binary.BigEndian.Uint32(b[0:4])}
		match := b[16:]
		matchLen := int(binary.BigEndian.Uint16(match[2:4]))
		padded := (matchLen + 7) / 8 * 8
		if matchLen < 4 || len(match) < padded+2 {
			return PacketIn{}, fmt.Errorf("%w: bad match length %d", ErrMalformedMessage, matchLen)
		}
		if binary.BigEndian.Uint16(match[0:2]) == matchTypeOXM {
			pi.InPort = oxmInPort(match[4:matchLen])
		}
		pi.Data = match[padded+2:]
		return pi, nil
	}
}

// DecodePacketOut reads a Packet-Out body for OpenFlow 1.0 or 1.3.
func DecodePacketOut(m Message) (PacketOut, error) {
	if m.Type != TypePacketOut {
		return PacketOut{}, fmt.Errorf("%w: %s is not a PacketOut", ErrMalformedMessage, m.Type)
	}
	b := m.Body
	var po PacketOut
	var actionsLen, dataAt int
	switch m.Version {
	case Version10:
		if len(b) < 8 {
			return po, fmt.Errorf("%w: short 1.0 PacketOut", ErrMalformedMessage)
		}
		po.BufferID = binary.BigEndian.Uint32(b[0:4])
		po.InPort = uint32(binary.BigEndian.Uint16(b[4:6]))
		actionsLen = int(binary.BigEndian.Uint16(b[6:8]))
		dataAt = 8 + actionsLen
	default:
		if len(b) < 16 {
			return po, fmt.Errorf("%w: short PacketOut", ErrMalformedMessage)
		}
		po.BufferID = binary.BigEndian.Uint32(b[0:4])
		po.InPort = binary.BigEndian.Uint32(b[4:8])
		actionsLen = int(binary.BigEndian.Uint16(b[8:10]))
		dataAt = 16 + actionsLen
	}
	if dataAt > len(b) {
		return po, fmt.Errorf("%w: actions length %d overruns body", ErrMalformedMessage, actionsLen)
	}
	po.Data = b[dataAt:]
	return po, nil
}

// oxmInPort scans OXM TLVs for OFPXMT_OFB_IN_PORT.
func oxmInPort(oxms []byte) uint32 {
	for len(oxms) >= 4 {
		class := binary.BigEndian.Uint16(oxms[0:2])
		field := oxms[2] >> 1
		n := int(oxms[3])
		if len(oxms) < 4+n {
			return 0
		}
		if class == oxmClassOpenFlowBasic && field == oxmFieldInPort && n == 4 {
			return binary.BigEndian.Uint32(oxms[4:8])
		}
		oxms = oxms[4+n:]
	}
	return 0
}

// NewPacketIn builds a Packet-In message carrying data.
func NewPacketIn(version uint8, xid, bufferID, inPort uint32, data []byte) []byte {
	var body []byte
	if version == Version10 {
		body = make([]byte, 10, 10+len(data))
		binary.BigEndian.PutUint32(body[0:4], bufferID)
		binary.BigEndian.PutUint16(body[4:6], uint16(len(data)))
		binary.BigEndian.PutUint16(body[6:8], uint16(inPort))
	} else {
		// match: type OXM, length 12 (4 + one 8-byte in_port TLV), padded to 16.
		body = make([]byte, 16+16+2, 16+16+2+len(data))
		binary.BigEndian.PutUint32(body[0:4], bufferID)
		binary.BigEndian.PutUint16(body[4:6], uint16(len(data)))
		match := body[16:]
		binary.BigEndian.PutUint16(match[0:2], matchTypeOXM)
		binary.BigEndian.PutUint16(match[2:4], 12)
		binary.BigEndian.PutUint16(match[4:6], oxmClassOpenFlowBasic)
		match[6] = oxmFieldInPort << 1
		match[7] = 4
		binary.BigEndian.PutUint32(match[8:12], inPort)
	}
	return Marshal(version, TypePacketIn, xid, append(body, data...))
}

// NewPacketOut builds a Packet-Out message with no actions carrying data.
func NewPacketOut(version uint8, xid, bufferID, inPort uint32, data []byte) []byte {
	var body []byte
	if version == Version10 {
		body = make([]byte, 8, 8+len(data))
		binary.BigEndian.PutUint32(body[0:4], bufferID)
		binary.BigEndian.PutUint16(body[4:6], uint16(inPort))
	} else {
		body = make([]byte, 16, 16+len(data))
		binary.BigEndian.PutUint32(body[0:4], bufferID)
		binary.BigEndian.PutUint32(body[4:8], inPort)
	}
	return Marshal(version, TypePacketOut, xid, append(body, data...))
}
