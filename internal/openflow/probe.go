package openflow

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DefaultProbePrefix is the system-name prefix of latency probe LLDP frames.
const DefaultProbePrefix = "SAVI-SDN"

const probeIDLen = 32

// LLDP subtypes used in probe frames: locally assigned chassis, port component.
const (
	chassisSubtypeLocal  = 7
	portSubtypeComponent = 2
)

// lldpMulticast is the nearest-bridge LLDP destination.
var lldpMulticast = net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e}

// Probe is a latency probe carried in an LLDP frame inside a Packet-In or
// Packet-Out. Its system name is "<prefix>;<id>;<dp2ctrl ms>". A zero dp2ctrl
// marks a ping, anything else a pong that carries the remote controller's
// datapath-to-controller RTT.
type Probe struct {
	ID            string
	Port          uint32
	RemoteDp2Ctrl float64 // seconds
	Pong          bool
}

// ParseProbe decodes frame as Ethernet and returns the probe it carries, if any.
func ParseProbe(frame []byte, prefix string) (Probe, bool) {
	if len(frame) < 14 {
		return Probe{}, false
	}
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeLinkLayerDiscovery)
	if l == nil {
		return Probe{}, false
	}
	lldp := l.(*layers.LinkLayerDiscovery)

	var sysName string
	found := false
	for _, v := range lldp.Values {
		if v.Type == layers.LLDPTLVSysName {
			sysName = string(v.Value)
			found = true
			break
		}
	}
	if !found {
		return Probe{}, false
	}

	first := strings.IndexByte(sysName, ';')
	last := strings.LastIndexByte(sysName, ';')
	if first < 0 || first == last || sysName[:first] != prefix {
		return Probe{}, false
	}
	idEnd := first + 1 + probeIDLen
	if idEnd > last {
		idEnd = last
	}
	ms, err := strconv.ParseFloat(sysName[last+1:], 64)
	if err != nil {
		return Probe{}, false
	}

	p := Probe{
		ID:            sysName[first+1 : idEnd],
		Port:          portFromID(lldp.PortID.ID),
		RemoteDp2Ctrl: ms / 1000,
		Pong:          ms != 0,
	}
	return p, true
}

func portFromID(id []byte) uint32 {
	switch len(id) {
	case 4:
		return binary.BigEndian.Uint32(id)
	case 2:
		return uint32(binary.BigEndian.Uint16(id))
	default:
		n, err := strconv.ParseUint(string(id), 10, 32)
		if err != nil {
			return 0
		}
		return uint32(n)
	}
}

// NewProbeFrame builds the Ethernet/LLDP frame of a probe, as the probing
// controller emits it.
func NewProbeFrame(src net.HardwareAddr, chassis string, p Probe, prefix string) ([]byte, error) {
	var tlvs []byte
	appendTLV := func(t layers.LLDPTLVType, value []byte) {
		hdr := uint16(t)<<9 | uint16(len(value))
		tlvs = append(tlvs, byte(hdr>>8), byte(hdr))
		tlvs = append(tlvs, value...)
	}
	appendTLV(layers.LLDPTLVChassisID, append([]byte{chassisSubtypeLocal}, chassis...))
	port := make([]byte, 5)
	port[0] = portSubtypeComponent
	binary.BigEndian.PutUint32(port[1:], p.Port)
	appendTLV(layers.LLDPTLVPortID, port)
	appendTLV(layers.LLDPTLVTTL, []byte{0x00, 0x78})
	ms := 0.0
	if p.Pong {
		ms = p.RemoteDp2Ctrl * 1000
	}
	name := fmt.Sprintf("%s;%s;%s", prefix, p.ID, strconv.FormatFloat(ms, 'g', -1, 64))
	appendTLV(layers.LLDPTLVSysName, []byte(name))
	appendTLV(layers.LLDPTLVEnd, nil)

	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       lldpMulticast,
		EthernetType: layers.EthernetTypeLinkLayerDiscovery,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(tlvs)); err != nil {
		return nil, fmt.Errorf("failed to serialize probe frame: %w", err)
	}
	return buf.Bytes(), nil
}
