// Package ofgen builds synthetic OpenFlow control traffic as captured frames.
package ofgen

import (
	"OFSniff/internal/openflow"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	switchMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	ctrlMAC   = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Frame is one captured Ethernet frame.
type Frame struct {
	CaptureInfo gopacket.CaptureInfo
	Data        []byte
}

// Conn generates the frames of one switch-to-controller TCP connection.
type Conn struct {
	SwitchIP   net.IP
	CtrlIP     net.IP
	SwitchPort uint16
	CtrlPort   uint16
	Version    uint8

	swSeq   uint32
	ctrlSeq uint32
	xid     uint32
	frames  []Frame
}

// NewConn creates a connection. version is the OpenFlow wire version.
func NewConn(switchIP, ctrlIP net.IP, switchPort, ctrlPort uint16, version uint8) *Conn {
	return &Conn{
		SwitchIP:   switchIP.To4(),
		CtrlIP:     ctrlIP.To4(),
		SwitchPort: switchPort,
		CtrlPort:   ctrlPort,
		Version:    version,
		swSeq:      1000,
		ctrlSeq:    50000,
		xid:        1,
	}
}

func (c *Conn) nextXID() uint32 {
	c.xid++
	return c.xid
}

// segment serializes one TCP segment and advances the sender's sequence.
func (c *Conn) segment(fromSwitch bool, tcp *layers.TCP, payload []byte, at time.Time) error {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4}
	tcp.Window = 14600
	if fromSwitch {
		ip.SrcIP, ip.DstIP = c.SwitchIP, c.CtrlIP
		eth.SrcMAC, eth.DstMAC = switchMAC, ctrlMAC
		tcp.SrcPort, tcp.DstPort = layers.TCPPort(c.SwitchPort), layers.TCPPort(c.CtrlPort)
		tcp.Seq, tcp.Ack = c.swSeq, c.ctrlSeq
	} else {
		ip.SrcIP, ip.DstIP = c.CtrlIP, c.SwitchIP
		eth.SrcMAC, eth.DstMAC = ctrlMAC, switchMAC
		tcp.SrcPort, tcp.DstPort = layers.TCPPort(c.CtrlPort), layers.TCPPort(c.SwitchPort)
		tcp.Seq, tcp.Ack = c.ctrlSeq, c.swSeq
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("failed to serialize layers: %w", err)
	}

	advance := uint32(len(payload))
	if tcp.SYN || tcp.FIN {
		advance++
	}
	if fromSwitch {
		c.swSeq += advance
	} else {
		c.ctrlSeq += advance
	}

	data := buf.Bytes()
	c.frames = append(c.frames, Frame{
		CaptureInfo: gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(data), Length: len(data)},
		Data:        data,
	})
	return nil
}

// Handshake emits SYN, SYN-ACK and ACK, 1ms apart.
func (c *Conn) Handshake(at time.Time) error {
	if err := c.segment(true, &layers.TCP{SYN: true}, nil, at); err != nil {
		return err
	}
	if err := c.segment(false, &layers.TCP{SYN: true, ACK: true}, nil, at.Add(time.Millisecond)); err != nil {
		return err
	}
	return c.segment(true, &layers.TCP{ACK: true}, nil, at.Add(2*time.Millisecond))
}

// FromSwitch emits data sent by the switch.
func (c *Conn) FromSwitch(at time.Time, payload []byte) error {
	return c.segment(true, &layers.TCP{ACK: true, PSH: true}, payload, at)
}

// FromController emits data sent by the controller.
func (c *Conn) FromController(at time.Time, payload []byte) error {
	return c.segment(false, &layers.TCP{ACK: true, PSH: true}, payload, at)
}

// Setup exchanges Hello and Features, the reply arriving after delay.
func (c *Conn) Setup(at time.Time, delay time.Duration) error {
	if err := c.FromSwitch(at, openflow.Marshal(c.Version, openflow.TypeHello, c.nextXID(), nil)); err != nil {
		return err
	}
	xid := c.nextXID()
	if err := c.FromController(at, openflow.Marshal(c.Version, openflow.TypeFeaturesRequest, xid, nil)); err != nil {
		return err
	}
	return c.FromSwitch(at.Add(delay), openflow.Marshal(c.Version, openflow.TypeFeaturesReply, xid, make([]byte, 24)))
}

// Echo emits a controller Echo Request answered after rtt.
func (c *Conn) Echo(at time.Time, rtt time.Duration) error {
	xid := c.nextXID()
	if err := c.FromController(at, openflow.Marshal(c.Version, openflow.TypeEchoRequest, xid, nil)); err != nil {
		return err
	}
	return c.FromSwitch(at.Add(rtt), openflow.Marshal(c.Version, openflow.TypeEchoReply, xid, nil))
}

// PacketIn emits a buffered Packet-In answered by a Packet-Out after rtt.
func (c *Conn) PacketIn(at time.Time, rtt time.Duration, bufferID, inPort uint32, frame []byte) error {
	if err := c.FromSwitch(at, openflow.NewPacketIn(c.Version, c.nextXID(), bufferID, inPort, frame)); err != nil {
		return err
	}
	return c.FromController(at.Add(rtt), openflow.NewPacketOut(c.Version, c.nextXID(), bufferID, inPort, frame))
}

// Close emits a FIN from the switch.
func (c *Conn) Close(at time.Time) error {
	return c.segment(true, &layers.TCP{FIN: true, ACK: true}, nil, at)
}

// Frames returns the frames emitted so far.
func (c *Conn) Frames() []Frame {
	return c.frames
}

// Merge interleaves the frames of several connections by timestamp.
func Merge(conns ...*Conn) []Frame {
	var out []Frame
	for _, c := range conns {
		out = append(out, c.frames...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CaptureInfo.Timestamp.Before(out[j].CaptureInfo.Timestamp)
	})
	return out
}

// WritePcap writes frames as a classic Ethernet pcap stream.
func WritePcap(w io.Writer, frames []Frame) error {
	pcapWriter := pcapgo.NewWriter(w)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	for _, f := range frames {
		if err := pcapWriter.WritePacket(f.CaptureInfo, f.Data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return nil
}
