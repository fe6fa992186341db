package protocol

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

func TestParserDecodeTCP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 254),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 6653, Seq: 100, ACK: true, PSH: true, Window: 1024}
	tcp.SetNetworkLayerForChecksum(ip)
	data := serialize(t, eth, ip, tcp, gopacket.Payload([]byte{1, 0, 0, 8, 0, 0, 0, 1}))

	p, err := NewParser(layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	ts := time.Unix(1700000000, 0)
	seg, err := p.Decode(data, gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !seg.FiveTuple.SrcIP.Equal(net.IPv4(10, 0, 0, 1)) || seg.FiveTuple.DstPort != 6653 {
		t.Errorf("Unexpected five tuple %+v", seg.FiveTuple)
	}
	if seg.FiveTuple.Protocol != uint8(layers.IPProtocolTCP) {
		t.Errorf("Expected protocol TCP, got %d", seg.FiveTuple.Protocol)
	}
	if len(seg.TCP.Payload) != 8 || seg.TCP.Seq != 100 {
		t.Errorf("Expected 8 payload bytes at seq 100, got %d at %d", len(seg.TCP.Payload), seg.TCP.Seq)
	}
	if !seg.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, seg.Timestamp)
	}
}

func TestParserRejectsNonTCP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	data := serialize(t, eth, ip, udp, gopacket.Payload([]byte("x")))

	p, _ := NewParser(layers.LinkTypeEthernet)
	if _, err := p.Decode(data, gopacket.CaptureInfo{}); !errors.Is(err, ErrNotTCP) {
		t.Errorf("Expected ErrNotTCP, got %v", err)
	}
}

func TestNewParserUnsupportedLinkType(t *testing.T) {
	if _, err := NewParser(layers.LinkTypeIEEE802_11); err == nil {
		t.Errorf("Expected an error for 802.11 link type")
	}
}
