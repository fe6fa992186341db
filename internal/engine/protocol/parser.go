package protocol

import (
	"OFSniff/internal/model"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotTCP is returned for frames that carry no IPv4/TCP segment.
var ErrNotTCP = errors.New("not an IPv4 TCP packet")

// Segment is one decoded IPv4/TCP packet. TCP and its payload alias the
// parser's buffers and are valid until the next Decode call.
type Segment struct {
	Timestamp time.Time
	FiveTuple model.FiveTuple
	Length    int
	NetFlow   gopacket.Flow
	TCP       *layers.TCP
}

// Parser decodes captured frames into TCP segments without allocating per
// packet. It is not safe for concurrent use.
type Parser struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	sll     layers.LinuxSLL
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	tcp     layers.TCP
	payload gopacket.Payload
	decoded []gopacket.LayerType
}

// NewParser creates a parser for frames of the given link type.
func NewParser(linkType layers.LinkType) (*Parser, error) {
	var first gopacket.LayerType
	switch linkType {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	default:
		return nil, fmt.Errorf("unsupported link type %s", linkType)
	}
	p := &Parser{decoded: make([]gopacket.LayerType, 0, 5)}
	p.parser = gopacket.NewDecodingLayerParser(first, &p.eth, &p.sll, &p.dot1q, &p.ip4, &p.tcp, &p.payload)
	return p, nil
}

// Decode extracts the IPv4/TCP segment from data.
func (p *Parser) Decode(data []byte, ci gopacket.CaptureInfo) (*Segment, error) {
	// Unsupported trailing layers are reported as errors; only the presence of
	// TCP matters here.
	_ = p.parser.DecodeLayers(data, &p.decoded)

	var haveIP, haveTCP bool
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIP = true
		case layers.LayerTypeTCP:
			haveTCP = true
		}
	}
	if !haveIP || !haveTCP {
		return nil, ErrNotTCP
	}

	ts := ci.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Segment{
		Timestamp: ts,
		Length:    len(data),
		NetFlow:   p.ip4.NetworkFlow(),
		TCP:       &p.tcp,
		FiveTuple: model.FiveTuple{
			SrcIP:    p.ip4.SrcIP,
			DstIP:    p.ip4.DstIP,
			SrcPort:  uint16(p.tcp.SrcPort),
			DstPort:  uint16(p.tcp.DstPort),
			Protocol: uint8(p.ip4.Protocol),
		},
	}, nil
}
