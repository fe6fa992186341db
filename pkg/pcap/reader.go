package pcap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

// Source is an open capture: a live interface or a file.
type Source struct {
	reader   packetReader
	linkType layers.LinkType
	closer   func()
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// LiveOptions configures a live capture.
type LiveOptions struct {
	SnapshotLen int32
	Promiscuous bool
	ReadTimeout time.Duration
}

// ErrInterfaceNotFound is returned when the interface is not known to libpcap.
var ErrInterfaceNotFound = errors.New("interface not found")

// Filter returns the BPF expression selecting TCP on any of the given ports.
func Filter(ports []uint16) string {
	if len(ports) == 0 {
		return "tcp"
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprintf("port %d", p)
	}
	return "tcp and (" + strings.Join(parts, " or ") + ")"
}

// CheckInterface verifies iface exists. "any" always does.
func CheckInterface(iface string) error {
	if iface == "any" {
		return nil
	}
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, dev := range devs {
		if dev.Name == iface {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInterfaceNotFound, iface)
}

// OpenLive opens iface for capture of the control ports.
func OpenLive(iface string, ports []uint16, opts LiveOptions) (*Source, error) {
	if opts.SnapshotLen <= 0 {
		opts.SnapshotLen = 1500
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 250 * time.Millisecond
	}
	handle, err := pcap.OpenLive(iface, opts.SnapshotLen, opts.Promiscuous, opts.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}
	if err := handle.SetBPFFilter(Filter(ports)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter: %w", err)
	}
	return &Source{reader: handle, linkType: handle.LinkType(), closer: handle.Close}, nil
}

// OpenFile opens a pcap or pcapng capture file.
func OpenFile(path string) (*Source, error) {
	ng, err := isPcapNG(path)
	if err != nil {
		return nil, err
	}
	if ng {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		reader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read pcapng header: %w", err)
		}
		return &Source{reader: reader, linkType: reader.LinkType(), closer: func() { file.Close() }}, nil
	}

	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	return &Source{reader: handle, linkType: handle.LinkType(), closer: handle.Close}, nil
}

// isPcapNG checks for the Section Header Block magic.
func isPcapNG(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(file, header); err != nil {
		return false, nil
	}
	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	return magic == 0x0A0D0D0A, nil
}

// ReadPacketData returns the next frame. Live captures report read timeouts
// as pcap.NextErrorTimeoutExpired; files end with io.EOF.
func (s *Source) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return s.reader.ReadPacketData()
}

// LinkType reports the capture's link layer.
func (s *Source) LinkType() layers.LinkType {
	return s.linkType
}

// Close releases the capture.
func (s *Source) Close() {
	if s.closer != nil {
		s.closer()
		s.closer = nil
	}
}

// IsTimeout reports whether err is a poll timeout rather than a failure.
func IsTimeout(err error) bool {
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
