package persistent

import (
	"OFSniff/internal/config"
	"OFSniff/internal/model"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var testTuple = model.FiveTuple{
	SrcIP:    net.IPv4(10, 0, 0, 1),
	DstIP:    net.IPv4(10, 0, 0, 254),
	SrcPort:  40000,
	DstPort:  6653,
	Protocol: 6,
}

func ci(data []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
}

func TestWorkerPcap(t *testing.T) {
	cfg := config.PersistenceConfig{Enabled: true, Path: t.TempDir(), Encoding: "pcap", ChannelBufferSize: 8}
	w, err := NewWorker(cfg, layers.LinkTypeEthernet, 1500)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	w.Enqueue(ci(frame), frame, testTuple)
	frame[0] = 0xff // the worker keeps its own copy
	w.Enqueue(ci(frame), frame, testTuple)
	w.Stop()
	w.Stop()

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatalf("Failed to open recording: %v", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("Expected Ethernet link type, got %v", r.LinkType())
	}
	var got [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacketData failed: %v", err)
		}
		got = append(got, data)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 recorded frames, got %d", len(got))
	}
	if got[0][0] != 1 || got[1][0] != 0xff {
		t.Errorf("Expected first bytes 1 and 0xff, got %d and %d", got[0][0], got[1][0])
	}
}

func TestWorkerText(t *testing.T) {
	cfg := config.PersistenceConfig{Enabled: true, Path: t.TempDir(), Encoding: "text"}
	w, err := NewWorker(cfg, layers.LinkTypeEthernet, 0)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	w.Enqueue(ci(make([]byte, 60)), make([]byte, 60), testTuple)
	w.Stop()

	content, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("Failed to read recording: %v", err)
	}
	if !strings.Contains(string(content), "10.0.0.1:40000 -> 10.0.0.254:6653, Len: 60") {
		t.Errorf("Unexpected text record %q", content)
	}
}

func TestWorkerUnknownEncoding(t *testing.T) {
	cfg := config.PersistenceConfig{Path: t.TempDir(), Encoding: "gob"}
	if _, err := NewWorker(cfg, layers.LinkTypeEthernet, 0); err == nil {
		t.Errorf("Expected an error for an unknown encoding")
	}
}
