package openflow

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

func TestParseFramesCompleteMessages(t *testing.T) {
	var stream []byte
	stream = append(stream, Marshal(Version13, TypeHello, 1, nil)...)
	stream = append(stream, Marshal(Version13, TypeEchoRequest, 7, []byte("ping"))...)
	partial := Marshal(Version13, TypeEchoReply, 7, []byte("ping"))
	stream = append(stream, partial[:5]...)

	msgs, consumed, err := Parse(stream)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if consumed != 8+12 {
		t.Errorf("Expected 20 bytes consumed, got %d", consumed)
	}
	if msgs[1].Type != TypeEchoRequest || msgs[1].XID != 7 || string(msgs[1].Body) != "ping" {
		t.Errorf("Unexpected second message: %+v", msgs[1])
	}
	for _, m := range msgs {
		if int(m.Length) != HeaderLen+len(m.Body) {
			t.Errorf("Declared length %d does not match framed bytes %d", m.Length, HeaderLen+len(m.Body))
		}
	}
}

func TestParseIsIdempotentOnPartialBuffer(t *testing.T) {
	full := Marshal(Version10, TypePacketIn, 3, make([]byte, 100))
	for cut := 0; cut < len(full); cut++ {
		buf := full[:cut]
		for i := 0; i < 2; i++ {
			msgs, consumed, err := Parse(buf)
			if err != nil || len(msgs) != 0 || consumed != 0 {
				t.Fatalf("cut %d: expected no message and nothing consumed, got %d msgs, %d bytes, err %v", cut, len(msgs), consumed, err)
			}
		}
	}
	msgs, consumed, err := Parse(full)
	if err != nil || len(msgs) != 1 || consumed != len(full) {
		t.Fatalf("Expected the full message once complete, got %d msgs, %d bytes, err %v", len(msgs), consumed, err)
	}
}

func TestParseRejectsShortDeclaredLength(t *testing.T) {
	good := Marshal(Version13, TypeHello, 1, nil)
	bad := []byte{Version13, byte(TypeHello), 0x00, 0x04, 0, 0, 0, 2}
	msgs, consumed, err := Parse(append(good, bad...))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("Expected ErrMalformedMessage, got %v", err)
	}
	if len(msgs) != 1 || consumed != len(good) {
		t.Errorf("Expected the message before the bad header, got %d msgs, %d bytes", len(msgs), consumed)
	}
}

func TestParseRejectsUnknownVersion(t *testing.T) {
	bad := Marshal(0x2a, TypeHello, 1, nil)
	if _, _, err := Parse(bad); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("Expected ErrMalformedMessage, got %v", err)
	}
}

func TestScannerAcrossSegments(t *testing.T) {
	req := Marshal(Version13, TypeEchoRequest, 42, []byte("abc"))
	rep := Marshal(Version13, TypeEchoReply, 42, []byte("abc"))
	stream := append(append([]byte{}, req...), rep...)

	var s Scanner
	var got []Message
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		s.Feed(stream[i:end])
		for {
			m, ok, err := s.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if !ok {
				break
			}
			m.Body = bytes.Clone(m.Body)
			got = append(got, m)
		}
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if got[0].Type != TypeEchoRequest || got[1].Type != TypeEchoReply || got[1].XID != 42 {
		t.Errorf("Unexpected messages: %+v", got)
	}
	if s.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", s.Buffered())
	}
}

func TestScannerMalformedThenReset(t *testing.T) {
	var s Scanner
	s.Feed([]byte{Version13, 0, 0, 1, 0, 0, 0, 0})
	if _, _, err := s.Next(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("Expected ErrMalformedMessage, got %v", err)
	}
	s.Reset()
	s.Feed(Marshal(Version13, TypeHello, 9, nil))
	m, ok, err := s.Next()
	if err != nil || !ok || m.XID != 9 {
		t.Errorf("Expected Hello after reset, got %+v ok=%v err=%v", m, ok, err)
	}
}

func TestPacketInOutDecode(t *testing.T) {
	data := []byte("frame-bytes")
	for _, version := range []uint8{Version10, Version13} {
		raw := NewPacketIn(version, 5, 0x1234, 3, data)
		msgs, _, err := Parse(raw)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("v%d: Parse failed: %v", version, err)
		}
		pi, err := DecodePacketIn(msgs[0])
		if err != nil {
			t.Fatalf("v%d: DecodePacketIn failed: %v", version, err)
		}
		if pi.BufferID != 0x1234 || pi.InPort != 3 || !bytes.Equal(pi.Data, data) {
			t.Errorf("v%d: unexpected PacketIn %+v", version, pi)
		}

		raw = NewPacketOut(version, 6, NoBuffer, 3, data)
		msgs, _, _ = Parse(raw)
		po, err := DecodePacketOut(msgs[0])
		if err != nil {
			t.Fatalf("v%d: DecodePacketOut failed: %v", version, err)
		}
		if po.BufferID != NoBuffer || po.InPort != 3 || !bytes.Equal(po.Data, data) {
			t.Errorf("v%d: unexpected PacketOut %+v", version, po)
		}
	}
}

func TestProbeRoundTrip(t *testing.T) {
	src := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	id := "0123456789abcdef0123456789abcdef"

	ping, err := NewProbeFrame(src, "dpid:0000000000000001", Probe{ID: id, Port: 4}, DefaultProbePrefix)
	if err != nil {
		t.Fatalf("NewProbeFrame failed: %v", err)
	}
	p, ok := ParseProbe(ping, DefaultProbePrefix)
	if !ok {
		t.Fatalf("Expected a probe")
	}
	if p.ID != id || p.Port != 4 || p.Pong {
		t.Errorf("Unexpected ping %+v", p)
	}

	pong, _ := NewProbeFrame(src, "dpid:0000000000000002", Probe{ID: id, Port: 9, Pong: true, RemoteDp2Ctrl: 0.002}, DefaultProbePrefix)
	p, ok = ParseProbe(pong, DefaultProbePrefix)
	if !ok || !p.Pong || p.Port != 9 {
		t.Fatalf("Unexpected pong %+v ok=%v", p, ok)
	}
	if diff := p.RemoteDp2Ctrl - 0.002; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected remote dp2ctrl 0.002, got %v", p.RemoteDp2Ctrl)
	}

	if _, ok := ParseProbe(ping, "OTHER"); ok {
		t.Errorf("Expected prefix mismatch to be ignored")
	}
	if _, ok := ParseProbe([]byte("not a frame"), DefaultProbePrefix); ok {
		t.Errorf("Expected garbage to be ignored")
	}
}
