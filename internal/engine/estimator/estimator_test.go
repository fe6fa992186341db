package estimator

import (
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/model"
	"OFSniff/internal/openflow"
	"errors"
	"math"
	"net"
	"testing"
	"time"
)

const probeID = "0123456789abcdef0123456789abcdef"

var (
	testEP = endpoint.Encode([4]byte{10, 0, 0, 1}, 6633)
	t0     = time.Unix(1700000000, 0)
)

type recordingSink struct {
	samples []model.Sample
}

func (s *recordingSink) Record(sample model.Sample) {
	s.samples = append(s.samples, sample)
}

func msg(t *testing.T, raw []byte) openflow.Message {
	t.Helper()
	msgs, _, err := openflow.Parse(raw)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Expected one message, got %d (%v)", len(msgs), err)
	}
	return msgs[0]
}

func probeFrame(t *testing.T, p openflow.Probe) []byte {
	t.Helper()
	frame, err := openflow.NewProbeFrame(net.HardwareAddr{0x02, 0, 0, 0, 0, 9}, "dpid:1", p, openflow.DefaultProbePrefix)
	if err != nil {
		t.Fatalf("NewProbeFrame failed: %v", err)
	}
	return frame
}

func newSet(opts Options) (*Set, *registry.Registry, *recordingSink) {
	reg := registry.New(4)
	sink := &recordingSink{}
	return New(opts, reg, sink), reg, sink
}

func summary(t *testing.T, reg *registry.Registry, m statistic.Metric, port uint32) statistic.Summary {
	t.Helper()
	sum, err := reg.Summary(testEP, m, port)
	if err != nil {
		t.Fatalf("Summary(%v) failed: %v", m, err)
	}
	return sum
}

func TestPendingTableEvictsOldest(t *testing.T) {
	tbl := newPendingTable[uint32](2)
	tbl.Put(1, pending{at: t0})
	tbl.Put(2, pending{at: t0.Add(time.Millisecond)})
	if evicted := tbl.Put(3, pending{at: t0.Add(2 * time.Millisecond)}); !evicted {
		t.Errorf("Expected an eviction at capacity")
	}
	if _, ok := tbl.Take(1); ok {
		t.Errorf("Expected the oldest entry to be evicted")
	}
	if tbl.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", tbl.Len())
	}
	if n := tbl.Expire(t0.Add(2 * time.Millisecond)); n != 1 {
		t.Errorf("Expected 1 expired entry, got %d", n)
	}
	if key, _, ok := tbl.Oldest(); !ok || key != 3 {
		t.Errorf("Expected oldest key 3, got %d (%v)", key, ok)
	}
}

func TestProbeTablePerPortLimit(t *testing.T) {
	tbl := newProbeTable(10, 2)
	for i, id := range []string{"a", "b", "c"} {
		tbl.Put(probeKey{id, pingOut}, 7, t0.Add(time.Duration(i)*time.Millisecond))
	}
	tbl.Put(probeKey{"d", pingOut}, 8, t0)
	if tbl.Len() != 3 {
		t.Fatalf("Expected 3 outstanding probes, got %d", tbl.Len())
	}
	if _, ok := tbl.Take(probeKey{"a", pingOut}); ok {
		t.Errorf("Expected the oldest probe on port 7 to be evicted")
	}
	if p, ok := tbl.Take(probeKey{"c", pingOut}); !ok || p.port != 7 {
		t.Errorf("Expected probe c on port 7, got %+v (%v)", p, ok)
	}
	if len(tbl.byPort[7]) != 1 {
		t.Errorf("Expected 1 probe left on port 7, got %d", len(tbl.byPort[7]))
	}
}

func TestEchoRTT(t *testing.T) {
	set, reg, sink := newSet(DefaultOptions())

	set.Handle(testEP, ToSwitch, t0, msg(t, openflow.Marshal(openflow.Version13, openflow.TypeEchoRequest, 7, nil)))
	set.Handle(testEP, ToController, t0.Add(50*time.Millisecond), msg(t, openflow.Marshal(openflow.Version13, openflow.TypeEchoReply, 7, nil)))
	// No matching request: ignored.
	set.Handle(testEP, ToController, t0.Add(60*time.Millisecond), msg(t, openflow.Marshal(openflow.Version13, openflow.TypeEchoReply, 8, nil)))

	sum := summary(t, reg, statistic.EchoRTT, 0)
	if sum.Count != 1 || math.Abs(sum.Mean-0.050) > 1e-9 {
		t.Errorf("Expected one 50ms sample, got %+v", sum)
	}
	if len(sink.samples) != 1 || sink.samples[0].Metric != statistic.EchoRTT {
		t.Errorf("Expected one EchoRTT sample in the sink, got %+v", sink.samples)
	}
}

func TestEchoRTTDiscardsNegative(t *testing.T) {
	set, reg, _ := newSet(DefaultOptions())
	set.Handle(testEP, ToSwitch, t0, msg(t, openflow.Marshal(openflow.Version10, openflow.TypeEchoRequest, 1, nil)))
	set.Handle(testEP, ToController, t0.Add(-time.Millisecond), msg(t, openflow.Marshal(openflow.Version10, openflow.TypeEchoReply, 1, nil)))
	if _, err := reg.Summary(testEP, statistic.EchoRTT, 0); !errors.Is(err, statistic.ErrNoSample) {
		t.Errorf("Expected ErrNoSample, got %v", err)
	}
}

func TestPacketInRTT(t *testing.T) {
	tests := []struct {
		name    string
		version uint8
		inBuf   uint32
		outBuf  uint32
		delay   time.Duration
		samples uint64
	}{
		{"Buffered v1.0", openflow.Version10, 42, 42, 20 * time.Millisecond, 1},
		{"Buffered v1.3", openflow.Version13, 42, 42, 20 * time.Millisecond, 1},
		{"Buffer mismatch", openflow.Version13, 42, 43, 20 * time.Millisecond, 0},
		{"Unbuffered in window", openflow.Version13, openflow.NoBuffer, openflow.NoBuffer, 20 * time.Millisecond, 1},
		{"Unbuffered outside window", openflow.Version10, openflow.NoBuffer, openflow.NoBuffer, 2 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, reg, _ := newSet(DefaultOptions())
			payload := []byte{0xde, 0xad, 0xbe, 0xef}
			set.Handle(testEP, ToController, t0, msg(t, openflow.NewPacketIn(tt.version, 1, tt.inBuf, 3, payload)))
			set.Handle(testEP, ToSwitch, t0.Add(tt.delay), msg(t, openflow.NewPacketOut(tt.version, 1, tt.outBuf, 3, payload)))

			sum, err := reg.Summary(testEP, statistic.PktInRTT, 0)
			if tt.samples == 0 {
				if !errors.Is(err, statistic.ErrNoSample) {
					t.Errorf("Expected ErrNoSample, got %+v (%v)", sum, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Summary failed: %v", err)
			}
			if sum.Count != tt.samples || math.Abs(sum.Mean-tt.delay.Seconds()) > 1e-9 {
				t.Errorf("Expected %d sample of %v, got %+v", tt.samples, tt.delay, sum)
			}
		})
	}
}

func TestPacketInRTTFromProbe(t *testing.T) {
	set, reg, _ := newSet(DefaultOptions())
	ping := probeFrame(t, openflow.Probe{ID: probeID, Port: 2})
	pong := probeFrame(t, openflow.Probe{ID: probeID, Port: 2, Pong: true, RemoteDp2Ctrl: 0.004})

	set.Handle(testEP, ToController, t0, msg(t, openflow.NewPacketIn(openflow.Version13, 1, openflow.NoBuffer, 2, ping)))
	set.Handle(testEP, ToSwitch, t0.Add(30*time.Millisecond), msg(t, openflow.NewPacketOut(openflow.Version13, 2, openflow.NoBuffer, 0, pong)))

	sum := summary(t, reg, statistic.PktInRTT, 0)
	if sum.Count != 1 || math.Abs(sum.Mean-0.030) > 1e-9 {
		t.Errorf("Expected one 30ms sample, got %+v", sum)
	}
}

func TestLinkLatency(t *testing.T) {
	tests := []struct {
		name    string
		rtt     time.Duration
		remote  float64
		want    float64
		withRTT bool
	}{
		{"Subtracts both RTTs", 100 * time.Millisecond, 0.020, 0.070, true},
		{"Clamped at zero", 100 * time.Millisecond, 0.500, 0, true},
		{"No echo sample yet", 100 * time.Millisecond, 0.020, 0.080, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, reg, _ := newSet(DefaultOptions())
			if tt.withRTT {
				reg.Record(testEP, statistic.EchoRTT, 0, 0.010)
			}
			ping := probeFrame(t, openflow.Probe{ID: probeID, Port: 5})
			pong := probeFrame(t, openflow.Probe{ID: probeID, Port: 9, Pong: true, RemoteDp2Ctrl: tt.remote})

			set.Handle(testEP, ToSwitch, t0, msg(t, openflow.NewPacketOut(openflow.Version10, 1, openflow.NoBuffer, 0, ping)))
			set.Handle(testEP, ToController, t0.Add(tt.rtt), msg(t, openflow.NewPacketIn(openflow.Version10, 2, openflow.NoBuffer, 9, pong)))

			sum := summary(t, reg, statistic.LinkLat, 5)
			if math.Abs(sum.Mean-tt.want) > 1e-3 {
				t.Errorf("Expected link latency %v, got %v", tt.want, sum.Mean)
			}
			if sum.Mean < 0 {
				t.Errorf("Expected a non-negative estimate, got %v", sum.Mean)
			}
		})
	}
}

func TestLoopbackProbeCountsAsEcho(t *testing.T) {
	set, reg, _ := newSet(DefaultOptions())
	ping := probeFrame(t, openflow.Probe{ID: probeID, Port: 0xffffff00})

	set.Handle(testEP, ToSwitch, t0, msg(t, openflow.NewPacketOut(openflow.Version13, 1, openflow.NoBuffer, 0, ping)))
	set.Handle(testEP, ToController, t0.Add(12*time.Millisecond), msg(t, openflow.NewPacketIn(openflow.Version13, 2, openflow.NoBuffer, 0, ping)))

	sum := summary(t, reg, statistic.EchoRTT, 0)
	if sum.Count != 1 || math.Abs(sum.Mean-0.012) > 1e-9 {
		t.Errorf("Expected one 12ms echo sample, got %+v", sum)
	}
}

func TestDp2CtrlRTTOnce(t *testing.T) {
	set, reg, _ := newSet(DefaultOptions())
	set.HandshakeComplete(testEP, t0)
	set.Handle(testEP, ToController, t0.Add(5*time.Millisecond), msg(t, openflow.Marshal(openflow.Version13, openflow.TypeHello, 1, nil)))
	set.Handle(testEP, ToController, t0.Add(40*time.Millisecond), msg(t, openflow.Marshal(openflow.Version13, openflow.TypeFeaturesReply, 2, make([]byte, 24))))
	set.Handle(testEP, ToController, t0.Add(90*time.Millisecond), msg(t, openflow.Marshal(openflow.Version13, openflow.TypeFeaturesReply, 3, make([]byte, 24))))

	sum := summary(t, reg, statistic.Dp2CtrlRTT, 0)
	if sum.Count != 1 || math.Abs(sum.Mean-0.040) > 1e-9 {
		t.Errorf("Expected a single 40ms sample, got %+v", sum)
	}
}

func TestDp2CtrlNeedsAnchor(t *testing.T) {
	set, reg, _ := newSet(DefaultOptions())
	set.Handle(testEP, ToController, t0, msg(t, openflow.Marshal(openflow.Version13, openflow.TypeFeaturesReply, 2, nil)))
	if _, err := reg.Summary(testEP, statistic.Dp2CtrlRTT, 0); !errors.Is(err, statistic.ErrNoSample) {
		t.Errorf("Expected ErrNoSample without an anchor, got %v", err)
	}
}

func TestExpireAndForget(t *testing.T) {
	opts := DefaultOptions()
	opts.PendingTimeout = time.Second
	set, reg, _ := newSet(opts)

	set.Handle(testEP, ToSwitch, t0, msg(t, openflow.Marshal(openflow.Version13, openflow.TypeEchoRequest, 7, nil)))
	if n := set.Expire(t0.Add(2 * time.Second)); n != 1 {
		t.Errorf("Expected 1 expired entry, got %d", n)
	}
	set.Handle(testEP, ToController, t0.Add(2*time.Second), msg(t, openflow.Marshal(openflow.Version13, openflow.TypeEchoReply, 7, nil)))
	if _, err := reg.Summary(testEP, statistic.EchoRTT, 0); !errors.Is(err, statistic.ErrNoSample) {
		t.Errorf("Expected the expired request to be unmatched, got %v", err)
	}

	set.Forget(testEP)
	if set.Tracked() != 0 {
		t.Errorf("Expected no tracked endpoints, got %d", set.Tracked())
	}
}
