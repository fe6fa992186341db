package estimator

import (
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/model"
	"OFSniff/internal/openflow"
	"OFSniff/internal/pkg/logging"
	"time"
)

var log = logging.For("estimator")

// Direction of a message on the control channel.
type Direction uint8

const (
	ToController Direction = iota
	ToSwitch
)

func (d Direction) String() string {
	if d == ToSwitch {
		return "ctrl->switch"
	}
	return "switch->ctrl"
}

// Store is where samples accumulate. *registry.Registry implements it.
type Store interface {
	Record(ep endpoint.Endpoint, metric statistic.Metric, port uint32, sample float64) statistic.Summary
	Summary(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (statistic.Summary, error)
}

// Options bounds the correlation state kept per endpoint.
type Options struct {
	PendingTimeout        time.Duration
	MaxPending            int
	MaxOutstandingPerPort int
	PacketInWindow        time.Duration
	ProbePrefix           string
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		PendingTimeout:        5 * time.Second,
		MaxPending:            64,
		MaxOutstandingPerPort: 20,
		PacketInWindow:        time.Second,
		ProbePrefix:           openflow.DefaultProbePrefix,
	}
}

// state is the correlation state of one endpoint.
type state struct {
	echo    *pendingTable[uint32]
	buffers *pendingTable[uint32]
	probes  *probeTable
	// unbuffered non-probe Packet-Ins awaiting the next Packet-Out, oldest first
	unkeyed []time.Time

	anchor  time.Time
	dp2Done bool
}

// Set runs every latency estimator. It is driven by the capture goroutine
// only and is not safe for concurrent use.
type Set struct {
	opts   Options
	store  Store
	sink   model.SampleSink
	states map[endpoint.Endpoint]*state
}

// New creates the estimators. sink may be nil.
func New(opts Options, store Store, sink model.SampleSink) *Set {
	def := DefaultOptions()
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = def.PendingTimeout
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = def.MaxPending
	}
	if opts.MaxOutstandingPerPort <= 0 {
		opts.MaxOutstandingPerPort = def.MaxOutstandingPerPort
	}
	if opts.PacketInWindow <= 0 {
		opts.PacketInWindow = def.PacketInWindow
	}
	if opts.ProbePrefix == "" {
		opts.ProbePrefix = def.ProbePrefix
	}
	return &Set{
		opts:   opts,
		store:  store,
		sink:   sink,
		states: make(map[endpoint.Endpoint]*state),
	}
}

func (s *Set) state(ep endpoint.Endpoint) *state {
	st, ok := s.states[ep]
	if !ok {
		st = &state{
			echo:    newPendingTable[uint32](s.opts.MaxPending),
			buffers: newPendingTable[uint32](s.opts.MaxPending),
			probes:  newProbeTable(s.opts.MaxPending, s.opts.MaxOutstandingPerPort),
		}
		s.states[ep] = st
	}
	return st
}

// HandshakeComplete anchors the datapath-to-controller RTT of ep.
func (s *Set) HandshakeComplete(ep endpoint.Endpoint, at time.Time) {
	st := s.state(ep)
	if !st.dp2Done {
		st.anchor = at
	}
}

// Forget drops all correlation state of ep.
func (s *Set) Forget(ep endpoint.Endpoint) {
	delete(s.states, ep)
}

// Tracked returns the number of endpoints with correlation state.
func (s *Set) Tracked() int {
	return len(s.states)
}

// Handle feeds one decoded message observed at capture time at.
func (s *Set) Handle(ep endpoint.Endpoint, dir Direction, at time.Time, msg openflow.Message) {
	st := s.state(ep)
	switch msg.Type {
	case openflow.TypeEchoRequest:
		if dir == ToSwitch {
			st.echo.Put(msg.XID, pending{at: at})
		}
	case openflow.TypeEchoReply:
		if dir == ToController {
			if req, ok := st.echo.Take(msg.XID); ok {
				s.sample(ep, statistic.EchoRTT, 0, at.Sub(req.at))
			}
		}
	case openflow.TypeHello:
		if dir == ToController && st.anchor.IsZero() {
			st.anchor = at
		}
	case openflow.TypeFeaturesReply:
		if dir == ToController && !st.dp2Done && !st.anchor.IsZero() {
			st.dp2Done = true
			s.sample(ep, statistic.Dp2CtrlRTT, 0, at.Sub(st.anchor))
		}
	case openflow.TypePacketIn:
		if dir == ToController {
			s.packetIn(ep, st, at, msg)
		}
	case openflow.TypePacketOut:
		if dir == ToSwitch {
			s.packetOut(ep, st, at, msg)
		}
	}
}

func (s *Set) packetIn(ep endpoint.Endpoint, st *state, at time.Time, msg openflow.Message) {
	pi, err := openflow.DecodePacketIn(msg)
	if err != nil {
		log.WithField("endpoint", ep).Debugf("Skipping PacketIn: %v", err)
		return
	}
	if probe, ok := openflow.ParseProbe(pi.Data, s.opts.ProbePrefix); ok {
		switch {
		case probe.Pong:
			// Our ping crossed the link, the peer controller answered.
			ping, ok := st.probes.Take(probeKey{probe.ID, pingOut})
			if !ok {
				return
			}
			echoMed := 0.0
			if sum, err := s.store.Summary(ep, statistic.EchoRTT, 0); err == nil {
				echoMed = sum.Median
			}
			est := at.Sub(ping.at).Seconds() - echoMed - probe.RemoteDp2Ctrl
			if est < 0 {
				est = 0
			}
			s.record(ep, statistic.LinkLat, ping.port, est)
		case openflow.IsPortMax(probe.Port):
			// Looped back through the local pipeline only.
			if ping, ok := st.probes.Take(probeKey{probe.ID, pingOut}); ok {
				s.sample(ep, statistic.EchoRTT, 0, at.Sub(ping.at))
			}
		default:
			st.probes.Put(probeKey{probe.ID, pingIn}, probe.Port, at)
		}
		return
	}

	if pi.BufferID != openflow.NoBuffer {
		st.buffers.Put(pi.BufferID, pending{at: at, port: pi.InPort})
		return
	}
	if len(st.unkeyed) >= s.opts.MaxPending {
		st.unkeyed = st.unkeyed[1:]
	}
	st.unkeyed = append(st.unkeyed, at)
}

func (s *Set) packetOut(ep endpoint.Endpoint, st *state, at time.Time, msg openflow.Message) {
	po, err := openflow.DecodePacketOut(msg)
	if err != nil {
		log.WithField("endpoint", ep).Debugf("Skipping PacketOut: %v", err)
		return
	}
	if po.BufferID != openflow.NoBuffer {
		if req, ok := st.buffers.Take(po.BufferID); ok {
			s.sample(ep, statistic.PktInRTT, 0, at.Sub(req.at))
		}
		return
	}
	if probe, ok := openflow.ParseProbe(po.Data, s.opts.ProbePrefix); ok {
		if !probe.Pong {
			st.probes.Put(probeKey{probe.ID, pingOut}, probe.Port, at)
			return
		}
		if ping, ok := st.probes.Take(probeKey{probe.ID, pingIn}); ok {
			s.sample(ep, statistic.PktInRTT, 0, at.Sub(ping.at))
		}
		return
	}

	// Nearest-following heuristic: the oldest Packet-In still inside the window.
	cutoff := at.Add(-s.opts.PacketInWindow)
	for len(st.unkeyed) > 0 {
		first := st.unkeyed[0]
		st.unkeyed = st.unkeyed[1:]
		if !first.Before(cutoff) && !first.After(at) {
			s.sample(ep, statistic.PktInRTT, 0, at.Sub(first))
			return
		}
	}
}

// Expire drops pending entries older than the pending timeout, relative to now.
func (s *Set) Expire(now time.Time) int {
	cutoff := now.Add(-s.opts.PendingTimeout)
	windowCutoff := now.Add(-s.opts.PacketInWindow)
	n := 0
	for _, st := range s.states {
		n += st.echo.Expire(cutoff)
		n += st.buffers.Expire(cutoff)
		n += st.probes.Expire(cutoff)
		for len(st.unkeyed) > 0 && st.unkeyed[0].Before(windowCutoff) {
			st.unkeyed = st.unkeyed[1:]
			n++
		}
	}
	return n
}

// sample records a duration; negative durations (reordered capture
// timestamps) are discarded.
func (s *Set) sample(ep endpoint.Endpoint, metric statistic.Metric, port uint32, d time.Duration) {
	if d < 0 {
		return
	}
	s.record(ep, metric, port, d.Seconds())
}

func (s *Set) record(ep endpoint.Endpoint, metric statistic.Metric, port uint32, value float64) {
	sum := s.store.Record(ep, metric, port, value)
	if s.sink != nil {
		s.sink.Record(model.Sample{
			Time:     time.Now(),
			Endpoint: ep,
			Metric:   metric,
			Port:     port,
			Value:    value,
			Summary:  sum,
		})
	}
}
