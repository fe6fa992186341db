package tracker

import (
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/estimator"
	"OFSniff/internal/engine/protocol"
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/openflow"
	"OFSniff/internal/pkg/logging"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"
)

var log = logging.For("tracker")

// ErrProtocolDesync reports a control stream whose bytes no longer frame as
// OpenFlow messages outside a known reassembly gap.
var ErrProtocolDesync = errors.New("openflow stream out of sync")

// Handler consumes control-channel events. *estimator.Set implements it.
type Handler interface {
	Handle(ep endpoint.Endpoint, dir estimator.Direction, at time.Time, msg openflow.Message)
	HandshakeComplete(ep endpoint.Endpoint, at time.Time)
	Forget(ep endpoint.Endpoint)
	Expire(now time.Time) int
}

// Members is the set of live endpoints. *registry.Registry implements it.
type Members interface {
	Ensure(ep endpoint.Endpoint) *registry.Entry
	Remove(ep endpoint.Endpoint) bool
}

// Options controls session lifetime and reassembly limits.
type Options struct {
	ControlPorts          []uint16
	IdleTimeout           time.Duration
	GapFlushInterval      time.Duration
	MaxPagesPerConnection int
	MaxPagesTotal         int
}

// Stats counts tracker activity since construction.
type Stats struct {
	Segments uint64
	Messages uint64
	Desyncs  uint64
	Resyncs  uint64
	Sessions int
}

type handshake uint8

const (
	synSeen handshake = iota + 1
	synAckSeen
	established
)

// session is one switch connection.
type session struct {
	handshake handshake
	last      time.Time
}

// Default reassembly limits.
const (
	DefaultMaxPagesPerConnection = 16
	DefaultMaxPagesTotal         = 4096
)

// Tracker follows OpenFlow sessions through TCP reassembly and emits framed
// messages. It is driven by the capture goroutine only.
type Tracker struct {
	opts      Options
	ports     map[uint16]struct{}
	members   Members
	handler   Handler
	assembler *tcpassembly.Assembler
	sessions  map[endpoint.Endpoint]*session
	// ended holds endpoints closed by FIN or RST whose reverse stream may
	// still carry bytes. Cleared by a new SYN or after the idle timeout.
	ended map[endpoint.Endpoint]time.Time
	stats Stats

	lastCapture time.Time
	lastWall    time.Time
}

// New creates a tracker that reports to handler and keeps members current.
func New(opts Options, members Members, handler Handler) *Tracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	if opts.GapFlushInterval <= 0 {
		opts.GapFlushInterval = 2 * time.Second
	}
	if opts.MaxPagesPerConnection <= 0 {
		opts.MaxPagesPerConnection = DefaultMaxPagesPerConnection
	}
	if opts.MaxPagesTotal <= 0 {
		opts.MaxPagesTotal = DefaultMaxPagesTotal
	}
	t := &Tracker{
		opts:     opts,
		ports:    make(map[uint16]struct{}, len(opts.ControlPorts)),
		members:  members,
		handler:  handler,
		sessions: make(map[endpoint.Endpoint]*session),
		ended:    make(map[endpoint.Endpoint]time.Time),
	}
	for _, p := range opts.ControlPorts {
		t.ports[p] = struct{}{}
	}
	pool := tcpassembly.NewStreamPool(&streamFactory{tracker: t})
	t.assembler = tcpassembly.NewAssembler(pool)
	t.assembler.MaxBufferedPagesPerConnection = opts.MaxPagesPerConnection
	t.assembler.MaxBufferedPagesTotal = opts.MaxPagesTotal
	return t
}

// classify returns the switch-side endpoint and direction of a segment.
func (t *Tracker) classify(srcIP, dstIP []byte, srcPort, dstPort uint16) (endpoint.Endpoint, estimator.Direction, bool) {
	if _, ok := t.ports[srcPort]; ok {
		if ip, ok := ipv4(dstIP); ok {
			return endpoint.Encode(ip, dstPort), estimator.ToSwitch, true
		}
		return 0, 0, false
	}
	if _, ok := t.ports[dstPort]; ok {
		if ip, ok := ipv4(srcIP); ok {
			return endpoint.Encode(ip, srcPort), estimator.ToController, true
		}
	}
	return 0, 0, false
}

func ipv4(b []byte) ([4]byte, bool) {
	var ip [4]byte
	if len(b) == 16 {
		b = b[12:]
	}
	if len(b) != 4 {
		return ip, false
	}
	copy(ip[:], b)
	return ip, true
}

// Process handles one captured segment.
func (t *Tracker) Process(seg *protocol.Segment) {
	t.lastCapture = seg.Timestamp
	t.lastWall = time.Now()

	ft := seg.FiveTuple
	ep, dir, ok := t.classify(ft.SrcIP, ft.DstIP, ft.SrcPort, ft.DstPort)
	if !ok {
		return
	}
	t.stats.Segments++
	tcp := seg.TCP
	at := seg.Timestamp

	switch {
	case tcp.SYN && !tcp.ACK && dir == estimator.ToController:
		delete(t.ended, ep)
		if s, ok := t.sessions[ep]; ok && s.handshake != synSeen && s.handshake != synAckSeen {
			// The previous connection ended without a captured FIN.
			t.close(ep, "connection restarted")
		}
		s := t.open(ep, at)
		s.handshake = synSeen
	case tcp.SYN && tcp.ACK && dir == estimator.ToSwitch:
		if s, ok := t.sessions[ep]; ok && s.handshake == synSeen {
			s.handshake = synAckSeen
		}
	case tcp.ACK && dir == estimator.ToController:
		if s, ok := t.sessions[ep]; ok && s.handshake == synAckSeen {
			s.handshake = established
			t.handler.HandshakeComplete(ep, at)
		}
	}
	if s, ok := t.sessions[ep]; ok {
		s.last = at
	}

	t.assembler.AssembleWithTimestamp(seg.NetFlow, tcp, at)

	if tcp.FIN || tcp.RST {
		if _, ok := t.sessions[ep]; ok {
			t.ended[ep] = at
		}
		t.close(ep, "connection closed")
	}
}

func (t *Tracker) open(ep endpoint.Endpoint, at time.Time) *session {
	s, ok := t.sessions[ep]
	if !ok {
		s = &session{}
		t.sessions[ep] = s
		t.members.Ensure(ep)
		log.WithField("endpoint", ep).Debug("Session opened")
	}
	s.last = at
	return s
}

func (t *Tracker) close(ep endpoint.Endpoint, reason string) {
	if _, ok := t.sessions[ep]; !ok {
		return
	}
	delete(t.sessions, ep)
	t.members.Remove(ep)
	t.handler.Forget(ep)
	log.WithField("endpoint", ep).Infof("Session removed: %s", reason)
}

// deliver hands one framed message to the handler, creating the session for
// connections whose handshake was not captured. Messages of a connection
// already closed by FIN or RST are dropped.
func (t *Tracker) deliver(ep endpoint.Endpoint, dir estimator.Direction, at time.Time, msg openflow.Message) bool {
	if _, ok := t.ended[ep]; ok {
		return false
	}
	t.open(ep, at)
	t.stats.Messages++
	t.handler.Handle(ep, dir, at, msg)
	return true
}

// Now is the capture clock: the latest capture timestamp advanced by the wall
// time elapsed since it was seen.
func (t *Tracker) Now() time.Time {
	if t.lastCapture.IsZero() {
		return time.Now()
	}
	return t.lastCapture.Add(time.Since(t.lastWall))
}

// Sweep runs periodic maintenance against the capture clock: gap flushing,
// idle session eviction and pending-table expiry.
func (t *Tracker) Sweep() {
	t.sweep(t.Now())
}

func (t *Tracker) sweep(now time.Time) {
	// Skip gaps that stayed open too long but keep quiet connections.
	t.assembler.FlushWithOptions(tcpassembly.FlushOptions{T: now.Add(-t.opts.GapFlushInterval)})
	idleCutoff := now.Add(-t.opts.IdleTimeout)
	for ep, s := range t.sessions {
		if s.last.Before(idleCutoff) {
			t.close(ep, "idle timeout")
		}
	}
	for ep, at := range t.ended {
		if at.Before(idleCutoff) {
			delete(t.ended, ep)
		}
	}
	t.assembler.FlushWithOptions(tcpassembly.FlushOptions{T: idleCutoff, CloseAll: true})
	t.handler.Expire(now)
}

// Close flushes every stream.
func (t *Tracker) Close() {
	t.assembler.FlushAll()
}

// Stats returns activity counters.
func (t *Tracker) Stats() Stats {
	s := t.stats
	s.Sessions = len(t.sessions)
	return s
}

type streamFactory struct {
	tracker *Tracker
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	src, dst := netFlow.Endpoints()
	sport, dport := tcpFlow.Endpoints()
	ep, dir, ok := f.tracker.classify(src.Raw(), dst.Raw(),
		binary.BigEndian.Uint16(sport.Raw()), binary.BigEndian.Uint16(dport.Raw()))
	if !ok {
		return discardStream{}
	}
	return &ofStream{tracker: f.tracker, ep: ep, dir: dir}
}

// ofStream frames one direction of a control connection.
type ofStream struct {
	tracker *Tracker
	ep      endpoint.Endpoint
	dir     estimator.Direction
	scanner openflow.Scanner
	resync  bool
}

func (s *ofStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if r.Skip != 0 {
			// Gap or mid-connection start: bytes no longer align to a header.
			s.scanner.Reset()
			s.resync = true
			s.tracker.stats.Resyncs++
		}
		if len(r.Bytes) == 0 {
			continue
		}
		s.scanner.Feed(r.Bytes)
		for {
			msg, ok, err := s.scanner.Next()
			if err != nil {
				s.fail(err)
				break
			}
			if !ok {
				break
			}
			s.resync = false
			if !s.tracker.deliver(s.ep, s.dir, r.Seen, msg) {
				s.scanner.Reset()
				break
			}
		}
	}
}

func (s *ofStream) fail(err error) {
	entry := log.WithField("endpoint", s.ep).WithField("direction", s.dir)
	if s.resync {
		entry.Debugf("Dropping unaligned bytes after gap: %v", err)
	} else {
		s.tracker.stats.Desyncs++
		entry.Warnf("Dropping buffered bytes: %v", fmt.Errorf("%w: %v", ErrProtocolDesync, err))
	}
	s.scanner.Reset()
}

func (s *ofStream) ReassemblyComplete() {
	s.scanner.Reset()
}

type discardStream struct{}

func (discardStream) Reassembled([]tcpassembly.Reassembly) {}
func (discardStream) ReassemblyComplete()                  {}
