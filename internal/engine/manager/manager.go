package manager

import (
	"OFSniff/internal/alerter"
	"OFSniff/internal/config"
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/estimator"
	_ "OFSniff/internal/engine/impl/latency" // Registers the snapshot writers
	"OFSniff/internal/engine/protocol"
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/engine/tracker"
	"OFSniff/internal/factory"
	"OFSniff/internal/model"
	"OFSniff/internal/notification"
	"OFSniff/internal/pkg/logging"
	"OFSniff/internal/probe"
	"OFSniff/internal/probe/persistent"
	"OFSniff/internal/samplelog"
	ofpcap "OFSniff/pkg/pcap"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var log = logging.For("manager")

// sweepInterval bounds how often tracker maintenance runs while packets flow.
const sweepInterval = 250 * time.Millisecond

// PacketSource is an open capture.
type PacketSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// SourceOpener opens a capture of the given control ports on iface.
type SourceOpener func(iface string, ports []uint16) (PacketSource, error)

// session is the per-Start state owned by the capture goroutine.
type session struct {
	tracker  *tracker.Tracker
	stats    *samplelog.Logger
	recorder *persistent.Worker
}

// Manager runs the capture loop and answers latency queries.
type Manager struct {
	cfg      *config.Config
	registry *registry.Registry
	opener   SourceOpener

	state   atomic.Int32
	mu      sync.Mutex // serializes Start and Stop
	stopCh  chan struct{}
	done    chan struct{}
	lastErr atomic.Pointer[error]
	stats   atomic.Pointer[tracker.Stats]

	publisher *probe.Publisher
	writers   []model.Writer
	alerter   *alerter.Alerter

	closing       chan struct{}
	closeOnce     sync.Once
	snapshotterWg sync.WaitGroup
}

// NewManager creates a stopped manager with its writers, publisher and
// alerter running.
func NewManager(cfg *config.Config) (*Manager, error) {
	writers, err := factory.CreateWriters(cfg.Writers)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry.New(cfg.Tracker.NumShards),
		writers:  writers,
		closing:  make(chan struct{}),
	}
	m.opener = m.openLive

	if cfg.Probe.Enabled {
		pub, err := probe.NewPublisher(cfg.Probe)
		if err != nil {
			return nil, fmt.Errorf("failed to connect sample publisher: %w", err)
		}
		m.publisher = pub
	}

	if cfg.Alerter.Enabled {
		var notifier model.Notifier
		if cfg.SMTP.Host != "" {
			notifier = notification.NewEmailNotifier(cfg.SMTP)
		} else {
			log.Warn("Alerter is enabled but no notifier is configured, alerts will only be logged.")
		}
		a, err := alerter.NewAlerter(&cfg.Alerter, m, notifier)
		if err != nil {
			m.releaseSinks()
			return nil, fmt.Errorf("failed to create alerter: %w", err)
		}
		m.alerter = a
		m.alerter.Start()
	}

	for _, w := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(w)
		log.Infof("Started snapshotter for a writer with interval %s", w.GetInterval())
	}
	return m, nil
}

// SetSourceOpener replaces the live capture opener. It applies to the next Start.
func (m *Manager) SetSourceOpener(opener SourceOpener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opener = opener
}

func (m *Manager) openLive(iface string, ports []uint16) (PacketSource, error) {
	if err := ofpcap.CheckInterface(iface); err != nil {
		if errors.Is(err, ofpcap.ErrInterfaceNotFound) {
			return nil, &ConfigurationError{Field: "iface", Reason: "not found", Err: err}
		}
		return nil, err
	}
	return ofpcap.OpenLive(iface, ports, ofpcap.LiveOptions{
		SnapshotLen: m.cfg.Sniffer.SnapshotLen,
		Promiscuous: m.cfg.Sniffer.Promiscuous,
		ReadTimeout: config.DurationOr(m.cfg.Sniffer.ReadTimeout, 250*time.Millisecond),
	})
}

// Start opens a capture on iface and begins a new measurement session. An
// empty iface selects "any". A nonzero port replaces the configured control
// ports.
func (m *Manager) Start(iface string, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return ErrAlreadyRunning
	}
	started := false
	defer func() {
		if !started {
			m.state.Store(int32(Stopped))
		}
	}()

	if iface == "" {
		iface = "any"
	}
	ports := m.cfg.Sniffer.ControlPorts
	if port != 0 {
		ports = []uint16{port}
	}
	if len(ports) == 0 {
		return &ConfigurationError{Field: "port", Reason: "no control port given or configured"}
	}

	src, err := m.opener(iface, ports)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return err
		}
		return &CaptureSourceError{Op: "open", Err: err}
	}
	parser, err := protocol.NewParser(src.LinkType())
	if err != nil {
		src.Close()
		return &CaptureSourceError{Op: "open", Err: err}
	}

	m.registry.Reset()
	sess, err := m.newSession(ports, src.LinkType())
	if err != nil {
		src.Close()
		return err
	}

	m.lastErr.Store(nil)
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.state.Store(int32(Running))
	started = true
	go m.loop(src, parser, sess, m.stopCh, m.done)

	log.Infof("Capture started on %s, control ports %v", iface, ports)
	return nil
}

func (m *Manager) newSession(ports []uint16, linkType layers.LinkType) (*session, error) {
	sess := &session{}
	var sinks multiSink
	if m.cfg.StatsLog.Enabled {
		l, err := samplelog.Open(m.cfg.StatsLog.Dir, m.cfg.StatsLog.BufferSize)
		if err != nil {
			return nil, &ConfigurationError{Field: "stats_log.dir", Reason: "cannot open log", Err: err}
		}
		sess.stats = l
		sinks = append(sinks, l)
	}
	if m.publisher != nil {
		sinks = append(sinks, m.publisher)
	}
	if m.cfg.Persistence.Enabled {
		w, err := persistent.NewWorker(m.cfg.Persistence, linkType, uint32(m.cfg.Sniffer.SnapshotLen))
		if err != nil {
			sess.close()
			return nil, &ConfigurationError{Field: "persistence", Reason: "cannot start recorder", Err: err}
		}
		sess.recorder = w
	}

	est := m.cfg.Estimator
	set := estimator.New(estimator.Options{
		PendingTimeout:        config.DurationOr(est.PendingTimeout, 0),
		MaxPending:            est.MaxPendingPerEndpoint,
		MaxOutstandingPerPort: est.MaxOutstandingPerPort,
		PacketInWindow:        config.DurationOr(est.PacketInMatchWindow, 0),
		ProbePrefix:           est.ProbeSystemNamePrefix,
	}, m.registry, sinks.orNil())

	tr := m.cfg.Tracker
	sess.tracker = tracker.New(tracker.Options{
		ControlPorts:          ports,
		IdleTimeout:           config.DurationOr(tr.IdleTimeout, 0),
		GapFlushInterval:      config.DurationOr(tr.GapFlushInterval, 0),
		MaxPagesPerConnection: tr.MaxPagesPerConnection,
		MaxPagesTotal:         tr.MaxPagesTotal,
	}, m.registry, set)
	return sess, nil
}

func (s *session) close() {
	if s.tracker != nil {
		s.tracker.Close()
	}
	if s.recorder != nil {
		s.recorder.Stop()
	}
	if s.stats != nil {
		if err := s.stats.Close(); err != nil {
			log.Errorf("Failed to close stats log: %v", err)
		}
	}
}

// loop is the capture goroutine, the only writer of the registry.
func (m *Manager) loop(src PacketSource, parser *protocol.Parser, sess *session, stopCh <-chan struct{}, done chan<- struct{}) {
	defer func() {
		sess.close()
		src.Close()
		if sess.tracker != nil {
			st := sess.tracker.Stats()
			m.stats.Store(&st)
		}
		m.state.Store(int32(Stopped))
		close(done)
		log.Info("Capture loop exited.")
	}()

	lastSweep := time.Now()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		data, ci, err := src.ReadPacketData()
		switch {
		case err == nil:
			seg, err := parser.Decode(data, ci)
			if err == nil {
				if sess.recorder != nil {
					sess.recorder.Enqueue(ci, data, seg.FiveTuple)
				}
				sess.tracker.Process(seg)
			}
		case ofpcap.IsTimeout(err):
		case errors.Is(err, io.EOF):
			sess.tracker.Sweep()
			log.Info("Capture source exhausted.")
			return
		default:
			srcErr := error(&CaptureSourceError{Op: "read", Err: err})
			m.lastErr.Store(&srcErr)
			log.Errorf("Stopping capture: %v", srcErr)
			return
		}

		if time.Since(lastSweep) >= sweepInterval {
			sess.tracker.Sweep()
			st := sess.tracker.Stats()
			m.stats.Store(&st)
			lastSweep = time.Now()
		}
	}
}

// Stop ends the session and waits for the capture goroutine to exit. It is
// idempotent. Statistics stay queryable until the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.CompareAndSwap(int32(Running), int32(Stopping))
	if m.stopCh != nil {
		close(m.stopCh)
	}
	if m.done != nil {
		<-m.done
	}
	m.stopCh, m.done = nil, nil
	m.state.Store(int32(Stopped))
}

// Close stops capture, writes a final snapshot and releases every sink.
func (m *Manager) Close() {
	m.Stop()
	m.closeOnce.Do(func() {
		log.Info("Manager closing...")
		close(m.closing)
		m.snapshotterWg.Wait()
		if m.alerter != nil {
			m.alerter.Stop()
		}
		m.releaseSinks()
		log.Info("Manager closed.")
	})
}

func (m *Manager) releaseSinks() {
	for _, w := range m.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Errorf("Failed to close writer: %v", err)
			}
		}
	}
	if m.publisher != nil {
		m.publisher.Close()
	}
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer model.Writer) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		log.Errorf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeSnapshot(writer)
		case <-m.closing:
			m.writeSnapshot(writer)
			return
		}
	}
}

func (m *Manager) writeSnapshot(writer model.Writer) {
	snap := m.Snapshot()
	timestamp := snap.Taken.Format(model.SnapshotLayout)
	if err := writer.Write(snap, timestamp); err != nil {
		log.Errorf("Error writing snapshot %s: %v", timestamp, err)
		return
	}
	log.Debugf("Snapshot %s written for %d endpoint(s)", timestamp, len(snap.Endpoints))
}

// Snapshot copies the statistics of every endpoint.
func (m *Manager) Snapshot() model.Snapshot {
	return model.Snapshot{Taken: time.Now(), Endpoints: m.registry.Snapshot()}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsRunning reports whether a capture session is active.
func (m *Manager) IsRunning() bool {
	return m.State() == Running
}

// LastError returns the error that ended the last session, if any.
func (m *Manager) LastError() error {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// TrackerStats returns the tracker counters of the current or last session.
func (m *Manager) TrackerStats() tracker.Stats {
	if p := m.stats.Load(); p != nil {
		return *p
	}
	return tracker.Stats{}
}

// Endpoints lists the live endpoints in ascending order.
func (m *Manager) Endpoints() []endpoint.Endpoint {
	return m.registry.Endpoints()
}

// Summary returns the statistics of one series.
func (m *Manager) Summary(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (statistic.Summary, error) {
	return m.registry.Summary(ep, metric, port)
}

func (m *Manager) mean(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (float64, error) {
	s, err := m.registry.Summary(ep, metric, port)
	return s.Mean, err
}

func (m *Manager) variance(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (float64, error) {
	s, err := m.registry.Summary(ep, metric, port)
	return s.Variance, err
}

func (m *Manager) median(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (float64, error) {
	s, err := m.registry.Summary(ep, metric, port)
	return s.Median, err
}

func (m *Manager) EchoRTTAvg(ep endpoint.Endpoint) (float64, error) {
	return m.mean(ep, statistic.EchoRTT, 0)
}

func (m *Manager) EchoRTTVar(ep endpoint.Endpoint) (float64, error) {
	return m.variance(ep, statistic.EchoRTT, 0)
}

func (m *Manager) EchoRTTMed(ep endpoint.Endpoint) (float64, error) {
	return m.median(ep, statistic.EchoRTT, 0)
}

func (m *Manager) PktInRTTAvg(ep endpoint.Endpoint) (float64, error) {
	return m.mean(ep, statistic.PktInRTT, 0)
}

func (m *Manager) PktInRTTVar(ep endpoint.Endpoint) (float64, error) {
	return m.variance(ep, statistic.PktInRTT, 0)
}

func (m *Manager) PktInRTTMed(ep endpoint.Endpoint) (float64, error) {
	return m.median(ep, statistic.PktInRTT, 0)
}

func (m *Manager) LinkLatAvg(ep endpoint.Endpoint, port uint32) (float64, error) {
	return m.mean(ep, statistic.LinkLat, port)
}

func (m *Manager) LinkLatVar(ep endpoint.Endpoint, port uint32) (float64, error) {
	return m.variance(ep, statistic.LinkLat, port)
}

func (m *Manager) LinkLatMed(ep endpoint.Endpoint, port uint32) (float64, error) {
	return m.median(ep, statistic.LinkLat, port)
}

// Dp2CtrlRTT returns the mean datapath-to-controller estimate.
func (m *Manager) Dp2CtrlRTT(ep endpoint.Endpoint) (float64, error) {
	return m.mean(ep, statistic.Dp2CtrlRTT, 0)
}

// multiSink fans a sample out to several sinks.
type multiSink []model.SampleSink

func (s multiSink) Record(sample model.Sample) {
	for _, sink := range s {
		sink.Record(sample)
	}
}

func (s multiSink) orNil() model.SampleSink {
	switch len(s) {
	case 0:
		return nil
	case 1:
		return s[0]
	}
	return s
}
