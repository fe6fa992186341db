package probe

import (
	"OFSniff/internal/config"
	"OFSniff/internal/model"
	"OFSniff/internal/pkg/logging"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var log = logging.For("probe")

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher streams samples to a NATS subject. Record never blocks: samples
// are dropped when the queue is full.
type Publisher struct {
	nc      conn
	subject string
	queue   chan model.Sample
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewPublisher connects to NATS and starts the publishing goroutine.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ofsniff"))
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to NATS server at %s", cfg.NATSURL)
	return newPublisher(nc, cfg.Subject, cfg.BufferSize), nil
}

func newPublisher(nc conn, subject string, bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	p := &Publisher{nc: nc, subject: subject, queue: make(chan model.Sample, bufferSize)}
	p.wg.Add(1)
	go p.run()
	return p
}

// Encode converts a sample to its wire struct.
func Encode(s model.Sample) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"endpoint":  s.Endpoint.ID(),
		"ip":        s.Endpoint.IP().String(),
		"port":      uint32(s.Endpoint.Port()),
		"metric":    s.Metric.String(),
		"link_port": s.Port,
		"value":     s.Value,
		"average":   s.Summary.Mean,
		"variance":  s.Summary.Variance,
		"count":     s.Summary.Count,
		"timestamp": s.Time.UTC().Format(time.RFC3339Nano),
	})
}

// Record implements model.SampleSink.
func (p *Publisher) Record(s model.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- s:
	default:
		if p.dropped.Add(1)%1000 == 1 {
			log.Warnf("NATS queue full, %d samples dropped so far", p.dropped.Load())
		}
	}
}

// Dropped returns how many samples were discarded.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for s := range p.queue {
		msg, err := Encode(s)
		if err != nil {
			log.Errorf("Failed to encode sample: %v", err)
			continue
		}
		data, err := proto.Marshal(msg)
		if err != nil {
			log.Errorf("Failed to marshal sample: %v", err)
			continue
		}
		if err := p.nc.Publish(p.subject, data); err != nil {
			log.Errorf("Failed to publish sample: %v", err)
		}
	}
}

// Close publishes queued samples, then drains and closes the NATS connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			log.Errorf("Failed to drain NATS connection: %v", err)
		}
		log.Info("NATS connection drained and closed.")
	}
}
