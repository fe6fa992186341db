package probe

import (
	"OFSniff/internal/config"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// SampleMessage is a decoded sample as published on the wire.
type SampleMessage struct {
	Endpoint  uint64
	IP        string
	Port      uint16
	Metric    string
	LinkPort  uint32
	Value     float64
	Average   float64
	Variance  float64
	Count     uint64
	Timestamp time.Time
}

// SampleHandler processes a received sample.
type SampleHandler func(msg SampleMessage)

// Decode parses a published payload.
func Decode(data []byte) (SampleMessage, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return SampleMessage{}, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	f := st.GetFields()
	num := func(key string) float64 { return f[key].GetNumberValue() }
	str := func(key string) string { return f[key].GetStringValue() }

	msg := SampleMessage{
		Endpoint: uint64(num("endpoint")),
		IP:       str("ip"),
		Port:     uint16(num("port")),
		Metric:   str("metric"),
		LinkPort: uint32(num("link_port")),
		Value:    num("value"),
		Average:  num("average"),
		Variance: num("variance"),
		Count:    uint64(num("count")),
	}
	if msg.Metric == "" {
		return SampleMessage{}, fmt.Errorf("sample without metric")
	}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return SampleMessage{}, fmt.Errorf("bad sample timestamp %q: %w", ts, err)
		}
		msg.Timestamp = t
	}
	return msg, nil
}

// Subscriber receives samples from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes and hands every decoded sample to handler.
func (s *Subscriber) Start(handler SampleHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(m *nats.Msg) {
		msg, err := Decode(m.Data)
		if err != nil {
			log.Warnf("Dropping message: %v", err)
			return
		}
		handler(msg)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Infof("Subscribed to '%s'. Waiting for samples...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Info("NATS connection closed.")
	}
}
