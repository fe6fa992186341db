package latency

import (
	"OFSniff/internal/config"
	"OFSniff/internal/factory"
	"OFSniff/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createEndpointLatencyTableStatement = `
CREATE TABLE IF NOT EXISTS endpoint_latency (
    Timestamp   DateTime,
    Endpoint    UInt64,
    IP          String,
    Port        UInt16,
    Metric      String,
    LinkPort    UInt32,
    Count       UInt64,
    Average     Float64,
    Variance    Float64,
    Median      Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Endpoint, Metric, Timestamp);
`

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		w, err := NewClickHouseWriter(def.ClickHouse, interval)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter connects and ensures the endpoint_latency table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createEndpointLatencyTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create endpoint_latency table: %w", err)
	}
	log.Info("Connected to ClickHouse and ensured endpoint_latency table exists.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write appends one row per non-empty series.
func (w *ClickHouseWriter) Write(snapshot model.Snapshot, timestamp string) error {
	if len(snapshot.Endpoints) == 0 {
		return nil
	}
	ctx := context.Background()
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO endpoint_latency")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, err := time.ParseInLocation(model.SnapshotLayout, timestamp, time.Local)
	if err != nil {
		snapshotTime = snapshot.Taken
	}

	total := 0
	for _, st := range snapshot.Endpoints {
		ip := st.Endpoint.IP().String()
		port := st.Endpoint.Port()
		for _, s := range SeriesOf(st) {
			sum := s.Summary
			if err := batch.Append(snapshotTime, st.Endpoint.ID(), ip, port, s.Metric.String(),
				s.LinkPort, sum.Count, sum.Mean, sum.Variance, sum.Median); err != nil {
				return fmt.Errorf("failed to append series to batch: %w", err)
			}
			total++
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Infof("Wrote %d series to ClickHouse", total)
	return nil
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
