package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls the shared logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// SnifferConfig holds packet source settings.
type SnifferConfig struct {
	Interface    string   `yaml:"interface"`
	ControlPorts []uint16 `yaml:"control_ports"`
	SnapshotLen  int32    `yaml:"snapshot_len"`
	Promiscuous  bool     `yaml:"promiscuous"`
	ReadTimeout  string   `yaml:"read_timeout"`
}

// TrackerConfig holds session tracking and reassembly limits.
type TrackerConfig struct {
	IdleTimeout           string `yaml:"idle_timeout"`
	GapFlushInterval      string `yaml:"gap_flush_interval"`
	MaxPagesPerConnection int    `yaml:"max_pages_per_connection"`
	MaxPagesTotal         int    `yaml:"max_pages_total"`
	NumShards             int    `yaml:"num_shards"`
}

// EstimatorConfig holds correlation table limits.
type EstimatorConfig struct {
	PendingTimeout        string `yaml:"pending_timeout"`
	MaxPendingPerEndpoint int    `yaml:"max_pending_per_endpoint"`
	MaxOutstandingPerPort int    `yaml:"max_outstanding_per_port"`
	PacketInMatchWindow   string `yaml:"pktin_match_window"`
	ProbeSystemNamePrefix string `yaml:"probe_system_name_prefix"`
}

// StatsLogConfig controls the per-sample log file.
type StatsLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	BufferSize int    `yaml:"buffer_size"`
}

// GobConfig holds settings for the gob snapshot writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// TextConfig holds settings for the text snapshot writer.
type TextConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines one snapshot writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Gob              GobConfig        `yaml:"gob"`
	Text             TextConfig       `yaml:"text"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// ProbeConfig holds settings for the NATS sample feed.
type ProbeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	NATSURL    string `yaml:"nats_url"`
	Subject    string `yaml:"subject"`
	BufferSize int    `yaml:"buffer_size"`
}

// PersistenceConfig holds settings for recording captured control traffic.
type PersistenceConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	Encoding          string `yaml:"encoding"` // pcap or text
	ChannelBufferSize int    `yaml:"channel_buffer_size"`
}

// AlerterRule defines a single latency threshold.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"`    // EchoRTT, PktInRTT, Dp2CtrlRTT, LinkLat
	Statistic string  `yaml:"statistic"` // avg, var, med
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig holds the alerter settings.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Rules         []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// APIConfig holds the query surface listeners.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Sniffer     SnifferConfig     `yaml:"sniffer"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	StatsLog    StatsLogConfig    `yaml:"stats_log"`
	Writers     []WriterDef       `yaml:"writers"`
	Probe       ProbeConfig       `yaml:"probe"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerter     AlerterConfig     `yaml:"alerter"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	API         APIConfig         `yaml:"api"`
}

// Default returns the configuration used when no file is given. LoadConfig
// fills unset fields from it.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Sniffer: SnifferConfig{
			Interface:    "any",
			ControlPorts: []uint16{6633, 6653},
			SnapshotLen:  1500,
			ReadTimeout:  "250ms",
		},
		Tracker: TrackerConfig{
			IdleTimeout:           "30s",
			GapFlushInterval:      "2s",
			MaxPagesPerConnection: 16,
			MaxPagesTotal:         4096,
			NumShards:             64,
		},
		Estimator: EstimatorConfig{
			PendingTimeout:        "5s",
			MaxPendingPerEndpoint: 64,
			MaxOutstandingPerPort: 20,
			PacketInMatchWindow:   "1s",
			ProbeSystemNamePrefix: "SAVI-SDN",
		},
		StatsLog: StatsLogConfig{Dir: ".", BufferSize: 4096},
		Probe: ProbeConfig{
			NATSURL:    "nats://127.0.0.1:4222",
			Subject:    "ofsniff.samples",
			BufferSize: 4096,
		},
		Persistence: PersistenceConfig{Path: "captures", Encoding: "pcap", ChannelBufferSize: 10000},
		Alerter:     AlerterConfig{CheckInterval: "30s"},
		API:         APIConfig{ListenAddr: ":8080", GRPCAddr: ":9090"},
	}
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults restores defaults for fields a file explicitly zeroed.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Sniffer.Interface == "" {
		c.Sniffer.Interface = def.Sniffer.Interface
	}
	if len(c.Sniffer.ControlPorts) == 0 {
		c.Sniffer.ControlPorts = def.Sniffer.ControlPorts
	}
	if c.Sniffer.SnapshotLen <= 0 {
		c.Sniffer.SnapshotLen = def.Sniffer.SnapshotLen
	}
	if c.Tracker.MaxPagesPerConnection <= 0 {
		c.Tracker.MaxPagesPerConnection = def.Tracker.MaxPagesPerConnection
	}
	if c.Tracker.MaxPagesTotal <= 0 {
		c.Tracker.MaxPagesTotal = def.Tracker.MaxPagesTotal
	}
	if c.Estimator.MaxPendingPerEndpoint <= 0 {
		c.Estimator.MaxPendingPerEndpoint = def.Estimator.MaxPendingPerEndpoint
	}
	if c.Estimator.MaxOutstandingPerPort <= 0 {
		c.Estimator.MaxOutstandingPerPort = def.Estimator.MaxOutstandingPerPort
	}
	if c.Estimator.ProbeSystemNamePrefix == "" {
		c.Estimator.ProbeSystemNamePrefix = def.Estimator.ProbeSystemNamePrefix
	}
}

// Validate checks every duration and enumerated field.
func (c *Config) Validate() error {
	durations := map[string]string{
		"sniffer.read_timeout":         c.Sniffer.ReadTimeout,
		"tracker.idle_timeout":         c.Tracker.IdleTimeout,
		"tracker.gap_flush_interval":   c.Tracker.GapFlushInterval,
		"estimator.pending_timeout":    c.Estimator.PendingTimeout,
		"estimator.pktin_match_window": c.Estimator.PacketInMatchWindow,
	}
	for field, value := range durations {
		if _, err := ParseDuration(field, value); err != nil {
			return err
		}
	}
	if c.Alerter.Enabled {
		if _, err := ParseDuration("alerter.check_interval", c.Alerter.CheckInterval); err != nil {
			return err
		}
	}
	for _, p := range c.Sniffer.ControlPorts {
		if p == 0 {
			return fmt.Errorf("invalid sniffer.control_ports: port 0")
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	switch c.Persistence.Encoding {
	case "pcap", "text":
	default:
		if c.Persistence.Enabled {
			return fmt.Errorf("invalid persistence.encoding %q", c.Persistence.Encoding)
		}
	}
	return nil
}

// ParseDuration parses a positive duration field.
func ParseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", field)
	}
	return d, nil
}

// DurationOr parses value, returning fallback when it is empty or invalid.
func DurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
