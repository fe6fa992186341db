package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigShippedFile(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Sniffer.ControlPorts) != 2 || cfg.Sniffer.ControlPorts[0] != 6633 {
		t.Errorf("Expected control ports [6633 6653], got %v", cfg.Sniffer.ControlPorts)
	}
	if len(cfg.Writers) != 3 {
		t.Errorf("Expected 3 writers, got %d", len(cfg.Writers))
	}
	if cfg.Estimator.MaxOutstandingPerPort != 20 {
		t.Errorf("Expected 20 outstanding probes per port, got %d", cfg.Estimator.MaxOutstandingPerPort)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "sniffer:\n  interface: eth1\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Sniffer.Interface != "eth1" {
		t.Errorf("Expected interface eth1, got %s", cfg.Sniffer.Interface)
	}
	if got := DurationOr(cfg.Tracker.IdleTimeout, 0); got != 30*time.Second {
		t.Errorf("Expected default idle timeout 30s, got %v", got)
	}
	if cfg.Estimator.ProbeSystemNamePrefix != "SAVI-SDN" {
		t.Errorf("Expected default probe prefix, got %q", cfg.Estimator.ProbeSystemNamePrefix)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "tracker:\n  idle_timeout: soon\n"},
		{"negative duration", "estimator:\n  pending_timeout: -1s\n"},
		{"zero port", "sniffer:\n  control_ports: [0]\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"bad yaml", "sniffer: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("does-not-exist.yaml"); err == nil {
		t.Errorf("Expected an error for a missing file")
	}
}
