package logging

import (
	"OFSniff/internal/config"
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stderr)
	defer Configure(config.LogConfig{Level: "info", Format: "text"})

	if err := Configure(config.LogConfig{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if Logger().GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", Logger().GetLevel())
	}

	For("tracker").WithField("endpoint", "10.0.0.1:6633").Debug("session opened")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "tracker" || entry["msg"] != "session opened" {
		t.Errorf("Unexpected log entry %v", entry)
	}
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	if err := Configure(config.LogConfig{Level: "loud"}); err == nil {
		t.Errorf("Expected an error for an unknown level")
	}
}
