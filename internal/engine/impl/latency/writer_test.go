package latency

import (
	"OFSniff/internal/config"
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/factory"
	"OFSniff/internal/model"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testSnapshot() model.Snapshot {
	reg := registry.New(4)
	ep := endpoint.Encode([4]byte{10, 0, 0, 1}, 6633)
	reg.Record(ep, statistic.EchoRTT, 0, 0.010)
	reg.Record(ep, statistic.EchoRTT, 0, 0.030)
	reg.Record(ep, statistic.LinkLat, 7, 0.002)
	reg.Record(ep, statistic.LinkLat, 2, 0.004)
	reg.Ensure(endpoint.Encode([4]byte{10, 0, 0, 2}, 6633))
	return model.Snapshot{Taken: time.Unix(1700000000, 0), Endpoints: reg.Snapshot()}
}

func TestSeriesOf(t *testing.T) {
	snap := testSnapshot()
	series := SeriesOf(snap.Endpoints[0])
	var names []string
	for _, s := range series {
		names = append(names, s.Name())
	}
	if got := strings.Join(names, ","); got != "EchoRTT,LinkLat_2,LinkLat_7" {
		t.Errorf("Expected EchoRTT,LinkLat_2,LinkLat_7, got %s", got)
	}
	if len(SeriesOf(snap.Endpoints[1])) != 0 {
		t.Errorf("Expected no series for an endpoint without samples")
	}
}

func TestGobWriter(t *testing.T) {
	root := t.TempDir()
	w := NewGobWriter(root, time.Minute)
	if w.GetInterval() != time.Minute {
		t.Errorf("Expected interval 1m, got %v", w.GetInterval())
	}
	snap := testSnapshot()
	if err := w.Write(snap, "2023-11-14_22-13-20"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	decoded, err := ReadGob(filepath.Join(root, "2023-11-14_22-13-20", "endpoints.dat"))
	if err != nil {
		t.Fatalf("ReadGob failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 endpoints, got %d", len(decoded))
	}
	if decoded[0].EchoRTT.Count != 2 || decoded[0].LinkLat[7].Count != 1 {
		t.Errorf("Unexpected decoded stats %+v", decoded[0])
	}

	raw, err := os.ReadFile(filepath.Join(root, "2023-11-14_22-13-20", "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if summary.TotalEndpoints != 2 || summary.TotalSeries != 3 || summary.Samples["LinkLat"] != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestGobWriterSkipsEmpty(t *testing.T) {
	root := t.TempDir()
	if err := NewGobWriter(root, time.Minute).Write(model.Snapshot{}, "ts"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "ts")); !os.IsNotExist(err) {
		t.Errorf("Expected no snapshot directory, got %v", err)
	}
}

func TestTextWriter(t *testing.T) {
	root := t.TempDir()
	if err := NewTextWriter(root, time.Minute).Write(testSnapshot(), "ts"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(root, "ts", "latency.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), content)
	}
	if !strings.HasPrefix(lines[0], "10.0.0.1:6633 ") || !strings.Contains(lines[0], "EchoRTT count=2 avg=0.02") {
		t.Errorf("Unexpected line %q", lines[0])
	}
}

func TestFactoryRegistration(t *testing.T) {
	types := strings.Join(factory.Types(), ",")
	if types != "clickhouse,gob,text" {
		t.Errorf("Expected clickhouse,gob,text to be registered, got %s", types)
	}

	writers, err := factory.CreateWriters([]config.WriterDef{
		{Type: "gob", Enabled: true, SnapshotInterval: "30s", Gob: config.GobConfig{RootPath: t.TempDir()}},
		{Type: "clickhouse", Enabled: false},
	})
	if err != nil {
		t.Fatalf("CreateWriters failed: %v", err)
	}
	if len(writers) != 1 || writers[0].GetInterval() != 30*time.Second {
		t.Errorf("Expected one gob writer with a 30s interval, got %d", len(writers))
	}

	if _, err := factory.CreateWriters([]config.WriterDef{{Type: "parquet", Enabled: true, SnapshotInterval: "1s"}}); err == nil {
		t.Errorf("Expected an error for an unknown writer type")
	}
	if _, err := factory.CreateWriters([]config.WriterDef{{Type: "text", Enabled: true, SnapshotInterval: "soon"}}); err == nil {
		t.Errorf("Expected an error for a bad interval")
	}
}
