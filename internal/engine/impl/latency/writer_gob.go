package latency

import (
	"OFSniff/internal/config"
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/factory"
	"OFSniff/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewGobWriter(def.Gob.RootPath, interval), nil
	})
}

// SummaryData holds the metadata for a snapshot, internal to the writer.
type SummaryData struct {
	TotalEndpoints int            `json:"total_endpoints"`
	TotalSeries    int            `json:"total_series"`
	Samples        map[string]int `json:"samples"`
	Taken          string         `json:"taken"`
	Timestamp      string         `json:"timestamp"`
}

// GobWriter writes registry snapshots to disk in gob format.
// It implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new gob snapshot writer.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores <root>/<timestamp>/endpoints.dat and a summary.json next to it.
// Empty snapshots write nothing.
func (w *GobWriter) Write(snapshot model.Snapshot, timestamp string) error {
	if len(snapshot.Endpoints) == 0 {
		return nil
	}

	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(snapshotDir, "endpoints.dat")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(snapshot.Endpoints); err != nil {
		return fmt.Errorf("failed to encode endpoints to gob for file '%s': %w", filePath, err)
	}

	summary := SummaryData{
		TotalEndpoints: len(snapshot.Endpoints),
		Samples:        make(map[string]int),
		Taken:          snapshot.Taken.UTC().Format(time.RFC3339Nano),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	for _, st := range snapshot.Endpoints {
		for _, s := range SeriesOf(st) {
			summary.TotalSeries++
			summary.Samples[s.Metric.String()] += int(s.Summary.Count)
		}
	}

	summaryFilePath := filepath.Join(snapshotDir, "summary.json")
	summaryFile, err := os.Create(summaryFilePath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadGob decodes an endpoints.dat file written by GobWriter.
func ReadGob(path string) ([]registry.EndpointStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	var endpoints []registry.EndpointStats
	if err := gob.NewDecoder(file).Decode(&endpoints); err != nil {
		return nil, fmt.Errorf("failed to decode gob data from '%s': %w", path, err)
	}
	return endpoints, nil
}
