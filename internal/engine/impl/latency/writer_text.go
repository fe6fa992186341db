package latency

import (
	"OFSniff/internal/config"
	"OFSniff/internal/factory"
	"OFSniff/internal/model"
	"OFSniff/internal/pkg/logging"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var log = logging.For("writer")

func init() {
	factory.RegisterWriter("text", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewTextWriter(def.Text.RootPath, interval), nil
	})
}

// TextWriter writes one human-readable line per series.
type TextWriter struct {
	rootPath string
	interval time.Duration
}

// NewTextWriter creates a new text snapshot writer.
func NewTextWriter(rootPath string, interval time.Duration) model.Writer {
	return &TextWriter{rootPath: rootPath, interval: interval}
}

func (w *TextWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores <root>/<timestamp>/latency.txt.
func (w *TextWriter) Write(snapshot model.Snapshot, timestamp string) error {
	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(snapshotDir, "latency.txt")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	total, err := WriteText(file, snapshot)
	if err != nil {
		return fmt.Errorf("failed to write snapshot file '%s': %w", filePath, err)
	}

	log.Debugf("Wrote %d series to %s", total, filePath)
	return nil
}

// WriteText renders one line per non-empty series and returns the line count.
func WriteText(w io.Writer, snapshot model.Snapshot) (int, error) {
	bw := bufio.NewWriter(w)
	total := 0
	for _, st := range snapshot.Endpoints {
		for _, s := range SeriesOf(st) {
			sum := s.Summary
			fmt.Fprintf(bw, "%s %d %s count=%d avg=%.6g var=%.6g med=%.6g\n",
				st.Endpoint, st.Endpoint.ID(), s.Name(), sum.Count, sum.Mean, sum.Variance, sum.Median)
			total++
		}
	}
	return total, bw.Flush()
}
