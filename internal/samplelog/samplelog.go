package samplelog

import (
	"OFSniff/internal/model"
	"OFSniff/internal/pkg/logging"
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// FileLayout names a log file after the time it was opened.
const FileLayout = "2006-01-02.15:04:05"

const (
	defaultBufferSize    = 4096
	defaultBatchSize     = 64
	defaultFlushInterval = 100 * time.Millisecond
)

var log = logging.For("samplelog")

// FormatLine renders a sample as "<endpoint> <metric> <sample> <avg> <var>".
func FormatLine(s model.Sample) string {
	return fmt.Sprintf("%d %s %.6g %.6g %.6g",
		s.Endpoint.ID(), s.Metric.LogName(s.Port), s.Value, s.Summary.Mean, s.Summary.Variance)
}

// Logger appends one line per sample to a file. Record never blocks: lines are
// dropped when the queue is full.
type Logger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	ch      chan string
	done    chan struct{}
	closed  bool
	dropped atomic.Uint64
}

// Open creates <dir>/<timestamp>.log and starts the writer goroutine.
func Open(dir string, bufferSize int) (*Logger, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, time.Now().Format(FileLayout)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats log: %w", err)
	}

	l := &Logger{
		path: path,
		file: f,
		ch:   make(chan string, bufferSize),
		done: make(chan struct{}),
	}
	go l.writer()
	log.Infof("Writing samples to %s", path)
	return l, nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Record implements model.SampleSink.
func (l *Logger) Record(s model.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- FormatLine(s):
	default:
		if l.dropped.Add(1)%1000 == 1 {
			log.Warnf("Stats log queue full, %d lines dropped so far", l.dropped.Load())
		}
	}
}

// Dropped returns how many lines were discarded.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *Logger) writer() {
	defer close(l.done)
	w := bufio.NewWriter(l.file)
	pending := 0
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if pending == 0 {
			return
		}
		if err := w.Flush(); err != nil {
			log.Errorf("Failed to flush stats log: %v", err)
		}
		pending = 0
	}

	for {
		select {
		case line, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			w.WriteString(line)
			w.WriteByte('\n')
			pending++
			if pending >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close drains queued lines and closes the file.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	<-l.done
	return l.file.Close()
}
