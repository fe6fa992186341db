package logparse

import (
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/pkg/logging"
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var log = logging.For("logparse")

// ErrMalformedLine is returned by ParseLine for lines that are not sample records.
var ErrMalformedLine = errors.New("malformed sample line")

// Record is one parsed stats log line.
type Record struct {
	Endpoint endpoint.Endpoint
	Metric   string
	Sample   string
	Average  string
	Variance string
}

// ParseLine parses "<endpoint> <metric> <sample> <avg> <var>". Numbers are
// validated but kept in their logged form.
func ParseLine(line string) (Record, error) {
	f := strings.Fields(line)
	if len(f) != 5 {
		return Record{}, fmt.Errorf("%w: want 5 fields, got %d", ErrMalformedLine, len(f))
	}
	ep, err := endpoint.ParseID(f[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if _, _, err := statistic.ParseLogName(f[1]); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	for _, n := range f[2:] {
		if _, err := strconv.ParseFloat(n, 64); err != nil {
			return Record{}, fmt.Errorf("%w: bad number %q", ErrMalformedLine, n)
		}
	}
	return Record{Endpoint: ep, Metric: f[1], Sample: f[2], Average: f[3], Variance: f[4]}, nil
}

// Result summarizes one Split run.
type Result struct {
	Lines   int
	Skipped int
	Files   []string
}

// Split distributes a stats log into one CSV file per endpoint and metric,
// named "<endpoint>-<metric>.csv" in dir. Files are appended to; each file
// opened by a run starts with a "Data,Average,Variance" header.
func Split(r io.Reader, dir string) (Result, error) {
	var res Result
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}

	type output struct {
		file *os.File
		w    *csv.Writer
	}
	outputs := make(map[string]*output)
	defer func() {
		for _, o := range outputs {
			o.w.Flush()
			o.file.Close()
		}
	}()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			res.Skipped++
			log.Warnf("Skipping line %d: %v", lineNo, err)
			continue
		}

		name := fmt.Sprintf("%d-%s.csv", rec.Endpoint.ID(), rec.Metric)
		o, ok := outputs[name]
		if !ok {
			path := filepath.Join(dir, name)
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return res, fmt.Errorf("failed to open %s: %w", path, err)
			}
			o = &output{file: f, w: csv.NewWriter(f)}
			outputs[name] = o
			res.Files = append(res.Files, path)
			if err := o.w.Write([]string{"Data", "Average", "Variance"}); err != nil {
				return res, fmt.Errorf("failed to write header to %s: %w", path, err)
			}
		}
		if err := o.w.Write([]string{rec.Sample, rec.Average, rec.Variance}); err != nil {
			return res, fmt.Errorf("failed to write %s: %w", name, err)
		}
		res.Lines++
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to read log: %w", err)
	}

	for name, o := range outputs {
		o.w.Flush()
		if err := o.w.Error(); err != nil {
			return res, fmt.Errorf("failed to flush %s: %w", name, err)
		}
	}
	return res, nil
}

// SplitFile runs Split over the log at path.
func SplitFile(path, dir string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return Split(f, dir)
}
