package statistic

import (
	"fmt"
	"strconv"
	"strings"
)

// Metric names one tracked latency series.
type Metric uint8

const (
	EchoRTT Metric = iota
	PktInRTT
	LinkLat
	Dp2CtrlRTT
)

var metricNames = [...]string{
	EchoRTT:    "EchoRTT",
	PktInRTT:   "PktInRTT",
	LinkLat:    "LinkLat",
	Dp2CtrlRTT: "Dp2CtrlRTT",
}

func (m Metric) String() string {
	if int(m) < len(metricNames) {
		return metricNames[m]
	}
	return fmt.Sprintf("Metric(%d)", uint8(m))
}

// LogName is the metric field of a sample log line. Link latency carries its
// port so that each port's running statistics stay on their own series.
func (m Metric) LogName(port uint32) string {
	if m == LinkLat {
		return "LinkLat_" + strconv.FormatUint(uint64(port), 10)
	}
	return m.String()
}

// ParseLogName is the inverse of LogName.
func ParseLogName(s string) (Metric, uint32, error) {
	if rest, ok := strings.CutPrefix(s, "LinkLat_"); ok {
		port, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid link latency port in %q: %w", s, err)
		}
		return LinkLat, uint32(port), nil
	}
	for i, name := range metricNames {
		if name == s && Metric(i) != LinkLat {
			return Metric(i), 0, nil
		}
	}
	return 0, 0, fmt.Errorf("unknown metric %q", s)
}
