package latency

import (
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/engine/statistic"
	"sort"
)

// Series is one metric of one endpoint as written by the snapshot writers.
type Series struct {
	Metric   statistic.Metric
	LinkPort uint32
	Summary  statistic.Summary
}

// Name is the series' log vocabulary name.
func (s Series) Name() string {
	return s.Metric.LogName(s.LinkPort)
}

// SeriesOf flattens an endpoint snapshot into its non-empty series, link
// ports in ascending order.
func SeriesOf(st registry.EndpointStats) []Series {
	var out []Series
	add := func(m statistic.Metric, port uint32, sum statistic.Summary) {
		if sum.Count > 0 {
			out = append(out, Series{Metric: m, LinkPort: port, Summary: sum})
		}
	}
	add(statistic.EchoRTT, 0, st.EchoRTT)
	add(statistic.PktInRTT, 0, st.PktInRTT)
	add(statistic.Dp2CtrlRTT, 0, st.Dp2Ctrl)

	ports := make([]uint32, 0, len(st.LinkLat))
	for port := range st.LinkLat {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	for _, port := range ports {
		add(statistic.LinkLat, port, st.LinkLat[port])
	}
	return out
}
