package model

import (
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/registry"
	"OFSniff/internal/engine/statistic"
	"net"
	"time"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Sample is one latency measurement together with the running statistics of
// its series right after it was folded in.
type Sample struct {
	Time     time.Time
	Endpoint endpoint.Endpoint
	Metric   statistic.Metric
	Port     uint32 // link port, LinkLat only
	Value    float64
	Summary  statistic.Summary
}

// Snapshot is a consistent copy of the endpoint registry taken at one instant.
type Snapshot struct {
	Taken     time.Time
	Endpoints []registry.EndpointStats
}
