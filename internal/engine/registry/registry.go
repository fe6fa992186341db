package registry

import (
	"OFSniff/internal/endpoint"
	"OFSniff/internal/engine/statistic"
	"encoding/binary"
	"hash/fnv"
	"sort"
	"sync"
)

const defaultShardCount = 64

// Entry holds every accumulator of one endpoint. Its lock is held only for the
// duration of one update or one copy.
type Entry struct {
	mu      sync.RWMutex
	echo    *statistic.Accumulator
	pktIn   *statistic.Accumulator
	dp2Ctrl *statistic.Accumulator
	links   map[uint32]*statistic.Accumulator
}

func newEntry() *Entry {
	return &Entry{
		echo:    statistic.New(),
		pktIn:   statistic.New(),
		dp2Ctrl: statistic.New(),
		links:   make(map[uint32]*statistic.Accumulator),
	}
}

// shard is a part of the sharded endpoint map.
type shard struct {
	mu        sync.RWMutex
	endpoints map[endpoint.Endpoint]*Entry
}

// EndpointStats is the snapshot of one endpoint.
type EndpointStats struct {
	Endpoint endpoint.Endpoint
	EchoRTT  statistic.Summary
	PktInRTT statistic.Summary
	Dp2Ctrl  statistic.Summary
	LinkLat  map[uint32]statistic.Summary
}

// Registry is the set of known endpoints and their accumulators. A single
// writer (the capture goroutine) mutates it; any number of readers query it.
type Registry struct {
	shards     []*shard
	shardCount uint32
}

// New creates a registry. numShards <= 0 selects the default.
func New(numShards int) *Registry {
	if numShards <= 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	r := &Registry{
		shards:     make([]*shard, numShards),
		shardCount: uint32(numShards),
	}
	for i := range r.shards {
		r.shards[i] = &shard{endpoints: make(map[endpoint.Endpoint]*Entry)}
	}
	return r
}

// getShard returns the shard owning ep.
func (r *Registry) getShard(ep endpoint.Endpoint) *shard {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(ep))
	hasher := fnv.New32a()
	hasher.Write(key[:])
	return r.shards[hasher.Sum32()%r.shardCount]
}

// Ensure returns the entry for ep, creating it if needed.
func (r *Registry) Ensure(ep endpoint.Endpoint) *Entry {
	s := r.getShard(ep)
	s.mu.RLock()
	e, ok := s.endpoints[ep]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.endpoints[ep]; ok {
		return e
	}
	e = newEntry()
	s.endpoints[ep] = e
	return e
}

// Contains reports whether ep is registered.
func (r *Registry) Contains(ep endpoint.Endpoint) bool {
	s := r.getShard(ep)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.endpoints[ep]
	return ok
}

// Remove drops ep and all of its accumulators.
func (r *Registry) Remove(ep endpoint.Endpoint) bool {
	s := r.getShard(ep)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep]; !ok {
		return false
	}
	delete(s.endpoints, ep)
	return true
}

// Record adds a sample to ep's metric, creating ep if needed. port is used
// only for LinkLat.
func (r *Registry) Record(ep endpoint.Endpoint, metric statistic.Metric, port uint32, sample float64) statistic.Summary {
	e := r.Ensure(ep)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accumulator(metric, port, true).Add(sample)
}

// Summary returns a copy of one metric's statistics. It fails with
// statistic.ErrNoSample for unknown endpoints, ports and empty series.
func (r *Registry) Summary(ep endpoint.Endpoint, metric statistic.Metric, port uint32) (statistic.Summary, error) {
	s := r.getShard(ep)
	s.mu.RLock()
	e, ok := s.endpoints[ep]
	s.mu.RUnlock()
	if !ok {
		return statistic.Summary{}, statistic.ErrNoSample
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	acc := e.accumulator(metric, port, false)
	if acc == nil {
		return statistic.Summary{}, statistic.ErrNoSample
	}
	sum := acc.Summary()
	return sum, sum.Check()
}

// accumulator selects a series. Callers hold e.mu (write lock when create is set).
func (e *Entry) accumulator(metric statistic.Metric, port uint32, create bool) *statistic.Accumulator {
	switch metric {
	case statistic.EchoRTT:
		return e.echo
	case statistic.PktInRTT:
		return e.pktIn
	case statistic.Dp2CtrlRTT:
		return e.dp2Ctrl
	case statistic.LinkLat:
		acc, ok := e.links[port]
		if !ok && create {
			acc = statistic.New()
			e.links[port] = acc
		}
		return acc
	}
	return nil
}

// Endpoints returns the registered endpoints in ascending order.
func (r *Registry) Endpoints() []endpoint.Endpoint {
	var out []endpoint.Endpoint
	for _, s := range r.shards {
		s.mu.RLock()
		for ep := range s.endpoints {
			out = append(out, ep)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.endpoints)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot deep-copies every endpoint's statistics. Shards are copied in
// parallel, each under its read lock.
func (r *Registry) Snapshot() []EndpointStats {
	perShard := make([][]EndpointStats, r.shardCount)
	var wg sync.WaitGroup
	wg.Add(int(r.shardCount))

	for i := 0; i < int(r.shardCount); i++ {
		go func(i int) {
			defer wg.Done()
			s := r.shards[i]

			s.mu.RLock()
			entries := make(map[endpoint.Endpoint]*Entry, len(s.endpoints))
			for ep, e := range s.endpoints {
				entries[ep] = e
			}
			s.mu.RUnlock()

			stats := make([]EndpointStats, 0, len(entries))
			for ep, e := range entries {
				stats = append(stats, e.snapshot(ep))
			}
			perShard[i] = stats
		}(i)
	}
	wg.Wait()

	var out []EndpointStats
	for _, stats := range perShard {
		out = append(out, stats...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (e *Entry) snapshot(ep endpoint.Endpoint) EndpointStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := EndpointStats{
		Endpoint: ep,
		EchoRTT:  e.echo.Summary(),
		PktInRTT: e.pktIn.Summary(),
		Dp2Ctrl:  e.dp2Ctrl.Summary(),
		LinkLat:  make(map[uint32]statistic.Summary, len(e.links)),
	}
	for port, acc := range e.links {
		st.LinkLat[port] = acc.Summary()
	}
	return st
}

// Reset removes every endpoint.
func (r *Registry) Reset() {
	for _, s := range r.shards {
		s.mu.Lock()
		s.endpoints = make(map[endpoint.Endpoint]*Entry)
		s.mu.Unlock()
	}
}
