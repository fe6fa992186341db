package estimator

import "time"

// probeRole says which half of an exchange a recorded probe is.
type probeRole uint8

const (
	// pingOut is a ping the controller sent through a Packet-Out.
	pingOut probeRole = iota
	// pingIn is a ping a switch delivered through a Packet-In.
	pingIn
)

type probeKey struct {
	id   string
	role probeRole
}

// probeTable records probes seen on one endpoint. Besides the overall
// capacity, each port keeps at most perPort outstanding probes.
type probeTable struct {
	table   *pendingTable[probeKey]
	perPort int
	byPort  map[uint32][]probeKey
}

func newProbeTable(capacity, perPort int) *probeTable {
	if perPort <= 0 {
		perPort = 1
	}
	return &probeTable{
		table:   newPendingTable[probeKey](capacity),
		perPort: perPort,
		byPort:  make(map[uint32][]probeKey),
	}
}

func (t *probeTable) Put(key probeKey, port uint32, at time.Time) {
	t.detach(key)
	keys := t.byPort[port]
	for len(keys) >= t.perPort {
		t.table.Remove(keys[0])
		keys = keys[1:]
	}
	if t.table.Put(key, pending{at: at, port: port}) {
		t.prune()
		keys = t.byPort[port]
	}
	t.byPort[port] = append(keys, key)
}

func (t *probeTable) Take(key probeKey) (pending, bool) {
	p, ok := t.table.Take(key)
	if ok {
		t.detachFrom(p.port, key)
	}
	return p, ok
}

func (t *probeTable) Expire(cutoff time.Time) int {
	n := t.table.Expire(cutoff)
	if n > 0 {
		t.prune()
	}
	return n
}

func (t *probeTable) Len() int {
	return t.table.Len()
}

// detach removes key from whichever port list holds it.
func (t *probeTable) detach(key probeKey) {
	if el, ok := t.table.index[key]; ok {
		t.detachFrom(el.Value.(*pendingEntry[probeKey]).port, key)
		t.table.Remove(key)
	}
}

func (t *probeTable) detachFrom(port uint32, key probeKey) {
	keys := t.byPort[port]
	for i, k := range keys {
		if k == key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(t.byPort, port)
		return
	}
	t.byPort[port] = keys
}

// prune drops port list entries whose probe left the table.
func (t *probeTable) prune() {
	for port, keys := range t.byPort {
		live := keys[:0]
		for _, k := range keys {
			if _, ok := t.table.index[k]; ok {
				live = append(live, k)
			}
		}
		if len(live) == 0 {
			delete(t.byPort, port)
		} else {
			t.byPort[port] = live
		}
	}
}
