package estimator

import (
	"container/list"
	"time"
)

// pending is one request awaiting its reply.
type pending struct {
	at   time.Time
	port uint32
}

type pendingEntry[K comparable] struct {
	key K
	pending
}

// pendingTable is a bounded correlation table. When full, the oldest entry is
// evicted. Entries are expected in capture order, so expiry scans from the front.
type pendingTable[K comparable] struct {
	capacity int
	order    *list.List
	index    map[K]*list.Element
}

func newPendingTable[K comparable](capacity int) *pendingTable[K] {
	if capacity <= 0 {
		capacity = 1
	}
	return &pendingTable[K]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element),
	}
}

// Put inserts or refreshes key. It reports whether an older entry was evicted.
func (t *pendingTable[K]) Put(key K, p pending) bool {
	if el, ok := t.index[key]; ok {
		el.Value.(*pendingEntry[K]).pending = p
		t.order.MoveToBack(el)
		return false
	}
	evicted := false
	if t.order.Len() >= t.capacity {
		t.removeElement(t.order.Front())
		evicted = true
	}
	t.index[key] = t.order.PushBack(&pendingEntry[K]{key: key, pending: p})
	return evicted
}

// Take removes and returns key.
func (t *pendingTable[K]) Take(key K) (pending, bool) {
	el, ok := t.index[key]
	if !ok {
		return pending{}, false
	}
	t.removeElement(el)
	return el.Value.(*pendingEntry[K]).pending, true
}

// Remove drops key if present.
func (t *pendingTable[K]) Remove(key K) {
	if el, ok := t.index[key]; ok {
		t.removeElement(el)
	}
}

// Oldest returns the front entry without removing it.
func (t *pendingTable[K]) Oldest() (K, pending, bool) {
	el := t.order.Front()
	if el == nil {
		var zero K
		return zero, pending{}, false
	}
	e := el.Value.(*pendingEntry[K])
	return e.key, e.pending, true
}

// Expire drops entries recorded before cutoff and returns how many went.
func (t *pendingTable[K]) Expire(cutoff time.Time) int {
	n := 0
	for el := t.order.Front(); el != nil; el = t.order.Front() {
		if !el.Value.(*pendingEntry[K]).at.Before(cutoff) {
			break
		}
		t.removeElement(el)
		n++
	}
	return n
}

func (t *pendingTable[K]) Len() int {
	return t.order.Len()
}

func (t *pendingTable[K]) removeElement(el *list.Element) {
	delete(t.index, el.Value.(*pendingEntry[K]).key)
	t.order.Remove(el)
}
