package progress

import (
	"sync"
	"time"
)

// Confirmed is an authoritative record as the server reported it.
//
// AckSeq is set when the record is the response to a durable write we issued and
// names the local sequence number that write carried. Push records leave it zero
// and are ordered by UpdatedAt alone.
type Confirmed[V any] struct {
	Value     V
	UpdatedAt time.Time
	AckSeq    uint64
}

func (c Confirmed[V]) newerThan(o Confirmed[V]) bool {
	if !c.UpdatedAt.Equal(o.UpdatedAt) {
		return c.UpdatedAt.After(o.UpdatedAt)
	}
	return c.AckSeq > o.AckSeq
}

type entry[V any] struct {
	confirmed    Confirmed[V]
	hasConfirmed bool
	// ackSeq and pushAt are tracked apart from confirmed so a newer push cannot hide
	// an acknowledgement (or the reverse).
	ackSeq uint64
	pushAt time.Time

	local    V
	localSeq uint64
	localAt  time.Time
	hasLocal bool
	// baseAt is the confirmed stamp the local write was derived from, so a later
	// push can also be ordered against it on the server's own clock.
	baseAt  time.Time
	hasBase bool
}

// pending reports whether the optimistic value is newer than everything confirmed.
func (e *entry[V]) pending() bool {
	if !e.hasLocal {
		return false
	}
	if e.ackSeq >= e.localSeq {
		return false
	}
	if e.hasBase && e.pushAt.After(e.baseAt) {
		return false
	}
	return !e.pushAt.After(e.localAt)
}

func (e *entry[V]) visible() (V, bool) {
	if e.pending() {
		return e.local, true
	}
	if e.hasConfirmed {
		return e.confirmed.Value, true
	}
	var zero V
	return zero, false
}

// Ledger merges optimistic local writes with confirmed server records per key.
//
// Each side only ever moves forward: confirmed keeps the newest server record,
// the ack watermark and push watermark only grow, and local keeps the highest
// sequence. The visible value is a function of those, so applying the same record
// twice or in any order against a local write converges to the same state.
type Ledger[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	seq     uint64
	now     func() time.Time
}

func NewLedger[K comparable, V any](now func() time.Time) *Ledger[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Ledger[K, V]{entries: make(map[K]*entry[V]), now: now}
}

func (l *Ledger[K, V]) get(key K) *entry[V] {
	e, ok := l.entries[key]
	if !ok {
		e = &entry[V]{}
		l.entries[key] = e
	}
	return e
}

// ApplyLocal derives a new optimistic value from the visible one and returns it with
// the sequence number a durable write should echo back as its AckSeq.
func (l *Ledger[K, V]) ApplyLocal(key K, next func(prev V, ok bool) V) (V, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.get(key)
	prev, ok := e.visible()
	l.seq++
	e.local = next(prev, ok)
	e.localSeq = l.seq
	e.localAt = l.now()
	e.hasLocal = true
	e.baseAt, e.hasBase = e.confirmed.UpdatedAt, e.hasConfirmed
	return e.local, e.localSeq
}

// Stamp fills a missing UpdatedAt with the arrival time so unstamped records
// still order after what is already confirmed.
func (l *Ledger[K, V]) Stamp(rec Confirmed[V]) Confirmed[V] {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = l.now()
	}
	return rec
}

// ApplyServer merges rec and returns the visible value afterwards plus whether the
// confirmed side changed. A zero UpdatedAt is stamped on arrival.
func (l *Ledger[K, V]) ApplyServer(key K, rec Confirmed[V]) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec = l.Stamp(rec)
	e := l.get(key)
	changed := false
	if !e.hasConfirmed || rec.newerThan(e.confirmed) {
		e.confirmed = rec
		e.hasConfirmed = true
		changed = true
	}
	if rec.AckSeq > e.ackSeq {
		e.ackSeq = rec.AckSeq
	}
	if rec.AckSeq == 0 && rec.UpdatedAt.After(e.pushAt) {
		e.pushAt = rec.UpdatedAt
	}
	v, _ := e.visible()
	return v, changed
}

// Get returns the visible value for key.
func (l *Ledger[K, V]) Get(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.visible()
}

// Pending reports whether key shows an unconfirmed optimistic value.
func (l *Ledger[K, V]) Pending(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return ok && e.pending()
}

// Confirmed returns every confirmed record, for durable snapshots.
func (l *Ledger[K, V]) Confirmed() map[K]Confirmed[V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[K]Confirmed[V], len(l.entries))
	for k, e := range l.entries {
		if e.hasConfirmed {
			out[k] = e.confirmed
		}
	}
	return out
}
