// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package reclaim implements the two-phase epoch-style reclaimer: a
// mark-then-sweep scan that unlinks expired nodes into a single-writer
// garbage list, followed by a quiescence-gated free that returns their
// slab slots to the pool only after two break-time-separated sweeps have
// observed the node.
package reclaim

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/concurrency/epoch"
	"github.com/kianostad/shmmap/internal/monitoring/metrics"
	"github.com/kianostad/shmmap/internal/storage/bucket"
	"github.com/kianostad/shmmap/internal/storage/node"
)

// DefaultBreakTime is the minimum wall-clock gap between successive
// reclaimer sweeps, and the quiescence window each one provides.
const DefaultBreakTime = 2 * time.Second

// DefaultGrace is the extra time after expire_at before a stuck-COLLECTING
// node is force-enlisted.
const DefaultGrace = 10 * time.Second

// Reclaimer runs the scan + safe-free protocol for one map instance.
//
// The garbage list's head/tail anchors are reserved as named regions on the
// same Arena the bucket table and slab pool already use ("<name>_garbage_head",
// "<name>_garbage_tail"), laid out over the arena's backing bytes via
// unsafe.Pointer the same way bucket.Table.bucketAt and slab.Pool's
// write/read cursors are, not kept as process-local fields. A second
// process attached to the same named region discovers the same garbage
// list instead of starting a disjoint one; the garbage list itself remains
// single-writer (whichever process's reclaimer wins the throttling gate),
// only its anchors are shared.
type Reclaimer[V any] struct {
	a     arena.Arena
	table *bucket.Table[V]
	gate  *epoch.Gate
	grace int64

	garbageHead *atomic.Uint64
	garbageTail *atomic.Uint64
	garbageLen  atomic.Uint64

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a reclaimer over table, reserving its garbage-list head/tail
// anchors in arena a under name (the same map name passed to core.New).
// breakTime/grace of zero select the package defaults (2s / 10s).
func New[V any](a arena.Arena, name string, table *bucket.Table[V], breakTime, grace time.Duration, m *metrics.Metrics, log zerolog.Logger) (*Reclaimer[V], error) {
	if breakTime <= 0 {
		breakTime = DefaultBreakTime
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	headOff, headCreated, err := a.FindOrConstruct(name+"_garbage_head", 8)
	if err != nil {
		return nil, errors.Wrapf(err, "reclaim: reserve garbage head %q", name)
	}
	tailOff, tailCreated, err := a.FindOrConstruct(name+"_garbage_tail", 8)
	if err != nil {
		return nil, errors.Wrapf(err, "reclaim: reserve garbage tail %q", name)
	}

	r := &Reclaimer[V]{
		a:           a,
		table:       table,
		gate:        epoch.NewGate(int64(breakTime / time.Second)),
		grace:       int64(grace / time.Second),
		garbageHead: (*atomic.Uint64)(wordAt(a, headOff)),
		garbageTail: (*atomic.Uint64)(wordAt(a, tailOff)),
		metrics:     m,
		log:         log,
	}
	if headCreated {
		r.garbageHead.Store(arena.NilOffset)
	}
	if tailCreated {
		r.garbageTail.Store(arena.NilOffset)
	}
	return r, nil
}

// wordAt returns a pointer to the arena byte at off, reinterpreted by the
// caller as whatever fixed-size word belongs there.
func wordAt(a arena.Arena, off uint64) unsafe.Pointer {
	return unsafe.Pointer(&a.Bytes()[off])
}

// GC runs one throttled sweep. It is safe to call from any goroutine; at
// most one caller actually sweeps per break-time window.
func (r *Reclaimer[V]) GC(now time.Time) {
	if !r.gate.TryEnter(now) {
		return
	}
	start := time.Now()
	scanned, enlisted, stuck := r.scan(now.Unix())
	freed := r.safeFree()
	r.log.Debug().
		Dur("duration", time.Since(start)).
		Uint64("scanned", scanned).
		Uint64("enlisted", enlisted).
		Uint64("stuck", stuck).
		Uint64("freed", freed).
		Msg("reclaim: gc cycle complete")
	if r.metrics != nil {
		r.metrics.RecordGCCycle(time.Since(start), scanned, enlisted, stuck, freed)
		r.metrics.SetGarbageListLength(r.garbageLen.Load())
	}
}

// scan is Phase 1: walk every bucket, unlinking expired nodes onto the
// garbage list. Returns counts for metrics.
func (r *Reclaimer[V]) scan(now int64) (scanned, enlisted, stuck uint64) {
	pool := r.table.Pool()
	for idx := uint64(0); idx < r.table.Size(); idx++ {
		p0Off := r.table.Head(idx)
		p0 := pool.Get(p0Off)
		if p0 == nil {
			continue
		}

		p1Off := p0.LoadNext()
		p1 := pool.Get(p1Off)

		// Interior walk: stop before the current tail, so the reclaimer
		// never chases a node appended after this scan began.
		for p1 != nil && p1.LoadNext() != arena.NilOffset {
			scanned++
			if p1.IsExpired(now) {
				if p1.CAS(node.Valid, node.Collecting) {
					nextOff := p1.LoadNext()
					r.unlinkAndEnlist(idx, p0, p1Off, p1, nextOff)
					enlisted++
					p1Off = nextOff
					p1 = pool.Get(p1Off)
					continue
				} else if p1.State() == node.Collecting && p1.ExpireAt() < now-r.grace {
					stuck++
					r.log.Warn().
						Uint64("bucket", idx).
						Uint64("offset", p1Off).
						Int64("expired_for_s", now-p1.ExpireAt()).
						Msg("reclaim: force-enlisting stuck COLLECTING node past GRACE")
					nextOff := p1.LoadNext()
					r.unlinkAndEnlist(idx, p0, p1Off, p1, nextOff)
					p1Off = nextOff
					p1 = pool.Get(p1Off)
					continue
				}
			}
			p0 = p1
			p1Off = p1.LoadNext()
			p1 = pool.Get(p1Off)
		}

		r.scanHead(idx)
	}
	return scanned, enlisted, stuck
}

func (r *Reclaimer[V]) unlinkAndEnlist(idx uint64, p0 *node.Node, p1Off uint64, p1 *node.Node, nextOff uint64) {
	p0.SetNext(nextOff)
	r.table.DecrementCount(idx)
	if p1.Enlist() {
		r.appendGarbage(p1Off, p1)
	}
}

// scanHead handles the bucket head separately: if the head is expired,
// CAS it to COLLECTING, enlist it, and advance head, special-casing the
// single-node chain where head == tail.
func (r *Reclaimer[V]) scanHead(idx uint64) {
	pool := r.table.Pool()
	p0Off := r.table.Head(idx)
	p0 := pool.Get(p0Off)
	if p0 == nil {
		return
	}
	now := time.Now().Unix()
	if !p0.IsExpired(now) {
		return
	}
	if !p0.CAS(node.Valid, node.Collecting) {
		return
	}
	r.table.DecrementCount(idx)
	if p0.Enlist() {
		r.appendGarbage(p0Off, p0)
	}

	if r.table.Tail(idx) == p0Off {
		if r.table.CASTail(idx, p0Off, arena.NilOffset) {
			r.table.SetHead(idx, arena.NilOffset)
		} else {
			// a concurrent inserter just took the tail; the chain is no
			// longer a single node, so head simply advances past p0.
			r.table.SetHead(idx, p0.LoadNext())
		}
	} else {
		r.table.SetHead(idx, p0.LoadNext())
	}
}

// appendGarbage pushes node at offset off onto the single-writer garbage
// list. Safe without a lock because only the gc goroutine that won the
// gate ever calls this.
func (r *Reclaimer[V]) appendGarbage(off uint64, n *node.Node) {
	n.SetDelNext(arena.NilOffset)
	if r.garbageHead.Load() == arena.NilOffset {
		r.garbageHead.Store(off)
		r.garbageTail.Store(off)
	} else {
		tailOff := r.garbageTail.Load()
		if tail := r.table.Pool().Get(tailOff); tail != nil {
			tail.SetDelNext(off)
		}
		r.garbageTail.Store(off)
	}
	r.garbageLen.Add(1)
}

// safeFree is Phase 2: walk the garbage list, freeing any node whose state
// word has now been bumped twice.
func (r *Reclaimer[V]) safeFree() uint64 {
	pool := r.table.Pool()
	var freed uint64

	p0Off := r.garbageHead.Load()
	p0 := pool.Get(p0Off)
	if p0 == nil {
		return 0
	}

	// The list head has no predecessor entry to repoint past it, so the
	// p0/p1 walk below can never bump or free it; handle it separately,
	// mirroring scanHead's separate treatment of a bucket's head
	// offset. Without this, the first node ever enlisted stays at
	// WAITING_DELETE forever and permanently leaks its slot.
	if p0.BumpState() == node.WaitingDelete {
		next := p0.DelNext()
		r.table.Free(p0Off)
		freed++
		r.garbageLen.Add(^uint64(0))
		if next == arena.NilOffset {
			r.garbageHead.Store(arena.NilOffset)
			r.garbageTail.Store(arena.NilOffset)
			if r.metrics != nil {
				r.metrics.SetPoolUsed(r.poolUsed())
			}
			return freed
		}
		r.garbageHead.Store(next)
		p0Off = next
		p0 = pool.Get(p0Off)
		if p0 == nil {
			return freed
		}
	}

	p1Off := p0.DelNext()
	p1 := pool.Get(p1Off)

	for p1 != nil {
		prior := p1.BumpState()
		if prior == node.WaitingDelete {
			p0.SetDelNext(p1.DelNext())
			r.table.Free(p1Off)
			freed++
			r.garbageLen.Add(^uint64(0))
			p1Off = p0.DelNext()
			p1 = pool.Get(p1Off)
		} else {
			p0 = p1
			p1Off = p1.DelNext()
			p1 = pool.Get(p1Off)
		}
	}
	r.garbageTail.Store(p0Off)
	if r.metrics != nil {
		r.metrics.SetPoolUsed(r.poolUsed())
	}
	return freed
}

func (r *Reclaimer[V]) poolUsed() uint64 {
	pool := r.table.Pool()
	var used uint64
	for i := uint64(0); i < uint64(pool.Len()); i++ {
		if pool.Used(i) {
			used++
		}
	}
	return used
}

// GarbageListLength returns the current approximate garbage list length.
func (r *Reclaimer[V]) GarbageListLength() uint64 { return r.garbageLen.Load() }
