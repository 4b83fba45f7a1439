// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package bucket implements the chained hash table: an array of B
// singly-linked chains of slab-resident nodes, each with a head offset and
// an atomically-exchanged tail, grown only by appending at the tail.
// Unlinking is exclusively the reclaimer's job (internal/storage/reclaim)
// — this package never removes a node from a chain itself.
package bucket

import (
	"sync/atomic"
	"unsafe"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/hashfn"
	"github.com/kianostad/shmmap/internal/storage/node"
	"github.com/kianostad/shmmap/internal/storage/slab"
)

// Bucket is one hash slot: an approximate live-node counter plus head/tail
// anchors into the slab. head is kept atomic purely so Go's race detector
// and memory model are satisfied under concurrent access; the spec's
// single-writer-at-a-time discipline on head (the inserter that observed an
// empty chain, or the reclaimer) is unchanged.
type Bucket struct {
	count atomic.Uint32
	head  atomic.Uint64
	tail  atomic.Uint64
}

// Table is the bucket array for one map instance. The bucket array itself
// is laid out directly over the arena's backing bytes at the offset
// reserved for name, the same unsafe.Pointer-arithmetic technique
// internal/storage/slab uses for its slots — so a second Table
// constructed over the same Arena and name addresses the identical
// buckets instead of a private Go-heap copy.
//
// A node's value is not part of that arena-resident layout: V may hold Go
// pointers (a string, a slice, a struct with either), and the arena's
// backing bytes are never scanned by the garbage collector. values is an
// ordinary Go slice indexed by slot offset, kept on the normal Go heap
// where the collector can see it — node.Node itself only ever holds the
// pointer-free bookkeeping (key, links, state). See DESIGN.md.
type Table[V any] struct {
	a          arena.Arena
	bucketsOff uint64
	bucketSize uint64
	size       uint64
	pool       *slab.Pool[node.Node]
	values     []V
	hash       hashfn.Func
	mask       uint64
	created    bool // this Table's New reserved the bucket region
}

// New creates a bucket table of b buckets, rounded up to a power of two,
// reserving its region in the given arena under name.
func New[V any](a arena.Arena, name string, b uint64, pool *slab.Pool[node.Node], hash hashfn.Func) (*Table[V], error) {
	if b == 0 || (b&(b-1)) != 0 {
		b = nextPowerOfTwo(b)
	}
	var zero Bucket
	bucketSize := uint64(unsafe.Sizeof(zero))
	off, created, err := a.FindOrConstruct(name, int(b*bucketSize))
	if err != nil {
		return nil, err
	}
	return &Table[V]{
		a:          a,
		bucketsOff: off,
		bucketSize: bucketSize,
		size:       b,
		pool:       pool,
		values:     make([]V, pool.Len()),
		hash:       hash,
		mask:       b - 1,
		created:    created,
	}, nil
}

func nextPowerOfTwo(n uint64) uint64 {
	if n < 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Size returns the number of buckets.
func (t *Table[V]) Size() uint64 { return t.size }

// Index returns the bucket index a key hashes to.
func (t *Table[V]) Index(key []byte) uint64 {
	return uint64(t.hash(key)) & t.mask
}

func (t *Table[V]) bucketAt(idx uint64) *Bucket {
	data := t.a.Bytes()
	return (*Bucket)(unsafe.Pointer(&data[t.bucketsOff+idx*t.bucketSize]))
}

// Lookup walks the chain at bucket idx looking for key, tolerating the
// torn-tail race: a reader that observes tail advanced past the previous
// node before that node's next pointer is published simply stops one short
// and reports not-found; a subsequent Lookup will see the link once the
// inserter finishes.
func (t *Table[V]) Lookup(idx uint64, key []byte) (*node.Node, uint64) {
	b := t.bucketAt(idx)
	off := b.head.Load()
	for off != arena.NilOffset {
		n := t.pool.Get(off)
		if n == nil {
			return nil, arena.NilOffset
		}
		if bytesEqual(n.Key(), key) {
			return n, off
		}
		off = n.LoadNext()
	}
	return nil, arena.NilOffset
}

// Append allocates a fresh node for (key, value, expireAt) and publishes it
// at the tail of bucket idx via an atomic exchange of bucket.tail with the
// new node's offset, then writes old_tail.next = new_node_offset (if
// old_tail was non-nil) or bucket.head = new_node_offset (if the chain was
// empty).
func (t *Table[V]) Append(idx uint64, key []byte, value V, expireAt int64) (uint64, error) {
	off, err := t.pool.Allocate()
	if err != nil {
		return arena.NilOffset, err
	}
	n := t.pool.Get(off)
	if err := n.Reset(key, expireAt); err != nil {
		t.pool.Free(off)
		return arena.NilOffset, err
	}
	t.values[off] = value

	b := t.bucketAt(idx)
	oldOff := b.tail.Swap(off)
	if oldOff == arena.NilOffset {
		b.head.Store(off)
	} else {
		old := t.pool.Get(oldOff)
		if old != nil {
			old.SetNext(off)
		} else {
			// the previous tail was concurrently freed by the reclaimer
			// between our Swap and this Get; fall back to treating the
			// chain as if it had been empty, per the torn-tail tolerance
			// readers also rely on.
			b.head.Store(off)
		}
	}
	b.count.Add(1)
	return off, nil
}

// InitBuckets sets every bucket's head/tail to arena.NilOffset. Must be
// called once after New, before any Append/Lookup — Go zero-values
// atomic.Uint64 to 0, which collides with the legal slot-0 offset, so the
// sentinel has to be written explicitly rather than relied upon as the
// zero value. When the bucket region already existed under this name
// before New, InitBuckets leaves it untouched so the existing chains stay
// in place.
func (t *Table[V]) InitBuckets() {
	if !t.created {
		return
	}
	for i := uint64(0); i < t.size; i++ {
		b := t.bucketAt(i)
		b.head.Store(arena.NilOffset)
		b.tail.Store(arena.NilOffset)
	}
}

// Count returns the sum of all buckets' approximate live-node counters.
func (t *Table[V]) Count() uint64 {
	var sum uint64
	for i := uint64(0); i < t.size; i++ {
		sum += uint64(t.bucketAt(i).count.Load())
	}
	return sum
}

// DecrementCount is called by the reclaimer after unlinking an expired
// node.
func (t *Table[V]) DecrementCount(idx uint64) {
	t.bucketAt(idx).count.Add(^uint32(0))
}

// Head returns the current head offset of bucket idx.
func (t *Table[V]) Head(idx uint64) uint64 { return t.bucketAt(idx).head.Load() }

// SetHead stores a new head offset for bucket idx. Used only by the
// reclaimer, which owns head mutation once a scan begins.
func (t *Table[V]) SetHead(idx uint64, off uint64) { t.bucketAt(idx).head.Store(off) }

// Tail returns the current tail offset of bucket idx.
func (t *Table[V]) Tail(idx uint64) uint64 { return t.bucketAt(idx).tail.Load() }

// CASTail attempts to compare-and-swap the tail offset of bucket idx.
func (t *Table[V]) CASTail(idx uint64, from, to uint64) bool {
	return t.bucketAt(idx).tail.CompareAndSwap(from, to)
}

// Pool exposes the underlying slab pool so the reclaimer can resolve
// offsets to nodes once they are safe to reuse. Freeing a slot goes
// through Table.Free, not the pool directly, so the value side table
// stays in sync.
func (t *Table[V]) Pool() *slab.Pool[node.Node] { return t.pool }

// ValueAt returns the value stored for the node at slot offset off.
func (t *Table[V]) ValueAt(off uint64) V { return t.values[off] }

// SetValueAt stores value for the node at slot offset off, used for the
// CAS-protected in-place update path on an existing live node.
func (t *Table[V]) SetValueAt(off uint64, value V) { t.values[off] = value }

// Free returns a node's slot to the pool and clears its entry from the
// value side table, so a freed slot doesn't keep its old payload
// GC-reachable until the slot is reused.
func (t *Table[V]) Free(off uint64) {
	t.pool.Free(off)
	var zero V
	t.values[off] = zero
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
