// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package slab provides the fixed-capacity slot pool shmmap's bucket table
// allocates nodes from.
//
// Slots are addressed by offset — an index into the pool's slot region —
// never by pointer, so a slot reference survives being handed to a second
// process attached to the same arena. The pool itself is a lock-free MPMC
// ring generalized from a SPSC pattern by atomic fetch-add on two
// independent indices.
//
// Every word the pool mutates — the used flag and payload of each slot, the
// free-ring entries, the write/read cursors — is laid out directly over the
// arena's backing bytes via unsafe.Pointer arithmetic from an offset
// reserved through arena.Arena.FindOrConstruct. A second Pool[T]
// constructed over the same Arena and name therefore observes the same
// slots, not a private Go-heap copy. See DESIGN.md.
package slab

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/monitoring/metrics"
)

// ErrNoMemory is returned by Allocate when the pool is exhausted.
var ErrNoMemory = errors.New("slab: pool exhausted")

const maxAllocateRetries = 4

// slotBias keeps every slot offset the pool hands out strictly greater than
// arena.NilOffset: offset 1 is otherwise both "slot index 1" and "ring
// position not yet published," and a reader can't tell those apart.
const slotBias = arena.NilOffset + 1

// Slot is one fixed-size record in the pool: a used flag plus the payload.
type Slot[T any] struct {
	used    atomic.Bool
	payload T
}

// Pool hands out and reclaims fixed-size slots by offset.
//
// N is fixed at construction; internally the pool reserves N+2 slots to
// tolerate brief over-commit between the write and read cursors.
type Pool[T any] struct {
	a        arena.Arena
	slotsOff uint64
	slotSize uint64
	ringOff  uint64
	writeIdx *atomic.Uint64
	readIdx  *atomic.Uint64
	n        uint64 // internal ring length (N+2)

	retries atomic.Uint64 // diagnostic: Allocate backoff retries observed
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a pool with capacity for n user-visible slots, reserving its
// bookkeeping region in the given arena under name (so a second process
// attached to the same arena can find the same pool metadata by name).
func New[T any](a arena.Arena, name string, n uint64) (*Pool[T], error) {
	return NewWithLogger[T](a, name, n, zerolog.Nop(), nil)
}

// NewWithLogger is New with an explicit logger for anomaly warnings (stuck
// nodes, over-free detection), and an optional metrics sink for the
// allocation-retry counter (nil disables recording).
func NewWithLogger[T any](a arena.Arena, name string, n uint64, log zerolog.Logger, m *metrics.Metrics) (*Pool[T], error) {
	internal := n + 2

	// The metadata region holds the write/read cursors: two uint64 words,
	// laid out over the arena so two Pool[T] attached to the same region
	// see the same cursors instead of racing two independent Go-native
	// atomics.
	metaOff, metaCreated, err := a.FindOrConstruct(name, 8*2)
	if err != nil {
		return nil, errors.Wrapf(err, "slab: reserve pool metadata %q", name)
	}
	ringOff, ringCreated, err := a.FindOrConstruct(name+"_queue", int(internal)*8)
	if err != nil {
		return nil, errors.Wrapf(err, "slab: reserve free ring %q", name)
	}

	var zeroSlot Slot[T]
	slotSize := uint64(unsafe.Sizeof(zeroSlot))
	total := internal + slotBias
	slotsOff, _, err := a.FindOrConstruct(name+"_slots", int(total*slotSize))
	if err != nil {
		return nil, errors.Wrapf(err, "slab: reserve slot storage %q", name)
	}

	p := &Pool[T]{
		a:        a,
		slotsOff: slotsOff,
		slotSize: slotSize,
		ringOff:  ringOff,
		n:        internal,
		log:      log,
		metrics:  m,
	}
	p.writeIdx = (*atomic.Uint64)(p.wordAt(metaOff))
	p.readIdx = (*atomic.Uint64)(p.wordAt(metaOff + 8))

	if metaCreated {
		p.writeIdx.Store(0)
		p.readIdx.Store(0)
	}
	if ringCreated {
		// Slot offsets are biased by slotBias so a freshly initialized
		// free-ring entry never collides with arena.NilOffset.
		for i := uint64(0); i < internal; i++ {
			atomic.StoreUint64(p.ringSlot(i), i+slotBias)
		}
	}
	return p, nil
}

// wordAt returns a pointer to the arena byte at off, reinterpreted by the
// caller as whatever fixed-size word belongs there.
func (p *Pool[T]) wordAt(off uint64) unsafe.Pointer {
	data := p.a.Bytes()
	return unsafe.Pointer(&data[off])
}

func (p *Pool[T]) ringSlot(i uint64) *uint64 {
	return (*uint64)(p.wordAt(p.ringOff + i*8))
}

func (p *Pool[T]) slotAt(offset uint64) *Slot[T] {
	return (*Slot[T])(p.wordAt(p.slotsOff + offset*p.slotSize))
}

// total is the number of addressable slot indices, including the slotBias
// offsets that are never handed out.
func (p *Pool[T]) total() uint64 { return p.n + slotBias }

// Cap returns the internal ring length (N+2).
func (p *Pool[T]) Cap() uint64 { return p.n }

// Retries returns the number of times Allocate has backed off and retried
// after observing a claimed-but-unpublished ring slot.
func (p *Pool[T]) Retries() uint64 { return p.retries.Load() }

// Allocate claims a free slot and marks it used, returning its offset.
// Returns ErrNoMemory if the pool is exhausted.
//
// A fetch-add on read_idx can race a freer that has incremented write_idx
// but not yet published its offset into the ring, observing a spurious
// empty slot even though the pool has room. Allocate resolves that with a
// short bounded backoff instead of propagating the spurious failure to the
// caller.
func (p *Pool[T]) Allocate() (uint64, error) {
	for attempt := 0; ; attempt++ {
		idx := p.readIdx.Add(1) - 1
		slotIdx := idx % p.n

		ringPtr := p.ringSlot(slotIdx)
		offset := atomic.LoadUint64(ringPtr)
		if offset == arena.NilOffset {
			if attempt < maxAllocateRetries {
				p.retries.Add(1)
				if p.metrics != nil {
					p.metrics.RecordAllocRetry()
				}
				continue
			}
			return 0, ErrNoMemory
		}

		atomic.StoreUint64(ringPtr, arena.NilOffset)
		p.slotAt(offset).used.Store(true)
		return offset, nil
	}
}

// Free returns a slot to the pool. Idempotent: freeing an already-free slot
// is a no-op.
func (p *Pool[T]) Free(offset uint64) {
	if !p.slotAt(offset).used.CompareAndSwap(true, false) {
		return
	}
	idx := p.writeIdx.Add(1) - 1
	// write_idx must never overtake read_idx; a violation indicates a
	// double-free. The CAS above already makes a concurrent double-Free on
	// the same offset a no-op, so this can only fire from a bookkeeping bug
	// elsewhere.
	if idx > p.readIdx.Load() {
		p.log.Warn().
			Uint64("write_idx", idx).
			Uint64("read_idx", p.readIdx.Load()).
			Uint64("offset", offset).
			Msg("slab: write_idx overtook read_idx, possible double-free")
	}
	atomic.StoreUint64(p.ringSlot(idx%p.n), offset)
}

// Get returns a pointer to the payload at offset iff the slot is currently
// used: non-nil iff used && offset != NilOffset.
func (p *Pool[T]) Get(offset uint64) *T {
	if offset == arena.NilOffset || offset >= p.total() {
		return nil
	}
	s := p.slotAt(offset)
	if !s.used.Load() {
		return nil
	}
	return &s.payload
}

// Used reports whether the slot at offset is currently allocated.
func (p *Pool[T]) Used(offset uint64) bool {
	if offset >= p.total() {
		return false
	}
	return p.slotAt(offset).used.Load()
}

// Len returns the number of internal slots (N+2), plus the slotBias
// reserved indices.
func (p *Pool[T]) Len() int { return int(p.total()) }

// SyncMemory reconciles the pool against a caller-supplied set of live
// offsets after a restart. Any slot marked used whose offset is not in
// live is force-freed; any slot marked free that is not present in the
// free ring is returned to the ring. This is advisory, intended for clean
// restart only, not a crash-recovery protocol.
func (p *Pool[T]) SyncMemory(live map[uint64]struct{}) {
	inRing := make(map[uint64]struct{}, p.n)
	for i := uint64(0); i < p.n; i++ {
		off := atomic.LoadUint64(p.ringSlot(i))
		if off != arena.NilOffset {
			inRing[off] = struct{}{}
		}
	}

	total := p.total()
	for i := uint64(slotBias); i < total; i++ {
		if p.slotAt(i).used.Load() {
			if _, ok := live[i]; !ok {
				p.Free(i)
			}
		} else if _, ok := inRing[i]; !ok {
			p.slotAt(i).used.Store(true)
			p.Free(i)
		}
	}
}
