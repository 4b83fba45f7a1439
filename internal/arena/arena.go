// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package arena provides the byte-addressed regions that back shmmap's
// slab pool and bucket table.
//
// Every persistent reference inside shmmap is a byte offset into an Arena,
// never a native pointer: the region an Arena wraps may be mapped at a
// different base address in every process that attaches to it, so a plain
// *T pointer recorded by one process is meaningless in another. Offsets are
// always translated through the current process's Bytes() at the point of
// dereference.
//
// Two implementations are provided: Heap, a plain Go byte slice for tests
// and single-process use, and Shared, an anonymous MAP_SHARED mapping that
// remains valid across a fork, the actual multi-process case this package
// exists for.
package arena

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// NilOffset is the sentinel meaning "no reference." Offset 0 is a legal
// slot position, so the sentinel cannot be 0.
const NilOffset uint64 = 1

// wordAlign is the alignment every named region is reserved at. Slab and
// bucket place atomic/atomic.Uint64-bearing structs directly over the
// arena's bytes via unsafe.Pointer arithmetic (see internal/storage/slab,
// internal/storage/bucket); those words must never straddle an alignment
// boundary, so every offset FindOrConstruct/Allocate hands out is rounded
// up to a multiple of this.
const wordAlign = 8

// AlignUp rounds n up to the next multiple of align, which must be a power
// of two.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// ErrOutOfSpace is returned by Allocate when the arena has no room left for
// a new named region.
var ErrOutOfSpace = errors.New("arena: out of space")

// Arena is a contiguous byte-addressed region of fixed length.
type Arena interface {
	// Len returns the size in bytes of the region. Offsets are only
	// meaningful relative to the Arena that produced them.
	Len() int

	// Bytes returns the live backing slice. Callers translate an offset o
	// into a byte window via Bytes()[o:o+n]; the slice must not be
	// retained past a Close/Destroy.
	Bytes() []byte

	// Allocate carves out a new, non-overlapping region of n bytes and
	// returns its starting offset. Used only during construction of named
	// regions — never on the hot path.
	Allocate(n int) (uint64, error)

	// FindOrConstruct returns the offset previously reserved for name, or
	// reserves and returns a fresh n-byte offset if name has not been seen
	// in this Arena before. It lets independent processes attached to the
	// same segment rediscover shared structures (bucket tables, pool
	// metadata, garbage-list anchors) by symbolic name instead of by a
	// pointer baked in at construction time. created reports whether this
	// call is the one that reserved the region, so the caller knows
	// whether to initialize its contents or leave bytes a prior
	// FindOrConstruct on this same Arena already populated.
	FindOrConstruct(name string, n int) (off uint64, created bool, err error)

	// Close releases this process's view of the region without affecting
	// other attached processes.
	Close() error
}

// registry is the shared find-or-construct bookkeeping used by both Arena
// implementations: a name always resolves to the same offset for the
// lifetime of the region.
type registry struct {
	mu      sync.Mutex
	offsets map[string]uint64
	next    uint64
	limit   uint64
}

func newRegistry(limit uint64, dataStart uint64) *registry {
	return &registry{
		offsets: make(map[string]uint64),
		next:    dataStart,
		limit:   limit,
	}
}

func (r *registry) findOrConstruct(name string, n int) (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off, ok := r.offsets[name]; ok {
		return off, false, nil
	}
	off := AlignUp(r.next, wordAlign)
	end := off + uint64(n)
	if end > r.limit {
		return 0, false, errors.Wrapf(ErrOutOfSpace, "region %q needs %d bytes, %d available", name, n, r.limit-off)
	}
	r.offsets[name] = off
	r.next = end
	return off, true, nil
}

func (r *registry) allocate(n int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	off := AlignUp(r.next, wordAlign)
	end := off + uint64(n)
	if end > r.limit {
		return 0, errors.Wrapf(ErrOutOfSpace, "allocation of %d bytes, %d available", n, r.limit-off)
	}
	r.next = end
	return off, nil
}
