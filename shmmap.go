// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package shmmap provides a concurrent, expiring hash map backed by a
// fixed-capacity slab allocator, addressed entirely by offset rather than
// native pointer so its storage can live in memory shared across multiple
// processes.
//
// # Quick start
//
//	a := arena.NewHeap(64 << 20)
//	defer a.Close()
//
//	m, err := shmmap.NewStringMap[string](a, "sessions", 1024, 100000)
//	if err != nil {
//	    // handle err
//	}
//	defer m.Close()
//
//	m.Insert("user:1", "alice", 5*time.Minute)
//	val, ok := m.Get("user:1")
//
// Run a map across two processes by backing it with a shared arena instead:
//
//	a, err := arena.NewShared(64 << 20)
//
// Node, bucket and free-slot state is laid out directly over the Arena's
// bytes (see internal/storage/slab, internal/storage/bucket), so any two
// Map values constructed with the same name over the same Arena see each
// other's writes to keys, expiry and chain structure, modulo the
// reclaimer's break-time/grace windows documented on
// internal/storage/reclaim. The key itself is copied byte-for-byte into a
// fixed-size field inside the arena-resident node (see
// internal/storage/node), so it is visible to every process attached to
// the arena. V is not: it is kept in a process-local side table
// (internal/storage/bucket's Table.values) indexed by the same slot
// offset, never written into the arena's bytes, because a V holding
// pointers, slices or strings would otherwise hand the garbage collector a
// live pointer inside memory shaped like []byte that it never scans — once
// the writer's own copy of that V went out of scope, the bytes backing it
// could be collected out from under a later reader. A value is therefore
// only readable back through the Map value that inserted it; a Shared arena
// shares key/structure visibility across a fork or inherited mapping, not
// values.
//
// # See also
//
// internal/core for the full Map/StringMap API, internal/arena for the two
// Arena backends, and DESIGN.md for how each package maps onto its
// originating design.
package shmmap

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/core"
	"github.com/kianostad/shmmap/internal/hashfn"
)

// Re-export the types a consumer needs without reaching into internal/.
type (
	Map[V any]       = core.Map[V]
	StringMap[V any] = core.StringMap[V]
	Option           = core.Option
	Arena            = arena.Arena
)

// New constructs a []byte-keyed map named name inside arena a, with b
// buckets (rounded up to a power of two) and room for n live entries.
func New[V any](a arena.Arena, name string, b, n uint64, opts ...Option) (*Map[V], error) {
	return core.New[V](a, name, b, n, opts...)
}

// NewStringMap constructs a string-keyed map named name inside arena a.
func NewStringMap[V any](a arena.Arena, name string, b, n uint64, opts ...Option) (*StringMap[V], error) {
	return core.NewStringMap[V](a, name, b, n, opts...)
}

// NewHeap creates a process-local arena backed by a plain Go byte slice.
func NewHeap(length int) *arena.Heap { return arena.NewHeap(length) }

// NewShared creates an arena backed by an anonymous MAP_SHARED mmap region,
// reachable from any process that inherits or is handed the same mapping.
func NewShared(length int) (*arena.Shared, error) { return arena.NewShared(length) }

// WithHash overrides a Map's hash function (default hashfn.XXHash).
func WithHash(h hashfn.Func) Option { return core.WithHash(h) }

// WithLogger sets the logger a Map reports anomalies through.
func WithLogger(log zerolog.Logger) Option { return core.WithLogger(log) }

// WithGCBreakTime overrides a Map's reclaimer throttle window.
func WithGCBreakTime(d time.Duration) Option { return core.WithGCBreakTime(d) }

// WithGCGrace overrides a Map's stuck-COLLECTING grace period.
func WithGCGrace(d time.Duration) Option { return core.WithGCGrace(d) }
