// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package node defines the slab-resident record shmmap's bucket chains are
// built from, and the state machine that lets a writer and the reclaimer
// coordinate without a mutex.
package node

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/shmmap/internal/arena"
)

// MaxKeyLen bounds how many key bytes a Node holds inline. Keys are copied
// byte-for-byte into a fixed-size array embedded in the node, never stored
// as a slice header: a Node's bytes are placed directly over arena memory
// via unsafe.Pointer (see internal/storage/slab), and the Go garbage
// collector never scans that memory for pointers. A stored slice header
// pointing back into a caller's own Go-heap key would go stale the moment
// that caller's variable is collected. See DESIGN.md.
const MaxKeyLen = 128

// ErrKeyTooLong is returned by Reset when key exceeds MaxKeyLen.
var ErrKeyTooLong = errors.New("node: key exceeds MaxKeyLen")

// State is the node's four-value lifecycle atomic. Transitions form a DAG:
// VALID -> {WRITING, COLLECTING}; WRITING -> VALID;
// COLLECTING -> WAITING_DELETE -> freed (slot returned to the pool).
type State uint32

const (
	// Valid is a live, readable node.
	Valid State = iota
	// Collecting means the reclaimer has claimed the node for removal; it
	// is being unlinked from its bucket chain.
	Collecting
	// WaitingDelete means the node has been unlinked and is on the
	// garbage list, waiting out the quiescence gap before its slot is
	// freed.
	WaitingDelete
	// Writing excludes the reclaimer while an Insert mutates value/expiry
	// of a live node in place.
	Writing
)

// Node is the hash-map entry stored in one slab slot. It carries no Go
// pointer and no type parameterized over the map's value type: the key is
// a fixed-size inline byte array, and the value itself lives one layer up,
// in bucket.Table's side table, not here — so Node's layout is the same
// fixed, pointer-free shape regardless of what V the map above it holds.
type Node struct {
	next     uint64 // offset of the next node in the same bucket chain, or arena.NilOffset
	keyLen   uint16
	keyBuf   [MaxKeyLen]byte
	expireAt int64 // absolute unix seconds; 0 means never expires
	state    atomic.Uint32
	delNext  uint64      // offset of the next node on the garbage list
	enlisted atomic.Bool // true once added to the garbage list; guards against double-enlistment without an O(list) scan
}

// Reset reinitializes a node for reuse after its slot is recycled by the
// pool. Pool.Allocate does not clear a recycled slot, so the node may still
// hold a previous occupant's fields; Reset overwrites every one of them at
// the one call site that repurposes a slot (bucket.Table.Append). Returns ErrKeyTooLong without mutating the node if
// key exceeds MaxKeyLen.
func (n *Node) Reset(key []byte, expireAt int64) error {
	if len(key) > MaxKeyLen {
		return errors.Wrapf(ErrKeyTooLong, "node: key of length %d exceeds MaxKeyLen %d", len(key), MaxKeyLen)
	}
	n.next = arena.NilOffset
	n.keyLen = uint16(copy(n.keyBuf[:], key))
	n.expireAt = expireAt
	n.state.Store(uint32(Valid))
	n.delNext = arena.NilOffset
	n.enlisted.Store(false)
	return nil
}

// Key returns the node's key as a slice over its inline storage. The slice
// aliases the node itself and must not be retained past the node's slot
// being freed and reused.
func (n *Node) Key() []byte { return n.keyBuf[:n.keyLen] }

func (n *Node) Next() uint64       { return n.next }
func (n *Node) SetNext(off uint64) { atomic.StoreUint64(&n.next, off) }
func (n *Node) LoadNext() uint64   { return atomic.LoadUint64(&n.next) }

func (n *Node) DelNext() uint64       { return n.delNext }
func (n *Node) SetDelNext(off uint64) { n.delNext = off }

func (n *Node) ExpireAt() int64     { return atomic.LoadInt64(&n.expireAt) }
func (n *Node) SetExpireAt(t int64) { atomic.StoreInt64(&n.expireAt, t) }

func (n *Node) State() State { return State(n.state.Load()) }

// CAS attempts the state transition from -> to, returning whether it
// succeeded.
func (n *Node) CAS(from, to State) bool {
	return n.state.CompareAndSwap(uint32(from), uint32(to))
}

// StoreState unconditionally stores a new state with release ordering,
// used for the WRITING -> VALID publication after a value/expiry mutation.
func (n *Node) StoreState(s State) {
	n.state.Store(uint32(s))
}

// Enlist marks the node as having been pushed onto the garbage list,
// returning false if it was already enlisted. A dedicated substate avoids
// an O(garbage-list-length) scan to detect re-enlistment of a stuck node.
func (n *Node) Enlist() bool {
	return n.enlisted.CompareAndSwap(false, true)
}

// IsExpired reports whether the node's TTL, if any, has elapsed as of now
// (absolute unix seconds). expireAt == 0 means never-expires.
func (n *Node) IsExpired(now int64) bool {
	e := n.ExpireAt()
	return e != 0 && e < now
}
