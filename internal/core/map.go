// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package core assembles the arena, slab pool, bucket table and reclaimer
// into the map protocol: Insert, Get, Count, bulk enumeration, GC and
// SyncMemory over a single named region of an Arena.
//
// Map[V] is a concrete type behind a constructor, with options instead of
// an interface's worth of variants, over an offset-addressed expiring map.
package core

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/concurrency/epoch"
	"github.com/kianostad/shmmap/internal/hashfn"
	"github.com/kianostad/shmmap/internal/monitoring/metrics"
	"github.com/kianostad/shmmap/internal/storage/bucket"
	"github.com/kianostad/shmmap/internal/storage/node"
	"github.com/kianostad/shmmap/internal/storage/reclaim"
	"github.com/kianostad/shmmap/internal/storage/slab"
)

// ErrNotFound names the not-found error kind. No operation in this package
// returns it: Get reports a missing or expired key only through its ok
// bool.
var ErrNotFound = errors.New("shmmap: key not found")

// Options configures a Map beyond its arena/name/sizing, which are required
// positional arguments to New.
type Options struct {
	Hash        hashfn.Func
	Logger      zerolog.Logger
	GCBreakTime time.Duration
	GCGrace     time.Duration
	MetricsName string
}

// Option mutates Options. A hosting program needs to pick a hash function
// and GC cadence per map instance, so construction goes through functional
// options rather than a single fixed constructor.
type Option func(*Options)

// WithHash overrides the default hash function (hashfn.XXHash).
func WithHash(h hashfn.Func) Option {
	return func(o *Options) { o.Hash = h }
}

// WithLogger sets the logger anomalies are reported through.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithGCBreakTime overrides the reclaimer's throttle window.
func WithGCBreakTime(d time.Duration) Option {
	return func(o *Options) { o.GCBreakTime = d }
}

// WithGCGrace overrides the stuck-COLLECTING grace period.
func WithGCGrace(d time.Duration) Option {
	return func(o *Options) { o.GCGrace = d }
}

// WithMetricsName overrides the VictoriaMetrics label used to distinguish
// this map's series from others in the same process. Defaults to the map's
// arena region name.
func WithMetricsName(name string) Option {
	return func(o *Options) { o.MetricsName = name }
}

// Map is a concurrent, expiring, offset-addressed hash map over one named
// region of an Arena.
type Map[V any] struct {
	name    string
	table   *bucket.Table[V]
	reclaim *reclaim.Reclaimer[V]
	metrics *metrics.Metrics
	tracker *epoch.Tracker
	log     zerolog.Logger
}

// New constructs a Map named name inside arena a, with b buckets (rounded
// up to a power of two) and room
// for n live entries. name namespaces the arena's named regions ("<M>_bucket",
// "<M>_pool", ...) so multiple maps can share one Arena.
func New[V any](a arena.Arena, name string, b, n uint64, opts ...Option) (*Map[V], error) {
	cfg := Options{
		Hash:        hashfn.XXHash,
		Logger:      zerolog.Nop(),
		GCBreakTime: reclaim.DefaultBreakTime,
		GCGrace:     reclaim.DefaultGrace,
		MetricsName: name,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Metrics is constructed before the pool so Allocate's backoff-retry
	// counter has somewhere to report to from the moment the pool exists,
	// instead of only after the fact.
	m := metrics.New(cfg.MetricsName)

	pool, err := slab.NewWithLogger[node.Node](a, name+"_pool", n, cfg.Logger, m)
	if err != nil {
		return nil, errors.Wrapf(err, "shmmap: build pool for map %q", name)
	}

	table, err := bucket.New[V](a, name+"_bucket", b, pool, cfg.Hash)
	if err != nil {
		return nil, errors.Wrapf(err, "shmmap: build bucket table for map %q", name)
	}
	table.InitBuckets()

	r, err := reclaim.New[V](a, name, table, cfg.GCBreakTime, cfg.GCGrace, m, cfg.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "shmmap: build reclaimer for map %q", name)
	}

	return &Map[V]{
		name:    name,
		table:   table,
		reclaim: r,
		metrics: m,
		tracker: epoch.NewTracker(),
		log:     cfg.Logger,
	}, nil
}

// Insert stores value under key, replacing any live value already there. A
// zero ttl means the entry never expires. An existing, VALID node is
// updated in place under a WRITING lock; a node that is missing, expired,
// or caught mid-collection falls back to appending a fresh node onto the
// chain instead — a non-idempotent append fallback that can leave a stale
// duplicate for the reclaimer to clean up rather than block on it.
func (m *Map[V]) Insert(key []byte, value V, ttl time.Duration) error {
	defer m.tracker.Enter()()

	idx := m.table.Index(key)
	var expireAt int64
	if ttl > 0 {
		expireAt = time.Now().Add(ttl).Unix()
	}

	now := time.Now().Unix()
	if n, off := m.table.Lookup(idx, key); n != nil && !n.IsExpired(now) {
		for {
			if n.CAS(node.Valid, node.Writing) {
				m.table.SetValueAt(off, value)
				n.SetExpireAt(expireAt)
				n.StoreState(node.Valid)
				m.metrics.RecordInsert(metrics.ResultOK)
				return nil
			}
			if n.State() == node.Writing {
				continue
			}
			break
		}
	}

	if _, err := m.table.Append(idx, key, value, expireAt); err != nil {
		m.metrics.RecordInsert(metrics.ResultNoMemory)
		return errors.Wrapf(err, "shmmap: insert %q", m.name)
	}
	m.metrics.RecordInsert(metrics.ResultOK)
	return nil
}

// Get returns the live value stored for key, if any. An expired entry reads
// as not-found even before the reclaimer has gotten to it. Only the first
// node in chain order whose key matches is examined: while an expired
// older node for key is still linked, Get reports not-found even if a
// later Insert appended a live node for the same key behind it.
func (m *Map[V]) Get(key []byte) (V, bool) {
	defer m.tracker.Enter()()

	idx := m.table.Index(key)
	n, off := m.table.Lookup(idx, key)
	if n == nil || n.IsExpired(time.Now().Unix()) {
		var zero V
		m.metrics.RecordGet(metrics.ResultNotFound)
		return zero, false
	}
	v := m.table.ValueAt(off)
	m.metrics.RecordGet(metrics.ResultOK)
	return v, true
}

// Count returns the approximate number of live entries: the sum of
// per-bucket counters, not exact under concurrent GC.
func (m *Map[V]) Count() uint64 { return m.table.Count() }

// Keys returns every non-expired key currently reachable from a bucket
// chain. No ordering or snapshot-consistency guarantee is made.
func (m *Map[V]) Keys() [][]byte {
	pool := m.table.Pool()
	now := time.Now().Unix()
	var keys [][]byte
	for idx := uint64(0); idx < m.table.Size(); idx++ {
		off := m.table.Head(idx)
		for off != arena.NilOffset {
			n := pool.Get(off)
			if n == nil {
				break
			}
			if !n.IsExpired(now) {
				keys = append(keys, n.Key())
			}
			off = n.LoadNext()
		}
	}
	return keys
}

// Values returns every non-expired value currently reachable from a bucket
// chain, mirroring Keys.
func (m *Map[V]) Values() []V {
	pool := m.table.Pool()
	now := time.Now().Unix()
	var values []V
	for idx := uint64(0); idx < m.table.Size(); idx++ {
		off := m.table.Head(idx)
		for off != arena.NilOffset {
			n := pool.Get(off)
			if n == nil {
				break
			}
			if !n.IsExpired(now) {
				values = append(values, m.table.ValueAt(off))
			}
			off = n.LoadNext()
		}
	}
	return values
}

// GC runs one throttled reclaim sweep; safe to call from any goroutine or
// on a ticker. Most callers should use StartGCLoop instead.
func (m *Map[V]) GC() { m.reclaim.GC(time.Now()) }

// StartGCLoop runs GC every interval until the returned stop func is
// called. interval should typically equal the configured GCBreakTime;
// running it more often just means most ticks are a no-op throttle check.
func (m *Map[V]) StartGCLoop(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				m.GC()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// PoolRetries returns the number of times Allocate has backed off and
// retried on this map's slab pool.
func (m *Map[V]) PoolRetries() uint64 { return m.table.Pool().Retries() }

// ActiveOps returns the number of Get/Insert calls currently in flight.
// This is epoch.Tracker's one job here: the reclaimer needs no active-epoch
// correctness bookkeeping (see internal/concurrency/epoch), but an
// in-flight-operation gauge is still useful alongside GCStats for
// diagnosing a reclaimer that looks stuck against a live workload.
func (m *Map[V]) ActiveOps() int { return m.tracker.Active() }

// GCStats returns a point-in-time snapshot of every tracked metric,
// including the GC cycle counters (cycles, nodes scanned/enlisted/freed,
// stuck-node count).
func (m *Map[V]) GCStats() metrics.Snapshot { return m.metrics.Snapshot() }

// SyncMemory reconciles the slab pool against what is actually reachable
// from the bucket chains right now. Intended for a clean-restart path where
// a process has just attached to an existing arena and wants to repair any
// pool/chain disagreement left by a previous process's unclean exit; it is
// advisory, not a crash-recovery protocol.
func (m *Map[V]) SyncMemory() {
	pool := m.table.Pool()
	live := make(map[uint64]struct{})
	for idx := uint64(0); idx < m.table.Size(); idx++ {
		off := m.table.Head(idx)
		for off != arena.NilOffset {
			live[off] = struct{}{}
			n := pool.Get(off)
			if n == nil {
				break
			}
			off = n.LoadNext()
		}
	}
	pool.SyncMemory(live)
}

// Close releases this Map's metrics registration. The underlying Arena is
// owned by whoever constructed it, not by Map, so Close does not touch it
// — the Close/Destroy split applies at the Arena layer, one level below
// this one.
func (m *Map[V]) Close() error {
	m.metrics.Close()
	return nil
}
