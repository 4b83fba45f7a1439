// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics provides performance monitoring and observability for
// shmmap: operation counts by result, garbage-collection cycle timing, and
// slab/garbage-list occupancy gauges, backed by
// github.com/VictoriaMetrics/metrics.
package metrics

import (
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Result labels the outcome of an operation.
type Result string

const (
	ResultOK       Result = "ok"
	ResultNotFound Result = "not_found"
	ResultNoMemory Result = "no_memory"
)

// Metrics is a per-map-instance metrics set. Every map created with a
// distinct name gets its own VictoriaMetrics metric set so multiple map
// instances in one process don't collide on label values.
type Metrics struct {
	set *metrics.Set

	getOK       *metrics.Counter
	getNotFound *metrics.Counter
	insertOK    *metrics.Counter
	insertNoMem *metrics.Counter

	gcCycles   *metrics.Counter
	gcScanned  *metrics.Counter
	gcEnlisted *metrics.Counter
	gcFreed    *metrics.Counter
	gcStuck    *metrics.Counter
	gcDuration *metrics.Histogram
	allocRetry *metrics.Counter

	poolUsed   *metrics.Gauge
	garbageLen *metrics.Gauge
}

// New creates a metrics set scoped under the given map name so its series
// can be told apart from other instances registered in the same process.
func New(name string) *Metrics {
	set := metrics.NewSet()
	m := &Metrics{
		set:         set,
		getOK:       set.NewCounter(`shmmap_ops_total{map="` + name + `",op="get",result="ok"}`),
		getNotFound: set.NewCounter(`shmmap_ops_total{map="` + name + `",op="get",result="not_found"}`),
		insertOK:    set.NewCounter(`shmmap_ops_total{map="` + name + `",op="insert",result="ok"}`),
		insertNoMem: set.NewCounter(`shmmap_ops_total{map="` + name + `",op="insert",result="no_memory"}`),
		gcCycles:    set.NewCounter(`shmmap_gc_cycles_total{map="` + name + `"}`),
		gcScanned:   set.NewCounter(`shmmap_gc_nodes_scanned_total{map="` + name + `"}`),
		gcEnlisted:  set.NewCounter(`shmmap_gc_nodes_enlisted_total{map="` + name + `"}`),
		gcFreed:     set.NewCounter(`shmmap_gc_nodes_freed_total{map="` + name + `"}`),
		gcStuck:     set.NewCounter(`shmmap_gc_stuck_nodes_total{map="` + name + `"}`),
		allocRetry:  set.NewCounter(`shmmap_pool_alloc_retries_total{map="` + name + `"}`),
	}
	m.gcDuration = set.NewHistogram(`shmmap_gc_cycle_duration_seconds{map="` + name + `"}`)
	m.poolUsed = set.NewGauge(`shmmap_pool_used_slots{map="`+name+`"}`, nil)
	m.garbageLen = set.NewGauge(`shmmap_garbage_list_length{map="`+name+`"}`, nil)
	return m
}

// RecordGet records the outcome of a Get call.
func (m *Metrics) RecordGet(r Result) {
	switch r {
	case ResultOK:
		m.getOK.Inc()
	case ResultNotFound:
		m.getNotFound.Inc()
	}
}

// RecordInsert records the outcome of an Insert call.
func (m *Metrics) RecordInsert(r Result) {
	switch r {
	case ResultOK:
		m.insertOK.Inc()
	case ResultNoMemory:
		m.insertNoMem.Inc()
	}
}

// RecordGCCycle records one completed sweep: duration plus counts of nodes
// scanned, newly enlisted, force-enlisted as stuck, and freed.
func (m *Metrics) RecordGCCycle(d time.Duration, scanned, enlisted, stuck, freed uint64) {
	m.gcCycles.Inc()
	m.gcDuration.Update(d.Seconds())
	m.gcScanned.Add(int(scanned))
	m.gcEnlisted.Add(int(enlisted))
	m.gcStuck.Add(int(stuck))
	m.gcFreed.Add(int(freed))
}

// RecordAllocRetry records one bounded-backoff retry in slab.Pool.Allocate.
func (m *Metrics) RecordAllocRetry() { m.allocRetry.Inc() }

// SetPoolUsed updates the current slab occupancy gauge.
func (m *Metrics) SetPoolUsed(n uint64) { m.poolUsed.Set(float64(n)) }

// SetGarbageListLength updates the current garbage-list length gauge.
func (m *Metrics) SetGarbageListLength(n uint64) { m.garbageLen.Set(float64(n)) }

// Snapshot is a point-in-time read of every counter/gauge, returned from
// core.Map.GCStats.
type Snapshot struct {
	GetOK        uint64
	GetNotFound  uint64
	InsertOK     uint64
	InsertNoMem  uint64
	GCCycles     uint64
	GCScanned    uint64
	GCEnlisted   uint64
	GCFreed      uint64
	GCStuck      uint64
	AllocRetries uint64
	PoolUsed     uint64
	GarbageLen   uint64
}

// Snapshot returns the current value of every tracked series.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GetOK:        uint64(m.getOK.Get()),
		GetNotFound:  uint64(m.getNotFound.Get()),
		InsertOK:     uint64(m.insertOK.Get()),
		InsertNoMem:  uint64(m.insertNoMem.Get()),
		GCCycles:     uint64(m.gcCycles.Get()),
		GCScanned:    uint64(m.gcScanned.Get()),
		GCEnlisted:   uint64(m.gcEnlisted.Get()),
		GCFreed:      uint64(m.gcFreed.Get()),
		GCStuck:      uint64(m.gcStuck.Get()),
		AllocRetries: uint64(m.allocRetry.Get()),
		PoolUsed:     uint64(m.poolUsed.Get()),
		GarbageLen:   uint64(m.garbageLen.Get()),
	}
}

// WritePrometheus exposes every series in this map's set in Prometheus text
// exposition format, for a hosting program to serve on /metrics.
func (m *Metrics) WritePrometheus(w interface{ Write([]byte) (int, error) }) {
	m.set.WritePrometheus(w)
}

// Close unregisters this metric set. Safe to call once, at map Close time.
func (m *Metrics) Close() {
	metrics.UnregisterSet(m.set, true)
}
