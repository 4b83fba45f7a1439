// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package epoch provides the reclaimer's self-throttling gate and a
// lightweight in-flight-operation tracker.
//
// The reclaimer needs none of the active-reader epoch tracking a classic
// epoch-based reclamation scheme uses — no hazard pointers, no "minimum
// active timestamp" — because two break-time-separated sweeps already
// provide the quiescence gap a dead node needs. What it does need is Gate:
// the CAS-guarded wall-clock throttle ensuring at most one caller sweeps
// per break-time window. Tracker is a register/unregister-style in-flight
// counter kept purely for observability — counting in-flight Get/Insert
// calls is useful for metrics, never for correctness here.
package epoch

import (
	"sync/atomic"
	"time"
)

// Gate serializes reclaimer entry: at most one caller per break-time window
// proceeds past TryEnter. now is injected so callers can use a test clock.
type Gate struct {
	lastGC    atomic.Int64 // unix seconds of the last sweep that was allowed to start
	breakTime int64
}

// NewGate creates a throttling gate with the given minimum gap between
// sweeps, in seconds. The reclaimer defaults this to 2 seconds.
func NewGate(breakTimeSeconds int64) *Gate {
	return &Gate{breakTime: breakTimeSeconds}
}

// TryEnter reports whether the caller has won the right to run a sweep
// now: the CAS on the last-sweep timestamp ensures at most one caller
// performs a sweep per window.
func (g *Gate) TryEnter(now time.Time) bool {
	ts := now.Unix()
	last := g.lastGC.Load()
	if ts-last < g.breakTime {
		return false
	}
	return g.lastGC.CompareAndSwap(last, ts)
}

// BreakTime returns the configured minimum gap between sweeps, in seconds.
func (g *Gate) BreakTime() int64 { return g.breakTime }

// Tracker counts in-flight operations for observability only; a plain
// atomic gauge, not a correctness mechanism. It must never sit on the
// Get/Insert hot path behind an OS mutex — those calls are lock-free.
type Tracker struct {
	active atomic.Int64
}

// NewTracker creates an empty in-flight tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Enter records the start of an operation and returns a func to call on
// its completion.
func (t *Tracker) Enter() func() {
	t.active.Add(1)
	return func() {
		t.active.Add(-1)
	}
}

// Active returns the current number of in-flight operations.
func (t *Tracker) Active() int { return int(t.active.Load()) }
