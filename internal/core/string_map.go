// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"time"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/monitoring/metrics"
)

// StringMap wraps Map[V] with a string-keyed interface, converting to
// []byte internally, for callers who would rather not spell out the
// conversion at every call site.
type StringMap[V any] struct {
	m *Map[V]
}

// NewStringMap constructs a string-keyed map the same way New does.
func NewStringMap[V any](a arena.Arena, name string, b, n uint64, opts ...Option) (*StringMap[V], error) {
	m, err := New[V](a, name, b, n, opts...)
	if err != nil {
		return nil, err
	}
	return &StringMap[V]{m: m}, nil
}

func (s *StringMap[V]) Insert(key string, value V, ttl time.Duration) error {
	return s.m.Insert([]byte(key), value, ttl)
}

func (s *StringMap[V]) Get(key string) (V, bool) {
	return s.m.Get([]byte(key))
}

func (s *StringMap[V]) Count() uint64 { return s.m.Count() }

// Keys returns every non-expired key as a string.
func (s *StringMap[V]) Keys() []string {
	raw := s.m.Keys()
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = string(k)
	}
	return keys
}

func (s *StringMap[V]) Values() []V { return s.m.Values() }

func (s *StringMap[V]) GC() { s.m.GC() }

func (s *StringMap[V]) StartGCLoop(interval time.Duration) (stop func()) {
	return s.m.StartGCLoop(interval)
}

func (s *StringMap[V]) GCStats() metrics.Snapshot { return s.m.GCStats() }

func (s *StringMap[V]) PoolRetries() uint64 { return s.m.PoolRetries() }

func (s *StringMap[V]) ActiveOps() int { return s.m.ActiveOps() }

func (s *StringMap[V]) SyncMemory() { s.m.SyncMemory() }

func (s *StringMap[V]) Close() error { return s.m.Close() }
