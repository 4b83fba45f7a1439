// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"testing"
	"time"

	"github.com/kianostad/shmmap/internal/arena"
)

func TestStringMapInsertAndGet(t *testing.T) {
	a := arena.NewHeap(1 << 20)
	s, err := NewStringMap[int](a, "sm", 16, 128)
	if err != nil {
		t.Fatalf("NewStringMap: %v", err)
	}
	defer s.Close()

	if err := s.Insert("answer", 42, 0); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, ok := s.Get("answer")
	if !ok || v != 42 {
		t.Errorf("expected (42, true), got (%d, %t)", v, ok)
	}
}

func TestStringMapKeysAreStrings(t *testing.T) {
	a := arena.NewHeap(1 << 20)
	s, err := NewStringMap[int](a, "sm", 16, 128)
	if err != nil {
		t.Fatalf("NewStringMap: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Insert(k, 1, 0); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	keys := s.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("expected key %q among %v", want, keys)
		}
	}
}

func TestStringMapTTLAndGC(t *testing.T) {
	a := arena.NewHeap(1 << 20)
	s, err := NewStringMap[string](a, "sm", 4, 16, WithGCBreakTime(time.Millisecond))
	if err != nil {
		t.Fatalf("NewStringMap: %v", err)
	}
	defer s.Close()

	if err := s.Insert("temp", "gone-soon", 10*time.Millisecond); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	s.GC()

	if _, ok := s.Get("temp"); ok {
		t.Error("expected the expired key to be gone")
	}
	if got := s.PoolRetries(); got != 0 {
		t.Logf("pool retries observed: %d", got) // diagnostic only, not a failure
	}
}
