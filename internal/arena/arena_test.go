// Licensed under the MIT License. See LICENSE file in the project root for details.

package arena

import (
	"sync"
	"testing"
)

func TestHeapFindOrConstructIsStable(t *testing.T) {
	h := NewHeap(4096)

	off1, created1, err := h.FindOrConstruct("table", 128)
	if err != nil {
		t.Fatalf("FindOrConstruct: %v", err)
	}
	if !created1 {
		t.Error("expected the first FindOrConstruct of a name to report created=true")
	}
	off2, created2, err := h.FindOrConstruct("table", 128)
	if err != nil {
		t.Fatalf("FindOrConstruct: %v", err)
	}
	if off1 != off2 {
		t.Errorf("FindOrConstruct returned different offsets for the same name: %d != %d", off1, off2)
	}
	if created2 {
		t.Error("expected the second FindOrConstruct of the same name to report created=false")
	}

	other, _, err := h.FindOrConstruct("pool", 64)
	if err != nil {
		t.Fatalf("FindOrConstruct: %v", err)
	}
	if other == off1 {
		t.Error("distinct names must not alias the same offset")
	}
}

func TestHeapAllocateNonOverlapping(t *testing.T) {
	h := NewHeap(1024)

	a, err := h.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := h.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b < a+100 {
		t.Errorf("second allocation at %d overlaps the first at %d..%d", b, a, a+100)
	}
}

func TestHeapAllocateOutOfSpace(t *testing.T) {
	h := NewHeap(64)

	if _, err := h.Allocate(32); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := h.Allocate(64); err == nil {
		t.Error("expected ErrOutOfSpace once the region is exhausted")
	}
}

func TestHeapBytesLenMatchLength(t *testing.T) {
	h := NewHeap(256)
	if h.Len() != 256 {
		t.Errorf("expected Len 256, got %d", h.Len())
	}
	if len(h.Bytes()) != 256 {
		t.Errorf("expected Bytes length 256, got %d", len(h.Bytes()))
	}
}

func TestHeapConcurrentFindOrConstruct(t *testing.T) {
	h := NewHeap(1 << 16)

	const workers = 32
	offsets := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off, _, err := h.FindOrConstruct("shared_name", 16)
			if err != nil {
				t.Errorf("FindOrConstruct: %v", err)
				return
			}
			offsets[i] = off
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if offsets[i] != offsets[0] {
			t.Errorf("worker %d saw offset %d, want %d", i, offsets[i], offsets[0])
		}
	}
}

func TestSharedArenaRoundTrip(t *testing.T) {
	s, err := NewShared(4096)
	if err != nil {
		t.Fatalf("NewShared: %v", err)
	}
	defer s.Destroy()

	off, _, err := s.FindOrConstruct("bucket", 256)
	if err != nil {
		t.Fatalf("FindOrConstruct: %v", err)
	}

	copy(s.Bytes()[off:off+5], []byte("hello"))
	if got := string(s.Bytes()[off : off+5]); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
}

func TestSharedCloseThenDestroy(t *testing.T) {
	s, err := NewShared(4096)
	if err != nil {
		t.Fatalf("NewShared: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is this process detaching; a Destroy after it must not fail.
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy after Close: %v", err)
	}
}
