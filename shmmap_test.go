// Licensed under the MIT License. See LICENSE file in the project root for details.

package shmmap

import (
	"testing"
	"time"
)

func TestPublicAPI(t *testing.T) {
	a := NewHeap(1 << 20)
	defer a.Close()

	m, err := NewStringMap[string](a, "test", 64, 1024)
	if err != nil {
		t.Fatalf("NewStringMap: %v", err)
	}
	defer m.Close()

	m.Insert("key1", "value1", 0)
	value, exists := m.Get("key1")
	if !exists || value != "value1" {
		t.Errorf("expected value1, got %q, exists: %t", value, exists)
	}

	if _, exists := m.Get("missing"); exists {
		t.Errorf("expected missing to be absent")
	}

	m.Insert("temp", "temp_value", 50*time.Millisecond)
	if _, exists := m.Get("temp"); !exists {
		t.Errorf("expected temp to be readable immediately after insert")
	}

	time.Sleep(100 * time.Millisecond)
	if _, exists := m.Get("temp"); exists {
		t.Errorf("expected temp to have expired")
	}

	m.Insert("key1", "value1-updated", 0)
	value, exists = m.Get("key1")
	if !exists || value != "value1-updated" {
		t.Errorf("expected value1-updated, got %q, exists: %t", value, exists)
	}

	if count := m.Count(); count == 0 {
		t.Errorf("expected a positive count, got %d", count)
	}

	m.GC()
}

func TestConcurrentInsertGet(t *testing.T) {
	a := NewHeap(4 << 20)
	defer a.Close()

	m, err := New[int](a, "concurrent", 256, 8192)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	const n = 500
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func(i int) {
			key := []byte{byte(i), byte(i >> 8)}
			_ = m.Insert(key, i, 0)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		if v, ok := m.Get(key); !ok || v != i {
			t.Errorf("key %d: got %d, %t", i, v, ok)
		}
	}
}
