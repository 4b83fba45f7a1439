// Licensed under the MIT License. See LICENSE file in the project root for details.

package node

import (
	"testing"

	"github.com/kianostad/shmmap/internal/arena"
)

func TestResetInitializesFields(t *testing.T) {
	var n Node
	if err := n.Reset([]byte("k"), 100); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if string(n.Key()) != "k" {
		t.Errorf("expected key %q, got %q", "k", n.Key())
	}
	if n.ExpireAt() != 100 {
		t.Errorf("expected expireAt 100, got %d", n.ExpireAt())
	}
	if n.State() != Valid {
		t.Errorf("expected state Valid, got %v", n.State())
	}
	if n.LoadNext() != arena.NilOffset {
		t.Errorf("expected next to be NilOffset, got %d", n.LoadNext())
	}
	if n.DelNext() != arena.NilOffset {
		t.Errorf("expected delNext to be NilOffset, got %d", n.DelNext())
	}
}

func TestResetRejectsOversizedKey(t *testing.T) {
	var n Node
	key := make([]byte, MaxKeyLen+1)
	if err := n.Reset(key, 0); err == nil {
		t.Fatal("expected ErrKeyTooLong for a key longer than MaxKeyLen")
	}
}

func TestCASStateTransitions(t *testing.T) {
	var n Node
	n.Reset(nil, 0)

	if !n.CAS(Valid, Writing) {
		t.Fatal("expected Valid -> Writing to succeed")
	}
	if n.CAS(Valid, Collecting) {
		t.Fatal("expected Valid -> Collecting to fail once state is Writing")
	}
	n.StoreState(Valid)
	if n.State() != Valid {
		t.Fatalf("expected state Valid after StoreState, got %v", n.State())
	}
	if !n.CAS(Valid, Collecting) {
		t.Fatal("expected Valid -> Collecting to succeed")
	}
}

func TestEnlistIsOnceOnly(t *testing.T) {
	var n Node
	n.Reset(nil, 0)

	if !n.Enlist() {
		t.Error("first Enlist should succeed")
	}
	if n.Enlist() {
		t.Error("second Enlist must fail, a node may be garbage-listed once")
	}
}

func TestIsExpired(t *testing.T) {
	var n Node

	n.Reset(nil, 0)
	if n.IsExpired(1_000_000) {
		t.Error("expireAt 0 must never expire")
	}

	n.Reset(nil, 100)
	if n.IsExpired(50) {
		t.Error("node should not be expired before its expireAt")
	}
	if !n.IsExpired(200) {
		t.Error("node should be expired after its expireAt")
	}
}

func TestSetNextAndSetExpireAt(t *testing.T) {
	var n Node
	n.Reset(nil, 0)

	n.SetNext(42)
	if n.LoadNext() != 42 {
		t.Errorf("expected next 42, got %d", n.LoadNext())
	}

	n.SetExpireAt(99)
	if n.ExpireAt() != 99 {
		t.Errorf("expected expireAt 99, got %d", n.ExpireAt())
	}
}
