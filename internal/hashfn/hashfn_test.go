// Licensed under the MIT License. See LICENSE file in the project root for details.

package hashfn

import "testing"

func TestXXHashDeterministic(t *testing.T) {
	key := []byte("session:12345")
	a := XXHash(key)
	b := XXHash(key)
	if a != b {
		t.Errorf("XXHash not deterministic: %d != %d", a, b)
	}
}

func TestXXHashDistinguishesKeys(t *testing.T) {
	if XXHash([]byte("a")) == XXHash([]byte("b")) {
		t.Error("distinct single-byte keys hashed to the same value")
	}
}

func TestXXHashEmptyKey(t *testing.T) {
	// must not panic on the zero-length key.
	_ = XXHash(nil)
	_ = XXHash([]byte{})
}

func TestFNV1aDeterministic(t *testing.T) {
	key := []byte("session:12345")
	a := FNV1a(key)
	b := FNV1a(key)
	if a != b {
		t.Errorf("FNV1a not deterministic: %d != %d", a, b)
	}
}

func TestFNV1aDistinguishesKeys(t *testing.T) {
	if FNV1a([]byte("a")) == FNV1a([]byte("b")) {
		t.Error("distinct single-byte keys hashed to the same value")
	}
}

func TestFNV1aEmptyKey(t *testing.T) {
	if got := FNV1a(nil); got != 2166136261 {
		t.Errorf("expected FNV offset basis for empty key, got %d", got)
	}
}

func TestFuncIsAssignable(t *testing.T) {
	var f Func = XXHash
	f = FNV1a
	_ = f([]byte("x"))
}
