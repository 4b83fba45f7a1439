// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/kianostad/shmmap/internal/arena"
)

// TestPropertySequentialInsertGetMatchesMap checks Map against a plain Go
// map reference model for a random sequence of never-expiring inserts and
// gets, the way okian-lfdb/tests/property_test.go checks its DB against a
// model map. TTLs are deliberately excluded from the generated operations:
// Map resolves expiry against wall-clock time, which a sequential model
// can't reproduce deterministically.
func TestPropertySequentialInsertGetMatchesMap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := arena.NewHeap(4 << 20)
		m, err := New[string](a, "prop", 64, 2048)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer m.Close()

		model := make(map[string]string)

		keyGen := rapid.StringMatching(`[a-c]{1,3}`)
		valGen := rapid.String()

		ops := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) func() {
			isInsert := rapid.Bool().Draw(t, "isInsert")
			key := keyGen.Draw(t, "key")
			if isInsert {
				val := valGen.Draw(t, "val")
				return func() {
					if err := m.Insert([]byte(key), val, 0); err != nil {
						t.Fatalf("Insert: %v", err)
					}
					model[key] = val
				}
			}
			return func() {
				got, ok := m.Get([]byte(key))
				want, wantOk := model[key]
				if ok != wantOk {
					t.Fatalf("Get(%q): ok=%t, want %t", key, ok, wantOk)
				}
				if ok && got != want {
					t.Fatalf("Get(%q): got %q, want %q", key, got, want)
				}
			}
		}), 1, 200).Draw(t, "ops")

		for _, op := range ops {
			op()
		}

		for key, want := range model {
			got, ok := m.Get([]byte(key))
			if !ok || got != want {
				t.Fatalf("final check key %q: got (%q, %t), want (%q, true)", key, got, ok, want)
			}
		}
	})
}
