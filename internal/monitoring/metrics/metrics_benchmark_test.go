// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import "testing"

func BenchmarkRecordGet(b *testing.B) {
	m := New("bench_get")
	defer m.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordGet(ResultOK)
	}
}

func BenchmarkRecordInsert(b *testing.B) {
	m := New("bench_insert")
	defer m.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordInsert(ResultOK)
	}
}

func BenchmarkSnapshot(b *testing.B) {
	m := New("bench_snapshot")
	defer m.Close()
	m.RecordGet(ResultOK)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
