// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kianostad/shmmap/internal/arena"
)

// TestGCLoopLeavesNoGoroutine exercises StartGCLoop/stop under concurrent
// traffic and checks the background ticker goroutine is actually gone once
// stop returns, the way okian-lfdb/tests/race_test.go checks its own
// background workers with goleak.
func TestGCLoopLeavesNoGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := arena.NewHeap(1 << 20)
	m, err := New[int](a, "race", 64, 512, WithGCBreakTime(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	stop := m.StartGCLoop(2 * time.Millisecond)

	const goroutines = 10
	const ops = 200
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := []byte(fmt.Sprintf("g%d-%d", g, i%10))
				switch i % 3 {
				case 0:
					_ = m.Insert(key, g*ops+i, time.Millisecond)
				case 1:
					m.Get(key)
				case 2:
					m.Count()
				}
			}
		}(g)
	}
	wg.Wait()
	stop()
}
