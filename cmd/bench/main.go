// Licensed under the MIT License. See LICENSE file in the project root for details.

// Command bench drives a configurable concurrent read/write/expiry workload
// against a shmmap map instance and reports throughput.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kianostad/shmmap/internal/arena"
	"github.com/kianostad/shmmap/internal/core"
)

func main() {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("shmmap")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "bench",
		Short: "Throughput harness for a shmmap map instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := root.Flags()
	flags.Uint64("buckets", 4096, "bucket count")
	flags.Uint64("capacity", 1_000_000, "slab pool capacity (live slots)")
	flags.Int("segment-size", 256<<20, "arena size in bytes, for either backend")
	flags.Bool("shared", false, "back the arena with an mmap(MAP_SHARED) region")
	flags.Int("workers", 8, "concurrent goroutines")
	flags.Int("ops", 200_000, "operations per worker")
	flags.Float64("write-ratio", 0.2, "fraction of ops that are inserts rather than gets")
	flags.Duration("ttl", 0, "TTL applied to every insert (0 = never expires)")
	_ = v.BindPFlags(flags)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	var a arena.Arena
	var err error
	if v.GetBool("shared") {
		a, err = arena.NewShared(v.GetInt("segment-size"))
	} else {
		a = arena.NewHeap(v.GetInt("segment-size"))
	}
	if err != nil {
		return fmt.Errorf("shmmap: open arena: %w", err)
	}
	defer a.Close()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	name := uuid.NewString()
	m, err := core.NewStringMap[[]byte](a, name, v.GetUint64("buckets"), v.GetUint64("capacity"), core.WithLogger(log))
	if err != nil {
		return fmt.Errorf("shmmap: open map: %w", err)
	}
	defer m.Close()

	stop := m.StartGCLoop(2 * time.Second)
	defer stop()

	workers := v.GetInt("workers")
	ops := v.GetInt("ops")
	writeRatio := v.GetFloat64("write-ratio")
	ttl := v.GetDuration("ttl")

	var inserts, gets, hits atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			value := []byte(fmt.Sprintf("worker-%d-value", worker))
			for i := 0; i < ops; i++ {
				key := fmt.Sprintf("key-%d", rng.Intn(ops*workers/10+1))
				if rng.Float64() < writeRatio {
					_ = m.Insert(key, value, ttl)
					inserts.Add(1)
				} else {
					if _, ok := m.Get(key); ok {
						hits.Add(1)
					}
					gets.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := inserts.Load() + gets.Load()
	fmt.Printf("workers=%d ops=%d total_ops=%d elapsed=%s throughput=%.0f ops/sec\n",
		workers, ops, total, elapsed, float64(total)/elapsed.Seconds())
	fmt.Printf("inserts=%d gets=%d hits=%d hit_ratio=%.2f%%\n",
		inserts.Load(), gets.Load(), hits.Load(), 100*float64(hits.Load())/float64(max64(gets.Load(), 1)))
	fmt.Printf("count=%d pool_alloc_retries=%d\n", m.Count(), m.PoolRetries())

	m.GC()
	stats := m.GCStats()
	fmt.Printf("gc: cycles=%d scanned=%d enlisted=%d freed=%d stuck=%d\n",
		stats.GCCycles, stats.GCScanned, stats.GCEnlisted, stats.GCFreed, stats.GCStuck)

	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
