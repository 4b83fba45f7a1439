// Licensed under the MIT License. See LICENSE file in the project root for details.

// Command repl is an interactive shell over a shmmap map instance: get, put,
// del, count, keys and gc, driven from stdin. Useful for poking at a
// running map during development.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
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
		Use:   "repl",
		Short: "Interactive shell over a shmmap map instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := root.Flags()
	flags.String("segment", "", "named region to open (random if empty)")
	flags.Int("segment-size", 64<<20, "arena size in bytes, for either backend")
	flags.Uint64("buckets", 1024, "bucket count")
	flags.Uint64("capacity", 65536, "slab pool capacity (live slots)")
	flags.Bool("shared", false, "back the arena with an mmap(MAP_SHARED) region instead of process-local memory")
	flags.Duration("gc-interval", 2*time.Second, "background GC sweep interval")
	_ = v.BindPFlags(flags)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	segment := v.GetString("segment")
	if segment == "" {
		segment = uuid.NewString()
	}

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
	m, err := core.NewStringMap[string](a, segment, v.GetUint64("buckets"), v.GetUint64("capacity"), core.WithLogger(log))
	if err != nil {
		return fmt.Errorf("shmmap: open map %q: %w", segment, err)
	}
	defer m.Close()

	stop := m.StartGCLoop(v.GetDuration("gc-interval"))
	defer stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down")
		os.Exit(0)
	}()

	fmt.Printf("shmmap repl — segment %q\n", segment)
	fmt.Println("commands: get <key>, put <key> <value> [ttl_seconds], del <key>, count, keys, gc, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "get":
			if len(args) != 1 {
				fmt.Println("usage: get <key>")
				continue
			}
			val, ok := m.Get(args[0])
			if !ok {
				fmt.Println("not found")
				continue
			}
			fmt.Println(val)

		case "put":
			if len(args) < 2 {
				fmt.Println("usage: put <key> <value> [ttl_seconds]")
				continue
			}
			var ttl time.Duration
			if len(args) >= 3 {
				secs, perr := time.ParseDuration(args[2] + "s")
				if perr != nil {
					fmt.Println("invalid ttl:", perr)
					continue
				}
				ttl = secs
			}
			if err := m.Insert(args[0], args[1], ttl); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")

		case "del":
			// The map protocol has no explicit delete; the idiom is to
			// overwrite with a short TTL, which the reclaimer will pick up
			// on its next sweep.
			if len(args) != 1 {
				fmt.Println("usage: del <key>")
				continue
			}
			_ = m.Insert(args[0], "", time.Nanosecond)
			fmt.Println("marked for expiry")

		case "count":
			fmt.Println(m.Count())

		case "keys":
			for _, k := range m.Keys() {
				fmt.Println(k)
			}

		case "gc":
			m.GC()
			stats := m.GCStats()
			fmt.Printf("cycles=%d scanned=%d enlisted=%d freed=%d stuck=%d\n",
				stats.GCCycles, stats.GCScanned, stats.GCEnlisted, stats.GCFreed, stats.GCStuck)

		case "quit", "exit":
			return nil

		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}
