package perf

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/asynccache"
	"github.com/ValentinKolb/dGrid/lib/lru"
	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/rwlock"
	"github.com/ValentinKolb/dGrid/lib/scheduler"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/codec"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd benchmarks the in-process building blocks of the client
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Benchmark the scheduler, caches and lock of the client runtime",
		Long:    `Runs in-process benchmarks of the event scheduler, the async cache, the LRU cache and the async read/write lock. No member is needed, use "dgrid map perf" to benchmark a running grid.`,
		PreRunE: processConfig,
		RunE:    run,
	}

	numThreads  = 10
	keySpread   = 1000
	partitions  = 271
	lruCapacity = 10_000
	skip        = make([]string, 0)
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. lru-add,rwlock-write)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "keys"
	PerfCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use for the cache tests"))
	key = "partitions"
	PerfCmd.Flags().Int(key, 271, util.WrapString("How many partitions the scheduler test spreads events over"))
	key = "lru-capacity"
	PerfCmd.Flags().Int(key, 10_000, util.WrapString("Capacity of the LRU cache under test"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	numThreads = viper.GetInt("threads")
	keySpread = max(1, viper.GetInt("keys"))
	partitions = max(1, viper.GetInt("partitions"))
	lruCapacity = max(1, viper.GetInt("lru-capacity"))
	skip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

type benchmark struct {
	name string
	fn   func(b *testing.B)
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Benchmarking the dGrid client runtime")
	fmt.Println()
	fmt.Printf("Threads: %d (GOMAXPROCS %d)\n", numThreads, runtime.GOMAXPROCS(0))
	fmt.Printf("Keys: %d\n", keySpread)
	fmt.Println()

	benchmarks := []benchmark{
		{"scheduler-add", benchSchedulerAdd},
		{"asynccache-hit", benchAsyncCacheHit},
		{"asynccache-create", benchAsyncCacheCreate},
		{"lru-add", benchLRUAdd},
		{"lru-get", benchLRUGet},
		{"rwlock-read", benchRWLockRead},
		{"rwlock-write", benchRWLockWrite},
		{"frame-encode", benchFrameEncode},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		var result testing.BenchmarkResult
		if !shouldSkip(bm.name) {
			result = testing.Benchmark(bm.fn)
		}
		results[bm.name] = result
		util.PrintResult(bm.name, result)
	}

	fmt.Println()
	fmt.Println("Latencies:")
	for _, r := range telemetry.Timers() {
		fmt.Println(r.String())
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		extra := map[string]string{
			"Threads": strconv.Itoa(numThreads),
			"Keys":    strconv.Itoa(keySpread),
		}
		if err := util.WriteResultsToCSV(csvPath, results, extra); err != nil {
			return err
		}
		fmt.Printf("\nResults saved to %s\n", csvPath)
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// benchSchedulerAdd measures Add until all events have been handled
func benchSchedulerAdd(b *testing.B) {
	s := scheduler.New(scheduler.WithName("perf"))

	var wg sync.WaitGroup
	sub := scheduler.NewSubscription(func(*protocol.Message) error {
		wg.Done()
		return nil
	})

	events := make([]*protocol.Message, partitions)
	for i := range events {
		events[i] = protocol.NewEvent(int32(codec.MsgTEntryEvent), int32(i), 0)
	}

	wg.Add(b.N)
	var next atomic.Int64
	b.SetParallelism(numThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := next.Add(1)
			if !s.Add(sub, events[i%int64(partitions)]) {
				wg.Done()
			}
		}
	})
	wg.Wait()

	b.StopTimer()
	_ = s.Dispose(context.Background())
}

func benchAsyncCacheHit(b *testing.B) {
	ctx := context.Background()
	c := asynccache.New[int, string](asynccache.WithName[string]("perf"))
	factory := func(_ context.Context, k int) (string, error) { return strconv.Itoa(k), nil }
	for i := 0; i < keySpread; i++ {
		_, _ = c.GetOrAdd(ctx, i, factory)
	}

	b.SetParallelism(numThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := c.GetOrAdd(ctx, i%keySpread, factory); err != nil {
				b.Error(err)
			}
			i++
		}
	})
}

// benchAsyncCacheCreate removes every entry again so each call runs the factory
func benchAsyncCacheCreate(b *testing.B) {
	ctx := context.Background()
	c := asynccache.New[int, string](asynccache.WithName[string]("perf"))
	factory := func(_ context.Context, k int) (string, error) { return strconv.Itoa(k), nil }

	var next atomic.Int64
	b.SetParallelism(numThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k := int(next.Add(1))
			if _, err := c.GetOrAdd(ctx, k, factory); err != nil {
				b.Error(err)
			}
			c.TryRemove(k)
		}
	})
}

func benchLRUAdd(b *testing.B) {
	c, err := lru.New[int, int](lruCapacity, lruCapacity+max(1, lruCapacity/10), lru.WithName("perf"))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Dispose()

	var next atomic.Int64
	b.SetParallelism(numThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k := int(next.Add(1))
			if err := c.Add(k%(2*lruCapacity+1), k); err != nil {
				b.Error(err)
			}
		}
	})
}

func benchLRUGet(b *testing.B) {
	c, err := lru.New[int, int](lruCapacity, lruCapacity+max(1, lruCapacity/10), lru.WithName("perf"))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Dispose()
	for i := 0; i < keySpread; i++ {
		_ = c.Add(i, i)
	}

	b.SetParallelism(numThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, _, err := c.TryGetValue(i % keySpread); err != nil {
				b.Error(err)
			}
			i++
		}
	})
}

func benchRWLockRead(b *testing.B) {
	benchRWLock(b, false)
}

func benchRWLockWrite(b *testing.B) {
	benchRWLock(b, true)
}

func benchRWLock(b *testing.B, write bool) {
	ctx := context.Background()
	l := rwlock.New()

	b.SetParallelism(numThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			var (
				t   *rwlock.Ticket
				err error
			)
			if write {
				t, err = l.WriteLock(ctx)
			} else {
				t, err = l.ReadLock(ctx)
			}
			if err != nil {
				b.Error(err)
				return
			}
			t.Release()
		}
	})

	b.StopTimer()
	_ = l.Dispose(ctx)
}

// benchFrameEncode measures building and encoding a small request
func benchFrameEncode(b *testing.B) {
	payload := []byte("value")
	buf := make([]byte, 0, 256)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m := protocol.NewRequest(int32(codec.MsgTMapPut), int32(i%partitions), 0)
		m.SetCorrelationID(int64(i))
		protocol.EncodeString(m, "perf")
		protocol.EncodeBytes(m, payload)
		buf = protocol.AppendMessage(buf[:0], m)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, s := range skip {
		if test == s {
			return true
		}
	}
	return false
}
