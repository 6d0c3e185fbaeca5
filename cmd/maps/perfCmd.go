package maps

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"testing"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dGrid members",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfMapName          = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfNearCacheSize    = 1000
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "near-cache-size"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Capacity of the near cache used by the get-near test"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = viper.GetInt("threads")
	perfNearCacheSize = viper.GetInt("near-cache-size")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for dGrid members")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConfig.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	plain, err := gridClient.GetMap(ctx, perfMapName)
	if err != nil {
		return err
	}
	near, err := gridClient.GetMap(ctx, perfMapName+"-near", client.WithNearCache(perfNearCacheSize, perfNearCacheSize+perfNearCacheSize/10))
	if err != nil {
		return err
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	benchmarks := []struct {
		name  string
		m     *client.Map
		value []byte
		setup bool
		op    func(m *client.Map, key []byte, value []byte) error
	}{
		{name: "put", m: plain, value: []byte("test"), op: func(m *client.Map, key, value []byte) error {
			_, err := m.Put(ctx, key, value)
			return err
		}},
		{name: "put-large", m: plain, value: make([]byte, perfLargeValueSizeKB*1024), op: func(m *client.Map, key, value []byte) error {
			_, err := m.Put(ctx, key, value)
			return err
		}},
		{name: "get", m: plain, value: []byte("test"), setup: true, op: func(m *client.Map, key, _ []byte) error {
			_, err := m.Get(ctx, key)
			return err
		}},
		{name: "get-near", m: near, value: []byte("test"), setup: true, op: func(m *client.Map, key, _ []byte) error {
			_, err := m.Get(ctx, key)
			return err
		}},
		{name: "remove", m: plain, value: []byte("test"), setup: true, op: func(m *client.Map, key, _ []byte) error {
			_, err := m.Remove(ctx, key)
			return err
		}},
	}

	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			// prepare keys
			getKey, iter := getKeys(bm.name)

			if bm.setup {
				iter(func(k []byte) {
					if _, err := bm.m.Put(ctx, k, bm.value); err != nil {
						log.Printf("(%s) - error putting key: %v\n", bm.name, err)
					}
				})
			}

			// cleanup
			b.Cleanup(func() {
				iter(func(k []byte) {
					if _, err := bm.m.Remove(ctx, k); err != nil {
						log.Printf("(%s) - error removing key: %v\n", bm.name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := bm.op(bm.m, getKey(counter), bm.value); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})

		results[bm.name] = result
		util.PrintResult(bm.name, result)
	}

	fmt.Println()
	fmt.Println("Latencies:")
	for _, r := range telemetry.Timers() {
		fmt.Println(r.String())
	}

	// Save results to CSV if path is provided
	if csvPath := viper.GetString("csv"); csvPath != "" {
		extra := map[string]string{
			"Threads":    strconv.Itoa(perfNumThreads),
			"Keys":       strconv.Itoa(perfKeySpread),
			"Endpoints":  strings.Join(clientConfig.Endpoints, " "),
			"Transport":  viper.GetString("transport"),
			"Partitions": strconv.Itoa(int(clientConfig.PartitionCount)),
		}
		if err := util.WriteResultsToCSV(csvPath, results, extra); err != nil {
			return err
		}
		fmt.Printf("\nResults saved to %s\n", csvPath)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys and functions to work with them
func getKeys(prefix string) (func(int) []byte, func(func([]byte))) {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfMapName, prefix, i))
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) []byte {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func([]byte)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}
