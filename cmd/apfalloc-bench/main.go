// Command apfalloc-bench drives a configurable malloc/free workload across
// a pool of worker goroutines and serves the allocator's APF tuner metrics
// over HTTP. It is a harness for exercising the allocator, not part of its
// public contract (spec.md's benchmarks are explicitly out of scope for the
// engine itself).
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/cacheline/apfalloc"
)

var (
	threads      = kingpin.Flag("threads", "Number of worker goroutines.").Default("8").Int()
	size         = kingpin.Flag("size", "Allocation size in bytes.").Default("64").Int()
	opsPerWorker = kingpin.Flag("ops", "Allocation/free cycles per worker.").Default("100000").Int64()
	targetAPF    = kingpin.Flag("target-apf", "TARGET_APF override (also settable via the TARGET_APF env var).").Int()
	metricsAddr  = kingpin.Flag("metrics-addr", "Address to serve Prometheus metrics on; empty disables the HTTP server.").Default(":9116").String()
)

func main() {
	kingpin.Parse()

	if *targetAPF > 0 {
		os.Setenv("TARGET_APF", fmt.Sprintf("%d", *targetAPF))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(apfalloc.PrometheusCollector())

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry)
	}

	start := time.Now()
	runWorkers(*threads, *size, *opsPerWorker)
	elapsed := time.Since(start)

	total := int64(*threads) * *opsPerWorker
	log.Printf("apfalloc-bench: %d threads, %d bytes/alloc, %d total ops in %s (%.0f ops/sec)",
		*threads, *size, total, elapsed, float64(total)/elapsed.Seconds())
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	log.Printf("apfalloc-bench: serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("apfalloc-bench: metrics server stopped: %v", err)
	}
}

// runWorkers starts n goroutines, each driving its own Cache through
// opsPerWorker malloc/write/free cycles of byteSize bytes. Using an
// explicit Cache per worker (rather than the pooled package-level API)
// gives each goroutine stable cache affinity, which is what lets the APF
// tuner's fetch count settle into the steady-state ratio spec.md §8
// scenario 6 describes.
func runWorkers(n, byteSize int, opsPerWorker int64) {
	allocator := apfalloc.New()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(seed int64) {
			defer wg.Done()
			c := allocator.NewCache()
			defer c.Close()

			rng := rand.New(rand.NewSource(seed))
			worker(c, rng, byteSize, opsPerWorker)
		}(int64(i))
	}
	wg.Wait()
}

func worker(c *apfalloc.Cache, rng *rand.Rand, byteSize int, ops int64) {
	live := make([]unsafe.Pointer, 0, 256)
	for i := int64(0); i < ops; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			p := c.Malloc(uintptr(byteSize))
			if p == nil {
				continue
			}
			*(*byte)(p) = 1
			live = append(live, p)
			continue
		}
		idx := rng.Intn(len(live))
		c.Free(live[idx])
		live[idx] = live[len(live)-1]
		live = live[:len(live)-1]
	}
	for _, p := range live {
		c.Free(p)
	}
}
