package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mundrapranay/oblivkv/pkg/client"
)

var (
	proxyAddr     = flag.String("proxy", "127.0.0.1:5000", "Proxy address (host:port)")
	numClients    = flag.Int("clients", 4, "Number of concurrent clients")
	keysPerClient = flag.Int("keys", 50, "Number of keys owned by each client")
	opsPerBatch   = flag.Int("ops", 10, "Operations per batch")
	writeRatio    = flag.Float64("write-ratio", 0.3, "Fraction of operations that are writes")
	batchesPerSec = flag.Float64("qps", 20.0, "Batches per second across all clients (0 = unlimited)")
	duration      = flag.Duration("duration", 30*time.Second, "Test duration")
)

type metrics struct {
	batches    int64
	failed     int64
	reads      int64
	answered   int64
	mismatches int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	flag.Parse()

	fmt.Printf("oblivkv load test\n")
	fmt.Printf("   Proxy:            %s\n", *proxyAddr)
	fmt.Printf("   Clients:          %d\n", *numClients)
	fmt.Printf("   Keys per client:  %d\n", *keysPerClient)
	fmt.Printf("   Ops per batch:    %d\n", *opsPerBatch)
	fmt.Printf("   Write ratio:      %.2f\n", *writeRatio)
	fmt.Printf("   Batches per sec:  %.1f\n", *batchesPerSec)
	fmt.Printf("   Duration:         %v\n", *duration)
	fmt.Println()

	c, err := client.NewClient(*proxyAddr)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	before, err := c.Health(ctx)
	if err != nil {
		log.Fatalf("Proxy is not reachable: %v", err)
	}

	limit := rate.Inf
	if *batchesPerSec > 0 {
		limit = rate.Limit(*batchesPerSec)
	}
	limiter := rate.NewLimiter(limit, *numClients)

	var m metrics
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, c, id, limiter, &m)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	after, err := c.Health(context.Background())
	if err != nil {
		log.Printf("Failed to fetch final stats: %v", err)
	}

	report(&m, elapsed, before, after)
	if atomic.LoadInt64(&m.mismatches) > 0 {
		log.Fatalf("%d reads returned a stale or foreign value", m.mismatches)
	}
}

// runClient drives one client over its own key range, so it can check every
// answered read against what it last wrote.
func runClient(ctx context.Context, c *client.Client, id int, limiter *rate.Limiter, m *metrics) {
	rng := rand.New(rand.NewSource(int64(id) + time.Now().UnixNano()))
	written := make(map[string]string)
	seq := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		ops := make([]client.Op, 0, *opsPerBatch)
		expect := make(map[string]string)
		pending := make(map[string]string)
		for j := 0; j < *opsPerBatch; j++ {
			seq++
			rid := fmt.Sprintf("c%d-%d", id, seq)
			key := fmt.Sprintf("client%d:key%d", id, rng.Intn(*keysPerClient))

			if rng.Float64() < *writeRatio {
				val := fmt.Sprintf("%s@%d", key, seq)
				ops = append(ops, client.Write(rid, key, []byte(val)))
				pending[key] = val
				continue
			}
			ops = append(ops, client.Read(rid, key))
			// reads in the same batch as a write to the key may see either value
			if _, racing := pending[key]; !racing {
				if v, ok := written[key]; ok {
					expect[rid] = v
				}
			}
		}

		t0 := time.Now()
		out, err := c.Batch(ctx, ops)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			atomic.AddInt64(&m.failed, 1)
			log.Printf("client %d: batch failed: %v", id, err)
			continue
		}
		m.observe(time.Since(t0))
		atomic.AddInt64(&m.batches, 1)

		for _, op := range ops {
			if op.Op != "read" {
				continue
			}
			atomic.AddInt64(&m.reads, 1)
			got, ok := out[op.RID]
			if !ok {
				continue
			}
			atomic.AddInt64(&m.answered, 1)
			if want, checked := expect[op.RID]; checked && got != want {
				atomic.AddInt64(&m.mismatches, 1)
				log.Printf("client %d: %s read %q, want %q", id, op.Key, got, want)
			}
		}
		for k, v := range pending {
			written[k] = v
		}
	}
}

func report(m *metrics, elapsed time.Duration, before, after client.Stats) {
	m.mu.Lock()
	lat := append([]time.Duration(nil), m.latencies...)
	m.mu.Unlock()
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	pct := func(p float64) time.Duration {
		if len(lat) == 0 {
			return 0
		}
		return lat[int(p*float64(len(lat)-1))]
	}

	fmt.Printf("Results\n")
	fmt.Printf("   Batches:          %d ok, %d failed\n", m.batches, m.failed)
	fmt.Printf("   Throughput:       %.1f batches/sec\n", float64(m.batches)/elapsed.Seconds())
	fmt.Printf("   Latency p50/p99:  %v / %v\n", pct(0.50), pct(0.99))
	fmt.Printf("   Reads answered:   %d of %d\n", m.answered, m.reads)
	fmt.Printf("   Mismatches:       %d\n", m.mismatches)
	fmt.Printf("   Proxy rounds:     %d (degraded %d)\n", after.Rounds-before.Rounds, after.DegradedRounds-before.DegradedRounds)
	fmt.Printf("   Backend failures: %d reads, %d writes\n",
		after.ReadFailures-before.ReadFailures, after.WriteFailures-before.WriteFailures)
}
