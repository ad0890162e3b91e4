// Package meter provides a scoped measurement context for one ingestion run:
// wall-clock time, peak heap growth, store round-trip count, and the cache
// hit rate derived from before/after snapshots of the Redis keyspace
// counters. A Meter is created per run and passed explicitly; nothing here
// reads ambient globals.
package meter

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	pkgredis "github.com/marketpulse/transaction-analytics/pkg/redis"
)

// sampleInterval is how often the background sampler reads heap usage.
const sampleInterval = 25 * time.Millisecond

// CacheStatsProvider exposes the external counter service's keyspace
// counters. pkg/redis's Client implements it; nil means the metric degrades
// to zero.
type CacheStatsProvider interface {
	Stats(ctx context.Context) (pkgredis.ServerStats, error)
}

// Snapshot holds the finalized figures for a run.
type Snapshot struct {
	ElapsedMs       int64
	PeakMemoryMB    float64
	StoreQueryCount int64
	CacheHitRate    float64
	RowsPerSec      float64
}

// Meter measures one run. Start it before the first byte is read and
// snapshot it exactly once at terminal state.
type Meter struct {
	start    time.Time
	baseline uint64
	peak     atomic.Uint64
	queries  atomic.Int64

	cache       CacheStatsProvider
	cacheBefore pkgredis.ServerStats
	cacheOK     bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start creates a Meter, records the cache-counter baseline, and launches
// the heap sampler. An unreachable cache service degrades the hit-rate
// metric to zero instead of failing the run.
func Start(ctx context.Context, cache CacheStatsProvider) *Meter {
	m := &Meter{
		start:    time.Now(),
		baseline: heapAlloc(),
		cache:    cache,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cache != nil {
		if stats, err := cache.Stats(ctx); err == nil {
			m.cacheBefore = stats
			m.cacheOK = true
		}
	}
	go m.sample()
	return m
}

// IncQueries adds n store round-trips to the run's count.
func (m *Meter) IncQueries(n int64) {
	m.queries.Add(n)
}

// Queries returns the store round-trips counted so far.
func (m *Meter) Queries() int64 {
	return m.queries.Load()
}

// Stop halts the heap sampler without finalizing metrics. It is idempotent
// and safe to call after Snapshot; runs that end before reaching Snapshot
// must call it so the sampler does not outlive the run.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Snapshot stops the sampler and finalizes all metrics. rowsProcessed feeds
// the throughput figure; a zero elapsed time yields zero throughput.
func (m *Meter) Snapshot(ctx context.Context, rowsProcessed int64) Snapshot {
	m.Stop()
	m.observe(heapAlloc())

	elapsed := time.Since(m.start)
	snap := Snapshot{
		ElapsedMs:       elapsed.Milliseconds(),
		PeakMemoryMB:    float64(m.peak.Load()) / (1 << 20),
		StoreQueryCount: m.queries.Load(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.RowsPerSec = float64(rowsProcessed) / secs
	}
	snap.CacheHitRate = m.cacheHitRate(ctx)
	return snap
}

// cacheHitRate computes hits/(hits+misses) over the run's interval. Any
// failure or a zero total yields 0.0, never an error.
func (m *Meter) cacheHitRate(ctx context.Context) float64 {
	if !m.cacheOK {
		return 0.0
	}
	after, err := m.cache.Stats(ctx)
	if err != nil {
		return 0.0
	}
	hits := after.KeyspaceHits - m.cacheBefore.KeyspaceHits
	misses := after.KeyspaceMisses - m.cacheBefore.KeyspaceMisses
	total := hits + misses
	if total <= 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// sample tracks peak heap growth above the run's baseline until stopped.
func (m *Meter) sample() {
	defer close(m.done)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.observe(heapAlloc())
		case <-m.stop:
			return
		}
	}
}

func (m *Meter) observe(alloc uint64) {
	if alloc <= m.baseline {
		return
	}
	growth := alloc - m.baseline
	for {
		peak := m.peak.Load()
		if growth <= peak || m.peak.CompareAndSwap(peak, growth) {
			return
		}
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
