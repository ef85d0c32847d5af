package chunkgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    hitCounter    prometheus.Counter
//	    loadHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordRebuffer(hit bool, duration time.Duration, err error) {
//	    if hit {
//	        p.hitCounter.Inc()
//	    }
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordRebuffer is called after each chunk request served through a
	// cache-backed rebufferer. hit is true when the chunk was resident.
	RecordRebuffer(hit bool, duration time.Duration, err error)

	// RecordLoad is called after each chunk load from the underlying
	// reader. bytes is the number of bytes read, err is nil on success.
	RecordLoad(bytes int, duration time.Duration, err error)

	// RecordEviction is called when capacity pressure removes a chunk.
	// bytes is the weighted size of the evicted entry.
	RecordEviction(bytes int64)

	// RecordInvalidate is called after an explicit invalidation with the
	// number of chunks removed.
	RecordInvalidate(chunks int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRebuffer(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordLoad(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordEviction(int64)                      {}
func (NoopMetricsCollector) RecordInvalidate(int)                      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RebufferCount      atomic.Int64
	RebufferHits       atomic.Int64
	RebufferErrors     atomic.Int64
	RebufferTotalNanos atomic.Int64
	LoadCount          atomic.Int64
	LoadErrors         atomic.Int64
	LoadBytes          atomic.Int64
	LoadTotalNanos     atomic.Int64
	EvictionCount      atomic.Int64
	EvictionBytes      atomic.Int64
	InvalidateCount    atomic.Int64
	InvalidateChunks   atomic.Int64
}

// RecordRebuffer implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuffer(hit bool, duration time.Duration, err error) {
	b.RebufferCount.Add(1)
	b.RebufferTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.RebufferHits.Add(1)
	}
	if err != nil {
		b.RebufferErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(bytes int, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	} else {
		b.LoadBytes.Add(int64(bytes))
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(bytes int64) {
	b.EvictionCount.Add(1)
	b.EvictionBytes.Add(bytes)
}

// RecordInvalidate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidate(chunks int) {
	b.InvalidateCount.Add(1)
	b.InvalidateChunks.Add(int64(chunks))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RebufferCount:    b.RebufferCount.Load(),
		RebufferHits:     b.RebufferHits.Load(),
		RebufferErrors:   b.RebufferErrors.Load(),
		RebufferAvgNanos: b.getAvgRebufferNanos(),
		LoadCount:        b.LoadCount.Load(),
		LoadErrors:       b.LoadErrors.Load(),
		LoadBytes:        b.LoadBytes.Load(),
		LoadAvgNanos:     b.getAvgLoadNanos(),
		EvictionCount:    b.EvictionCount.Load(),
		EvictionBytes:    b.EvictionBytes.Load(),
		InvalidateCount:  b.InvalidateCount.Load(),
		InvalidateChunks: b.InvalidateChunks.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRebufferNanos() int64 {
	count := b.RebufferCount.Load()
	if count == 0 {
		return 0
	}
	return b.RebufferTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgLoadNanos() int64 {
	count := b.LoadCount.Load()
	if count == 0 {
		return 0
	}
	return b.LoadTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RebufferCount    int64
	RebufferHits     int64
	RebufferErrors   int64
	RebufferAvgNanos int64
	LoadCount        int64
	LoadErrors       int64
	LoadBytes        int64
	LoadAvgNanos     int64
	EvictionCount    int64
	EvictionBytes    int64
	InvalidateCount  int64
	InvalidateChunks int64
}
