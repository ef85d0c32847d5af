package chunkgo

import (
	"log/slog"
)

const (
	// DefaultCapacity is the default weighted cache capacity in bytes.
	DefaultCapacity = 512 << 20

	// DefaultPoolHeadroom is the default extra buffer pool budget beyond
	// the cache capacity. It absorbs chunks that are loaded but not yet
	// installed, and chunks still referenced after eviction.
	DefaultPoolHeadroom = 64 << 20

	// DefaultAcquireRetries is the default number of attempts to acquire
	// a reference to a resident chunk before giving up.
	DefaultAcquireRetries = 1000
)

type options struct {
	capacity         int64
	poolHeadroom     int64
	shards           int
	acquireRetries   int
	disabled         bool
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Cache constructor behavior.
type Option func(*options)

// WithCapacity sets the weighted cache capacity in bytes. A capacity of 0
// permanently disables caching: MaybeWrap hands out pass-through
// rebufferers and no memory is reserved.
func WithCapacity(capacity int64) Option {
	return func(o *options) {
		o.capacity = capacity
	}
}

// WithPoolHeadroom sets the extra buffer pool budget in bytes beyond the
// cache capacity. Once capacity plus headroom is mapped, further loads
// allocate outside the pool budget and are logged once.
func WithPoolHeadroom(headroom int64) Option {
	return func(o *options) {
		if headroom >= 0 {
			o.poolHeadroom = headroom
		}
	}
}

// WithShards sets the number of independent LRU shards. The capacity is
// split evenly across shards, so eviction decisions are per shard.
//
// If shards <= 0, a power-of-two count is derived from GOMAXPROCS and
// clamped so every shard keeps at least a few chunks' worth of capacity.
// Tests that need deterministic eviction order should pin WithShards(1).
func WithShards(shards int) Option {
	return func(o *options) {
		o.shards = shards
	}
}

// WithAcquireRetries sets how many times a read retries acquiring a
// reference to a resident chunk before failing with an AcquireError.
// Each retry re-fetches the entry, so a retry only repeats when the entry
// was concurrently evicted and fully released.
func WithAcquireRetries(retries int) Option {
	return func(o *options) {
		if retries > 0 {
			o.acquireRetries = retries
		}
	}
}

// WithDisabled starts the cache disabled without giving up its capacity
// configuration. A disabled cache can be enabled later with Enable(true).
func WithDisabled(disabled bool) Option {
	return func(o *options) {
		o.disabled = disabled
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// cache traffic.
//
// Example with BasicMetricsCollector:
//
//	metrics := &chunkgo.BasicMetricsCollector{}
//	cc, _ := chunkgo.New(chunkgo.WithMetricsCollector(metrics))
//	// ... use cc ...
//	stats := metrics.GetStats()
//	fmt.Printf("Hits: %d, Avg latency: %dns\n", stats.RebufferHits, stats.RebufferAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metricsCollector = mc
		}
	}
}

// WithLogger configures structured logging.
//
// Example with JSON logging:
//
//	logger := chunkgo.NewJSONLogger(slog.LevelInfo)
//	cc, _ := chunkgo.New(chunkgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		capacity:         DefaultCapacity,
		poolHeadroom:     DefaultPoolHeadroom,
		acquireRetries:   DefaultAcquireRetries,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
