package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL           = "https://api.exchange.example.com"
	DefaultWSURL             = "wss://ws-feed.exchange.example.com"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultPingInterval      = 15 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultStreamBufferSize  = 100000
	DefaultFailureThreshold  = 5
	DefaultRollingWindow     = 1 * time.Minute
	DefaultCooldown          = 5 * time.Second
	DefaultReconnectBase     = 1 * time.Second
	DefaultReconnectMax      = 60 * time.Second
	DefaultMaxAttempts       = 10
	DefaultMaxSubsPerSecond  = 5.0
	DefaultBatchWindow       = 250 * time.Millisecond
	DefaultLeakAge           = 10 * time.Minute
	DefaultGranularity       = 1 * time.Minute
	DefaultReorderWindow     = 1 // One sealed-pending bucket behind the open one
	DefaultSeedBuckets       = 300
	DefaultBookDepth         = 50
	DefaultCacheCapacity     = 128
	DefaultCacheTTL          = 5 * time.Minute
	DefaultLoadTimeout       = 10 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultWriterBufferSize  = 10000
	DefaultPollInterval      = 30 * time.Second
	DefaultReconcileInterval = 1 * time.Minute
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *SyncdConfig) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	if c.Stream.WSURL == "" {
		c.Stream.WSURL = DefaultWSURL
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Breaker defaults
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.RollingWindow == 0 {
		c.Breaker.RollingWindow = DefaultRollingWindow
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = DefaultCooldown
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}

	// Subscription defaults
	if c.Subscriptions.MaxPerSecond == 0 {
		c.Subscriptions.MaxPerSecond = DefaultMaxSubsPerSecond
	}
	if c.Subscriptions.BatchWindow == 0 {
		c.Subscriptions.BatchWindow = DefaultBatchWindow
	}
	if c.Subscriptions.LeakAge == 0 {
		c.Subscriptions.LeakAge = DefaultLeakAge
	}

	// Candle defaults
	if c.Candles.Granularity == 0 {
		c.Candles.Granularity = DefaultGranularity
	}
	if c.Candles.ReorderWindow == 0 {
		c.Candles.ReorderWindow = DefaultReorderWindow
	}
	if c.Candles.SeedBuckets == 0 {
		c.Candles.SeedBuckets = DefaultSeedBuckets
	}

	// Book defaults
	if c.Book.Depth == 0 {
		c.Book.Depth = DefaultBookDepth
	}

	// Cache defaults
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = DefaultCacheTTL
	}
	if c.Cache.LoadTimeout == 0 {
		c.Cache.LoadTimeout = DefaultLoadTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Writer defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultWriterBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.ReconcileInterval == 0 {
		c.Poller.ReconcileInterval = DefaultReconcileInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
