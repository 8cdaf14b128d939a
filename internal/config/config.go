package config

import "time"

// SyncdConfig is the root configuration for the market sync daemon.
type SyncdConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	API           APIConfig           `yaml:"api"`
	Stream        StreamConfig        `yaml:"stream"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Candles       CandlesConfig       `yaml:"candles"`
	Book          BookConfig          `yaml:"book"`
	Cache         CacheConfig         `yaml:"cache"`
	Database      DatabaseConfig      `yaml:"database"`
	Writers       WritersConfig       `yaml:"writers"`
	Poller        PollerConfig        `yaml:"poller"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// InstanceConfig identifies this syncd instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig configures the REST client used for historical fetches.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Key        string        `yaml:"key"`
	Secret     string        `yaml:"secret"`     // Base64-encoded HMAC secret
	Passphrase string        `yaml:"passphrase"` // Optional, exchange-dependent
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig configures the WebSocket transport.
type StreamConfig struct {
	WSURL        string        `yaml:"ws_url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// BreakerConfig configures the circuit breaker wrapping the transport.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RollingWindow    time.Duration `yaml:"rolling_window"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// ReconnectConfig configures the reconnection scheduler.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      bool          `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"` // Past this, degrade to polling
}

// SubscriptionsConfig configures the subscription manager.
type SubscriptionsConfig struct {
	MaxPerSecond float64       `yaml:"max_per_second"` // Subscribe-operations-per-second ceiling
	BatchWindow  time.Duration `yaml:"batch_window"`   // Outbound subscribe coalescing window
	LeakAge      time.Duration `yaml:"leak_age"`       // Inactivity age reported as a leak
}

// CandlesConfig configures the candle synchronizer.
type CandlesConfig struct {
	Products      []string      `yaml:"products"`
	Granularity   time.Duration `yaml:"granularity"`
	ReorderWindow int           `yaml:"reorder_window"` // Buckets kept open behind the frontier
	SeedBuckets   int           `yaml:"seed_buckets"`   // History depth fetched at startup
}

// BookConfig configures the order-book side of the engine.
type BookConfig struct {
	Depth int `yaml:"depth"` // Levels published to consumers
}

// CacheConfig configures the historical-fetch cache.
type CacheConfig struct {
	Capacity    int           `yaml:"capacity"`
	DefaultTTL  time.Duration `yaml:"default_ttl"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// DatabaseConfig groups database connections.
type DatabaseConfig struct {
	// Timescale holds archived candles (time-series data).
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig configures a single Postgres connection pool.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig configures the candle archiver.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// PollerConfig configures the REST fallback/backfill poller.
type PollerConfig struct {
	Interval          time.Duration `yaml:"interval"`           // Degraded-mode refresh cadence
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // Gap-scan cadence
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
