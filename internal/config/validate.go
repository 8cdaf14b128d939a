package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *SyncdConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Candles.Products) == 0 {
		return errors.New("candles.products must list at least one product")
	}
	if c.Candles.Granularity < time.Second {
		return fmt.Errorf("candles.granularity must be >= 1s, got %v", c.Candles.Granularity)
	}
	if c.Candles.ReorderWindow < 0 {
		return errors.New("candles.reorder_window must be >= 0")
	}
	if c.Candles.SeedBuckets < 1 {
		return errors.New("candles.seed_buckets must be >= 1")
	}

	if c.Breaker.FailureThreshold < 1 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.RollingWindow <= 0 {
		return errors.New("breaker.rolling_window must be > 0")
	}
	if c.Breaker.Cooldown <= 0 {
		return errors.New("breaker.cooldown must be > 0")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%v) must be >= base_delay (%v)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}

	if c.Subscriptions.MaxPerSecond <= 0 {
		return errors.New("subscriptions.max_per_second must be > 0")
	}
	if c.Subscriptions.BatchWindow <= 0 {
		return errors.New("subscriptions.batch_window must be > 0")
	}

	if c.Book.Depth < 1 {
		return errors.New("book.depth must be >= 1")
	}

	if c.Cache.Capacity < 1 {
		return errors.New("cache.capacity must be >= 1")
	}

	if err := c.Database.Timescale.validate("database.timescale"); err != nil {
		return err
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
