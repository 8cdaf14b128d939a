package model

import (
	"fmt"
	"math"
	"time"
)

// -----------------------------------------------------------------------------
// Candle Types
// -----------------------------------------------------------------------------

// Candle is one open-high-low-close-volume record for a fixed time interval.
// OpenTime is the bucket key: Unix seconds aligned to the active granularity.
type Candle struct {
	OpenTime int64   // Bucket start (seconds since epoch, granularity-aligned)
	Open     float64 // First trade price in the bucket
	High     float64 // Highest trade price
	Low      float64 // Lowest trade price
	Close    float64 // Most recent trade price
	Volume   float64 // Accumulated base size
}

// Validate checks OHLC consistency: low <= {open, close} <= high, all finite.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if !IsFinite(v) {
			return fmt.Errorf("candle %d: non-finite field", c.OpenTime)
		}
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %d: low/high bounds violated (o=%v h=%v l=%v c=%v)",
			c.OpenTime, c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %d: negative volume %v", c.OpenTime, c.Volume)
	}
	return nil
}

// BucketStart aligns t down to the start of its granularity bucket.
func BucketStart(t time.Time, granularity time.Duration) int64 {
	g := int64(granularity / time.Second)
	if g <= 0 {
		g = 1
	}
	sec := t.Unix()
	return sec - mod(sec, g)
}

// mod is a non-negative modulo for pre-epoch timestamps.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// -----------------------------------------------------------------------------
// Stream Message Types
// -----------------------------------------------------------------------------

// Trade is one executed trade from the match channel.
type Trade struct {
	TradeID    int64     // Exchange-assigned trade ID, unique per product
	ProductID  string    // Trading pair (e.g., "BTC-USD")
	Price      float64   // Trade price
	Size       float64   // Trade size (base units)
	Time       time.Time // Exchange timestamp
	Sequence   int64     // Per-product sequence number
	ReceivedAt time.Time // Local receive timestamp
}

// Validate rejects malformed trades before they reach the synchronizer.
func (t Trade) Validate() error {
	if !IsFinite(t.Price) || t.Price <= 0 {
		return fmt.Errorf("trade %d: invalid price %v", t.TradeID, t.Price)
	}
	if !IsFinite(t.Size) || t.Size <= 0 {
		return fmt.Errorf("trade %d: invalid size %v", t.TradeID, t.Size)
	}
	if t.Time.IsZero() {
		return fmt.Errorf("trade %d: missing timestamp", t.TradeID)
	}
	return nil
}

// Side identifies one side of the order book.
type Side int

const (
	Bid Side = iota // Buy side: best price is the highest
	Ask             // Sell side: best price is the lowest
)

// String returns "bid" or "ask".
func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// BookDelta is one price-level change from the level2 channel.
// Size is the new absolute size at Price; zero removes the level.
type BookDelta struct {
	ProductID  string
	Side       Side
	Price      float64
	Size       float64
	Time       time.Time // Exchange timestamp
	Sequence   int64     // Per-product sequence number
	ReceivedAt time.Time // Local receive timestamp
}

// Validate rejects malformed deltas. A zero size is valid (level removal);
// negative or non-finite values are not.
func (d BookDelta) Validate() error {
	if !IsFinite(d.Price) || d.Price <= 0 {
		return fmt.Errorf("book delta %s: invalid price %v", d.ProductID, d.Price)
	}
	if !IsFinite(d.Size) || d.Size < 0 {
		return fmt.Errorf("book delta %s: invalid size %v", d.ProductID, d.Size)
	}
	return nil
}

// PriceLevel is a single price point's aggregate outstanding size.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full order-book state fetched over REST.
type BookSnapshot struct {
	ProductID string
	Sequence  int64 // Exchange sequence the snapshot was taken at
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// -----------------------------------------------------------------------------
// Validation Helpers
// -----------------------------------------------------------------------------

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
