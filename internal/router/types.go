package router

import (
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// RouterConfig configures buffer sizes for the typed output paths.
type RouterConfig struct {
	BookBufferSize  int
	TradeBufferSize int
}

// DefaultRouterConfig returns sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BookBufferSize:  16384,
		TradeBufferSize: 16384,
	}
}

// BookMsgKind distinguishes snapshots from incremental deltas.
type BookMsgKind int

const (
	BookSnapshot BookMsgKind = iota
	BookDelta
)

// BookMsg is a parsed level2 message headed for the book path.
type BookMsg struct {
	Kind       BookMsgKind
	ProductID  string
	Sequence   int64
	Deltas     []model.BookDelta  // Kind == BookDelta
	Bids       []model.PriceLevel // Kind == BookSnapshot
	Asks       []model.PriceLevel // Kind == BookSnapshot
	ReceivedAt time.Time
}

// messageEnvelope carries just enough to pick a parse path.
type messageEnvelope struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
}

// l2updateWire is the incremental book change frame. Each change is
// [side, price, size] with decimal strings; size is the new absolute
// size at that price, "0" removing the level.
type l2updateWire struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Sequence  int64      `json:"sequence"`
	Time      string     `json:"time"`
	Changes   [][]string `json:"changes"`
}

// snapshotWire is the full book snapshot frame. Levels are
// [price, size] decimal-string pairs.
type snapshotWire struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Sequence  int64      `json:"sequence"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

// matchWire is one executed trade frame.
type matchWire struct {
	Type      string `json:"type"`
	TradeID   int64  `json:"trade_id"`
	Sequence  int64  `json:"sequence"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Time      string `json:"time"`
}

// errorWire is the feed's error frame.
type errorWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// subscriptionsWire acknowledges the current subscription set.
type subscriptionsWire struct {
	Type     string `json:"type"`
	Channels []struct {
		Name       string   `json:"name"`
		ProductIDs []string `json:"product_ids"`
	} `json:"channels"`
}
