package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/marketsync/internal/model"
)

// bookWire is the level2 book response. Each entry is
// [price, size, num_orders] with decimal-string price and size.
type bookWire struct {
	Sequence int64   `json:"sequence"`
	Bids     [][]any `json:"bids"`
	Asks     [][]any `json:"asks"`
}

// GetBookSnapshot fetches the aggregated level2 order book used to seed
// the in-memory book before stream deltas are replayed.
func (c *Client) GetBookSnapshot(ctx context.Context, productID string) (model.BookSnapshot, error) {
	if productID == "" {
		return model.BookSnapshot{}, fmt.Errorf("get book: product id is required")
	}

	query := url.Values{}
	query.Set("level", "2")

	var wire bookWire
	path := fmt.Sprintf("/products/%s/book", productID)
	if err := c.get(ctx, path, query, &wire); err != nil {
		return model.BookSnapshot{}, fmt.Errorf("get book %s: %w", productID, err)
	}

	bids, err := parseBookLevels(wire.Bids)
	if err != nil {
		return model.BookSnapshot{}, fmt.Errorf("get book %s: bids: %w", productID, err)
	}
	asks, err := parseBookLevels(wire.Asks)
	if err != nil {
		return model.BookSnapshot{}, fmt.Errorf("get book %s: asks: %w", productID, err)
	}

	c.logger.Debug("fetched book snapshot",
		"product", productID,
		"sequence", wire.Sequence,
		"bids", len(bids),
		"asks", len(asks),
	)

	return model.BookSnapshot{
		ProductID: productID,
		Sequence:  wire.Sequence,
		Bids:      bids,
		Asks:      asks,
	}, nil
}

// parseBookLevels converts [price, size, num_orders] rows. The order
// count is ignored; only price and size matter to the book.
func parseBookLevels(rows [][]any) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level has %d fields, want at least 2", len(row))
		}
		price, err := parseDecimalField(row[0])
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
		size, err := parseDecimalField(row[1])
		if err != nil {
			return nil, fmt.Errorf("size: %w", err)
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// parseDecimalField accepts the decimal-string form the exchange
// documents and the bare-number form some gateways emit.
func parseDecimalField(v any) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
