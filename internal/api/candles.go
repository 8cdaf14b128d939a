package api

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// GetCandles fetches historical candles for [start, end). The exchange
// returns rows as [time, low, high, open, close, volume] arrays, newest
// first; the result here is validated and ascending by open time.
func (c *Client) GetCandles(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]model.Candle, error) {
	if productID == "" {
		return nil, fmt.Errorf("get candles: product id is required")
	}
	gran := int64(granularity / time.Second)
	if gran < 1 {
		return nil, fmt.Errorf("get candles: granularity %v too small", granularity)
	}

	query := url.Values{}
	query.Set("granularity", strconv.FormatInt(gran, 10))
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))

	var rows [][]float64
	path := fmt.Sprintf("/products/%s/candles", productID)
	if err := c.get(ctx, path, query, &rows); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", productID, err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("get candles %s: row has %d fields, want 6", productID, len(row))
		}
		candle := model.Candle{
			OpenTime: int64(row[0]),
			Low:      row[1],
			High:     row[2],
			Open:     row[3],
			Close:    row[4],
			Volume:   row[5],
		}
		if err := candle.Validate(); err != nil {
			return nil, fmt.Errorf("get candles %s: %w", productID, err)
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })

	c.logger.Debug("fetched candles",
		"product", productID,
		"granularity", gran,
		"count", len(candles),
	)
	return candles, nil
}
