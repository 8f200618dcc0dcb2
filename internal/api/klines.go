package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olundqvist/mexc-ingest/internal/sign"
)

// GetKlines fetches the latest candlestick bars for a symbol. Public
// endpoint, no signature.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := []sign.Param{
		{Key: "symbol", Value: symbol},
		{Key: "interval", Value: interval},
	}
	if limit > 0 {
		params = append(params, sign.Param{Key: "limit", Value: strconv.Itoa(limit)})
	}

	var klines []Kline
	if err := c.get(ctx, "/api/v3/klines", params, &klines); err != nil {
		return nil, fmt.Errorf("get klines %s %s: %w", symbol, interval, err)
	}
	return klines, nil
}
