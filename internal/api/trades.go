package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olundqvist/mexc-ingest/internal/sign"
)

// GetMyTradesOptions configures a GetMyTrades request.
type GetMyTradesOptions struct {
	StartTime int64 // ms since epoch, 0 = exchange default window
	Limit     int   // 0 = exchange default page size
}

// GetMyTrades fetches recent own trades for a symbol. Signed with
// sorted-key ordering, the scheme this endpoint family documents.
func (c *Client) GetMyTrades(ctx context.Context, symbol string, opts GetMyTradesOptions) ([]MyTrade, error) {
	params := []sign.Param{
		{Key: "symbol", Value: symbol},
	}
	if opts.StartTime > 0 {
		params = append(params, sign.Param{Key: "startTime", Value: strconv.FormatInt(opts.StartTime, 10)})
	}
	if opts.Limit > 0 {
		params = append(params, sign.Param{Key: "limit", Value: strconv.Itoa(opts.Limit)})
	}

	var trades []MyTrade
	if err := c.getSigned(ctx, "/api/v3/myTrades", params, sign.SortedKeys, &trades); err != nil {
		return nil, fmt.Errorf("get my trades %s: %w", symbol, err)
	}
	return trades, nil
}
