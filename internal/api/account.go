package api

import (
	"context"
	"fmt"

	"github.com/olundqvist/mexc-ingest/internal/sign"
)

// GetAccount fetches account information including per-asset balances.
// This endpoint family signs parameters in call order.
func (c *Client) GetAccount(ctx context.Context) (*AccountResponse, error) {
	var resp AccountResponse
	if err := c.getSigned(ctx, "/api/v3/account", nil, sign.CallOrder, &resp); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &resp, nil
}
