package api

import (
	"encoding/json"
	"fmt"
)

// MyTrade is an own-trade record from GET /api/v3/myTrades.
type MyTrade struct {
	Symbol          string `json:"symbol"`
	ID              string `json:"id"`
	OrderID         string `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

// AccountResponse is the payload of GET /api/v3/account.
type AccountResponse struct {
	CanTrade    bool      `json:"canTrade"`
	CanWithdraw bool      `json:"canWithdraw"`
	CanDeposit  bool      `json:"canDeposit"`
	UpdateTime  int64     `json:"updateTime"`
	Balances    []Balance `json:"balances"`
}

// Balance is a single asset balance inside an account response.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Kline is one candlestick bar. The exchange returns bars as
// positional arrays:
//
//	[openTime, open, high, low, close, volume, closeTime, quoteVolume]
type Kline struct {
	OpenTime    int64
	Open        string
	High        string
	Low         string
	Close       string
	Volume      string
	CloseTime   int64
	QuoteVolume string
}

// UnmarshalJSON decodes the positional array form.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 6 {
		return fmt.Errorf("kline array too short: %d fields", len(raw))
	}

	if err := json.Unmarshal(raw[0], &k.OpenTime); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}

	strFields := []struct {
		idx int
		dst *string
	}{
		{1, &k.Open}, {2, &k.High}, {3, &k.Low}, {4, &k.Close}, {5, &k.Volume},
	}
	for _, f := range strFields {
		if err := json.Unmarshal(raw[f.idx], f.dst); err != nil {
			return fmt.Errorf("kline field %d: %w", f.idx, err)
		}
	}

	if len(raw) > 6 {
		if err := json.Unmarshal(raw[6], &k.CloseTime); err != nil {
			return fmt.Errorf("kline close time: %w", err)
		}
	}
	if len(raw) > 7 {
		if err := json.Unmarshal(raw[7], &k.QuoteVolume); err != nil {
			return fmt.Errorf("kline quote volume: %w", err)
		}
	}

	return nil
}
