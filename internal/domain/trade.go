package domain

import "time"

// TradeRecord 成交记录（myTrades 归一化后的结构）
type TradeRecord struct {
	Exchange Exchange `json:"exchange"`
	Symbol   string   `json:"symbol"`
	TradeID  string   `json:"tradeId"`
	OrderID  string   `json:"orderId"`
	Side     Action   `json:"side"`
	Price    float64  `json:"price"`
	Quantity float64  `json:"quantity"`
	QuoteQty float64  `json:"quoteQty"`
	Fee      float64  `json:"fee"`
	FeeAsset string   `json:"feeAsset,omitempty"`
	Maker    bool     `json:"maker"`
	TimeMs   int64    `json:"time"`
}

// TradeFilter narrows a myTrades query. Zero values mean "not set".
type TradeFilter struct {
	StartTime time.Time
	EndTime   time.Time
	FromID    string
	OrderID   string
	Limit     int
}

// Matches reports whether a trade passes the client-side part of the filter.
// Exchanges that cannot filter by order id server-side rely on it.
func (f TradeFilter) Matches(t TradeRecord) bool {
	if f.OrderID != "" && t.OrderID != f.OrderID {
		return false
	}
	if !f.StartTime.IsZero() && t.TimeMs < f.StartTime.UnixMilli() {
		return false
	}
	if !f.EndTime.IsZero() && t.TimeMs > f.EndTime.UnixMilli() {
		return false
	}
	return true
}
