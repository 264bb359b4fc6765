package domain

import (
	"encoding/json"
	"strings"
)

// Exchange 交易所标识（统一请求里的 exchange 字段）
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeBitget  Exchange = "BITGET"
	ExchangeGateIO  Exchange = "GATEIO"
	ExchangeMEXC    Exchange = "MEXC"
	ExchangeBlofin  Exchange = "BLOFIN"
)

// AllExchanges lists every venue the router knows how to talk to.
var AllExchanges = []Exchange{ExchangeBinance, ExchangeBitget, ExchangeGateIO, ExchangeMEXC, ExchangeBlofin}

// ParseExchange normalizes user input ("gateio", " MEXC ") into an Exchange.
// The second return value is false for names outside AllExchanges.
func ParseExchange(s string) (Exchange, bool) {
	ex := Exchange(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllExchanges {
		if ex == known {
			return ex, true
		}
	}
	return ex, false
}

// Action 订单方向
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderType 订单类型（默认 MARKET）
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// UnifiedOrderRequest is the exchange-agnostic order description built per
// user action. SizeUSD wins over SizePct when both are present.
type UnifiedOrderRequest struct {
	Symbol         string          `json:"symbol"`
	Action         Action          `json:"action"`
	OrderType      OrderType       `json:"orderType,omitempty"`
	Price          float64         `json:"price,omitempty"`
	SizePct        *float64        `json:"sizePct,omitempty"`
	SizeUSD        *float64        `json:"sizeUsd,omitempty"`
	TPLevels       []float64       `json:"tpLevels"`
	SL             float64         `json:"sl"`
	Exchange       Exchange        `json:"exchange"`
	Confidence     *float64        `json:"confidence,omitempty"`
	Explanation    string          `json:"explanation,omitempty"`
	PolicyVersion  string          `json:"policyVersion,omitempty"`
	MacroSentiment string          `json:"macroSentiment,omitempty"`
	Sizing         *SizingOverride `json:"sizingMeta,omitempty"`
	ClientOrderID  string          `json:"clientOrderId,omitempty"`
	StpMode        string          `json:"stpMode,omitempty"`
}

// EffectiveType returns the order type with the MARKET default applied.
func (r UnifiedOrderRequest) EffectiveType() OrderType {
	if r.OrderType == "" {
		return OrderTypeMarket
	}
	return r.OrderType
}

// SizingOverride carries caller supplied multipliers. A nil multiplier means
// "absent" and resolves to the policy default.
type SizingOverride struct {
	MacroSentiment      string   `json:"macroSentiment,omitempty"`
	MacroConfMultiplier *float64 `json:"macroConfMultiplier,omitempty"`
	RiskLiqMultiplier   *float64 `json:"riskLiqMultiplier,omitempty"`
}

// SizingMeta is the audit record of one sizing pass.
// FinalSize = BaseSize * MacroConfMultiplier * RiskLiqMultiplier, clamped.
type SizingMeta struct {
	MacroSentiment      string  `json:"macroSentiment,omitempty"`
	MacroConfMultiplier float64 `json:"macroConfMultiplier"`
	RiskLiqMultiplier   float64 `json:"riskLiqMultiplier"`
	BaseSize            float64 `json:"baseSize"`
	MacroAdjustedSize   float64 `json:"macroAdjustedSize"`
	FinalSize           float64 `json:"finalSize"`
	Clamped             bool    `json:"clamped,omitempty"`
	PolicyVersion       string  `json:"policyVersion,omitempty"`
}

// Order 是发给交易所适配器的规范化订单。
// QuoteSize 是 sizing 之后的 finalSize（报价币种，USD≈USDT）。
type Order struct {
	Symbol        string
	Action        Action
	Type          OrderType
	Price         float64 // LIMIT 价格；MARKET 时为可选参考价
	QuoteSize     float64
	TPLevels      []float64
	SL            float64
	ClientOrderID string
	StpMode       string
}

// OrderState 下单生命周期：RECEIVED → SIZED → ROUTED → SUBMITTED → {ACKNOWLEDGED | REJECTED | FAILED}
type OrderState string

const (
	StateReceived     OrderState = "RECEIVED"
	StateSized        OrderState = "SIZED"
	StateRouted       OrderState = "ROUTED"
	StateSubmitted    OrderState = "SUBMITTED"
	StateAcknowledged OrderState = "ACKNOWLEDGED"
	StateRejected     OrderState = "REJECTED"
	StateFailed       OrderState = "FAILED"
)

// Terminal reports whether no further transition can happen. SUBMITTED is
// not terminal: the order may or may not have reached the venue.
func (s OrderState) Terminal() bool {
	return s == StateAcknowledged || s == StateRejected || s == StateFailed
}

// OrderStatus 交易所下单结果状态
type OrderStatus string

const (
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFailed          OrderStatus = "FAILED"
)

// ExchangeOrderResult is the normalized outcome of a placement.
type ExchangeOrderResult struct {
	ExchangeOrderID     string          `json:"exchangeOrderId"`
	ClientOrderID       string          `json:"clientOrderId,omitempty"`
	Status              OrderStatus     `json:"status"`
	RawExchangeResponse json.RawMessage `json:"rawExchangeResponse,omitempty"`
	NormalizedError     *Error          `json:"normalizedError,omitempty"`
}

// CancelRequest needs exactly one of OrderID / OrigClientOrderID.
type CancelRequest struct {
	Exchange          Exchange `json:"exchange"`
	Symbol            string   `json:"symbol"`
	OrderID           string   `json:"orderId,omitempty"`
	OrigClientOrderID string   `json:"origClientOrderId,omitempty"`
	NewClientOrderID  string   `json:"newClientOrderId,omitempty"`
}

// CancelStatus 撤单结果
type CancelStatus string

const (
	CancelStatusCancelled CancelStatus = "CANCELLED"
	CancelStatusNotFound  CancelStatus = "NOT_FOUND"
	CancelStatusFailed    CancelStatus = "FAILED"
)

type CancelResult struct {
	Status          CancelStatus    `json:"status"`
	OrderID         string          `json:"orderId,omitempty"`
	ClientOrderID   string          `json:"clientOrderId,omitempty"`
	Raw             json.RawMessage `json:"rawExchangeResponse,omitempty"`
	NormalizedError *Error          `json:"normalizedError,omitempty"`
}

// OrderSnapshot is one open order as reported by an exchange.
type OrderSnapshot struct {
	Exchange      Exchange  `json:"exchange"`
	Symbol        string    `json:"symbol"`
	OrderID       string    `json:"orderId"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
	Side          Action    `json:"side"`
	Type          OrderType `json:"type"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Filled        float64   `json:"filled"`
	Status        string    `json:"status"`
	CreatedAtMs   int64     `json:"createdAt"`
}
