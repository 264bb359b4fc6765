package blofin

import "encoding/json"

// envelope {"code":"0","msg":"success","data":...}
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const codeSuccess = "0"

type orderRequest struct {
	InstID         string `json:"instId"`
	MarginMode     string `json:"marginMode"`
	PositionSide   string `json:"positionSide"`
	Side           string `json:"side"`
	OrderType      string `json:"orderType"`
	Price          string `json:"price,omitempty"`
	Size           string `json:"size"`
	ClientOrderID  string `json:"clientOrderId,omitempty"`
	TpTriggerPrice string `json:"tpTriggerPrice,omitempty"`
	TpOrderPrice   string `json:"tpOrderPrice,omitempty"`
	SlTriggerPrice string `json:"slTriggerPrice,omitempty"`
	SlOrderPrice   string `json:"slOrderPrice,omitempty"`
}

// orderAck 下单/撤单的单条回执，批量接口也复用
type orderAck struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Code          string `json:"code"`
	Msg           string `json:"msg"`
}

type cancelRequest struct {
	InstID        string `json:"instId"`
	OrderID       string `json:"orderId,omitempty"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

type pendingOrder struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	InstID        string `json:"instId"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	FilledSize    string `json:"filledSize"`
	State         string `json:"state"`
	CreateTime    string `json:"createTime"`
}

type fill struct {
	InstID    string `json:"instId"`
	TradeID   string `json:"tradeId"`
	OrderID   string `json:"orderId"`
	FillPrice string `json:"fillPrice"`
	FillSize  string `json:"fillSize"`
	Side      string `json:"side"`
	Fee       string `json:"fee"`
	Ts        string `json:"ts"`
}

type ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}
