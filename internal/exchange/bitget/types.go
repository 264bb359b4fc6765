package bitget

import "encoding/json"

// envelope Bitget V2 统一响应 {"code":"00000","msg":"success","data":...}
type envelope struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

const codeSuccess = "00000"

type placeOrderRequest struct {
	Symbol                string `json:"symbol"`
	Side                  string `json:"side"`
	OrderType             string `json:"orderType"`
	Force                 string `json:"force"`
	Price                 string `json:"price,omitempty"`
	Size                  string `json:"size"`
	ClientOid             string `json:"clientOid,omitempty"`
	StpMode               string `json:"stpMode,omitempty"`
	PresetTakeProfitPrice string `json:"presetTakeProfitPrice,omitempty"`
	PresetStopLossPrice   string `json:"presetStopLossPrice,omitempty"`
}

type orderAck struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type cancelOrderRequest struct {
	Symbol    string `json:"symbol"`
	OrderID   string `json:"orderId,omitempty"`
	ClientOid string `json:"clientOid,omitempty"`
}

type unfilledOrder struct {
	Symbol     string `json:"symbol"`
	OrderID    string `json:"orderId"`
	ClientOid  string `json:"clientOid"`
	PriceAvg   string `json:"priceAvg"`
	Size       string `json:"size"`
	OrderType  string `json:"orderType"`
	Side       string `json:"side"`
	Status     string `json:"status"`
	BaseVolume string `json:"baseVolume"`
	CTime      string `json:"cTime"`
}

type fill struct {
	Symbol     string `json:"symbol"`
	OrderID    string `json:"orderId"`
	TradeID    string `json:"tradeId"`
	OrderType  string `json:"orderType"`
	Side       string `json:"side"`
	PriceAvg   string `json:"priceAvg"`
	Size       string `json:"size"`
	Amount     string `json:"amount"`
	TradeScope string `json:"tradeScope"`
	FeeDetail  struct {
		FeeCoin  string `json:"feeCoin"`
		TotalFee string `json:"totalFee"`
	} `json:"feeDetail"`
	CTime string `json:"cTime"`
}

type ticker struct {
	Symbol string `json:"symbol"`
	LastPr string `json:"lastPr"`
}
