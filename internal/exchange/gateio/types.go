package gateio

// apiError Gate.io v4 错误 {"label":"BALANCE_NOT_ENOUGH","message":"..."}
type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

type orderRequest struct {
	Text         string `json:"text,omitempty"`
	CurrencyPair string `json:"currency_pair"`
	Type         string `json:"type"`
	Account      string `json:"account"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price,omitempty"`
	TimeInForce  string `json:"time_in_force"`
	StpAct       string `json:"stp_act,omitempty"`
}

type order struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	CreateTimeMs int64  `json:"create_time_ms"`
	Status       string `json:"status"`
	CurrencyPair string `json:"currency_pair"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Left         string `json:"left"`
	FinishAs     string `json:"finish_as"`
}

type trade struct {
	ID           string `json:"id"`
	CreateTimeMs string `json:"create_time_ms"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Role         string `json:"role"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	OrderID      string `json:"order_id"`
	Fee          string `json:"fee"`
	FeeCurrency  string `json:"fee_currency"`
}

type ticker struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
}
