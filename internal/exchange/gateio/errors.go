package gateio

import (
	"encoding/json"
	"fmt"

	"github.com/betbot/unitrade/internal/domain"
)

func mapError(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Message
	if msg == "" {
		msg = fmt.Sprintf("http %d: %s", status, string(body))
	}
	switch ae.Label {
	case "REQUEST_EXPIRED":
		return domain.TransientNetworkError(domain.ExchangeGateIO, domain.CodeClockSkew, nil, msg)
	case "TOO_MANY_REQUESTS":
		return domain.TransientNetworkError(domain.ExchangeGateIO, domain.CodeRateLimited, nil, msg)
	case "SERVER_ERROR", "TOO_BUSY":
		return domain.TransientNetworkError(domain.ExchangeGateIO, "", nil, msg)
	case "BALANCE_NOT_ENOUGH":
		return domain.ExchangeRejected(domain.ExchangeGateIO, ae.Label, domain.CodeInsufficientFunds, msg)
	case "INVALID_CURRENCY_PAIR", "INVALID_CURRENCY", "CURRENCY_PAIR_NOT_FOUND":
		return domain.ExchangeRejected(domain.ExchangeGateIO, ae.Label, domain.CodeInvalidSymbol, msg)
	case "ORDER_NOT_FOUND", "ORDER_CLOSED", "ORDER_CANCELLED":
		return domain.ExchangeRejected(domain.ExchangeGateIO, ae.Label, domain.CodeOrderNotFound, msg)
	}
	label := ae.Label
	if label == "" {
		label = fmt.Sprint(status)
	}
	return domain.ExchangeRejected(domain.ExchangeGateIO, label, "", msg)
}
