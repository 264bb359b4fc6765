package mexc

import (
	"encoding/json"
	"fmt"

	"github.com/betbot/unitrade/internal/domain"
)

// mapError 把 MEXC 错误码映射到统一错误分类，交易所原始 code/msg 原样保留
func mapError(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code := ae.Code.String()
	msg := ae.Msg
	if msg == "" {
		msg = fmt.Sprintf("http %d: %s", status, string(body))
	}
	switch code {
	case "700003", "-1021":
		return domain.TransientNetworkError(domain.ExchangeMEXC, domain.CodeClockSkew, nil, msg)
	case "429", "-1003", "510":
		return domain.TransientNetworkError(domain.ExchangeMEXC, domain.CodeRateLimited, nil, msg)
	case "30004", "30005", "10101", "-2010":
		return domain.ExchangeRejected(domain.ExchangeMEXC, code, domain.CodeInsufficientFunds, msg)
	case "10007", "-1121", "30014":
		return domain.ExchangeRejected(domain.ExchangeMEXC, code, domain.CodeInvalidSymbol, msg)
	case "-2011", "-2013":
		return domain.ExchangeRejected(domain.ExchangeMEXC, code, domain.CodeOrderNotFound, msg)
	}
	if code == "" || code == "0" {
		code = fmt.Sprint(status)
	}
	return domain.ExchangeRejected(domain.ExchangeMEXC, code, "", msg)
}
