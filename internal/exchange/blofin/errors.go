package blofin

import (
	"fmt"
	"strings"

	"github.com/betbot/unitrade/internal/domain"
)

// mapError Blofin 的业务错误码较分散，按 code 优先、消息关键字兜底归类
func mapError(status int, code, msg string) error {
	if msg == "" {
		msg = fmt.Sprintf("http %d", status)
	}
	if code == "" || code == codeSuccess {
		code = fmt.Sprint(status)
	}
	lower := strings.ToLower(msg)
	switch {
	case code == "152409" || strings.Contains(lower, "timestamp") || strings.Contains(lower, "expired"):
		return domain.TransientNetworkError(domain.ExchangeBlofin, domain.CodeClockSkew, nil, msg)
	case code == "429" || strings.Contains(lower, "too many"):
		return domain.TransientNetworkError(domain.ExchangeBlofin, domain.CodeRateLimited, nil, msg)
	case code == "102038" || strings.Contains(lower, "insufficient"):
		return domain.ExchangeRejected(domain.ExchangeBlofin, code, domain.CodeInsufficientFunds, msg)
	case code == "152002" || strings.Contains(lower, "instrument"):
		return domain.ExchangeRejected(domain.ExchangeBlofin, code, domain.CodeInvalidSymbol, msg)
	case code == "102010" || strings.Contains(lower, "order does not exist") || strings.Contains(lower, "order not exist"):
		return domain.ExchangeRejected(domain.ExchangeBlofin, code, domain.CodeOrderNotFound, msg)
	}
	return domain.ExchangeRejected(domain.ExchangeBlofin, code, "", msg)
}
