package bitget

import (
	"fmt"

	"github.com/betbot/unitrade/internal/domain"
)

func mapError(status int, code, msg string) error {
	if msg == "" {
		msg = fmt.Sprintf("http %d", status)
	}
	switch code {
	case "40008", "40010":
		// 请求时间戳超出服务端 30s 窗口
		return domain.TransientNetworkError(domain.ExchangeBitget, domain.CodeClockSkew, nil, msg)
	case "429", "40429":
		return domain.TransientNetworkError(domain.ExchangeBitget, domain.CodeRateLimited, nil, msg)
	case "43012", "40762", "43111":
		return domain.ExchangeRejected(domain.ExchangeBitget, code, domain.CodeInsufficientFunds, msg)
	case "40309", "40034", "43117":
		return domain.ExchangeRejected(domain.ExchangeBitget, code, domain.CodeInvalidSymbol, msg)
	case "43001", "43004", "43025":
		return domain.ExchangeRejected(domain.ExchangeBitget, code, domain.CodeOrderNotFound, msg)
	}
	if code == "" {
		code = fmt.Sprint(status)
	}
	return domain.ExchangeRejected(domain.ExchangeBitget, code, "", msg)
}
