package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/adshao/go-binance/v2/common"

	"github.com/betbot/unitrade/internal/domain"
)

// mapError 把 go-binance 返回的错误映射到统一分类
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		msg := apiErr.Message
		switch apiErr.Code {
		case 0:
			// 非 JSON 的 4xx/5xx（网关错误），无法确认订单是否落地
			return domain.TransientNetworkError(domain.ExchangeBinance, "", err, "binance returned an unparseable error response")
		case -1021:
			return domain.TransientNetworkError(domain.ExchangeBinance, domain.CodeClockSkew, err, msg)
		case -1003, -1015:
			return domain.TransientNetworkError(domain.ExchangeBinance, domain.CodeRateLimited, err, msg)
		case -1001, -1006, -1007:
			return domain.TransientNetworkError(domain.ExchangeBinance, domain.CodeTimeout, err, msg)
		case -1121:
			return domain.ExchangeRejected(domain.ExchangeBinance, code, domain.CodeInvalidSymbol, msg)
		case -2011, -2013:
			if strings.Contains(strings.ToLower(msg), "unknown order") || apiErr.Code == -2013 {
				return domain.ExchangeRejected(domain.ExchangeBinance, code, domain.CodeOrderNotFound, msg)
			}
		case -2010:
			if strings.Contains(strings.ToLower(msg), "insufficient") {
				return domain.ExchangeRejected(domain.ExchangeBinance, code, domain.CodeInsufficientFunds, msg)
			}
		}
		return domain.ExchangeRejected(domain.ExchangeBinance, code, "", msg)
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.TransientNetworkError(domain.ExchangeBinance, domain.CodeTimeout, err, "")
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		code := ""
		if nerr.Timeout() {
			code = domain.CodeTimeout
		}
		return domain.TransientNetworkError(domain.ExchangeBinance, code, err, "")
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return domain.TransientNetworkError(domain.ExchangeBinance, "", err, "")
	}
	return err
}

// rawError 还原交易所返回的错误体，用于写入 RawExchangeResponse
func rawError(err error) []byte {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	b, _ := json.Marshal(apiErr)
	return b
}
