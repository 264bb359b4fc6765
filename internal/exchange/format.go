package exchange

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitrade/internal/domain"
)

// quoteAssets is checked longest first when splitting a unified symbol.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USDE", "EUR", "TRY", "BRL", "BTC", "ETH", "BNB", "USD"}

// SplitSymbol splits "BTCUSDT" into ("BTC", "USDT").
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(symbol)
	best := ""
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) && len(q) > len(best) {
			best = q
		}
	}
	if best == "" {
		return "", "", false
	}
	return s[:len(s)-len(best)], best, true
}

// JoinSymbol renders a unified symbol with the exchange's separator
// ("BTC_USDT", "BTC-USDT"). Unknown quotes are returned unchanged.
func JoinSymbol(symbol, sep string) string {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return strings.ToUpper(symbol)
	}
	return base + sep + quote
}

// UnifySymbol strips separators: "btc_usdt" -> "BTCUSDT".
func UnifySymbol(s string) string {
	r := strings.NewReplacer("_", "", "-", "", "/", "")
	return strings.ToUpper(r.Replace(s))
}

// FormatDecimal renders v with at most 8 decimals and no exponent.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

// QuoteAmount 市价买单按报价币种金额下单
func QuoteAmount(o domain.Order) string {
	return FormatDecimal(o.QuoteSize)
}

// BaseQuantity converts the sized quote amount into a base quantity using
// the order price. Orders without a price cannot be converted.
func BaseQuantity(o domain.Order) (string, error) {
	if o.Price <= 0 {
		return "", domain.NewError(domain.KindValidation, "", "price is required to convert quote size into base quantity")
	}
	q := decimal.NewFromFloat(o.QuoteSize).Div(decimal.NewFromFloat(o.Price)).Round(8)
	if !q.IsPositive() {
		return "", domain.NewError(domain.KindValidation, "", "base quantity rounds to zero")
	}
	return q.String(), nil
}

// UsesQuoteAmount reports whether the order is a MARKET BUY. Gate.io and
// Bitget take a quote-currency amount only for that shape.
func UsesQuoteAmount(o domain.Order) bool {
	return IsMarket(o) && o.Action == domain.ActionBuy
}

// IsMarket reports a MARKET order of either side. Binance and MEXC accept
// quoteOrderQty for both.
func IsMarket(o domain.Order) bool {
	return o.Type == domain.OrderTypeMarket
}

// ParseFloat is lenient: empty or malformed numbers become 0.
func ParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseInt is lenient like ParseFloat.
func ParseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Raw marshals v for RawExchangeResponse; it never fails the call.
func Raw(v any) json.RawMessage {
	if b, ok := v.([]byte); ok {
		if len(b) == 0 {
			return nil
		}
		if json.Valid(b) {
			return append(json.RawMessage(nil), b...)
		}
		q, _ := json.Marshal(string(b))
		return q
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// SideFromString maps "buy"/"BUY"/"Bid" style strings to Action.
func SideFromString(s string) domain.Action {
	switch strings.ToLower(s) {
	case "buy", "bid":
		return domain.ActionBuy
	default:
		return domain.ActionSell
	}
}

// TypeFromString maps exchange order type names to OrderType.
func TypeFromString(s string) domain.OrderType {
	if strings.Contains(strings.ToLower(s), "market") {
		return domain.OrderTypeMarket
	}
	return domain.OrderTypeLimit
}
