package exchange

import (
	"context"
	"fmt"

	"github.com/betbot/unitrade/internal/domain"
)

// PriceFunc returns the last traded price of a unified symbol.
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

// WithReferencePrice fills o.Price from fetch when the order carries none,
// so a price-less MARKET order can be converted into a base quantity.
// An exchange rejection (unknown symbol) is returned as is; any other
// failure is NotSent because the order itself was never submitted.
func WithReferencePrice(ctx context.Context, ex domain.Exchange, o domain.Order, fetch PriceFunc) (domain.Order, error) {
	if o.Price > 0 {
		return o, nil
	}
	p, err := fetch(ctx, o.Symbol)
	if err != nil {
		if domain.KindOf(err) == domain.KindExchangeRejected {
			return o, err
		}
		return o, NotSent(ex, err, "reference price unavailable for "+o.Symbol)
	}
	if p <= 0 {
		return o, NotSent(ex, fmt.Errorf("ticker returned price %v", p), "reference price unavailable for "+o.Symbol)
	}
	o.Price = p
	return o, nil
}
