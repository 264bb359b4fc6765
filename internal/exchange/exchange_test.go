package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
)

type stubAdapter struct{ ex domain.Exchange }

func (s stubAdapter) Name() domain.Exchange { return s.ex }
func (stubAdapter) PlaceOrder(context.Context, domain.Order, *vault.Credential) (domain.ExchangeOrderResult, error) {
	return domain.ExchangeOrderResult{}, nil
}
func (stubAdapter) CancelOrder(context.Context, domain.CancelRequest, *vault.Credential) (domain.CancelResult, error) {
	return domain.CancelResult{}, nil
}
func (stubAdapter) OpenOrders(context.Context, string, *vault.Credential) ([]domain.OrderSnapshot, error) {
	return nil, nil
}
func (stubAdapter) MyTrades(context.Context, string, domain.TradeFilter, *vault.Credential) ([]domain.TradeRecord, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAdapter{domain.ExchangeMEXC}, stubAdapter{domain.ExchangeBinance})

	a, err := r.Get(domain.ExchangeMEXC)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeMEXC, a.Name())

	_, err = r.Get("KRAKEN")
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindRouting, e.Kind)
	assert.Equal(t, domain.CodeUnknownExchange, e.Code)

	assert.Equal(t, []domain.Exchange{domain.ExchangeBinance, domain.ExchangeMEXC}, r.Exchanges())
}

func TestSymbols(t *testing.T) {
	cases := []struct {
		in, base, quote string
		ok              bool
	}{
		{"BTCUSDT", "BTC", "USDT", true},
		{"ethbtc", "ETH", "BTC", true},
		{"SOLFDUSD", "SOL", "FDUSD", true},
		{"USDT", "", "", false},
		{"XYZABC", "", "", false},
	}
	for _, tc := range cases {
		b, q, ok := SplitSymbol(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.base, b, tc.in)
		assert.Equal(t, tc.quote, q, tc.in)
	}
	assert.Equal(t, "BTC_USDT", JoinSymbol("BTCUSDT", "_"))
	assert.Equal(t, "BTC-USDT", JoinSymbol("BTCUSDT", "-"))
	assert.Equal(t, "XYZABC", JoinSymbol("xyzabc", "-"))
	assert.Equal(t, "BTCUSDT", UnifySymbol("btc_usdt"))
}

func TestQuantities(t *testing.T) {
	o := domain.Order{Action: domain.ActionBuy, Type: domain.OrderTypeMarket, QuoteSize: 500}
	assert.True(t, UsesQuoteAmount(o))
	assert.Equal(t, "500", QuoteAmount(o))

	_, err := BaseQuantity(o)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	o.Price = 64000
	q, err := BaseQuantity(o)
	require.NoError(t, err)
	assert.Equal(t, "0.0078125", q)

	o.Action = domain.ActionSell
	assert.False(t, UsesQuoteAmount(o))
	assert.True(t, IsMarket(o))

	assert.Equal(t, "0.1", FormatDecimal(0.1))
	assert.Equal(t, "0.00000001", FormatDecimal(1e-8))
}

func TestSignatures(t *testing.T) {
	// well-known HMAC vectors
	assert.Equal(t, "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=",
		HMACSHA256Base64([]byte("key"), "The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		HMACSHA256Hex([]byte("key"), "The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "cf83e1357eefb8bdf1542850d66d8007d620e4050b5715dc83f4a921d36ce9ce47d0d13c5d85f2b0ff8318d2877eec2f63b931bd47417a81a538327af927da3e",
		SHA512Hex(nil))
	assert.Len(t, HMACSHA512Hex([]byte("k"), "x"), 128)
}

func TestCancelOutcome(t *testing.T) {
	req := domain.CancelRequest{OrderID: "1"}
	res, err := CancelOutcome(req, []byte(`{"ok":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CancelStatusCancelled, res.Status)

	nf := domain.ExchangeRejected(domain.ExchangeMEXC, "-2011", domain.CodeOrderNotFound, "Unknown order sent.")
	res, err = CancelOutcome(req, nil, nf)
	require.NoError(t, err)
	assert.Equal(t, domain.CancelStatusNotFound, res.Status)

	boom := errors.New("boom")
	res, err = CancelOutcome(req, nil, boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.CancelStatusFailed, res.Status)
}

func TestWaitLimit_AbortIsNotSent(t *testing.T) {
	m := ratelimit.NewManager()
	m.Set("mexc:order", ratelimit.NewTokenBucket(1, 0, time.Hour))
	require.NoError(t, WaitLimit(context.Background(), m, domain.ExchangeMEXC, "order"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := WaitLimit(ctx, m, domain.ExchangeMEXC, "order")
	require.Error(t, err)
	assert.True(t, IsNotSent(err))
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))

	assert.NoError(t, WaitLimit(ctx, nil, domain.ExchangeMEXC, "order"))
}

func TestWithReferencePrice(t *testing.T) {
	ctx := context.Background()
	base := domain.Order{Symbol: "BTCUSDT", Action: domain.ActionSell, Type: domain.OrderTypeMarket, QuoteSize: 500}

	t.Run("price present", func(t *testing.T) {
		o := base
		o.Price = 42000
		got, err := WithReferencePrice(ctx, domain.ExchangeGateIO, o, func(context.Context, string) (float64, error) {
			t.Fatal("fetch must not be called")
			return 0, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42000.0, got.Price)
	})

	t.Run("fetched", func(t *testing.T) {
		got, err := WithReferencePrice(ctx, domain.ExchangeGateIO, base, func(_ context.Context, sym string) (float64, error) {
			assert.Equal(t, "BTCUSDT", sym)
			return 50000, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 50000.0, got.Price)
		qty, err := BaseQuantity(got)
		require.NoError(t, err)
		assert.Equal(t, "0.01", qty)
	})

	t.Run("fetch failed", func(t *testing.T) {
		_, err := WithReferencePrice(ctx, domain.ExchangeBitget, base, func(context.Context, string) (float64, error) {
			return 0, domain.TransientNetworkError(domain.ExchangeBitget, domain.CodeTimeout, errors.New("timeout"), "")
		})
		assert.True(t, IsNotSent(err))
	})

	t.Run("zero price", func(t *testing.T) {
		_, err := WithReferencePrice(ctx, domain.ExchangeBitget, base, func(context.Context, string) (float64, error) {
			return 0, nil
		})
		assert.True(t, IsNotSent(err))
	})

	t.Run("unknown symbol passes through", func(t *testing.T) {
		rej := domain.ExchangeRejected(domain.ExchangeBlofin, "", domain.CodeInvalidSymbol, "no ticker")
		_, err := WithReferencePrice(ctx, domain.ExchangeBlofin, base, func(context.Context, string) (float64, error) {
			return 0, rej
		})
		assert.Equal(t, domain.KindExchangeRejected, domain.KindOf(err))
		assert.False(t, IsNotSent(err))
	})
}
