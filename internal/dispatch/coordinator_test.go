package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitrade/internal/credstore"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/exchange/blofin"
	"github.com/betbot/unitrade/internal/exchange/mexc"
	"github.com/betbot/unitrade/internal/journal"
	"github.com/betbot/unitrade/internal/risk"
	"github.com/betbot/unitrade/internal/sizing"
	"github.com/betbot/unitrade/internal/vault"
)

// fakeAdapter 记录调用，行为由函数字段决定
type fakeAdapter struct {
	name   domain.Exchange
	place  func(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error)
	cancel func(ctx context.Context, r domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error)
	open   func(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error)

	mu     sync.Mutex
	calls  int
	orders []domain.Order
}

func (f *fakeAdapter) Name() domain.Exchange { return f.name }

func (f *fakeAdapter) PlaceOrder(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
	f.mu.Lock()
	f.calls++
	f.orders = append(f.orders, o)
	f.mu.Unlock()
	if f.place != nil {
		return f.place(ctx, o, cred)
	}
	return domain.ExchangeOrderResult{ExchangeOrderID: "1", ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusAccepted}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, r domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.cancel != nil {
		return f.cancel(ctx, r, cred)
	}
	return domain.CancelResult{Status: domain.CancelStatusCancelled, OrderID: r.OrderID}, nil
}

func (f *fakeAdapter) OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
	if f.open != nil {
		return f.open(ctx, symbol, cred)
	}
	return nil, nil
}

func (f *fakeAdapter) MyTrades(_ context.Context, symbol string, _ domain.TradeFilter, _ *vault.Credential) ([]domain.TradeRecord, error) {
	return []domain.TradeRecord{{Exchange: f.name, Symbol: symbol, TradeID: "t1"}}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memCreds struct {
	m map[domain.Exchange]vault.EncryptedCredential
}

func (c *memCreds) Get(_ context.Context, _ string, ex domain.Exchange) (vault.EncryptedCredential, error) {
	enc, ok := c.m[ex]
	if !ok {
		return vault.EncryptedCredential{}, credstore.ErrNotFound
	}
	return enc, nil
}

func (c *memCreds) Exchanges(context.Context, string) ([]domain.Exchange, error) {
	out := make([]domain.Exchange, 0, len(c.m))
	for _, ex := range domain.AllExchanges {
		if _, ok := c.m[ex]; ok {
			out = append(out, ex)
		}
	}
	return out, nil
}

type fixedCapital float64

func (f fixedCapital) AvailableCapital(context.Context, string, domain.Exchange) (float64, bool, error) {
	return float64(f), true, nil
}

type harness struct {
	coord   *Coordinator
	journal *journal.Journal
	vault   *vault.Vault
	creds   *memCreds
}

func newHarness(t *testing.T, opts Options, adapters ...exchange.Adapter) *harness {
	t.Helper()
	v, err := vault.New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	creds := &memCreds{m: map[domain.Exchange]vault.EncryptedCredential{}}
	for _, a := range adapters {
		enc, err := v.Seal(vault.Credential{APIKey: []byte("key-" + string(a.Name())), APISecret: []byte("secret")})
		require.NoError(t, err)
		creds.m[a.Name()] = enc
	}

	opts.Registry = exchange.NewRegistry(adapters...)
	opts.Vault = v
	if opts.Sizer == nil {
		opts.Sizer = sizing.NewEngine(sizing.Policy{Version: "test-v1"})
	}
	opts.Credentials = creds
	opts.Journal = j
	c, err := New(opts)
	require.NoError(t, err)
	return &harness{coord: c, journal: j, vault: v, creds: creds}
}

func f64(v float64) *float64 { return &v }

func buyRequest(ex domain.Exchange, cid string) domain.UnifiedOrderRequest {
	return domain.UnifiedOrderRequest{
		Symbol:        "BTCUSDT",
		Action:        domain.ActionBuy,
		SizeUSD:       f64(500),
		TPLevels:      []float64{70000, 72000},
		SL:            65000,
		Exchange:      ex,
		ClientOrderID: cid,
	}
}

func TestPlaceOrder_MEXCScenario(t *testing.T) {
	var got http.Header
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":"C02__1","orderListId":-1,"price":"0","origQty":"0","type":"MARKET","side":"BUY","transactTime":1717000000000}`))
	}))
	defer srv.Close()

	h := newHarness(t, Options{}, mexc.New(exchange.Config{BaseURL: srv.URL, Timeout: time.Second}))
	out, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeMEXC, "mexc-cid-1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StateAcknowledged, out.State)
	require.NotNil(t, out.Sizing)
	assert.Equal(t, 500.0, out.Sizing.FinalSize)
	assert.Equal(t, 500.0, out.Sizing.BaseSize)
	assert.Equal(t, "test-v1", out.Sizing.PolicyVersion)
	require.NotNil(t, out.Result)
	assert.Equal(t, "C02__1", out.Result.ExchangeOrderID)

	assert.Equal(t, "key-MEXC", got.Get("X-MEXC-APIKEY"))
	assert.Equal(t, []string{"BUY"}, query["side"])
	assert.Equal(t, []string{"MARKET"}, query["type"])
	assert.Equal(t, []string{"500"}, query["quoteOrderQty"])
	assert.Equal(t, []string{"mexc-cid-1"}, query["newClientOrderId"])

	events, err := h.journal.Events(context.Background(), "acct", "mexc-cid-1")
	require.NoError(t, err)
	states := make([]domain.OrderState, 0, len(events))
	for _, e := range events {
		states = append(states, e.State)
	}
	assert.Equal(t, []domain.OrderState{
		domain.StateReceived, domain.StateSized, domain.StateRouted, domain.StateSubmitted, domain.StateAcknowledged,
	}, states)
}

func sellRequest(ex domain.Exchange, cid string) domain.UnifiedOrderRequest {
	return domain.UnifiedOrderRequest{
		Symbol:        "BTCUSDT",
		Action:        domain.ActionSell,
		SizeUSD:       f64(500),
		TPLevels:      []float64{50000, 48000},
		SL:            60000,
		Exchange:      ex,
		ClientOrderID: cid,
	}
}

func TestPlaceOrder_MEXCMarketSellWithoutPrice(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":"C02__2","type":"MARKET","side":"SELL"}`))
	}))
	defer srv.Close()

	h := newHarness(t, Options{}, mexc.New(exchange.Config{BaseURL: srv.URL, Timeout: time.Second}))
	out, err := h.coord.PlaceOrder(context.Background(), "acct", sellRequest(domain.ExchangeMEXC, "mexc-sell-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateAcknowledged, out.State)
	assert.Equal(t, []string{"SELL"}, query["side"])
	assert.Equal(t, []string{"500"}, query["quoteOrderQty"])
	assert.Empty(t, query["quantity"])
}

func TestPlaceOrder_BlofinMarketBuyUsesTicker(t *testing.T) {
	var size string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/market/tickers":
			_, _ = w.Write([]byte(`{"code":"0","msg":"success","data":[{"instId":"BTC-USDT","last":"50000"}]}`))
		case "/api/v1/trade/order":
			var body struct {
				Size string `json:"size"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			size = body.Size
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"orderId":"77","clientOrderId":"bf-1","code":"0","msg":""}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := newHarness(t, Options{}, blofin.New(exchange.Config{BaseURL: srv.URL, Timeout: time.Second}, blofin.WithContractSize(0.001)))
	enc, err := h.vault.Seal(vault.Credential{APIKey: []byte("k"), APISecret: []byte("s"), Passphrase: []byte("p")})
	require.NoError(t, err)
	h.creds.m[domain.ExchangeBlofin] = enc

	out, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeBlofin, "bf-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateAcknowledged, out.State)
	assert.Equal(t, "77", out.Result.ExchangeOrderID)
	// 500 USDT / 50000 = 0.01 BTC = 10 contracts of 0.001
	assert.Equal(t, "10", size)
}

func TestPlaceOrder_NotSentEndsFailedWithoutTrippingBreaker(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeGateIO, place: func(_ context.Context, o domain.Order, _ *vault.Credential) (domain.ExchangeOrderResult, error) {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, exchange.NotSent(domain.ExchangeGateIO, context.Canceled, "local rate limit wait aborted")
	}}
	h := newHarness(t, Options{Breakers: risk.NewBreakers(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 2, Cooldown: time.Minute})}, fa)
	ctx := context.Background()

	for _, cid := range []string{"ns1", "ns2", "ns3"} {
		out, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeGateIO, cid))
		require.True(t, exchange.IsNotSent(err), "%v", err)
		assert.Equal(t, domain.StateFailed, out.State)

		rec, err := h.journal.Lookup(ctx, "acct", cid)
		require.NoError(t, err)
		assert.True(t, rec.State.Terminal())
	}
	assert.Equal(t, 3, fa.callCount(), "local failures must not open the circuit")
}

func TestPlaceOrder_UndecodableStaysSubmitted(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBitget, place: func(_ context.Context, o domain.Order, _ *vault.Credential) (domain.ExchangeOrderResult, error) {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, exchange.Undecodable(domain.ExchangeBitget, errors.New("unexpected end of JSON input"))
	}}
	h := newHarness(t, Options{}, fa)

	out, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeBitget, "c-undecodable"))
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUndecodable, e.Code)
	assert.Equal(t, domain.StateSubmitted, out.State)

	rec, err := h.journal.Lookup(context.Background(), "acct", "c-undecodable")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmitted, rec.State, "outcome unknown is not terminal")
}

func TestPlaceOrder_SizePctWithMacroMultiplier(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBinance}
	h := newHarness(t, Options{Capital: fixedCapital(10000)}, fa)

	req := buyRequest(domain.ExchangeBinance, "")
	req.SizeUSD = nil
	req.SizePct = f64(0.1)
	req.Sizing = &domain.SizingOverride{MacroConfMultiplier: f64(0.5)}

	out, err := h.coord.PlaceOrder(context.Background(), "acct", req)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, out.Sizing.BaseSize)
	assert.Equal(t, 500.0, out.Sizing.FinalSize)
	require.Len(t, fa.orders, 1)
	assert.Equal(t, 500.0, fa.orders[0].QuoteSize)
	assert.Len(t, out.ClientOrderID, 32, "generated id is a dash-less uuid")
}

func TestPlaceOrder_ValidationBeforeAnything(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBinance}
	h := newHarness(t, Options{}, fa)
	req := buyRequest(domain.ExchangeBinance, "c1")
	req.TPLevels = []float64{72000, 70000}

	_, err := h.coord.PlaceOrder(context.Background(), "acct", req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Zero(t, fa.callCount())

	_, err = h.journal.Lookup(context.Background(), "acct", "c1")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestPlaceOrder_RoutingFailures(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBinance}
	h := newHarness(t, Options{}, fa)

	_, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest("KRAKEN", "c-unknown"))
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindRouting, e.Kind)
	assert.Equal(t, domain.CodeUnknownExchange, e.Code)

	delete(h.creds.m, domain.ExchangeBinance)
	out, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeBinance, "c-nocred"))
	e, ok = domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNoCredential, e.Code)
	assert.Equal(t, domain.StateFailed, out.State)
	assert.Zero(t, fa.callCount())
}

func TestPlaceOrder_SizingErrorSurfaced(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBinance}
	h := newHarness(t, Options{MinOrderSize: map[domain.Exchange]float64{domain.ExchangeBinance: 1000}}, fa)

	out, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeBinance, "c-small"))
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindSizing, e.Kind)
	assert.Equal(t, domain.CodeBelowMinimum, e.Code)
	assert.Equal(t, domain.StateFailed, out.State)
	assert.Zero(t, fa.callCount())

	rec, err := h.journal.Lookup(context.Background(), "acct", "c-small")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	require.NotNil(t, rec.Error)
	assert.Equal(t, domain.CodeBelowMinimum, rec.Error.Code)
}

func TestPlaceOrder_TimeoutStaysSubmitted(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeGateIO, place: func(ctx context.Context, o domain.Order, _ *vault.Credential) (domain.ExchangeOrderResult, error) {
		<-ctx.Done()
		return domain.ExchangeOrderResult{}, ctx.Err()
	}}
	h := newHarness(t, Options{SubmitTimeout: 20 * time.Millisecond}, fa)

	out, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeGateIO, "c-timeout"))
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindTransient, e.Kind)
	assert.Equal(t, domain.CodeTimeout, e.Code)
	assert.Equal(t, domain.StateSubmitted, out.State)

	rec, err := h.journal.Lookup(context.Background(), "acct", "c-timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmitted, rec.State, "a timeout is not terminal")
	assert.False(t, rec.State.Terminal())
}

func TestPlaceOrder_RejectedAndReplay(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeMEXC, place: func(_ context.Context, o domain.Order, _ *vault.Credential) (domain.ExchangeOrderResult, error) {
		e := domain.ExchangeRejected(domain.ExchangeMEXC, "30004", domain.CodeInsufficientFunds, "Insufficient position")
		return exchange.Rejected(o.ClientOrderID, []byte(`{"code":30004}`), e), e
	}}
	h := newHarness(t, Options{}, fa)
	ctx := context.Background()

	out, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeMEXC, "c-rej"))
	assert.Equal(t, domain.KindExchangeRejected, domain.KindOf(err))
	assert.Equal(t, domain.StateRejected, out.State)
	assert.Equal(t, domain.OrderStatusRejected, out.Result.Status)

	again, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeMEXC, "c-rej"))
	assert.True(t, again.Replayed)
	assert.Equal(t, domain.StateRejected, again.State)
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "30004", e.ExchangeCode)
	assert.Equal(t, 1, fa.callCount(), "replay must not reach the exchange")
}

func TestPlaceOrder_AcknowledgedReplay(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBitget}
	h := newHarness(t, Options{}, fa)
	ctx := context.Background()

	first, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeBitget, "c-ack"))
	require.NoError(t, err)
	second, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeBitget, "c-ack"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Result.ExchangeOrderID, second.Result.ExchangeOrderID)
	assert.Equal(t, 1, fa.callCount())

	// 另一个账户同一个 id 不会被回放
	third, err := h.coord.PlaceOrder(ctx, "other", buyRequest(domain.ExchangeBitget, "c-ack"))
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.Equal(t, 2, fa.callCount())
}

func TestPlaceOrder_CredentialWipedOnEveryPath(t *testing.T) {
	var seen []*vault.Credential
	fa := &fakeAdapter{name: domain.ExchangeBlofin, place: func(_ context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
		seen = append(seen, cred)
		if o.ClientOrderID == "c-fail" {
			return domain.ExchangeOrderResult{}, domain.TransientNetworkError(domain.ExchangeBlofin, "", nil, "connection reset")
		}
		return domain.ExchangeOrderResult{ExchangeOrderID: "9", Status: domain.OrderStatusAccepted}, nil
	}}
	h := newHarness(t, Options{}, fa)

	_, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeBlofin, "c-ok"))
	require.NoError(t, err)
	_, err = h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeBlofin, "c-fail"))
	require.Error(t, err)

	require.Len(t, seen, 2)
	for _, c := range seen {
		assert.Equal(t, make([]byte, len("key-BLOFIN")), c.APIKey)
		assert.Equal(t, make([]byte, len("secret")), c.APISecret)
	}
}

func TestPlaceOrder_SameTupleIsSerialized(t *testing.T) {
	entered := make(chan string, 2)
	unblock := make(chan struct{})
	fa := &fakeAdapter{name: domain.ExchangeMEXC, place: func(_ context.Context, o domain.Order, _ *vault.Credential) (domain.ExchangeOrderResult, error) {
		entered <- o.ClientOrderID
		<-unblock
		return domain.ExchangeOrderResult{ExchangeOrderID: o.ClientOrderID, Status: domain.OrderStatusAccepted}, nil
	}}
	h := newHarness(t, Options{}, fa)

	var wg sync.WaitGroup
	for _, cid := range []string{"first", "second"} {
		cid := cid
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.PlaceOrder(context.Background(), "acct", buyRequest(domain.ExchangeMEXC, cid))
			assert.NoError(t, err)
		}()
	}

	first := <-entered
	select {
	case second := <-entered:
		t.Fatalf("%s entered the adapter while %s was in flight", second, first)
	case <-time.After(50 * time.Millisecond):
	}
	unblock <- struct{}{}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second submission never started")
	}
	rec, err := h.journal.Lookup(context.Background(), "acct", first)
	require.NoError(t, err)
	assert.True(t, rec.State.Terminal(), "first order was terminal before the second started")

	unblock <- struct{}{}
	wg.Wait()
}

func TestPlaceOrder_DifferentSymbolsRunInParallel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	fa := &fakeAdapter{name: domain.ExchangeMEXC, place: func(_ context.Context, o domain.Order, _ *vault.Credential) (domain.ExchangeOrderResult, error) {
		wg.Done()
		wg.Wait() // 两个交易对都进入后才返回
		return domain.ExchangeOrderResult{Status: domain.OrderStatusAccepted}, nil
	}}
	h := newHarness(t, Options{SubmitTimeout: 2 * time.Second}, fa)

	done := make(chan error, 2)
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		req := buyRequest(domain.ExchangeMEXC, "c-"+sym)
		req.Symbol = sym
		go func() {
			_, err := h.coord.PlaceOrder(context.Background(), "acct", req)
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("orders on different symbols blocked each other")
		}
	}
}

func TestPlaceOrder_CircuitOpenFailsFast(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeGateIO, place: func(context.Context, domain.Order, *vault.Credential) (domain.ExchangeOrderResult, error) {
		return domain.ExchangeOrderResult{}, domain.TransientNetworkError(domain.ExchangeGateIO, domain.CodeRateLimited, nil, "slow down")
	}}
	h := newHarness(t, Options{Breakers: risk.NewBreakers(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 2, Cooldown: time.Minute})}, fa)
	ctx := context.Background()

	for _, cid := range []string{"b1", "b2"} {
		_, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeGateIO, cid))
		require.Equal(t, domain.KindTransient, domain.KindOf(err))
	}
	out, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeGateIO, "b3"))
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeCircuitOpen, e.Code)
	assert.Equal(t, domain.StateFailed, out.State, "nothing was sent")
	assert.Equal(t, 2, fa.callCount())
}

func TestCancelOrder(t *testing.T) {
	fa := &fakeAdapter{name: domain.ExchangeBinance}
	h := newHarness(t, Options{}, fa)
	ctx := context.Background()

	_, err := h.coord.CancelOrder(ctx, "acct", domain.CancelRequest{Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Zero(t, fa.callCount(), "validation runs before any adapter call")

	res, err := h.coord.CancelOrder(ctx, "acct", domain.CancelRequest{Exchange: "binance", Symbol: "BTCUSDT", OrderID: "42"})
	require.NoError(t, err)
	assert.Equal(t, domain.CancelStatusCancelled, res.Status)
	assert.Equal(t, 1, fa.callCount())
}

func TestOpenOrders_FanOut(t *testing.T) {
	mk := func(ex domain.Exchange, ts int64) *fakeAdapter {
		return &fakeAdapter{name: ex, open: func(_ context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
			assert.Equal(t, "key-"+string(ex), string(cred.APIKey))
			return []domain.OrderSnapshot{{Exchange: ex, Symbol: "BTCUSDT", OrderID: string(ex), CreatedAtMs: ts}}, nil
		}}
	}
	h := newHarness(t, Options{}, mk(domain.ExchangeMEXC, 2), mk(domain.ExchangeBinance, 1), mk(domain.ExchangeBitget, 3))

	all, err := h.coord.OpenOrders(context.Background(), "acct", "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.ExchangeBinance, all[0].Exchange)
	assert.Equal(t, domain.ExchangeBitget, all[1].Exchange)
	assert.Equal(t, domain.ExchangeMEXC, all[2].Exchange)

	one, err := h.coord.OpenOrders(context.Background(), "acct", "mexc", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestOpenOrders_FanOutError(t *testing.T) {
	bad := &fakeAdapter{name: domain.ExchangeGateIO, open: func(context.Context, string, *vault.Credential) ([]domain.OrderSnapshot, error) {
		return nil, domain.TransientNetworkError(domain.ExchangeGateIO, domain.CodeTimeout, nil, "")
	}}
	h := newHarness(t, Options{}, bad, &fakeAdapter{name: domain.ExchangeMEXC})
	_, err := h.coord.OpenOrders(context.Background(), "acct", "", "")
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func TestMyTrades(t *testing.T) {
	h := newHarness(t, Options{}, &fakeAdapter{name: domain.ExchangeBlofin})
	ctx := context.Background()

	_, err := h.coord.MyTrades(ctx, "acct", "", "", domain.TradeFilter{Limit: 5000})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindValidation, e.Kind)
	assert.Len(t, e.Fields, 3)

	trades, err := h.coord.MyTrades(ctx, "acct", domain.ExchangeBlofin, "btcusdt", domain.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)
}

func TestOrderLookup(t *testing.T) {
	h := newHarness(t, Options{}, &fakeAdapter{name: domain.ExchangeBinance})
	ctx := context.Background()
	_, err := h.coord.PlaceOrder(ctx, "acct", buyRequest(domain.ExchangeBinance, "c-look"))
	require.NoError(t, err)

	rec, events, err := h.coord.Order(ctx, "acct", "c-look")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAcknowledged, rec.State)
	assert.Len(t, events, 5)

	_, _, err = h.coord.Order(ctx, "acct", "missing")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
