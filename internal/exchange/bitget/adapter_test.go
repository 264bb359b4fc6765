package bitget

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/vault"
)

func testCred() *vault.Credential {
	return &vault.Credential{APIKey: []byte("bg-key"), APISecret: []byte("bg-secret"), Passphrase: []byte("bg-pass")}
}

func newTestAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(exchange.Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Now:     func() time.Time { return time.UnixMilli(1_717_000_000_000) },
	})
}

func checkAuth(t *testing.T, r *http.Request, body []byte) {
	t.Helper()
	assert.Equal(t, "bg-key", r.Header.Get("ACCESS-KEY"))
	assert.Equal(t, "bg-pass", r.Header.Get("ACCESS-PASSPHRASE"))
	assert.Equal(t, "1717000000000", r.Header.Get("ACCESS-TIMESTAMP"))
	want := sign([]byte("bg-secret"), "1717000000000", r.Method, r.URL.Path, r.URL.RawQuery, body)
	assert.Equal(t, want, r.Header.Get("ACCESS-SIGN"))
}

func TestSign_MatchesDocumentedPayload(t *testing.T) {
	got := sign([]byte("key"), "1", "get", "/api/v2/spot/trade/fills", "symbol=BTCUSDT", nil)
	assert.Equal(t, exchange.HMACSHA256Base64([]byte("key"), "1GET/api/v2/spot/trade/fills?symbol=BTCUSDT"), got)
	got = sign([]byte("key"), "1", "POST", "/p", "", []byte(`{"a":1}`))
	assert.Equal(t, exchange.HMACSHA256Base64([]byte("key"), `1POST/p{"a":1}`), got)
}

func TestPlaceOrder(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		checkAuth(t, r, body)
		assert.Equal(t, "/api/v2/spot/trade/place-order", r.URL.Path)
		var req placeOrderRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "buy", req.Side)
		assert.Equal(t, "market", req.OrderType)
		assert.Equal(t, "250", req.Size)
		assert.Equal(t, "cid-7", req.ClientOid)
		assert.Equal(t, "cancel_taker", req.StpMode)
		assert.Equal(t, "70000", req.PresetTakeProfitPrice)
		assert.Equal(t, "65000", req.PresetStopLossPrice)
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","requestTime":1,"data":{"orderId":"121211212122","clientOid":"cid-7"}}`))
	})
	res, err := a.PlaceOrder(context.Background(), domain.Order{
		Symbol: "BTCUSDT", Action: domain.ActionBuy, Type: domain.OrderTypeMarket, QuoteSize: 250,
		TPLevels: []float64{70000, 72000}, SL: 65000, ClientOrderID: "cid-7", StpMode: "cancel_taker",
	}, testCred())
	require.NoError(t, err)
	assert.Equal(t, "121211212122", res.ExchangeOrderID)
	assert.Equal(t, domain.OrderStatusAccepted, res.Status)
}

func TestPlaceOrder_MarketSellPricedFromTicker(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/spot/market/tickers":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			assert.Empty(t, r.Header.Get("ACCESS-SIGN"))
			_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":[{"symbol":"BTCUSDT","lastPr":"50000"}]}`))
		case "/api/v2/spot/trade/place-order":
			body, _ := io.ReadAll(r.Body)
			checkAuth(t, r, body)
			var req placeOrderRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "sell", req.Side)
			assert.Equal(t, "market", req.OrderType)
			assert.Equal(t, "0.01", req.Size)
			assert.Empty(t, req.Price)
			_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":{"orderId":"9","clientOid":"cid-8"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	res, err := a.PlaceOrder(context.Background(), domain.Order{
		Symbol: "BTCUSDT", Action: domain.ActionSell, Type: domain.OrderTypeMarket, QuoteSize: 500, ClientOrderID: "cid-8",
	}, testCred())
	require.NoError(t, err)
	assert.Equal(t, "9", res.ExchangeOrderID)
}

func TestPlaceOrder_MarketSellTickerDownIsNotSent(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/spot/market/tickers", r.URL.Path, "order must not be sent")
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := a.PlaceOrder(context.Background(), domain.Order{
		Symbol: "BTCUSDT", Action: domain.ActionSell, Type: domain.OrderTypeMarket, QuoteSize: 500,
	}, testCred())
	assert.True(t, exchange.IsNotSent(err), "%v", err)
}

func TestPlaceOrder_UndecodableSuccessIsTransient(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"00000","data":{"orderId":`))
	})
	_, err := a.PlaceOrder(context.Background(), domain.Order{
		Symbol: "BTCUSDT", Action: domain.ActionBuy, Type: domain.OrderTypeMarket, QuoteSize: 10,
	}, testCred())
	e, ok := domain.AsError(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, domain.KindTransient, e.Kind)
	assert.Equal(t, domain.CodeUndecodable, e.Code)
}

func TestPlaceOrder_Errors(t *testing.T) {
	cases := []struct {
		body string
		kind domain.Kind
		code string
	}{
		{`{"code":"43012","msg":"Insufficient balance"}`, domain.KindExchangeRejected, domain.CodeInsufficientFunds},
		{`{"code":"40008","msg":"Request timestamp expired"}`, domain.KindTransient, domain.CodeClockSkew},
		{`{"code":"45110","msg":"less than the minimum order quantity"}`, domain.KindExchangeRejected, ""},
	}
	for _, tc := range cases {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(tc.body))
		})
		res, err := a.PlaceOrder(context.Background(), domain.Order{
			Symbol: "BTCUSDT", Action: domain.ActionBuy, Type: domain.OrderTypeMarket, QuoteSize: 10, ClientOrderID: "c",
		}, testCred())
		e, ok := domain.AsError(err)
		require.True(t, ok, tc.body)
		assert.Equal(t, tc.kind, e.Kind, tc.body)
		assert.Equal(t, tc.code, e.Code, tc.body)
		assert.NotEmpty(t, e.ExchangeCode)
		if tc.kind == domain.KindExchangeRejected {
			assert.Equal(t, domain.OrderStatusRejected, res.Status)
		}
	}
}

func TestPlaceOrder_RequiresPassphrase(t *testing.T) {
	a := New(exchange.Config{BaseURL: "http://127.0.0.1:1"})
	_, err := a.PlaceOrder(context.Background(), domain.Order{
		Symbol: "BTCUSDT", Action: domain.ActionBuy, Type: domain.OrderTypeMarket, QuoteSize: 10,
	}, &vault.Credential{APIKey: []byte("k"), APISecret: []byte("s")})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNoCredential, e.Code)
}

func TestCancelOpenFills(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		checkAuth(t, r, body)
		switch r.URL.Path {
		case "/api/v2/spot/trade/cancel-order":
			var req cancelOrderRequest
			require.NoError(t, json.Unmarshal(body, &req))
			if req.OrderID == "gone" {
				w.WriteHeader(400)
				_, _ = w.Write([]byte(`{"code":"43001","msg":"The order does not exist"}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":"00000","data":{"orderId":"5","clientOid":"x"}}`))
		case "/api/v2/spot/trade/unfilled-orders":
			assert.Equal(t, "symbol=BTCUSDT", r.URL.RawQuery)
			_, _ = w.Write([]byte(`{"code":"00000","data":[{"symbol":"BTCUSDT","orderId":"5","clientOid":"x","priceAvg":"60000","size":"0.01","orderType":"limit","side":"sell","status":"live","baseVolume":"0","cTime":"1717000000000"}]}`))
		case "/api/v2/spot/trade/fills":
			_, _ = w.Write([]byte(`{"code":"00000","data":[{"symbol":"BTCUSDT","orderId":"5","tradeId":"88","orderType":"limit","side":"sell","priceAvg":"60000","size":"0.01","amount":"600","tradeScope":"maker","feeDetail":{"feeCoin":"USDT","totalFee":"-0.6"},"cTime":"1717000000100"}]}`))
		}
	})
	ctx := context.Background()

	res, err := a.CancelOrder(ctx, domain.CancelRequest{Symbol: "BTCUSDT", OrderID: "5"}, testCred())
	require.NoError(t, err)
	assert.Equal(t, domain.CancelStatusCancelled, res.Status)
	assert.Equal(t, "x", res.ClientOrderID)

	res, err = a.CancelOrder(ctx, domain.CancelRequest{Symbol: "BTCUSDT", OrderID: "gone"}, testCred())
	require.NoError(t, err)
	assert.Equal(t, domain.CancelStatusNotFound, res.Status)

	orders, err := a.OpenOrders(ctx, "BTCUSDT", testCred())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.ActionSell, orders[0].Side)
	assert.Equal(t, int64(1717000000000), orders[0].CreatedAtMs)

	trades, err := a.MyTrades(ctx, "BTCUSDT", domain.TradeFilter{}, testCred())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 0.6, trades[0].Fee)
	assert.True(t, trades[0].Maker)
}
