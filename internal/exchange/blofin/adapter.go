// Package blofin implements the Blofin REST adapter (USDT-margined
// perpetuals, one-way position mode).
package blofin

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
	"github.com/betbot/unitrade/pkg/rest"
)

const DefaultBaseURL = "https://openapi.blofin.com"

type Adapter struct {
	http         *rest.Client
	limiter      *ratelimit.Manager
	now          func() time.Time
	nonce        func() string
	contractSize decimal.Decimal
	marginMode   string
}

var _ exchange.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithContractSize sets the base-asset amount of one contract (default 1).
func WithContractSize(v float64) Option {
	return func(a *Adapter) {
		if v > 0 {
			a.contractSize = decimal.NewFromFloat(v)
		}
	}
}

// WithMarginMode selects "cross" (default) or "isolated".
func WithMarginMode(m string) Option {
	return func(a *Adapter) {
		if m != "" {
			a.marginMode = m
		}
	}
}

func New(cfg exchange.Config, opts ...Option) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	a := &Adapter{
		http:         rest.NewClient(rest.Options{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, HTTPClient: cfg.HTTPClient}),
		limiter:      cfg.Limiter,
		now:          cfg.Clock(),
		nonce:        func() string { return uuid.NewString() },
		contractSize: decimal.NewFromInt(1),
		marginMode:   "cross",
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() domain.Exchange { return domain.ExchangeBlofin }

// sign 预签名串: requestPath(含 query) + METHOD + timestamp + nonce + body，
// 结果为 base64(hex(hmac))
func sign(secret []byte, path, method, ts, nonce string, body []byte) string {
	payload := path + strings.ToUpper(method) + ts + nonce + string(body)
	mac := exchange.HMACSHA256(secret, payload)
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac)))
}

func (a *Adapter) do(ctx context.Context, method, path, query string, body any, cred *vault.Credential, out any) ([]byte, error) {
	if len(cred.Passphrase) == 0 {
		return nil, domain.RoutingError(domain.CodeNoCredential, "blofin credential has no passphrase")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	requestPath := path
	if query != "" {
		requestPath += "?" + query
	}
	ts := strconv.FormatInt(a.now().UnixMilli(), 10)
	nonce := a.nonce()
	resp, err := a.http.Do(ctx, rest.Request{
		Method:   method,
		Path:     path,
		RawQuery: query,
		Body:     payload,
		Headers: map[string]string{
			"ACCESS-KEY":        string(cred.APIKey),
			"ACCESS-SIGN":       sign(cred.APISecret, requestPath, method, ts, nonce, payload),
			"ACCESS-TIMESTAMP":  ts,
			"ACCESS-NONCE":      nonce,
			"ACCESS-PASSPHRASE": string(cred.Passphrase),
		},
	})
	if err != nil {
		var raw []byte
		if resp != nil {
			raw = resp.Body
		}
		return raw, exchange.TransportError(domain.ExchangeBlofin, resp, err)
	}
	return unwrap(resp, out)
}

// unwrap 解析 {code,msg,data} 信封；2xx 但无法解析时结果未知
func unwrap(resp *rest.Response, out any) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		if !resp.IsSuccess() {
			return resp.Body, mapError(resp.StatusCode, "", string(resp.Body))
		}
		return resp.Body, exchange.Undecodable(domain.ExchangeBlofin, err)
	}
	if !resp.IsSuccess() || env.Code != codeSuccess {
		code, msg := env.Code, env.Msg
		// 批量回执里的子错误更具体
		var acks []orderAck
		if json.Unmarshal(env.Data, &acks) == nil && len(acks) > 0 && acks[0].Code != "" && acks[0].Code != codeSuccess {
			code, msg = acks[0].Code, acks[0].Msg
		}
		return resp.Body, mapError(resp.StatusCode, code, msg)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.Body, exchange.Undecodable(domain.ExchangeBlofin, err)
		}
	}
	return resp.Body, nil
}

// lastPrice 公共行情接口，不签名
func (a *Adapter) lastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBlofin, "query"); err != nil {
		return 0, err
	}
	resp, err := a.http.Do(ctx, rest.Request{
		Method:   http.MethodGet,
		Path:     "/api/v1/market/tickers",
		RawQuery: rest.EncodeQuery("instId", exchange.JoinSymbol(symbol, "-")),
	})
	if err != nil {
		return 0, exchange.TransportError(domain.ExchangeBlofin, resp, err)
	}
	var rows []ticker
	if _, err := unwrap(resp, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, domain.ExchangeRejected(domain.ExchangeBlofin, "", domain.CodeInvalidSymbol, "no ticker for "+symbol)
	}
	return exchange.ParseFloat(rows[0].Last), nil
}

// contracts 把计价金额换算为合约张数（保留 8 位小数）
func (a *Adapter) contracts(o domain.Order) (string, error) {
	qty, err := exchange.BaseQuantity(o)
	if err != nil {
		return "", err
	}
	n := decimal.RequireFromString(qty).Div(a.contractSize).Round(8)
	if !n.IsPositive() {
		return "", domain.NewError(domain.KindValidation, "", "order size is below one contract increment")
	}
	return n.String(), nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
	// 合约张数总是按价格换算；市价单没有价格时取最新成交价
	priced, err := exchange.WithReferencePrice(ctx, domain.ExchangeBlofin, o, a.lastPrice)
	if err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
	}
	size, err := a.contracts(priced)
	if err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusFailed}, err
	}
	req := orderRequest{
		InstID:        exchange.JoinSymbol(o.Symbol, "-"),
		MarginMode:    a.marginMode,
		PositionSide:  "net",
		Side:          strings.ToLower(string(o.Action)),
		OrderType:     "market",
		Size:          size,
		ClientOrderID: o.ClientOrderID,
	}
	if o.Type == domain.OrderTypeLimit {
		req.OrderType = "limit"
		req.Price = exchange.FormatDecimal(o.Price)
	}
	// 止盈取第一档，触发后市价（-1）
	if len(o.TPLevels) > 0 {
		req.TpTriggerPrice = exchange.FormatDecimal(o.TPLevels[0])
		req.TpOrderPrice = "-1"
	}
	if o.SL > 0 {
		req.SlTriggerPrice = exchange.FormatDecimal(o.SL)
		req.SlOrderPrice = "-1"
	}

	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBlofin, "order"); err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
	}
	var acks []orderAck
	raw, err := a.do(ctx, http.MethodPost, "/api/v1/trade/order", "", req, cred, &acks)
	if err != nil {
		if e, ok := domain.AsError(err); ok && e.Kind == domain.KindExchangeRejected {
			return exchange.Rejected(o.ClientOrderID, raw, e), err
		}
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, RawExchangeResponse: exchange.Raw(raw)}, err
	}
	res := domain.ExchangeOrderResult{
		ClientOrderID:       o.ClientOrderID,
		Status:              domain.OrderStatusAccepted,
		RawExchangeResponse: exchange.Raw(raw),
	}
	if len(acks) > 0 {
		res.ExchangeOrderID = acks[0].OrderID
	}
	return res, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, req domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBlofin, "order"); err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	var acks []orderAck
	raw, err := a.do(ctx, http.MethodPost, "/api/v1/trade/cancel-order", "", cancelRequest{
		InstID:        exchange.JoinSymbol(req.Symbol, "-"),
		OrderID:       req.OrderID,
		ClientOrderID: req.OrigClientOrderID,
	}, cred, &acks)
	res, err := exchange.CancelOutcome(req, raw, err)
	if err == nil && len(acks) > 0 {
		res.OrderID = acks[0].OrderID
		res.ClientOrderID = acks[0].ClientOrderID
	}
	return res, err
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBlofin, "query"); err != nil {
		return nil, err
	}
	q := ""
	if symbol != "" {
		q = rest.EncodeQuery("instId", exchange.JoinSymbol(symbol, "-"))
	}
	var rows []pendingOrder
	if _, err := a.do(ctx, http.MethodGet, "/api/v1/trade/orders-pending", q, nil, cred, &rows); err != nil {
		return nil, err
	}
	cs := a.contractSize.InexactFloat64()
	out := make([]domain.OrderSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.OrderSnapshot{
			Exchange:      domain.ExchangeBlofin,
			Symbol:        exchange.UnifySymbol(r.InstID),
			OrderID:       r.OrderID,
			ClientOrderID: r.ClientOrderID,
			Side:          exchange.SideFromString(r.Side),
			Type:          exchange.TypeFromString(r.OrderType),
			Price:         exchange.ParseFloat(r.Price),
			Quantity:      exchange.ParseFloat(r.Size) * cs,
			Filled:        exchange.ParseFloat(r.FilledSize) * cs,
			Status:        r.State,
			CreatedAtMs:   exchange.ParseInt(r.CreateTime),
		})
	}
	return out, nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol string, f domain.TradeFilter, cred *vault.Credential) ([]domain.TradeRecord, error) {
	params := []string{"instId", exchange.JoinSymbol(symbol, "-"), "orderId", f.OrderID}
	if !f.StartTime.IsZero() {
		params = append(params, "begin", strconv.FormatInt(f.StartTime.UnixMilli(), 10))
	}
	if !f.EndTime.IsZero() {
		params = append(params, "end", strconv.FormatInt(f.EndTime.UnixMilli(), 10))
	}
	if f.Limit > 0 {
		params = append(params, "limit", strconv.Itoa(f.Limit))
	}
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBlofin, "query"); err != nil {
		return nil, err
	}
	var rows []fill
	if _, err := a.do(ctx, http.MethodGet, "/api/v1/trade/fills-history", rest.EncodeQuery(params...), nil, cred, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		price := decimal.NewFromFloat(exchange.ParseFloat(r.FillPrice))
		qty := decimal.NewFromFloat(exchange.ParseFloat(r.FillSize)).Mul(a.contractSize)
		tr := domain.TradeRecord{
			Exchange: domain.ExchangeBlofin,
			Symbol:   exchange.UnifySymbol(r.InstID),
			TradeID:  r.TradeID,
			OrderID:  r.OrderID,
			Side:     exchange.SideFromString(r.Side),
			Price:    price.InexactFloat64(),
			Quantity: qty.InexactFloat64(),
			QuoteQty: price.Mul(qty).Round(8).InexactFloat64(),
			Fee:      exchange.ParseFloat(r.Fee),
			FeeAsset: "USDT",
			TimeMs:   exchange.ParseInt(r.Ts),
		}
		if f.FromID != "" && exchange.ParseInt(tr.TradeID) < exchange.ParseInt(f.FromID) {
			continue
		}
		if f.Matches(tr) {
			out = append(out, tr)
		}
	}
	return out, nil
}
