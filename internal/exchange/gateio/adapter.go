// Package gateio implements the Gate.io API v4 spot adapter.
package gateio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
	"github.com/betbot/unitrade/pkg/rest"
)

const (
	DefaultBaseURL = "https://api.gateio.ws"
	prefix         = "/api/v4"
	// textMaxLen 自定义 text 去掉 "t-" 前缀后最多 28 字节
	textMaxLen = 28
)

type Adapter struct {
	http       *rest.Client
	limiter    *ratelimit.Manager
	recvWindow time.Duration
	now        func() time.Time
}

var _ exchange.Adapter = (*Adapter)(nil)

func New(cfg exchange.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		http:       rest.NewClient(rest.Options{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, HTTPClient: cfg.HTTPClient}),
		limiter:    cfg.Limiter,
		recvWindow: time.Duration(cfg.RecvWindowMs()) * time.Millisecond,
		now:        cfg.Clock(),
	}
}

func (a *Adapter) Name() domain.Exchange { return domain.ExchangeGateIO }

// Text converts a client order id into Gate's "t-" prefixed text field.
func Text(clientOrderID string) string {
	if clientOrderID == "" {
		return ""
	}
	if len(clientOrderID) > textMaxLen {
		clientOrderID = clientOrderID[:textMaxLen]
	}
	return "t-" + clientOrderID
}

// sign 签名串: METHOD\npath\nquery\nhex(sha512(body))\ntimestamp
func sign(secret []byte, method, path, query string, body []byte, ts string) string {
	payload := strings.Join([]string{strings.ToUpper(method), path, query, exchange.SHA512Hex(body), ts}, "\n")
	return exchange.HMACSHA512Hex(secret, payload)
}

func (a *Adapter) do(ctx context.Context, method, path, query string, body any, cred *vault.Credential, out any) ([]byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	now := a.now()
	ts := strconv.FormatInt(now.Unix(), 10)
	full := prefix + path
	resp, err := a.http.Do(ctx, rest.Request{
		Method:   method,
		Path:     full,
		RawQuery: query,
		Body:     payload,
		Headers: map[string]string{
			"KEY":            string(cred.APIKey),
			"SIGN":           sign(cred.APISecret, method, full, query, payload, ts),
			"Timestamp":      ts,
			"X-Gate-Exptime": strconv.FormatInt(now.Add(a.recvWindow).UnixMilli(), 10),
		},
	})
	if err != nil {
		var raw []byte
		if resp != nil {
			raw = resp.Body
		}
		return raw, exchange.TransportError(domain.ExchangeGateIO, resp, err)
	}
	if !resp.IsSuccess() {
		return resp.Body, mapError(resp.StatusCode, resp.Body)
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return resp.Body, exchange.Undecodable(domain.ExchangeGateIO, err)
		}
	}
	return resp.Body, nil
}

// lastPrice 公共行情接口，不签名
func (a *Adapter) lastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeGateIO, "query"); err != nil {
		return 0, err
	}
	resp, err := a.http.Do(ctx, rest.Request{
		Method:   http.MethodGet,
		Path:     prefix + "/spot/tickers",
		RawQuery: rest.EncodeQuery("currency_pair", exchange.JoinSymbol(symbol, "_")),
	})
	if err != nil {
		return 0, exchange.TransportError(domain.ExchangeGateIO, resp, err)
	}
	if !resp.IsSuccess() {
		return 0, mapError(resp.StatusCode, resp.Body)
	}
	var rows []ticker
	if err := resp.Decode(&rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, domain.ExchangeRejected(domain.ExchangeGateIO, "", domain.CodeInvalidSymbol, "no ticker for "+symbol)
	}
	return exchange.ParseFloat(rows[0].Last), nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
	req := orderRequest{
		Text:         Text(o.ClientOrderID),
		CurrencyPair: exchange.JoinSymbol(o.Symbol, "_"),
		Type:         "market",
		Account:      "spot",
		Side:         strings.ToLower(string(o.Action)),
		TimeInForce:  "ioc",
		StpAct:       o.StpMode,
	}
	if o.Type == domain.OrderTypeLimit {
		req.Type = "limit"
		req.TimeInForce = "gtc"
		req.Price = exchange.FormatDecimal(o.Price)
	}
	// 市价买单 amount 为计价币金额；市价卖单按最新价换算基础币数量
	if exchange.UsesQuoteAmount(o) {
		req.Amount = exchange.QuoteAmount(o)
	} else {
		priced, err := exchange.WithReferencePrice(ctx, domain.ExchangeGateIO, o, a.lastPrice)
		if err != nil {
			return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
		}
		qty, err := exchange.BaseQuantity(priced)
		if err != nil {
			return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusFailed}, err
		}
		req.Amount = qty
	}

	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeGateIO, "order"); err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
	}
	var ord order
	raw, err := a.do(ctx, http.MethodPost, "/spot/orders", "", req, cred, &ord)
	if err != nil {
		if e, ok := domain.AsError(err); ok && e.Kind == domain.KindExchangeRejected {
			return exchange.Rejected(o.ClientOrderID, raw, e), err
		}
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, RawExchangeResponse: exchange.Raw(raw)}, err
	}
	return domain.ExchangeOrderResult{
		ExchangeOrderID:     ord.ID,
		ClientOrderID:       o.ClientOrderID,
		Status:              placeStatus(ord),
		RawExchangeResponse: exchange.Raw(raw),
	}, nil
}

// placeStatus 市价 IOC 单可能部分成交后关闭
func placeStatus(o order) domain.OrderStatus {
	left := dec(o.Left)
	amount := dec(o.Amount)
	if o.Status == "closed" || o.Status == "cancelled" {
		if left.IsPositive() && left.LessThan(amount) {
			return domain.OrderStatusPartiallyFilled
		}
	}
	return domain.OrderStatusAccepted
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a *Adapter) CancelOrder(ctx context.Context, req domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error) {
	id := req.OrderID
	if id == "" {
		id = Text(req.OrigClientOrderID)
	}
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeGateIO, "order"); err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	var ord order
	raw, err := a.do(ctx, http.MethodDelete, "/spot/orders/"+url.PathEscape(id),
		rest.EncodeQuery("currency_pair", exchange.JoinSymbol(req.Symbol, "_")), nil, cred, &ord)
	res, err := exchange.CancelOutcome(req, raw, err)
	if err == nil && ord.ID != "" {
		res.OrderID = ord.ID
		res.ClientOrderID = strings.TrimPrefix(ord.Text, "t-")
	}
	return res, err
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeGateIO, "query"); err != nil {
		return nil, err
	}
	var rows []order
	q := rest.EncodeQuery("currency_pair", exchange.JoinSymbol(symbol, "_"), "status", "open")
	if _, err := a.do(ctx, http.MethodGet, "/spot/orders", q, nil, cred, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.OrderSnapshot, 0, len(rows))
	for _, r := range rows {
		amount := exchange.ParseFloat(r.Amount)
		filled := decimal.NewFromFloat(amount).Sub(decimal.NewFromFloat(exchange.ParseFloat(r.Left)))
		out = append(out, domain.OrderSnapshot{
			Exchange:      domain.ExchangeGateIO,
			Symbol:        exchange.UnifySymbol(r.CurrencyPair),
			OrderID:       r.ID,
			ClientOrderID: strings.TrimPrefix(r.Text, "t-"),
			Side:          exchange.SideFromString(r.Side),
			Type:          exchange.TypeFromString(r.Type),
			Price:         exchange.ParseFloat(r.Price),
			Quantity:      amount,
			Filled:        filled.InexactFloat64(),
			Status:        r.Status,
			CreatedAtMs:   r.CreateTimeMs,
		})
	}
	return out, nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol string, f domain.TradeFilter, cred *vault.Credential) ([]domain.TradeRecord, error) {
	params := []string{"currency_pair", exchange.JoinSymbol(symbol, "_"), "order_id", f.OrderID}
	if f.Limit > 0 {
		params = append(params, "limit", strconv.Itoa(f.Limit))
	}
	// Gate 的 from/to 以秒为单位
	if !f.StartTime.IsZero() {
		params = append(params, "from", strconv.FormatInt(f.StartTime.Unix(), 10))
	}
	if !f.EndTime.IsZero() {
		params = append(params, "to", strconv.FormatInt(f.EndTime.Unix(), 10))
	}
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeGateIO, "query"); err != nil {
		return nil, err
	}
	var rows []trade
	if _, err := a.do(ctx, http.MethodGet, "/spot/my_trades", rest.EncodeQuery(params...), nil, cred, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		price := exchange.ParseFloat(r.Price)
		qty := exchange.ParseFloat(r.Amount)
		tr := domain.TradeRecord{
			Exchange: domain.ExchangeGateIO,
			Symbol:   exchange.UnifySymbol(r.CurrencyPair),
			TradeID:  r.ID,
			OrderID:  r.OrderID,
			Side:     exchange.SideFromString(r.Side),
			Price:    price,
			Quantity: qty,
			QuoteQty: decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty)).Round(8).InexactFloat64(),
			Fee:      exchange.ParseFloat(r.Fee),
			FeeAsset: r.FeeCurrency,
			Maker:    r.Role == "maker",
			TimeMs:   int64(exchange.ParseFloat(r.CreateTimeMs)),
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
