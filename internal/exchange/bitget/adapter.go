// Package bitget implements the Bitget V2 spot adapter.
package bitget

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
	"github.com/betbot/unitrade/pkg/rest"
)

const DefaultBaseURL = "https://api.bitget.com"

type Adapter struct {
	http    *rest.Client
	limiter *ratelimit.Manager
	now     func() time.Time
}

var _ exchange.Adapter = (*Adapter)(nil)

func New(cfg exchange.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		http:    rest.NewClient(rest.Options{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, HTTPClient: cfg.HTTPClient}),
		limiter: cfg.Limiter,
		now:     cfg.Clock(),
	}
}

func (a *Adapter) Name() domain.Exchange { return domain.ExchangeBitget }

// sign 预签名串: timestamp + METHOD + requestPath [+ "?" + query] + body
func sign(secret []byte, ts, method, path, query string, body []byte) string {
	payload := ts + strings.ToUpper(method) + path
	if query != "" {
		payload += "?" + query
	}
	payload += string(body)
	return exchange.HMACSHA256Base64(secret, payload)
}

func (a *Adapter) headers(cred *vault.Credential, ts, sig string) map[string]string {
	return map[string]string{
		"ACCESS-KEY":        string(cred.APIKey),
		"ACCESS-SIGN":       sig,
		"ACCESS-TIMESTAMP":  ts,
		"ACCESS-PASSPHRASE": string(cred.Passphrase),
		"locale":            "en-US",
	}
}

// do sends a signed request and unwraps the envelope into out.
func (a *Adapter) do(ctx context.Context, method, path, query string, body any, cred *vault.Credential, out any) ([]byte, error) {
	if len(cred.Passphrase) == 0 {
		return nil, domain.RoutingError(domain.CodeNoCredential, "bitget credential has no passphrase")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	ts := strconv.FormatInt(a.now().UnixMilli(), 10)
	resp, err := a.http.Do(ctx, rest.Request{
		Method:   method,
		Path:     path,
		RawQuery: query,
		Body:     payload,
		Headers:  a.headers(cred, ts, sign(cred.APISecret, ts, method, path, query, payload)),
	})
	if err != nil {
		var raw []byte
		if resp != nil {
			raw = resp.Body
		}
		return raw, exchange.TransportError(domain.ExchangeBitget, resp, err)
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
		return resp.Body, exchange.Undecodable(domain.ExchangeBitget, err)
	}
	if !resp.IsSuccess() || env.Code != codeSuccess {
		return resp.Body, mapError(resp.StatusCode, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.Body, exchange.Undecodable(domain.ExchangeBitget, err)
		}
	}
	return resp.Body, nil
}

// lastPrice 公共行情接口，不签名
func (a *Adapter) lastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBitget, "query"); err != nil {
		return 0, err
	}
	resp, err := a.http.Do(ctx, rest.Request{
		Method:   http.MethodGet,
		Path:     "/api/v2/spot/market/tickers",
		RawQuery: rest.EncodeQuery("symbol", symbol),
	})
	if err != nil {
		return 0, exchange.TransportError(domain.ExchangeBitget, resp, err)
	}
	var rows []ticker
	if _, err := unwrap(resp, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, domain.ExchangeRejected(domain.ExchangeBitget, "", domain.CodeInvalidSymbol, "no ticker for "+symbol)
	}
	return exchange.ParseFloat(rows[0].LastPr), nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
	req := placeOrderRequest{
		Symbol:    o.Symbol,
		Side:      strings.ToLower(string(o.Action)),
		OrderType: "market",
		Force:     "gtc",
		ClientOid: o.ClientOrderID,
		StpMode:   o.StpMode,
	}
	if o.Type == domain.OrderTypeLimit {
		req.OrderType = "limit"
		req.Price = exchange.FormatDecimal(o.Price)
	}
	// 市价买单 size 为计价币金额，其余为基础币数量（市价卖单按最新价换算）
	if exchange.UsesQuoteAmount(o) {
		req.Size = exchange.QuoteAmount(o)
	} else {
		priced, err := exchange.WithReferencePrice(ctx, domain.ExchangeBitget, o, a.lastPrice)
		if err != nil {
			return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
		}
		qty, err := exchange.BaseQuantity(priced)
		if err != nil {
			return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusFailed}, err
		}
		req.Size = qty
	}
	if len(o.TPLevels) > 0 {
		req.PresetTakeProfitPrice = exchange.FormatDecimal(o.TPLevels[0])
	}
	if o.SL > 0 {
		req.PresetStopLossPrice = exchange.FormatDecimal(o.SL)
	}

	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBitget, "order"); err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
	}
	var ack orderAck
	raw, err := a.do(ctx, http.MethodPost, "/api/v2/spot/trade/place-order", "", req, cred, &ack)
	if err != nil {
		if e, ok := domain.AsError(err); ok && e.Kind == domain.KindExchangeRejected {
			return exchange.Rejected(o.ClientOrderID, raw, e), err
		}
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, RawExchangeResponse: exchange.Raw(raw)}, err
	}
	cid := ack.ClientOid
	if cid == "" {
		cid = o.ClientOrderID
	}
	return domain.ExchangeOrderResult{
		ExchangeOrderID:     ack.OrderID,
		ClientOrderID:       cid,
		Status:              domain.OrderStatusAccepted,
		RawExchangeResponse: exchange.Raw(raw),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, req domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBitget, "order"); err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	var ack orderAck
	raw, err := a.do(ctx, http.MethodPost, "/api/v2/spot/trade/cancel-order", "",
		cancelOrderRequest{Symbol: req.Symbol, OrderID: req.OrderID, ClientOid: req.OrigClientOrderID}, cred, &ack)
	res, err := exchange.CancelOutcome(req, raw, err)
	if err == nil && ack.OrderID != "" {
		res.OrderID = ack.OrderID
		res.ClientOrderID = ack.ClientOid
	}
	return res, err
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBitget, "query"); err != nil {
		return nil, err
	}
	var rows []unfilledOrder
	if _, err := a.do(ctx, http.MethodGet, "/api/v2/spot/trade/unfilled-orders", rest.EncodeQuery("symbol", symbol), nil, cred, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.OrderSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.OrderSnapshot{
			Exchange:      domain.ExchangeBitget,
			Symbol:        r.Symbol,
			OrderID:       r.OrderID,
			ClientOrderID: r.ClientOid,
			Side:          exchange.SideFromString(r.Side),
			Type:          exchange.TypeFromString(r.OrderType),
			Price:         exchange.ParseFloat(r.PriceAvg),
			Quantity:      exchange.ParseFloat(r.Size),
			Filled:        exchange.ParseFloat(r.BaseVolume),
			Status:        r.Status,
			CreatedAtMs:   exchange.ParseInt(r.CTime),
		})
	}
	return out, nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol string, f domain.TradeFilter, cred *vault.Credential) ([]domain.TradeRecord, error) {
	params := []string{"symbol", symbol, "orderId", f.OrderID}
	if !f.StartTime.IsZero() {
		params = append(params, "startTime", strconv.FormatInt(f.StartTime.UnixMilli(), 10))
	}
	if !f.EndTime.IsZero() {
		params = append(params, "endTime", strconv.FormatInt(f.EndTime.UnixMilli(), 10))
	}
	if f.Limit > 0 {
		params = append(params, "limit", strconv.Itoa(f.Limit))
	}
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBitget, "query"); err != nil {
		return nil, err
	}
	var rows []fill
	if _, err := a.do(ctx, http.MethodGet, "/api/v2/spot/trade/fills", rest.EncodeQuery(params...), nil, cred, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		tr := domain.TradeRecord{
			Exchange: domain.ExchangeBitget,
			Symbol:   r.Symbol,
			TradeID:  r.TradeID,
			OrderID:  r.OrderID,
			Side:     exchange.SideFromString(r.Side),
			Price:    exchange.ParseFloat(r.PriceAvg),
			Quantity: exchange.ParseFloat(r.Size),
			QuoteQty: exchange.ParseFloat(r.Amount),
			// Bitget 返回的手续费为负数
			Fee:      -exchange.ParseFloat(r.FeeDetail.TotalFee),
			FeeAsset: r.FeeDetail.FeeCoin,
			Maker:    r.TradeScope == "maker",
			TimeMs:   exchange.ParseInt(r.CTime),
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
