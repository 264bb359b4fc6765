// Package mexc implements the MEXC spot v3 adapter.
package mexc

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
	"github.com/betbot/unitrade/pkg/rest"
)

const (
	DefaultBaseURL = "https://api.mexc.com"
	// maxRecvWindow MEXC 允许的最大 recvWindow
	maxRecvWindow = 60000
)

type Adapter struct {
	http       *rest.Client
	limiter    *ratelimit.Manager
	recvWindow int64
	now        func() time.Time
}

var _ exchange.Adapter = (*Adapter)(nil)

func New(cfg exchange.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rw := cfg.RecvWindowMs()
	if rw > maxRecvWindow {
		rw = maxRecvWindow
	}
	return &Adapter{
		http:       rest.NewClient(rest.Options{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, HTTPClient: cfg.HTTPClient}),
		limiter:    cfg.Limiter,
		recvWindow: rw,
		now:        cfg.Clock(),
	}
}

func (a *Adapter) Name() domain.Exchange { return domain.ExchangeMEXC }

// do signs params (in order) and sends the request. The signature covers
// the query string exactly as sent.
func (a *Adapter) do(ctx context.Context, method, path string, cred *vault.Credential, params ...string) (*rest.Response, error) {
	params = append(params,
		"recvWindow", strconv.FormatInt(a.recvWindow, 10),
		"timestamp", strconv.FormatInt(a.now().UnixMilli(), 10))
	query := rest.EncodeQuery(params...)
	query += "&signature=" + exchange.HMACSHA256Hex(cred.APISecret, query)

	resp, err := a.http.Do(ctx, rest.Request{
		Method:   method,
		Path:     path,
		RawQuery: query,
		Headers:  map[string]string{"X-MEXC-APIKEY": string(cred.APIKey)},
	})
	if err != nil {
		return resp, exchange.TransportError(domain.ExchangeMEXC, resp, err)
	}
	if !resp.IsSuccess() {
		return resp, mapError(resp.StatusCode, resp.Body)
	}
	return resp, nil
}

func orderType(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "LIMIT"
	}
	return "MARKET"
}

func (a *Adapter) PlaceOrder(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
	params := []string{
		"symbol", o.Symbol,
		"side", string(o.Action),
		"type", orderType(o.Type),
	}
	// 市价单（买卖两侧）都按计价币金额下单
	if exchange.IsMarket(o) {
		params = append(params, "quoteOrderQty", exchange.QuoteAmount(o))
	} else {
		qty, err := exchange.BaseQuantity(o)
		if err != nil {
			return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusFailed}, err
		}
		params = append(params, "quantity", qty)
	}
	if o.Type == domain.OrderTypeLimit {
		params = append(params, "price", exchange.FormatDecimal(o.Price))
	}
	params = append(params, "newClientOrderId", o.ClientOrderID)

	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeMEXC, "order"); err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
	}
	resp, err := a.do(ctx, http.MethodPost, "/api/v3/order", cred, params...)
	if err != nil {
		return placeFailure(o.ClientOrderID, resp, err), err
	}
	var r orderResponse
	if err := resp.Decode(&r); err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, RawExchangeResponse: exchange.Raw(resp.Body)},
			exchange.Undecodable(domain.ExchangeMEXC, err)
	}
	return domain.ExchangeOrderResult{
		ExchangeOrderID:     r.OrderID,
		ClientOrderID:       o.ClientOrderID,
		Status:              domain.OrderStatusAccepted,
		RawExchangeResponse: exchange.Raw(resp.Body),
	}, nil
}

func placeFailure(clientOrderID string, resp *rest.Response, err error) domain.ExchangeOrderResult {
	var raw []byte
	if resp != nil {
		raw = resp.Body
	}
	if e, ok := domain.AsError(err); ok && e.Kind == domain.KindExchangeRejected {
		return exchange.Rejected(clientOrderID, raw, e)
	}
	return domain.ExchangeOrderResult{ClientOrderID: clientOrderID, RawExchangeResponse: exchange.Raw(raw)}
}

func (a *Adapter) CancelOrder(ctx context.Context, req domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeMEXC, "order"); err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	resp, err := a.do(ctx, http.MethodDelete, "/api/v3/order", cred,
		"symbol", req.Symbol,
		"orderId", req.OrderID,
		"origClientOrderId", req.OrigClientOrderID,
		"newClientOrderId", req.NewClientOrderID)
	var raw []byte
	if resp != nil {
		raw = resp.Body
	}
	res, err := exchange.CancelOutcome(req, raw, err)
	if err == nil && res.Status == domain.CancelStatusCancelled {
		var c cancelResponse
		if resp.Decode(&c) == nil {
			res.OrderID = c.OrderID
			res.ClientOrderID = c.OrigClientOrderID
		}
	}
	return res, err
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeMEXC, "query"); err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, http.MethodGet, "/api/v3/openOrders", cred, "symbol", symbol)
	if err != nil {
		return nil, err
	}
	var rows []openOrder
	if err := resp.Decode(&rows); err != nil {
		return nil, exchange.Undecodable(domain.ExchangeMEXC, err)
	}
	out := make([]domain.OrderSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.OrderSnapshot{
			Exchange:      domain.ExchangeMEXC,
			Symbol:        r.Symbol,
			OrderID:       r.OrderID,
			ClientOrderID: r.ClientOrderID,
			Side:          exchange.SideFromString(r.Side),
			Type:          exchange.TypeFromString(r.Type),
			Price:         exchange.ParseFloat(r.Price),
			Quantity:      exchange.ParseFloat(r.OrigQty),
			Filled:        exchange.ParseFloat(r.ExecutedQty),
			Status:        r.Status,
			CreatedAtMs:   r.Time,
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
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeMEXC, "query"); err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, http.MethodGet, "/api/v3/myTrades", cred, params...)
	if err != nil {
		return nil, err
	}
	var rows []trade
	if err := resp.Decode(&rows); err != nil {
		return nil, exchange.Undecodable(domain.ExchangeMEXC, err)
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		side := domain.ActionSell
		if r.IsBuyer {
			side = domain.ActionBuy
		}
		tr := domain.TradeRecord{
			Exchange: domain.ExchangeMEXC,
			Symbol:   r.Symbol,
			TradeID:  r.ID,
			OrderID:  r.OrderID,
			Side:     side,
			Price:    exchange.ParseFloat(r.Price),
			Quantity: exchange.ParseFloat(r.Qty),
			QuoteQty: exchange.ParseFloat(r.QuoteQty),
			Fee:      exchange.ParseFloat(r.Commission),
			FeeAsset: r.CommissionAsset,
			Maker:    r.IsMaker,
			TimeMs:   r.Time,
		}
		// MEXC 不支持 fromId，客户端过滤
		if f.FromID != "" && exchange.ParseInt(tr.TradeID) < exchange.ParseInt(f.FromID) {
			continue
		}
		if f.Matches(tr) {
			out = append(out, tr)
		}
	}
	return out, nil
}
