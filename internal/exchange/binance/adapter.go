// Package binance implements the Binance spot adapter on top of
// github.com/adshao/go-binance/v2, which owns request signing.
package binance

import (
	"context"
	"net/http"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
)

const DefaultBaseURL = "https://api.binance.com"

type Adapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Manager
	recvWindow int64
	now        func() time.Time
}

var _ exchange.Adapter = (*Adapter)(nil)

func New(cfg exchange.Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Adapter{
		baseURL:    cfg.BaseURL,
		httpClient: hc,
		limiter:    cfg.Limiter,
		recvWindow: cfg.RecvWindowMs(),
		now:        cfg.Clock(),
	}
}

func (a *Adapter) Name() domain.Exchange { return domain.ExchangeBinance }

// client builds a per-call client. go-binance keeps keys as strings, so the
// client is dropped as soon as the call returns.
func (a *Adapter) client(cred *vault.Credential) *gobinance.Client {
	c := gobinance.NewClient(string(cred.APIKey), string(cred.APISecret))
	c.BaseURL = a.baseURL
	c.HTTPClient = a.httpClient
	c.TimeOffset = time.Now().UnixMilli() - a.now().UnixMilli()
	return c
}

func (a *Adapter) opts() gobinance.RequestOption {
	return gobinance.WithRecvWindow(a.recvWindow)
}

func orderStatus(s gobinance.OrderStatusType, executed string) domain.OrderStatus {
	switch s {
	case gobinance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case gobinance.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	case gobinance.OrderStatusTypeExpired, gobinance.OrderStatusTypeCanceled:
		if exchange.ParseFloat(executed) > 0 {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusAccepted
	}
}

func (a *Adapter) PlaceOrder(ctx context.Context, o domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error) {
	svc := a.client(cred).NewCreateOrderService().
		Symbol(o.Symbol).
		Side(gobinance.SideType(o.Action)).
		NewOrderRespType(gobinance.NewOrderRespTypeRESULT)
	if o.ClientOrderID != "" {
		svc = svc.NewClientOrderID(o.ClientOrderID)
	}
	if o.Type == domain.OrderTypeLimit {
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Price(exchange.FormatDecimal(o.Price))
	} else {
		svc = svc.Type(gobinance.OrderTypeMarket)
	}
	// 市价单（买卖两侧）都按计价币金额下单
	if exchange.IsMarket(o) {
		svc = svc.QuoteOrderQty(exchange.QuoteAmount(o))
	} else {
		qty, err := exchange.BaseQuantity(o)
		if err != nil {
			return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusFailed}, err
		}
		svc = svc.Quantity(qty)
	}
	// go-binance v2.2 的下单服务不支持 selfTradePreventionMode，StpMode 在此忽略

	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBinance, "order"); err != nil {
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, err
	}
	resp, err := svc.Do(ctx, a.opts())
	if err != nil {
		mapped := mapError(ctx, err)
		if domain.KindOf(mapped) == "" {
			// 请求已发出：剩下的只有响应体解析失败，订单可能已经落地
			mapped = exchange.Undecodable(domain.ExchangeBinance, err)
		}
		if e, ok := domain.AsError(mapped); ok && e.Kind == domain.KindExchangeRejected {
			return exchange.Rejected(o.ClientOrderID, rawError(err), e), mapped
		}
		return domain.ExchangeOrderResult{ClientOrderID: o.ClientOrderID}, mapped
	}
	return domain.ExchangeOrderResult{
		ExchangeOrderID:     strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:       resp.ClientOrderID,
		Status:              orderStatus(resp.Status, resp.ExecutedQuantity),
		RawExchangeResponse: exchange.Raw(resp),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, req domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error) {
	svc := a.client(cred).NewCancelOrderService().Symbol(req.Symbol)
	if req.OrderID != "" {
		id, err := strconv.ParseInt(req.OrderID, 10, 64)
		if err != nil {
			return domain.CancelResult{Status: domain.CancelStatusFailed},
				domain.NewError(domain.KindValidation, "", "binance orderId must be numeric")
		}
		svc = svc.OrderID(id)
	}
	if req.OrigClientOrderID != "" {
		svc = svc.OrigClientOrderID(req.OrigClientOrderID)
	}
	if req.NewClientOrderID != "" {
		svc = svc.NewClientOrderID(req.NewClientOrderID)
	}
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBinance, "order"); err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	resp, err := svc.Do(ctx, a.opts())
	if err != nil {
		return exchange.CancelOutcome(req, rawError(err), mapError(ctx, err))
	}
	res, _ := exchange.CancelOutcome(req, exchange.Raw(resp), nil)
	res.OrderID = strconv.FormatInt(resp.OrderID, 10)
	res.ClientOrderID = resp.OrigClientOrderID
	return res, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error) {
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBinance, "query"); err != nil {
		return nil, err
	}
	svc := a.client(cred).NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx, a.opts())
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := make([]domain.OrderSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.OrderSnapshot{
			Exchange:      domain.ExchangeBinance,
			Symbol:        r.Symbol,
			OrderID:       strconv.FormatInt(r.OrderID, 10),
			ClientOrderID: r.ClientOrderID,
			Side:          exchange.SideFromString(string(r.Side)),
			Type:          exchange.TypeFromString(string(r.Type)),
			Price:         exchange.ParseFloat(r.Price),
			Quantity:      exchange.ParseFloat(r.OrigQuantity),
			Filled:        exchange.ParseFloat(r.ExecutedQuantity),
			Status:        string(r.Status),
			CreatedAtMs:   r.Time,
		})
	}
	return out, nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol string, f domain.TradeFilter, cred *vault.Credential) ([]domain.TradeRecord, error) {
	svc := a.client(cred).NewListTradesService().Symbol(symbol)
	if !f.StartTime.IsZero() {
		svc = svc.StartTime(f.StartTime.UnixMilli())
	}
	if !f.EndTime.IsZero() {
		svc = svc.EndTime(f.EndTime.UnixMilli())
	}
	if f.FromID != "" {
		id, err := strconv.ParseInt(f.FromID, 10, 64)
		if err != nil {
			return nil, domain.NewError(domain.KindValidation, "", "binance fromId must be numeric")
		}
		svc = svc.FromID(id)
	}
	if f.Limit > 0 {
		svc = svc.Limit(f.Limit)
	}
	if err := exchange.WaitLimit(ctx, a.limiter, domain.ExchangeBinance, "query"); err != nil {
		return nil, err
	}
	rows, err := svc.Do(ctx, a.opts())
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		side := domain.ActionSell
		if r.IsBuyer {
			side = domain.ActionBuy
		}
		tr := domain.TradeRecord{
			Exchange: domain.ExchangeBinance,
			Symbol:   r.Symbol,
			TradeID:  strconv.FormatInt(r.ID, 10),
			OrderID:  strconv.FormatInt(r.OrderID, 10),
			Side:     side,
			Price:    exchange.ParseFloat(r.Price),
			Quantity: exchange.ParseFloat(r.Quantity),
			QuoteQty: exchange.ParseFloat(r.QuoteQuantity),
			Fee:      exchange.ParseFloat(r.Commission),
			FeeAsset: r.CommissionAsset,
			Maker:    r.IsMaker,
			TimeMs:   r.Time,
		}
		// myTrades 的 orderId 过滤在客户端完成
		if f.Matches(tr) {
			out = append(out, tr)
		}
	}
	return out, nil
}
