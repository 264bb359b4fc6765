// Package dispatch turns a unified order request into one exchange
// submission: validate, size, route, submit, journal.
//
// Lifecycle: RECEIVED → SIZED → ROUTED → SUBMITTED → {ACKNOWLEDGED | REJECTED | FAILED}.
// A transient failure leaves the order SUBMITTED because it may have reached
// the venue; callers reconcile and retry with the same client order id.
// Failures before the request left the process (NotSent) end FAILED.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/unitrade/internal/credstore"
	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/exchange"
	"github.com/betbot/unitrade/internal/execution"
	"github.com/betbot/unitrade/internal/journal"
	"github.com/betbot/unitrade/internal/metrics"
	"github.com/betbot/unitrade/internal/risk"
	"github.com/betbot/unitrade/internal/sizing"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/logger"
)

// CredentialSource yields the encrypted credential of an account on an exchange.
type CredentialSource interface {
	Get(ctx context.Context, accountID string, ex domain.Exchange) (vault.EncryptedCredential, error)
	Exchanges(ctx context.Context, accountID string) ([]domain.Exchange, error)
}

// CapitalSource reports available capital; ok=false means unknown.
type CapitalSource interface {
	AvailableCapital(ctx context.Context, accountID string, ex domain.Exchange) (float64, bool, error)
}

// Journal persists lifecycle transitions.
type Journal interface {
	Record(ctx context.Context, rec journal.Record, detail string) error
	Lookup(ctx context.Context, accountID, clientOrderID string) (journal.Record, error)
	Events(ctx context.Context, accountID, clientOrderID string) ([]journal.Event, error)
}

// Recorder receives metrics; *metrics.Metrics implements it.
type Recorder interface {
	ObserveOrder(ex domain.Exchange, state domain.OrderState)
	ObserveCancel(ex domain.Exchange, status domain.CancelStatus)
	ObserveLatency(ex domain.Exchange, op string, d time.Duration)
}

type Options struct {
	Registry    *exchange.Registry
	Vault       *vault.Vault
	Sizer       *sizing.Engine
	Credentials CredentialSource
	Capital     CapitalSource // nil：资金未知
	Journal     Journal
	Breakers    *risk.Breakers // nil：不熔断
	Metrics     Recorder       // nil：不上报

	// MinOrderSize 每个交易所的最小下单金额（报价币种）
	MinOrderSize map[domain.Exchange]float64

	// SubmitTimeout 单次适配器调用超时；<= 0 时只受调用方 ctx 约束
	SubmitTimeout time.Duration

	// NewClientOrderID 为空时使用去掉连字符的 uuid（32 位，所有交易所都接受）
	NewClientOrderID func() string
}

type Coordinator struct {
	opts  Options
	locks *execution.TupleLock
}

// Outcome is what PlaceOrder reports back to the caller.
type Outcome struct {
	ClientOrderID string                      `json:"clientOrderId"`
	State         domain.OrderState           `json:"state"`
	Sizing        *domain.SizingMeta          `json:"sizingMeta,omitempty"`
	Result        *domain.ExchangeOrderResult `json:"result,omitempty"`
	Replayed      bool                        `json:"replayed,omitempty"`
}

func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("dispatch: registry is required")
	case opts.Vault == nil:
		return nil, errors.New("dispatch: vault is required")
	case opts.Sizer == nil:
		return nil, errors.New("dispatch: sizing engine is required")
	case opts.Credentials == nil:
		return nil, errors.New("dispatch: credential source is required")
	case opts.Journal == nil:
		return nil, errors.New("dispatch: journal is required")
	}
	if opts.NewClientOrderID == nil {
		opts.NewClientOrderID = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	if opts.Metrics == nil {
		opts.Metrics = (*metrics.Metrics)(nil)
	}
	return &Coordinator{opts: opts, locks: execution.NewTupleLock(64)}, nil
}

func (c *Coordinator) adapterCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.SubmitTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.SubmitTimeout)
	}
	return context.WithCancel(ctx)
}

// PlaceOrder runs one dispatch attempt. It never retries.
func (c *Coordinator) PlaceOrder(ctx context.Context, accountID string, req domain.UnifiedOrderRequest) (Outcome, error) {
	if strings.TrimSpace(accountID) == "" {
		return Outcome{}, domain.NewError(domain.KindValidation, "", "account id is required")
	}
	if err := domain.ValidateOrder(req); err != nil {
		return Outcome{}, err
	}
	if ex, ok := domain.ParseExchange(string(req.Exchange)); ok {
		req.Exchange = ex
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = c.opts.NewClientOrderID()
	}

	// 同一 (account, exchange, symbol) 串行；第二个请求在此阻塞
	release, err := c.locks.Acquire(ctx, execution.TupleKey(accountID, string(req.Exchange), req.Symbol))
	if err != nil {
		return Outcome{ClientOrderID: req.ClientOrderID}, domain.TransientNetworkError(req.Exchange, domain.CodeTimeout, err, "waiting for in-flight order on the same symbol")
	}
	defer release()

	log := logger.WithFields(logrus.Fields{
		"account":       accountID,
		"exchange":      req.Exchange,
		"symbol":        req.Symbol,
		"clientOrderId": req.ClientOrderID,
	})

	if out, ok, err := c.replay(ctx, accountID, req); ok {
		log.Infof("replaying journaled %s result", out.State)
		return out, err
	}

	t := &transition{c: c, log: log, rec: journal.Record{
		AccountID:     accountID,
		ClientOrderID: req.ClientOrderID,
		Exchange:      req.Exchange,
		Symbol:        req.Symbol,
		Action:        req.Action,
	}}
	out := Outcome{ClientOrderID: req.ClientOrderID}

	// RECEIVED
	t.rec.Request = &req
	if err := t.to(ctx, domain.StateReceived, ""); err != nil {
		return out, err
	}
	t.rec.Request = nil

	// SIZED
	meta, err := c.size(ctx, accountID, req)
	if err != nil {
		out.Sizing = sizingOrNil(meta)
		return t.fail(ctx, out, err)
	}
	out.Sizing = &meta
	t.rec.Sizing = &meta
	if err := t.to(ctx, domain.StateSized, fmt.Sprintf("finalSize=%v", meta.FinalSize)); err != nil {
		return out, err
	}

	// ROUTED
	adapter, enc, err := c.route(ctx, accountID, req.Exchange)
	if err != nil {
		return t.fail(ctx, out, err)
	}
	if err := t.to(ctx, domain.StateRouted, ""); err != nil {
		return out, err
	}

	// SUBMITTED
	order := domain.Order{
		Symbol:        req.Symbol,
		Action:        req.Action,
		Type:          req.EffectiveType(),
		Price:         req.Price,
		QuoteSize:     meta.FinalSize,
		TPLevels:      req.TPLevels,
		SL:            req.SL,
		ClientOrderID: req.ClientOrderID,
		StpMode:       req.StpMode,
	}
	if err := t.to(ctx, domain.StateSubmitted, ""); err != nil {
		return out, err
	}
	res, err := c.submit(ctx, adapter, enc, order)
	if res.ClientOrderID == "" {
		res.ClientOrderID = req.ClientOrderID
	}
	out.Result = &res
	t.rec.Result = &res

	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindTransient:
			if exchange.IsNotSent(err) {
				// 请求没有发出，不存在未知结果
				return t.fail(ctx, out, err)
			}
			// 结果未知：保持 SUBMITTED
			out.State = domain.StateSubmitted
			t.rec.Error = errorOrNil(err)
			t.record(ctx, domain.StateSubmitted, err.Error())
			log.WithError(err).Warn("submission outcome unknown")
			return out, err
		case domain.KindExchangeRejected:
			out.State = domain.StateRejected
			if res.Status == "" {
				res.Status = domain.OrderStatusRejected
			}
			t.rec.Error = errorOrNil(err)
			t.record(ctx, domain.StateRejected, err.Error())
			log.WithError(err).Warn("order rejected by exchange")
			return out, err
		default:
			return t.fail(ctx, out, err)
		}
	}

	switch res.Status {
	case domain.OrderStatusRejected:
		out.State = domain.StateRejected
	case domain.OrderStatusFailed:
		out.State = domain.StateFailed
	default:
		out.State = domain.StateAcknowledged
	}
	t.record(ctx, out.State, "exchangeOrderId="+res.ExchangeOrderID)
	log.WithField("exchangeOrderId", res.ExchangeOrderID).Infof("order %s", out.State)
	return out, nil
}

// replay returns the journaled outcome when the client order id already
// reached ACKNOWLEDGED or REJECTED.
func (c *Coordinator) replay(ctx context.Context, accountID string, req domain.UnifiedOrderRequest) (Outcome, bool, error) {
	rec, err := c.opts.Journal.Lookup(ctx, accountID, req.ClientOrderID)
	if err != nil {
		if !errors.Is(err, journal.ErrNotFound) {
			logger.Warnf("journal lookup %s: %v", req.ClientOrderID, err)
		}
		return Outcome{}, false, nil
	}
	if rec.State != domain.StateAcknowledged && rec.State != domain.StateRejected {
		return Outcome{}, false, nil
	}
	metrics.OrdersReplayed.Add(1)
	out := Outcome{ClientOrderID: rec.ClientOrderID, State: rec.State, Sizing: rec.Sizing, Result: rec.Result, Replayed: true}
	if rec.State == domain.StateRejected && rec.Error != nil {
		return out, true, rec.Error
	}
	return out, true, nil
}

func (c *Coordinator) size(ctx context.Context, accountID string, req domain.UnifiedOrderRequest) (domain.SizingMeta, error) {
	in := sizing.Input{Request: req, MinOrderSize: c.opts.MinOrderSize[req.Exchange]}
	if c.opts.Capital != nil {
		v, ok, err := c.opts.Capital.AvailableCapital(ctx, accountID, req.Exchange)
		if err != nil {
			// 资金查询失败视为未知：sizeUsd 仍可下单，sizePct 会得到 CapitalUnavailable
			logger.Warnf("available capital lookup for %s/%s: %v", accountID, req.Exchange, err)
		} else if ok {
			in.AvailableCapital, in.CapitalKnown = v, true
		}
	}
	return c.opts.Sizer.Size(in)
}

// route resolves the adapter, the encrypted credential and the breaker.
func (c *Coordinator) route(ctx context.Context, accountID string, ex domain.Exchange) (exchange.Adapter, vault.EncryptedCredential, error) {
	adapter, err := c.opts.Registry.Get(ex)
	if err != nil {
		return nil, vault.EncryptedCredential{}, err
	}
	enc, err := c.credential(ctx, accountID, ex)
	if err != nil {
		return nil, vault.EncryptedCredential{}, err
	}
	if err := c.opts.Breakers.Allow(ex); err != nil {
		return nil, vault.EncryptedCredential{}, err
	}
	return adapter, enc, nil
}

func (c *Coordinator) credential(ctx context.Context, accountID string, ex domain.Exchange) (vault.EncryptedCredential, error) {
	enc, err := c.opts.Credentials.Get(ctx, accountID, ex)
	if errors.Is(err, credstore.ErrNotFound) {
		return enc, domain.RoutingError(domain.CodeNoCredential, fmt.Sprintf("no %s credential stored for account %s", ex, accountID))
	}
	if err != nil {
		return enc, fmt.Errorf("load credential: %w", err)
	}
	return enc, nil
}

// submit decrypts the credential for exactly one adapter call.
func (c *Coordinator) submit(ctx context.Context, adapter exchange.Adapter, enc vault.EncryptedCredential, order domain.Order) (domain.ExchangeOrderResult, error) {
	ex := adapter.Name()
	var res domain.ExchangeOrderResult
	start := time.Now()
	err := c.opts.Vault.WithCredential(enc, func(cred *vault.Credential) error {
		metrics.CredentialUses.Add(1)
		callCtx, cancel := c.adapterCtx(ctx)
		defer cancel()
		var err error
		res, err = adapter.PlaceOrder(callCtx, order, cred)
		if err != nil && domain.KindOf(err) == "" && callCtx.Err() != nil {
			err = domain.TransientNetworkError(ex, domain.CodeTimeout, err, "")
		}
		return err
	})
	c.opts.Metrics.ObserveLatency(ex, "place", time.Since(start))
	// 本地失败（解密、限速等待中止）与交易所健康无关，不计入熔断
	if domain.KindOf(err) != domain.KindCrypto && !exchange.IsNotSent(err) {
		c.opts.Breakers.Record(ex, err)
	}
	return res, err
}

// CancelOrder validates before touching any adapter.
func (c *Coordinator) CancelOrder(ctx context.Context, accountID string, req domain.CancelRequest) (domain.CancelResult, error) {
	if err := domain.ValidateCancel(req); err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	if ex, ok := domain.ParseExchange(string(req.Exchange)); ok {
		req.Exchange = ex
	}
	adapter, err := c.opts.Registry.Get(req.Exchange)
	if err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}
	enc, err := c.credential(ctx, accountID, req.Exchange)
	if err != nil {
		return domain.CancelResult{Status: domain.CancelStatusFailed}, err
	}

	var res domain.CancelResult
	start := time.Now()
	err = c.opts.Vault.WithCredential(enc, func(cred *vault.Credential) error {
		metrics.CredentialUses.Add(1)
		callCtx, cancel := c.adapterCtx(ctx)
		defer cancel()
		var err error
		res, err = adapter.CancelOrder(callCtx, req, cred)
		return err
	})
	c.opts.Metrics.ObserveLatency(req.Exchange, "cancel", time.Since(start))
	if err != nil && res.Status == "" {
		res.Status = domain.CancelStatusFailed
	}
	c.opts.Metrics.ObserveCancel(req.Exchange, res.Status)

	logger.WithFields(logrus.Fields{
		"account":  accountID,
		"exchange": req.Exchange,
		"symbol":   req.Symbol,
		"orderId":  req.OrderID,
		"clientId": req.OrigClientOrderID,
		"status":   res.Status,
	}).Info("cancel finished")
	return res, err
}

// OpenOrders lists open orders. An empty exchange fans out to every exchange
// the account has a credential for.
func (c *Coordinator) OpenOrders(ctx context.Context, accountID string, ex domain.Exchange, symbol string) ([]domain.OrderSnapshot, error) {
	var exchanges []domain.Exchange
	if ex != "" {
		if parsed, ok := domain.ParseExchange(string(ex)); ok {
			ex = parsed
		}
		exchanges = []domain.Exchange{ex}
	} else {
		stored, err := c.opts.Credentials.Exchanges(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		exchanges = stored
	}

	results := make([][]domain.OrderSnapshot, len(exchanges))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range exchanges {
		i, e := i, e
		g.Go(func() error {
			adapter, err := c.opts.Registry.Get(e)
			if err != nil {
				return err
			}
			enc, err := c.credential(gctx, accountID, e)
			if err != nil {
				return err
			}
			start := time.Now()
			err = c.opts.Vault.WithCredential(enc, func(cred *vault.Credential) error {
				callCtx, cancel := c.adapterCtx(gctx)
				defer cancel()
				var err error
				results[i], err = adapter.OpenOrders(callCtx, symbol, cred)
				return err
			})
			c.opts.Metrics.ObserveLatency(e, "open_orders", time.Since(start))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.OrderSnapshot, 0)
	for _, rows := range results {
		out = append(out, rows...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].CreatedAtMs < out[j].CreatedAtMs
	})
	return out, nil
}

// MyTrades lists fills for one symbol on one exchange.
func (c *Coordinator) MyTrades(ctx context.Context, accountID string, ex domain.Exchange, symbol string, filter domain.TradeFilter) ([]domain.TradeRecord, error) {
	var errs domain.ValidationErrors
	if ex == "" {
		errs = append(errs, domain.FieldError{Field: "exchange", Message: "is required"})
	}
	if symbol == "" {
		errs = append(errs, domain.FieldError{Field: "symbol", Message: "is required"})
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		errs = append(errs, domain.FieldError{Field: "endTime", Message: "must not be before startTime"})
	}
	if filter.Limit < 0 || filter.Limit > 1000 {
		errs = append(errs, domain.FieldError{Field: "limit", Message: "must be within [0,1000]"})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if parsed, ok := domain.ParseExchange(string(ex)); ok {
		ex = parsed
	}
	adapter, err := c.opts.Registry.Get(ex)
	if err != nil {
		return nil, err
	}
	enc, err := c.credential(ctx, accountID, ex)
	if err != nil {
		return nil, err
	}
	var out []domain.TradeRecord
	start := time.Now()
	err = c.opts.Vault.WithCredential(enc, func(cred *vault.Credential) error {
		callCtx, cancel := c.adapterCtx(ctx)
		defer cancel()
		var err error
		out, err = adapter.MyTrades(callCtx, strings.ToUpper(symbol), filter, cred)
		return err
	})
	c.opts.Metrics.ObserveLatency(ex, "my_trades", time.Since(start))
	return out, err
}

// Order returns the journaled row and its transitions.
func (c *Coordinator) Order(ctx context.Context, accountID, clientOrderID string) (journal.Record, []journal.Event, error) {
	rec, err := c.opts.Journal.Lookup(ctx, accountID, clientOrderID)
	if err != nil {
		return journal.Record{}, nil, err
	}
	events, err := c.opts.Journal.Events(ctx, accountID, clientOrderID)
	if err != nil {
		return rec, nil, err
	}
	return rec, events, nil
}

func sizingOrNil(m domain.SizingMeta) *domain.SizingMeta {
	if m == (domain.SizingMeta{}) {
		return nil
	}
	return &m
}

func errorOrNil(err error) *domain.Error {
	if e, ok := domain.AsError(err); ok {
		return e
	}
	return nil
}
