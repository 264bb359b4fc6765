// Package exchange defines the per-exchange adapter contract and the
// registry the dispatcher routes through.
package exchange

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/ratelimit"
)

// Adapter translates normalized operations into one exchange's wire
// protocol. The credential passed in is only valid for the duration of the
// call; implementations must not retain it.
type Adapter interface {
	Name() domain.Exchange
	PlaceOrder(ctx context.Context, order domain.Order, cred *vault.Credential) (domain.ExchangeOrderResult, error)
	CancelOrder(ctx context.Context, req domain.CancelRequest, cred *vault.Credential) (domain.CancelResult, error)
	OpenOrders(ctx context.Context, symbol string, cred *vault.Credential) ([]domain.OrderSnapshot, error)
	MyTrades(ctx context.Context, symbol string, filter domain.TradeFilter, cred *vault.Credential) ([]domain.TradeRecord, error)
}

// Config is shared by every adapter constructor.
type Config struct {
	BaseURL    string
	RecvWindow time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    *ratelimit.Manager
	// Now is the clock used for request timestamps; nil means time.Now.
	Now func() time.Time
}

// Clock returns c.Now or time.Now.
func (c Config) Clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// RecvWindowMs returns the window in milliseconds, defaulting to 5000.
func (c Config) RecvWindowMs() int64 {
	if c.RecvWindow <= 0 {
		return 5000
	}
	return c.RecvWindow.Milliseconds()
}

// Registry 按交易所标识查找适配器
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Exchange]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Exchange]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get fails with RoutingError:UnknownExchange when nothing is registered.
func (r *Registry) Get(ex domain.Exchange) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[ex]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.RoutingError(domain.CodeUnknownExchange, "no adapter registered for exchange "+string(ex))
	}
	return a, nil
}

// Exchanges lists registered exchanges in stable order.
func (r *Registry) Exchanges() []domain.Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Exchange, 0, len(r.adapters))
	for ex := range r.adapters {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WaitLimit blocks on the limiter for key. An aborted wait is NotSent:
// the request never left the process.
func WaitLimit(ctx context.Context, l *ratelimit.Manager, ex domain.Exchange, key string) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx, LimiterKey(ex, key)); err != nil {
		return NotSent(ex, err, "local rate limit wait aborted")
	}
	return nil
}

// NotSent is a transient failure that happened before anything was sent.
func NotSent(ex domain.Exchange, cause error, msg string) error {
	return domain.TransientNetworkError(ex, domain.CodeNotSent, cause, msg)
}

// IsNotSent reports whether err is a NotSent failure.
func IsNotSent(err error) bool {
	e, ok := domain.AsError(err)
	return ok && e.Kind == domain.KindTransient && e.Code == domain.CodeNotSent
}

// Undecodable wraps a decode failure on a 2xx response. The exchange may
// have acted on the request, so the outcome is unknown.
func Undecodable(ex domain.Exchange, err error) error {
	return domain.TransientNetworkError(ex, domain.CodeUndecodable, err, "response undecodable, outcome unknown")
}

// LimiterKey builds the ratelimit.Manager key for an exchange endpoint.
func LimiterKey(ex domain.Exchange, endpoint string) string {
	return string(ex) + ":" + endpoint
}
