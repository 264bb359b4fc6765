package risk

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/unitrade/internal/domain"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续下单。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制；Cooldown <= 0 表示只能手动 Resume。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续瞬时错误上限（超时、限频、5xx）。
	MaxConsecutiveErrors int64

	// Cooldown 熔断后自动恢复前的冷却时间。
	Cooldown time.Duration
}

// CircuitBreaker 快路径全部走原子变量。
type CircuitBreaker struct {
	halted      atomic.Bool
	resumeAtNs  atomic.Int64 // 0 表示手动熔断，不自动恢复
	consecutive atomic.Int64

	maxConsecutiveErrors atomic.Int64
	cooldownNs           atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.cooldownNs.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断（人工介入），不会自动恢复。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.resumeAtNs.Store(0)
	cb.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.resumeAtNs.Store(0)
	cb.consecutive.Store(0)
}

// AllowTrading 快路径检查是否允许下单。冷却期过后自动恢复。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if !cb.halted.Load() {
		return nil
	}
	at := cb.resumeAtNs.Load()
	if at > 0 && cb.now().UnixNano() >= at {
		// 只有一个调用方负责恢复
		if cb.resumeAtNs.CompareAndSwap(at, 0) {
			cb.consecutive.Store(0)
			cb.halted.Store(false)
		}
		return nil
	}
	return ErrCircuitBreakerOpen
}

// OnSuccess 交易所可达（包括业务拒单）时调用，清空连续错误计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutive.Store(0)
}

// OnError 记录一次瞬时错误；达到阈值时熔断。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	n := cb.consecutive.Add(1)
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr <= 0 || n < maxErr {
		return
	}
	if cb.halted.CompareAndSwap(false, true) {
		if cd := cb.cooldownNs.Load(); cd > 0 {
			cb.resumeAtNs.Store(cb.now().UnixNano() + cd)
		}
	}
}

// State is a point-in-time view used by health checks.
type State struct {
	Exchange          domain.Exchange `json:"exchange"`
	Open              bool            `json:"open"`
	ConsecutiveErrors int64           `json:"consecutiveErrors"`
	ResumeAt          *time.Time      `json:"resumeAt,omitempty"`
}

func (cb *CircuitBreaker) state(ex domain.Exchange) State {
	st := State{Exchange: ex, Open: cb.halted.Load(), ConsecutiveErrors: cb.consecutive.Load()}
	if at := cb.resumeAtNs.Load(); st.Open && at > 0 {
		t := time.Unix(0, at).UTC()
		st.ResumeAt = &t
	}
	return st
}

// Breakers 每个交易所一个断路器，懒创建。
type Breakers struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig
	m   map[domain.Exchange]*CircuitBreaker
	now func() time.Time
}

func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[domain.Exchange]*CircuitBreaker), now: time.Now}
}

// For returns the breaker for ex, creating it on first use.
func (b *Breakers) For(ex domain.Exchange) *CircuitBreaker {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.m[ex]
	if !ok {
		cb = NewCircuitBreaker(b.cfg)
		cb.now = b.now
		b.m[ex] = cb
	}
	return cb
}

// Allow fails fast with a TransientNetworkError while ex is halted.
func (b *Breakers) Allow(ex domain.Exchange) error {
	if err := b.For(ex).AllowTrading(); err != nil {
		return domain.TransientNetworkError(ex, domain.CodeCircuitOpen, err, "exchange temporarily halted after repeated failures")
	}
	return nil
}

// Record feeds an adapter outcome into the breaker. Only transient errors
// count; a rejection proves the venue is reachable.
func (b *Breakers) Record(ex domain.Exchange, err error) {
	cb := b.For(ex)
	if err == nil {
		cb.OnSuccess()
		return
	}
	switch domain.KindOf(err) {
	case domain.KindTransient:
		cb.OnError()
	case domain.KindExchangeRejected:
		cb.OnSuccess()
	}
}

// Snapshot lists the state of every breaker created so far.
func (b *Breakers) Snapshot() []State {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	out := make([]State, 0, len(b.m))
	for ex, cb := range b.m {
		out = append(out, cb.state(ex))
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}
