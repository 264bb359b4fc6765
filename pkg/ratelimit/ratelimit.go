package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   int           // 桶容量
	tokens     float64       // 当前令牌数（允许小数，避免亚秒级补充丢失）
	refillRate int           // 每秒补充的令牌数
	windowSize time.Duration // refillRate 为 0 时的等待间隔
	lastRefill time.Time     // 上次补充时间
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity, refillRate int, windowSize time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		windowSize: windowSize,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill 补充令牌
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * float64(tb.refillRate)
	if tb.tokens > float64(tb.capacity) {
		tb.tokens = float64(tb.capacity)
	}
	tb.lastRefill = now
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		// 计算需要等待的时间
		tb.mu.Lock()
		tb.refill()
		waitTime := tb.windowSize
		if tb.refillRate > 0 {
			missing := 1 - tb.tokens
			waitTime = time.Duration(missing / float64(tb.refillRate) * float64(time.Second))
			if waitTime < time.Millisecond {
				waitTime = time.Millisecond
			}
		}
		tb.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 请求时间戳
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
	}
}

// prune 移除窗口外的请求（调用方持锁）
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		waitTime := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > 0 {
				waitTime = d
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Manager 按 "exchange:endpoint" 管理限速器。
// 找不到 endpoint 级限速器时退回 "exchange:general"。
type Manager struct {
	limiters map[string]RateLimiter
	mu       sync.RWMutex
}

// NewManager 创建限速管理器并加载各交易所的默认限额
func NewManager() *Manager {
	m := &Manager{limiters: make(map[string]RateLimiter)}
	m.initDefaultLimiters()
	return m
}

// initDefaultLimiters 交易所公开文档里的下单/查询限额（取保守值）
func (m *Manager) initDefaultLimiters() {
	// Binance: 下单 50/10s，REQUEST_WEIGHT 6000/min
	m.limiters["binance:order"] = NewTokenBucket(50, 5, 10*time.Second)
	m.limiters["binance:general"] = NewSlidingWindow(1200, time.Minute)
	// Bitget: 下单 10/s/UID
	m.limiters["bitget:order"] = NewTokenBucket(10, 10, time.Second)
	m.limiters["bitget:general"] = NewSlidingWindow(20, time.Second)
	// Gate.io: 现货下单 10/s
	m.limiters["gateio:order"] = NewTokenBucket(10, 10, time.Second)
	m.limiters["gateio:general"] = NewSlidingWindow(200, 10*time.Second)
	// MEXC: 下单 5/s
	m.limiters["mexc:order"] = NewTokenBucket(5, 5, time.Second)
	m.limiters["mexc:general"] = NewSlidingWindow(20, time.Second)
	// Blofin: 交易接口 30/10s
	m.limiters["blofin:order"] = NewTokenBucket(30, 3, 10*time.Second)
	m.limiters["blofin:general"] = NewSlidingWindow(500, time.Minute)
}

// Set 覆盖某个 key 的限速器（配置里的 rate limit 覆盖默认值）
func (m *Manager) Set(key string, l RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[strings.ToLower(key)] = l
}

// GetLimiter 获取指定端点的速率限制器
func (m *Manager) GetLimiter(key string) RateLimiter {
	key = strings.ToLower(key)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l, ok := m.limiters[key]; ok {
		return l
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		if l, ok := m.limiters[key[:i]+":general"]; ok {
			return l
		}
	}
	return unlimited{}
}

// Wait 等待直到允许请求
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// unlimited 未配置的 key 不限速
type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (unlimited) Allow() bool                    { return true }
