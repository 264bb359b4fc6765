package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitrade/internal/domain"
)

func TestCircuitBreaker_TripsAfterConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 3})
	cb.OnError()
	cb.OnError()
	require.NoError(t, cb.AllowTrading())
	cb.OnSuccess()
	cb.OnError()
	cb.OnError()
	require.NoError(t, cb.AllowTrading(), "success resets the counter")
	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_CooldownAutoResume(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 1, Cooldown: 30 * time.Second})
	cb.now = func() time.Time { return now }

	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	now = now.Add(29 * time.Second)
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	now = now.Add(time.Second)
	assert.NoError(t, cb.AllowTrading())
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_ManualHaltIgnoresCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Cooldown: time.Second})
	cb.now = func() time.Time { return now }
	cb.Halt()
	now = now.Add(time.Hour)
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 100; i++ {
		cb.OnError()
	}
	assert.NoError(t, cb.AllowTrading())

	var nilCB *CircuitBreaker
	assert.NoError(t, nilCB.AllowTrading())
}

func TestBreakers_PerExchange(t *testing.T) {
	b := NewBreakers(CircuitBreakerConfig{MaxConsecutiveErrors: 2, Cooldown: time.Minute})
	transient := domain.TransientNetworkError(domain.ExchangeMEXC, domain.CodeTimeout, nil, "")
	rejected := domain.ExchangeRejected(domain.ExchangeMEXC, "30004", domain.CodeInsufficientFunds, "")

	b.Record(domain.ExchangeMEXC, transient)
	b.Record(domain.ExchangeMEXC, rejected)
	b.Record(domain.ExchangeMEXC, transient)
	require.NoError(t, b.Allow(domain.ExchangeMEXC), "rejection resets the streak")

	b.Record(domain.ExchangeMEXC, nil)
	b.Record(domain.ExchangeMEXC, transient)
	// 非分类错误不计数也不清零
	b.Record(domain.ExchangeMEXC, errors.New("boom"))
	require.NoError(t, b.Allow(domain.ExchangeMEXC))

	b.Record(domain.ExchangeMEXC, transient)
	err := b.Allow(domain.ExchangeMEXC)
	e, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindTransient, e.Kind)
	assert.Equal(t, domain.CodeCircuitOpen, e.Code)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)

	assert.NoError(t, b.Allow(domain.ExchangeBinance))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.ExchangeBinance, snap[0].Exchange)
	assert.False(t, snap[0].Open)
	assert.True(t, snap[1].Open)
	assert.NotNil(t, snap[1].ResumeAt)
}
