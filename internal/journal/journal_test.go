package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitrade/internal/domain"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecord_LifecycleAndLookup(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	usd := 500.0
	req := &domain.UnifiedOrderRequest{Symbol: "BTCUSDT", Action: domain.ActionBuy, SizeUSD: &usd, Exchange: domain.ExchangeMEXC, ClientOrderID: "cid-1"}
	base := Record{AccountID: "acct", ClientOrderID: "cid-1", Exchange: domain.ExchangeMEXC, Symbol: "BTCUSDT", Action: domain.ActionBuy}

	rec := base
	rec.State = domain.StateReceived
	rec.Request = req
	require.NoError(t, j.Record(ctx, rec, ""))

	rec = base
	rec.State = domain.StateSized
	rec.Sizing = &domain.SizingMeta{BaseSize: 500, MacroConfMultiplier: 1, RiskLiqMultiplier: 1, MacroAdjustedSize: 500, FinalSize: 500, PolicyVersion: "v1"}
	require.NoError(t, j.Record(ctx, rec, "finalSize=500"))

	rec = base
	rec.State = domain.StateAcknowledged
	rec.Result = &domain.ExchangeOrderResult{ExchangeOrderID: "123", ClientOrderID: "cid-1", Status: domain.OrderStatusAccepted}
	require.NoError(t, j.Record(ctx, rec, ""))

	got, err := j.Lookup(ctx, "acct", "cid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAcknowledged, got.State)
	require.NotNil(t, got.Request, "earlier columns survive later updates")
	assert.Equal(t, 500.0, *got.Request.SizeUSD)
	require.NotNil(t, got.Sizing)
	assert.Equal(t, "v1", got.Sizing.PolicyVersion)
	require.NotNil(t, got.Result)
	assert.Equal(t, "123", got.Result.ExchangeOrderID)
	assert.Nil(t, got.Error)
	assert.False(t, got.CreatedAt.IsZero())

	events, err := j.Events(ctx, "acct", "cid-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.StateReceived, events[0].State)
	assert.Equal(t, "finalSize=500", events[1].Detail)
	assert.Equal(t, domain.StateAcknowledged, events[2].State)
}

func TestRecord_ErrorRoundTrip(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	e := domain.ExchangeRejected(domain.ExchangeMEXC, "30004", domain.CodeInsufficientFunds, "Insufficient position")
	require.NoError(t, j.Record(ctx, Record{
		AccountID: "acct", ClientOrderID: "cid-2", Exchange: domain.ExchangeMEXC, Symbol: "ETHUSDT",
		Action: domain.ActionSell, State: domain.StateRejected, Error: e,
	}, e.Error()))

	got, err := j.Lookup(ctx, "acct", "cid-2")
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.KindExchangeRejected, got.Error.Kind)
	assert.Equal(t, "30004", got.Error.ExchangeCode)
}

func TestLookup_ScopedByAccount(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, Record{AccountID: "a", ClientOrderID: "same", Exchange: domain.ExchangeBinance, Symbol: "BTCUSDT", Action: domain.ActionBuy, State: domain.StateReceived}, ""))

	_, err := j.Lookup(ctx, "b", "same")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, j.Record(ctx, Record{ClientOrderID: "x"}, ""))
}

func TestAvailableCapital(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.now = func() time.Time { return now }

	_, ok, err := j.AvailableCapital(ctx, "acct", domain.ExchangeMEXC)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.InsertBalance(ctx, "acct", domain.ExchangeMEXC, 1000, ""))
	require.NoError(t, j.InsertBalance(ctx, "acct", domain.ExchangeMEXC, 750, "sync"))
	now = now.Add(time.Minute)
	require.NoError(t, j.InsertBalance(ctx, "acct", domain.ExchangeBinance, 10, "sync"))

	v, ok, err := j.AvailableCapital(ctx, "acct", domain.ExchangeMEXC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 750.0, v)

	assert.Error(t, j.InsertBalance(ctx, "acct", domain.ExchangeMEXC, -1, ""))
}

func TestOpen_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Ping(context.Background()))
	require.NoError(t, j.Close())

	// 重复打开时建表语句是幂等的
	j, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Open("")
	assert.Error(t, err)
}
