package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/unitrade/internal/domain"
)

func scrape(t *testing.T, h http.Handler, path string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.ObserveOrder(domain.ExchangeMEXC, domain.StateAcknowledged)
	m.ObserveOrder(domain.ExchangeMEXC, domain.StateAcknowledged)
	m.ObserveCancel(domain.ExchangeBinance, domain.CancelStatusNotFound)
	m.ObserveLatency(domain.ExchangeGateIO, "place", 120*time.Millisecond)

	body := scrape(t, m.Handler(), "/metrics")
	assert.Contains(t, body, `unitrade_orders_total{exchange="MEXC",state="ACKNOWLEDGED"} 2`)
	assert.Contains(t, body, `unitrade_cancels_total{exchange="BINANCE",status="NOT_FOUND"} 1`)
	assert.Contains(t, body, `unitrade_adapter_latency_seconds_count{exchange="GATEIO",op="place"} 1`)

	// 独立 registry：再 New 一次不会 panic
	assert.NotPanics(t, func() { New() })
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOrder(domain.ExchangeMEXC, domain.StateFailed)
		m.ObserveCancel(domain.ExchangeMEXC, domain.CancelStatusFailed)
		m.ObserveLatency(domain.ExchangeMEXC, "place", time.Second)
	})
	assert.Nil(t, m.handler())
}

func TestDebugMux(t *testing.T) {
	m := New()
	mux := newMux(m.handler())
	assert.Contains(t, scrape(t, mux, "/debug/vars"), "orders_replayed")
	assert.Contains(t, scrape(t, mux, "/metrics"), "go_goroutines")
}

func TestStartAsync_ShutsDownWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := StartAsync(ctx, "127.0.0.1:0", nil)
	require.NoError(t, err)
	require.NotNil(t, srv)
	cancel()
}
