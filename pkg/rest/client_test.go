package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SendsRawQueryAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "symbol=BTCUSDT&side=BUY&signature=abc", r.URL.RawQuery)
		assert.Equal(t, "k", r.Header.Get("X-Key"))
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(b))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/"})
	resp, err := c.Do(context.Background(), Request{
		Method:   "post",
		Path:     "/api/v3/order",
		RawQuery: "symbol=BTCUSDT&side=BUY&signature=abc",
		Body:     []byte(`{"a":1}`),
		Headers:  map[string]string{"X-Key": "k"},
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	var out struct{ OK bool }
	require.NoError(t, resp.Decode(&out))
	assert.True(t, out.OK)
}

func TestDo_NoRetryAndTransientClassification(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1}`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/busy"})
	assert.True(t, IsTransient(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	_, err = c.Do(ctx, Request{Method: http.MethodGet, Path: "/limited"})
	assert.True(t, IsTransient(err))

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/bad"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = c.Do(ctx, Request{Method: http.MethodGet, Path: "/slow"})
	assert.True(t, IsTransient(err))
	assert.True(t, IsTimeout(err))

	_, err = c.Do(ctx, Request{Method: "PATCH", Path: "/x"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestEncodeQuery(t *testing.T) {
	got := EncodeQuery("symbol", "BTCUSDT", "side", "BUY", "price", "", "newClientOrderId", "a b")
	assert.Equal(t, "symbol=BTCUSDT&side=BUY&newClientOrderId=a+b", got)
}
