// Package rest is the signed-REST transport shared by the exchange adapters.
// It never retries: replaying an order placement can double a position.
package rest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// ErrTransient marks failures where the request may or may not have reached
// the exchange (timeouts, connection resets, 429, 5xx).
var ErrTransient = errors.New("transient transport failure")

type Client struct {
	client *resty.Client
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the underlying client (tests, proxies).
	HTTPClient *http.Client
}

func NewClient(opts Options) *Client {
	host := strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "unitrade/1.0"
	}
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
		rc = resty.New()
	}
	rc.SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent)
	return &Client{client: rc}
}

// Request is one signed call. RawQuery is sent verbatim because several
// exchanges sign the exact query string.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Body     []byte
	Headers  map[string]string
}

// Response keeps the raw body for audit alongside the status code.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.Wrapf(err, "decode response (status %d)", r.StatusCode)
	}
	return nil
}

// Do sends req. Transport failures are wrapped with ErrTransient; any HTTP
// status comes back as a Response and the caller maps it.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	r := c.client.R().SetContext(ctx)
	r.SetHeader("Accept", "application/json")
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if len(req.Body) > 0 {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.Body)
	}
	endpoint := req.Path
	if req.RawQuery != "" {
		endpoint += "?" + req.RawQuery
	}

	method := strings.ToUpper(req.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
	default:
		return nil, errors.Errorf("unsupported method: %s", req.Method)
	}
	resp, err := r.Execute(method, endpoint)
	if err != nil {
		return nil, classify(ctx, err)
	}
	out := &Response{StatusCode: resp.StatusCode(), Header: resp.Header(), Body: resp.Body()}
	if out.StatusCode == http.StatusTooManyRequests || out.StatusCode >= 500 {
		return out, errors.Wrapf(ErrTransient, "http %d: %s", out.StatusCode, truncate(out.Body, 256))
	}
	return out, nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ErrTransient, ctx.Err().Error())
	}
	var nerr net.Error
	var uerr *url.Error
	if errors.As(err, &nerr) || errors.As(err, &uerr) {
		return errors.Wrap(ErrTransient, err.Error())
	}
	return errors.Wrap(err, "http request")
}

// IsTransient reports whether err came from ErrTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsTimeout reports a deadline or timeout failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "Client.Timeout")
}

// EncodeQuery encodes params in the given key order. url.Values sorts keys,
// which breaks exchanges that sign the query as sent.
func EncodeQuery(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pairs[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pairs[i+1]))
	}
	return b.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
