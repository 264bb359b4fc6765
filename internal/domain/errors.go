package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers. Only TransientNetworkError is safe
// to retry, and only with the same client order id after reconciling.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindSizing           Kind = "SizingError"
	KindCrypto           Kind = "CryptoError"
	KindRouting          Kind = "RoutingError"
	KindExchangeRejected Kind = "ExchangeRejected"
	KindTransient        Kind = "TransientNetworkError"
)

// Well-known codes.
const (
	CodeBelowMinimum       = "BelowMinimum"
	CodeInvalidMultiplier  = "InvalidMultiplier"
	CodeCapitalUnavailable = "CapitalUnavailable"
	CodeUnknownExchange    = "UnknownExchange"
	CodeNoCredential       = "NoCredential"
	CodeCircuitOpen        = "CircuitOpen"
	CodeTimeout            = "Timeout"
	CodeClockSkew          = "ClockSkew"
	CodeRateLimited        = "RateLimited"
	CodeInsufficientFunds  = "InsufficientBalance"
	CodeInvalidSymbol      = "InvalidSymbol"
	CodeOrderNotFound      = "OrderNotFound"

	// CodeNotSent 请求没有离开本进程（本地限速等待被取消、参考价获取失败）
	CodeNotSent = "NotSent"
	// CodeUndecodable 交易所返回 2xx 但响应体无法解析，结果未知
	CodeUndecodable = "UndecodableResponse"
)

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the shared error taxonomy value. Adapters fill Exchange and
// ExchangeCode so the venue's own code is never lost.
type Error struct {
	Kind         Kind         `json:"kind"`
	Code         string       `json:"code,omitempty"`
	Message      string       `json:"message"`
	Exchange     Exchange     `json:"exchange,omitempty"`
	ExchangeCode string       `json:"exchangeCode,omitempty"`
	Fields       []FieldError `json:"fields,omitempty"`

	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(":")
		b.WriteString(e.Code)
	}
	if e.Exchange != "" {
		fmt.Fprintf(&b, " [%s", e.Exchange)
		if e.ExchangeCode != "" {
			fmt.Fprintf(&b, " %s", e.ExchangeCode)
		}
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+" "+f.Message)
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable is true only for transient network failures.
func (e *Error) Retryable() bool { return e != nil && e.Kind == KindTransient }

// NewError builds a taxonomy error.
func NewError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// WrapError builds a taxonomy error that keeps cause reachable via errors.Unwrap.
func WrapError(kind Kind, code string, cause error, msg string) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, cause: cause}
}

func SizingError(code, msg string) *Error  { return NewError(KindSizing, code, msg) }
func RoutingError(code, msg string) *Error { return NewError(KindRouting, code, msg) }
func CryptoError(cause error, msg string) *Error {
	return WrapError(KindCrypto, "", cause, msg)
}

// ExchangeRejected 交易所业务拒绝（原样透传交易所的错误码和消息）
func ExchangeRejected(ex Exchange, exchangeCode, code, msg string) *Error {
	return &Error{Kind: KindExchangeRejected, Code: code, Message: msg, Exchange: ex, ExchangeCode: exchangeCode}
}

// TransientNetworkError wraps a timeout/connection failure or a venue side
// condition (rate limit, clock skew, 5xx) where the order may not have landed.
func TransientNetworkError(ex Exchange, code string, cause error, msg string) *Error {
	e := WrapError(KindTransient, code, cause, msg)
	e.Exchange = ex
	return e
}

// AsError extracts the taxonomy error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
