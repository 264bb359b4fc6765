package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	symbolRe        = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)
	clientOrderIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,36}$`)
)

// ValidationErrors collects field problems so a caller sees all of them at once.
type ValidationErrors []FieldError

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when empty, otherwise a KindValidation *Error.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return &Error{Kind: KindValidation, Message: "invalid request", Fields: v}
}

// ValidateOrder checks a unified order request before sizing.
// The exchange name is only checked for presence; whether the router can
// reach it is a routing decision.
func ValidateOrder(r UnifiedOrderRequest) error {
	var errs ValidationErrors
	validateSymbol(&errs, r.Symbol)

	switch r.Action {
	case ActionBuy, ActionSell:
	default:
		errs.add("action", "must be BUY or SELL, got %q", r.Action)
	}
	if strings.TrimSpace(string(r.Exchange)) == "" {
		errs.add("exchange", "is required")
	}

	switch r.EffectiveType() {
	case OrderTypeMarket:
		if r.Price < 0 {
			errs.add("price", "must not be negative")
		}
	case OrderTypeLimit:
		if r.Price <= 0 {
			errs.add("price", "is required for LIMIT orders")
		}
	default:
		errs.add("orderType", "must be MARKET or LIMIT, got %q", r.OrderType)
	}

	validateSize(&errs, r)
	validateTargets(&errs, r)

	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		errs.add("confidence", "must be within [0,1]")
	}
	if r.ClientOrderID != "" && !clientOrderIDRe.MatchString(r.ClientOrderID) {
		errs.add("clientOrderId", "must match %s", clientOrderIDRe.String())
	}
	return errs.Err()
}

func validateSymbol(errs *ValidationErrors, symbol string) {
	if symbol == "" {
		errs.add("symbol", "is required")
		return
	}
	if !symbolRe.MatchString(symbol) {
		errs.add("symbol", "must be upper-case BASEQUOTE like BTCUSDT")
	}
}

func validateSize(errs *ValidationErrors, r UnifiedOrderRequest) {
	if r.SizePct == nil && r.SizeUSD == nil {
		errs.add("sizeUsd", "one of sizeUsd or sizePct is required")
		return
	}
	if r.SizeUSD != nil && *r.SizeUSD <= 0 {
		errs.add("sizeUsd", "must be greater than 0")
	}
	if r.SizePct != nil && (*r.SizePct < 0 || *r.SizePct > 1) {
		errs.add("sizePct", "must be within [0,1]")
	}
}

// tpLevels must move away from entry in the profitable direction and the
// stop must sit on the other side of the first target.
func validateTargets(errs *ValidationErrors, r UnifiedOrderRequest) {
	if len(r.TPLevels) == 0 {
		errs.add("tpLevels", "must not be empty")
	}
	for i, tp := range r.TPLevels {
		if tp <= 0 {
			errs.add(fmt.Sprintf("tpLevels[%d]", i), "must be greater than 0")
			continue
		}
		if i == 0 {
			continue
		}
		prev := r.TPLevels[i-1]
		switch r.Action {
		case ActionBuy:
			if tp <= prev {
				errs.add(fmt.Sprintf("tpLevels[%d]", i), "must be strictly ascending for BUY")
			}
		case ActionSell:
			if tp >= prev {
				errs.add(fmt.Sprintf("tpLevels[%d]", i), "must be strictly descending for SELL")
			}
		}
	}
	if r.SL <= 0 {
		errs.add("sl", "must be greater than 0")
		return
	}
	if len(r.TPLevels) > 0 && r.TPLevels[0] > 0 {
		if r.Action == ActionBuy && r.SL >= r.TPLevels[0] {
			errs.add("sl", "must be below the first take-profit for BUY")
		}
		if r.Action == ActionSell && r.SL <= r.TPLevels[0] {
			errs.add("sl", "must be above the first take-profit for SELL")
		}
	}
}

// ValidateCancel requires exactly one of orderId / origClientOrderId.
func ValidateCancel(r CancelRequest) error {
	var errs ValidationErrors
	validateSymbol(&errs, r.Symbol)
	if strings.TrimSpace(string(r.Exchange)) == "" {
		errs.add("exchange", "is required")
	}
	hasID := strings.TrimSpace(r.OrderID) != ""
	hasClient := strings.TrimSpace(r.OrigClientOrderID) != ""
	switch {
	case !hasID && !hasClient:
		errs.add("orderId", "one of orderId or origClientOrderId is required")
	case hasID && hasClient:
		errs.add("orderId", "only one of orderId or origClientOrderId may be set")
	}
	if r.NewClientOrderID != "" && !clientOrderIDRe.MatchString(r.NewClientOrderID) {
		errs.add("newClientOrderId", "must match %s", clientOrderIDRe.String())
	}
	return errs.Err()
}
