// Package sizing turns a risk-adjusted order intent into an absolute quote
// size.
//
//	base  = sizeUsd            (when present)
//	      = sizePct * capital  (otherwise)
//	macro = base  * macroConfMultiplier
//	final = macro * riskLiqMultiplier, clamped to [minOrder, capital]
//
// All arithmetic uses decimal and is rounded to Scale places.
package sizing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/pkg/logger"
)

// Scale is the number of decimal places kept in every SizingMeta amount.
const Scale = 8

// DisagreeTolerancePct is the relative gap, in percent, between
// sizePct*capital and sizeUsd above which Size logs a warning.
const DisagreeTolerancePct = 1

// disagreeTolerance returns DisagreeTolerancePct as a fraction.
func disagreeTolerance() decimal.Decimal {
	return decimal.New(DisagreeTolerancePct, -2)
}

// Policy is one versioned multiplier table.
type Policy struct {
	Version string
	// MacroMultipliers maps a macro sentiment label (case-insensitive) to
	// its confidence multiplier.
	MacroMultipliers map[string]float64
	// DefaultRiskLiqMultiplier applies when the request carries none.
	// Zero means 1.0.
	DefaultRiskLiqMultiplier float64
}

// Input is everything one sizing pass needs.
type Input struct {
	Request domain.UnifiedOrderRequest
	// AvailableCapital is ignored unless CapitalKnown.
	AvailableCapital float64
	CapitalKnown     bool
	// MinOrderSize is the exchange minimum in quote units; zero disables it.
	MinOrderSize float64
}

type Engine struct {
	policy Policy
	macro  map[string]decimal.Decimal
}

func NewEngine(p Policy) *Engine {
	e := &Engine{policy: p, macro: make(map[string]decimal.Decimal, len(p.MacroMultipliers))}
	for k, v := range p.MacroMultipliers {
		e.macro[strings.ToLower(strings.TrimSpace(k))] = decimal.NewFromFloat(v)
	}
	return e
}

// Policy returns the table the engine was built with.
func (e *Engine) Policy() Policy { return e.policy }

// Size runs one pass. It is pure apart from the disagreement warning.
func (e *Engine) Size(in Input) (domain.SizingMeta, error) {
	req := in.Request
	meta := domain.SizingMeta{PolicyVersion: e.policy.Version}
	if req.PolicyVersion != "" {
		meta.PolicyVersion = req.PolicyVersion
	}

	capital := decimal.NewFromFloat(in.AvailableCapital)
	if in.CapitalKnown && capital.IsNegative() {
		return meta, domain.SizingError(domain.CodeCapitalUnavailable, "available capital is negative")
	}

	// 1. base size
	var base decimal.Decimal
	switch {
	case req.SizeUSD != nil:
		base = decimal.NewFromFloat(*req.SizeUSD)
		if req.SizePct != nil && in.CapitalKnown {
			warnOnDisagreement(req, capital, base)
		}
	case req.SizePct != nil:
		if !in.CapitalKnown {
			return meta, domain.SizingError(domain.CodeCapitalUnavailable, "sizePct requires known available capital")
		}
		base = decimal.NewFromFloat(*req.SizePct).Mul(capital)
	default:
		return meta, domain.NewError(domain.KindValidation, "", "one of sizeUsd or sizePct is required")
	}
	base = base.Round(Scale)

	// 2/3. multipliers
	macroMul, sentiment, err := e.resolveMacro(req)
	if err != nil {
		return meta, err
	}
	riskMul, err := e.resolveRiskLiq(req)
	if err != nil {
		return meta, err
	}
	macroAdj := base.Mul(macroMul).Round(Scale)
	final := macroAdj.Mul(riskMul).Round(Scale)

	meta.MacroSentiment = sentiment
	meta.MacroConfMultiplier = macroMul.InexactFloat64()
	meta.RiskLiqMultiplier = riskMul.InexactFloat64()
	meta.BaseSize = base.InexactFloat64()
	meta.MacroAdjustedSize = macroAdj.InexactFloat64()

	// 4. clamp
	if in.CapitalKnown && final.GreaterThan(capital) {
		final = capital.Round(Scale)
		meta.Clamped = true
	}
	minSize := decimal.NewFromFloat(in.MinOrderSize)
	if final.LessThan(minSize) || !final.IsPositive() {
		meta.FinalSize = final.InexactFloat64()
		return meta, domain.SizingError(domain.CodeBelowMinimum,
			"final size "+final.String()+" is below exchange minimum "+minSize.String())
	}
	meta.FinalSize = final.InexactFloat64()
	return meta, nil
}

func (e *Engine) resolveMacro(req domain.UnifiedOrderRequest) (decimal.Decimal, string, error) {
	sentiment := req.MacroSentiment
	if req.Sizing != nil && req.Sizing.MacroSentiment != "" {
		sentiment = req.Sizing.MacroSentiment
	}
	if req.Sizing != nil && req.Sizing.MacroConfMultiplier != nil {
		m, err := positive("macroConfMultiplier", *req.Sizing.MacroConfMultiplier)
		return m, sentiment, err
	}
	if sentiment != "" {
		if m, ok := e.macro[strings.ToLower(strings.TrimSpace(sentiment))]; ok {
			if !m.IsPositive() {
				return m, sentiment, domain.SizingError(domain.CodeInvalidMultiplier,
					"policy multiplier for "+sentiment+" must be > 0")
			}
			return m, sentiment, nil
		}
	}
	return decimal.NewFromInt(1), sentiment, nil
}

func (e *Engine) resolveRiskLiq(req domain.UnifiedOrderRequest) (decimal.Decimal, error) {
	if req.Sizing != nil && req.Sizing.RiskLiqMultiplier != nil {
		return positive("riskLiqMultiplier", *req.Sizing.RiskLiqMultiplier)
	}
	if e.policy.DefaultRiskLiqMultiplier != 0 {
		return positive("defaultRiskLiqMultiplier", e.policy.DefaultRiskLiqMultiplier)
	}
	return decimal.NewFromInt(1), nil
}

func positive(name string, v float64) (decimal.Decimal, error) {
	d := decimal.NewFromFloat(v)
	if !d.IsPositive() {
		return d, domain.SizingError(domain.CodeInvalidMultiplier, name+" must be > 0, got "+d.String())
	}
	return d, nil
}

func warnOnDisagreement(req domain.UnifiedOrderRequest, capital, sizeUSD decimal.Decimal) {
	implied := decimal.NewFromFloat(*req.SizePct).Mul(capital)
	if disagrees(implied, sizeUSD) {
		logger.WithFields(map[string]interface{}{
			"symbol":   req.Symbol,
			"exchange": req.Exchange,
			"sizePct":  *req.SizePct,
			"sizeUsd":  sizeUSD.String(),
			"implied":  implied.Round(Scale).String(),
		}).Warn("sizePct disagrees with sizeUsd, using sizeUsd")
	}
}

// disagrees reports a relative gap above the tolerance. A zero sizeUsd
// never disagrees.
func disagrees(implied, sizeUSD decimal.Decimal) bool {
	if sizeUSD.IsZero() {
		return false
	}
	return implied.Sub(sizeUSD).Abs().Div(sizeUSD).GreaterThan(disagreeTolerance())
}
