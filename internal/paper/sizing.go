package paper

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidSize means no position can be sized from the inputs. The signal
// is treated as a pass.
var ErrInvalidSize = errors.New("paper: invalid position size")

// calibrationMidpoint is the confidence at which the full risk budget applies.
const calibrationMidpoint = 0.5

const quantityPlaces = 8

type SizingInput struct {
	Equity       decimal.Decimal
	EntryPrice   decimal.Decimal
	RiskPct      float64
	StopLossPct  float64
	Confidence   float64
	SafetyFactor float64
}

// EffectiveFraction is the share of equity put at risk. It equals riskPct at
// or above the calibration midpoint and scales down linearly below it,
// damped by the safety factor.
func EffectiveFraction(riskPct, confidence, safetyFactor float64) float64 {
	if riskPct <= 0 || confidence <= 0 {
		return 0
	}
	if confidence >= calibrationMidpoint {
		return riskPct
	}
	if safetyFactor <= 0 || safetyFactor > 1 {
		safetyFactor = 0.5
	}
	return riskPct * (confidence / calibrationMidpoint) * safetyFactor
}

// SizeQuantity returns the quantity whose stop-loss hit loses
// equity × EffectiveFraction, rounded to 8 decimal places.
func SizeQuantity(in SizingInput) (decimal.Decimal, error) {
	if !in.Equity.IsPositive() || !in.EntryPrice.IsPositive() || in.StopLossPct <= 0 {
		return decimal.Zero, ErrInvalidSize
	}
	fraction := EffectiveFraction(in.RiskPct, in.Confidence, in.SafetyFactor)
	riskAmount := in.Equity.Mul(decimal.NewFromFloat(fraction))
	perUnit := in.EntryPrice.Mul(decimal.NewFromFloat(in.StopLossPct))
	qty := riskAmount.DivRound(perUnit, quantityPlaces+4).Round(quantityPlaces)
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidSize
	}
	return qty, nil
}
