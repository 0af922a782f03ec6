package paper

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
	"papertrade/internal/models"
)

var one = decimal.NewFromInt(1)

// Costs are the simulated execution costs on one exchange.
type Costs struct {
	SlippagePct decimal.Decimal
	FeePct      decimal.Decimal
}

func CostsFor(cfg config.PricingConfig, exchange string) Costs {
	ex := strings.ToLower(exchange)
	return Costs{
		SlippagePct: decimal.NewFromFloat(cfg.SlippagePct[ex]),
		FeePct:      decimal.NewFromFloat(cfg.FeePct[ex]),
	}
}

// EntryFill applies slippage against the trader: LONG pays more, SHORT receives less.
func EntryFill(price decimal.Decimal, direction string, slippage decimal.Decimal) decimal.Decimal {
	if direction == models.DirectionShort {
		return price.Mul(one.Sub(slippage))
	}
	return price.Mul(one.Add(slippage))
}

// ExitFill is the mirror of EntryFill.
func ExitFill(price decimal.Decimal, direction string, slippage decimal.Decimal) decimal.Decimal {
	if direction == models.DirectionShort {
		return price.Mul(one.Add(slippage))
	}
	return price.Mul(one.Sub(slippage))
}

func StopPrice(entry decimal.Decimal, direction string, pct float64) decimal.Decimal {
	p := decimal.NewFromFloat(pct)
	if direction == models.DirectionShort {
		return entry.Mul(one.Add(p))
	}
	return entry.Mul(one.Sub(p))
}

func TakeProfitPrice(entry decimal.Decimal, direction string, pct float64) decimal.Decimal {
	p := decimal.NewFromFloat(pct)
	if direction == models.DirectionShort {
		return entry.Mul(one.Sub(p))
	}
	return entry.Mul(one.Add(p))
}

// UnrealizedPnL marks a position at price without costs.
func UnrealizedPnL(pos models.Position, price decimal.Decimal) decimal.Decimal {
	return pos.Sign().Mul(pos.Quantity).Mul(price.Sub(pos.EntryPrice))
}

// RealizedPnL is the gross move minus fees on both legs' notional.
func RealizedPnL(pos models.Position, exit decimal.Decimal, feePct decimal.Decimal) (pnl, fees decimal.Decimal) {
	gross := UnrealizedPnL(pos, exit)
	fees = feePct.Mul(pos.EntryPrice.Mul(pos.Quantity).Add(exit.Mul(pos.Quantity)))
	return gross.Sub(fees), fees
}

// ExitRules are the per-account exit thresholds.
type ExitRules struct {
	StopLossPct   float64
	TakeProfitPct float64
	MaxHold       time.Duration
}

// ExitReason decides whether pos exits at price. Priority is stop loss,
// then take profit, then timeout.
func (r ExitRules) ExitReason(pos models.Position, price decimal.Decimal, now time.Time) (string, bool) {
	stop := StopPrice(pos.EntryPrice, pos.Direction, r.StopLossPct)
	tp := TakeProfitPrice(pos.EntryPrice, pos.Direction, r.TakeProfitPct)
	short := pos.Direction == models.DirectionShort
	switch {
	case r.StopLossPct > 0 && !short && price.LessThanOrEqual(stop):
		return models.ExitStopLoss, true
	case r.StopLossPct > 0 && short && price.GreaterThanOrEqual(stop):
		return models.ExitStopLoss, true
	case r.TakeProfitPct > 0 && !short && price.GreaterThanOrEqual(tp):
		return models.ExitTakeProfit, true
	case r.TakeProfitPct > 0 && short && price.LessThanOrEqual(tp):
		return models.ExitTakeProfit, true
	case r.MaxHold > 0 && now.Sub(pos.EntryTime) >= r.MaxHold:
		return models.ExitTimeout, true
	}
	return "", false
}
