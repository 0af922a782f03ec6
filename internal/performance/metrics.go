package performance

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/models"
)

const tradingDaysPerYear = 252

// EquityPoint is one sample of an equity curve.
type EquityPoint struct {
	At     time.Time       `json:"ts"`
	Equity decimal.Decimal `json:"equity"`
}

// Metrics are the trade and curve statistics shared by accounts, portfolios
// and assets. WinRate is a fraction in [0,1]; MaxDrawdownPct is a percentage.
type Metrics struct {
	TotalTrades    int             `json:"total_trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        float64         `json:"win_rate"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	GrossProfit    decimal.Decimal `json:"gross_profit"`
	GrossLoss      decimal.Decimal `json:"gross_loss"`
	ProfitFactor   float64         `json:"profit_factor"`
	AvgWin         float64         `json:"avg_win"`
	AvgLoss        float64         `json:"avg_loss"`
	Expectancy     float64         `json:"expectancy"`
	Sharpe         float64         `json:"sharpe"`
	Sortino        float64         `json:"sortino"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	AvgHoldMinutes float64         `json:"avg_hold_minutes"`
}

// Compute derives Metrics from closed positions and an ascending equity curve.
func Compute(closed []models.Position, curve []EquityPoint) Metrics {
	var m Metrics
	var pnls []float64
	var holds []float64
	for _, p := range closed {
		if p.RealizedPnL == nil {
			continue
		}
		pnl := *p.RealizedPnL
		pnls = append(pnls, pnl.InexactFloat64())
		m.TotalPnL = m.TotalPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			m.Wins++
			m.GrossProfit = m.GrossProfit.Add(pnl)
		case pnl.IsNegative():
			m.Losses++
			m.GrossLoss = m.GrossLoss.Add(pnl)
		}
		if p.ExitTime != nil {
			holds = append(holds, p.HoldMinutes())
		}
	}
	m.TotalTrades = len(pnls)
	m.WinRate = WinRate(pnls)
	m.ProfitFactor = ProfitFactor(pnls)
	m.AvgWin, m.AvgLoss = averages(pnls)
	m.Expectancy = Expectancy(pnls)
	m.AvgHoldMinutes = mean(holds)

	returns := DailyReturns(curve)
	m.Sharpe = Sharpe(returns)
	m.Sortino = Sortino(returns)
	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Equity.InexactFloat64()
	}
	m.MaxDrawdownPct = MaxDrawdown(values)
	return m
}

// WinRate is wins over total trades; zero without trades.
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// ProfitFactor is gross profit over absolute gross loss; zero without losses.
func ProfitFactor(pnls []float64) float64 {
	var profit, loss float64
	for _, p := range pnls {
		if p > 0 {
			profit += p
		} else if p < 0 {
			loss += -p
		}
	}
	if loss == 0 {
		return 0
	}
	return profit / loss
}

// Expectancy is win_rate*avg_win + (1-win_rate)*avg_loss, avg_loss <= 0.
func Expectancy(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wr := WinRate(pnls)
	avgWin, avgLoss := averages(pnls)
	return wr*avgWin + (1-wr)*avgLoss
}

func averages(pnls []float64) (avgWin, avgLoss float64) {
	var wins, losses []float64
	for _, p := range pnls {
		if p > 0 {
			wins = append(wins, p)
		} else if p < 0 {
			losses = append(losses, p)
		}
	}
	return mean(wins), mean(losses)
}

// DailyReturns keeps the last equity of each UTC day and returns the
// day-over-day percentage changes.
func DailyReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	sorted := append([]EquityPoint(nil), curve...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	var closes []float64
	var lastDay string
	for _, p := range sorted {
		day := p.At.UTC().Format("2006-01-02")
		v := p.Equity.InexactFloat64()
		if day == lastDay {
			closes[len(closes)-1] = v
			continue
		}
		closes = append(closes, v)
		lastDay = day
	}
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// Sharpe is the annualised mean over sample standard deviation of returns.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stdev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(tradingDaysPerYear)
}

// Sortino is Sharpe with the deviation taken over min(r, 0).
func Sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	downside := make([]float64, len(returns))
	for i, r := range returns {
		downside[i] = math.Min(r, 0)
	}
	sd := stdev(downside)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown is the largest peak-to-trough decline in percent.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
