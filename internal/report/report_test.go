package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/models"
	"papertrade/internal/performance"
)

func TestWriteAccounts(t *testing.T) {
	ov := &performance.Overview{
		Accounts: []performance.AccountSummary{{
			Account:   models.Account{Name: "funding_rate_hyperliquid", Exchange: "hyperliquid", Strategy: "funding_rate"},
			Equity:    decimal.RequireFromString("10150.5"),
			ReturnPct: 1.5,
			Metrics:   performance.Metrics{TotalTrades: 4, WinRate: 0.75, ProfitFactor: 3, Sharpe: 1.234, MaxDrawdownPct: 2.5},
		}},
		InitialCapital: decimal.NewFromInt(10000),
		Equity:         decimal.RequireFromString("10150.5"),
		RealizedPnL:    decimal.RequireFromString("150.5"),
		TotalTrades:    4,
		AsOf:           time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, ov))
	out := buf.String()
	for _, want := range []string{"funding_rate_hyperliquid", "10150.50", "+1.50%", "75.0%", "3.00", "1.23", "2.50%"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "total equity 10150.50")
}

func TestWriteAccountsNil(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, nil))
	assert.Empty(t, buf.String())
}
