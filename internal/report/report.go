// Package report renders account summaries for the terminal.
package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"papertrade/internal/performance"
)

// WriteAccounts prints one row per account followed by a totals row.
func WriteAccounts(w io.Writer, ov *performance.Overview) error {
	if ov == nil {
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Account", "Exchange", "Strategy", "Equity", "Return", "Trades", "Win rate", "PF", "Sharpe", "Max DD", "Open")
	for _, s := range ov.Accounts {
		m := s.Metrics
		if err := table.Append(
			s.Account.Name,
			s.Account.Exchange,
			s.Account.Strategy,
			s.Equity.StringFixed(2),
			fmt.Sprintf("%+.2f%%", s.ReturnPct),
			fmt.Sprintf("%d", m.TotalTrades),
			fmt.Sprintf("%.1f%%", m.WinRate*100),
			fmt.Sprintf("%.2f", m.ProfitFactor),
			fmt.Sprintf("%.2f", m.Sharpe),
			fmt.Sprintf("%.2f%%", m.MaxDrawdownPct),
			fmt.Sprintf("%d", s.OpenPositions),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "total equity %s (initial %s, realized %s, unrealized %s) over %d trades, %d open, as of %s\n",
		ov.Equity.StringFixed(2),
		ov.InitialCapital.StringFixed(2),
		ov.RealizedPnL.StringFixed(2),
		ov.UnrealizedPnL.StringFixed(2),
		ov.TotalTrades,
		ov.OpenPositions,
		ov.AsOf.Format("2006-01-02 15:04:05Z07:00"),
	)
	return err
}
