package performance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/cache"
	"papertrade/internal/models"
	"papertrade/internal/repository"
)

const DefaultTTL = 60 * time.Second

// AccountSummary is the performance view of one account.
type AccountSummary struct {
	Account        models.Account  `json:"account"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Equity         decimal.Decimal `json:"equity"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	ReturnPct      float64         `json:"return_pct"`
	OpenPositions  int             `json:"open_positions"`
	LastMarkAt     *time.Time      `json:"last_mark_at,omitempty"`
	Metrics        Metrics         `json:"metrics"`
}

// PortfolioSummary aggregates member accounts.
type PortfolioSummary struct {
	Portfolio      models.Portfolio `json:"portfolio"`
	AccountIDs     []uint64         `json:"account_ids"`
	InitialCapital decimal.Decimal  `json:"initial_capital"`
	Equity         decimal.Decimal  `json:"equity"`
	RealizedPnL    decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	ReturnPct      float64          `json:"return_pct"`
	OpenPositions  int              `json:"open_positions"`
	Metrics        Metrics          `json:"metrics"`
}

// AssetPerformance groups closed positions of every account by asset.
type AssetPerformance struct {
	Asset         string             `json:"asset"`
	OpenPositions int                `json:"open_positions"`
	ByStrategy    map[string]Metrics `json:"by_strategy"`
	ByExchange    map[string]Metrics `json:"by_exchange"`
	Metrics       Metrics            `json:"metrics"`
}

// Overview is the system-wide summary.
type Overview struct {
	Accounts       []AccountSummary `json:"accounts"`
	InitialCapital decimal.Decimal  `json:"initial_capital"`
	Equity         decimal.Decimal  `json:"equity"`
	RealizedPnL    decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	OpenPositions  int              `json:"open_positions"`
	TotalTrades    int              `json:"total_trades"`
	AsOf           time.Time        `json:"as_of"`
}

// Aggregator computes read-side performance views and caches them per key.
type Aggregator struct {
	Repo   repository.Repository
	Cache  cache.Store
	TTL    time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a *Aggregator) ttl() time.Duration {
	if a.TTL > 0 {
		return a.TTL
	}
	return DefaultTTL
}

// cached serves key from the cache or computes and stores it. Cache
// failures degrade to computing every time.
func cached[T any](ctx context.Context, a *Aggregator, key string, compute func() (*T, error)) (*T, error) {
	if a.Cache != nil {
		var hit T
		ok, err := cache.GetJSON(ctx, a.Cache, key, &hit)
		if err != nil && a.Logger != nil {
			a.Logger.Warn("metrics cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return &hit, nil
		}
	}
	v, err := compute()
	if err != nil || v == nil {
		return v, err
	}
	if a.Cache != nil {
		if err := cache.SetJSON(ctx, a.Cache, key, v, a.ttl()); err != nil && a.Logger != nil {
			a.Logger.Warn("metrics cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}

// AccountSummary returns nil when the account does not exist.
func (a *Aggregator) AccountSummary(ctx context.Context, id uint64) (*AccountSummary, error) {
	return cached(ctx, a, fmt.Sprintf("perf:account:%d", id), func() (*AccountSummary, error) {
		acct, err := a.Repo.GetAccount(ctx, id)
		if err != nil || acct == nil {
			return nil, err
		}
		return a.accountSummary(ctx, *acct)
	})
}

func (a *Aggregator) accountSummary(ctx context.Context, acct models.Account) (*AccountSummary, error) {
	closed, err := a.positions(ctx, []uint64{acct.ID}, models.PositionClosed)
	if err != nil {
		return nil, err
	}
	open, err := a.positions(ctx, []uint64{acct.ID}, models.PositionOpen)
	if err != nil {
		return nil, err
	}
	curve, err := a.accountCurve(ctx, acct, nil, nil)
	if err != nil {
		return nil, err
	}

	out := &AccountSummary{
		Account:        acct,
		InitialCapital: acct.InitialCapital,
		OpenPositions:  len(open),
		Metrics:        Compute(closed, curve),
	}
	out.RealizedPnL = out.Metrics.TotalPnL
	out.Equity = acct.InitialCapital.Add(out.RealizedPnL)

	latest, err := a.Repo.LatestMarkToMarket(ctx, []uint64{acct.ID})
	if err != nil {
		return nil, fmt.Errorf("latest mtm: %w", err)
	}
	if len(latest) > 0 && len(open) > 0 {
		at := latest[0].At
		out.LastMarkAt = &at
		out.UnrealizedPnL = latest[0].UnrealizedPnL
		out.Equity = out.Equity.Add(out.UnrealizedPnL)
	}
	out.ReturnPct = returnPct(out.InitialCapital, out.Equity)
	return out, nil
}

// AccountEquityCurve returns the account's MTM equity series, starting at
// the initial capital.
func (a *Aggregator) AccountEquityCurve(ctx context.Context, id uint64, since, until *time.Time) ([]EquityPoint, error) {
	acct, err := a.Repo.GetAccount(ctx, id)
	if err != nil || acct == nil {
		return nil, err
	}
	return a.accountCurve(ctx, *acct, since, until)
}

func (a *Aggregator) accountCurve(ctx context.Context, acct models.Account, since, until *time.Time) ([]EquityPoint, error) {
	rows, err := a.Repo.ListMarkToMarket(ctx, repository.ListMarkToMarketParams{
		AccountIDs: []uint64{acct.ID},
		Since:      since,
		Until:      until,
	})
	if err != nil {
		return nil, fmt.Errorf("list mtm: %w", err)
	}
	out := make([]EquityPoint, 0, len(rows)+1)
	if since == nil && !acct.CreatedAt.IsZero() {
		out = append(out, EquityPoint{At: acct.CreatedAt.UTC(), Equity: acct.InitialCapital})
	}
	for _, r := range rows {
		out = append(out, EquityPoint{At: r.At.UTC(), Equity: r.TotalEquity})
	}
	return out, nil
}

// PortfolioSummary returns nil when the portfolio does not exist.
func (a *Aggregator) PortfolioSummary(ctx context.Context, id uint64) (*PortfolioSummary, error) {
	return cached(ctx, a, fmt.Sprintf("perf:portfolio:%d", id), func() (*PortfolioSummary, error) {
		p, err := a.Repo.GetPortfolio(ctx, id)
		if err != nil || p == nil {
			return nil, err
		}
		members, accounts, err := a.members(ctx, id)
		if err != nil {
			return nil, err
		}
		out := &PortfolioSummary{Portfolio: *p, AccountIDs: members}
		if len(members) == 0 {
			return out, nil
		}
		closed, err := a.positions(ctx, members, models.PositionClosed)
		if err != nil {
			return nil, err
		}
		curve, err := a.portfolioCurve(ctx, accounts, nil, nil)
		if err != nil {
			return nil, err
		}
		out.Metrics = Compute(closed, curve)
		for _, acct := range accounts {
			s, err := a.accountSummary(ctx, acct)
			if err != nil {
				return nil, err
			}
			out.InitialCapital = out.InitialCapital.Add(s.InitialCapital)
			out.Equity = out.Equity.Add(s.Equity)
			out.RealizedPnL = out.RealizedPnL.Add(s.RealizedPnL)
			out.UnrealizedPnL = out.UnrealizedPnL.Add(s.UnrealizedPnL)
			out.OpenPositions += s.OpenPositions
		}
		out.ReturnPct = returnPct(out.InitialCapital, out.Equity)
		return out, nil
	})
}

func (a *Aggregator) PortfolioEquityCurve(ctx context.Context, id uint64, since, until *time.Time) ([]EquityPoint, error) {
	p, err := a.Repo.GetPortfolio(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	_, accounts, err := a.members(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.portfolioCurve(ctx, accounts, since, until)
}

// portfolioCurve sums member equity per minute. A member without a row in
// a given minute contributes its most recent earlier equity, or its
// initial capital before its first row.
func (a *Aggregator) portfolioCurve(ctx context.Context, accounts []models.Account, since, until *time.Time) ([]EquityPoint, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	ids := make([]uint64, len(accounts))
	last := map[uint64]decimal.Decimal{}
	for i, acct := range accounts {
		ids[i] = acct.ID
		last[acct.ID] = acct.InitialCapital
	}
	if since != nil {
		// Seed with each member's equity just before the window.
		for _, acct := range accounts {
			before := since.Add(-time.Nanosecond)
			rows, err := a.Repo.ListMarkToMarket(ctx, repository.ListMarkToMarketParams{
				AccountIDs: []uint64{acct.ID}, Until: &before, Limit: 1,
			})
			if err != nil {
				return nil, fmt.Errorf("list mtm: %w", err)
			}
			if len(rows) > 0 {
				last[acct.ID] = rows[len(rows)-1].TotalEquity
			}
		}
	}
	rows, err := a.Repo.ListMarkToMarket(ctx, repository.ListMarkToMarketParams{AccountIDs: ids, Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("list mtm: %w", err)
	}

	byMinute := map[time.Time]map[uint64]decimal.Decimal{}
	var minutes []time.Time
	for _, r := range rows {
		m := r.At.UTC().Truncate(time.Minute)
		bucket, ok := byMinute[m]
		if !ok {
			bucket = map[uint64]decimal.Decimal{}
			byMinute[m] = bucket
			minutes = append(minutes, m)
		}
		bucket[r.AccountID] = r.TotalEquity
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i].Before(minutes[j]) })

	out := make([]EquityPoint, 0, len(minutes))
	for _, m := range minutes {
		for id, eq := range byMinute[m] {
			last[id] = eq
		}
		total := decimal.Zero
		for _, id := range ids {
			total = total.Add(last[id])
		}
		out = append(out, EquityPoint{At: m, Equity: total})
	}
	return out, nil
}

// AssetPerformance covers every account's positions in asset.
func (a *Aggregator) AssetPerformance(ctx context.Context, asset string) (*AssetPerformance, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	return cached(ctx, a, "perf:asset:"+asset, func() (*AssetPerformance, error) {
		closedStatus := models.PositionClosed
		closed, err := a.Repo.ListPositions(ctx, repository.ListPositionsParams{Asset: &asset, Status: &closedStatus})
		if err != nil {
			return nil, fmt.Errorf("list closed positions: %w", err)
		}
		openStatus := models.PositionOpen
		open, err := a.Repo.ListPositions(ctx, repository.ListPositionsParams{Asset: &asset, Status: &openStatus})
		if err != nil {
			return nil, fmt.Errorf("list open positions: %w", err)
		}
		byStrategy := map[string][]models.Position{}
		byExchange := map[string][]models.Position{}
		for _, p := range closed {
			byStrategy[p.Strategy] = append(byStrategy[p.Strategy], p)
			byExchange[p.Exchange] = append(byExchange[p.Exchange], p)
		}
		out := &AssetPerformance{
			Asset:         asset,
			OpenPositions: len(open),
			ByStrategy:    map[string]Metrics{},
			ByExchange:    map[string]Metrics{},
			Metrics:       Compute(closed, nil),
		}
		for k, v := range byStrategy {
			out.ByStrategy[k] = Compute(v, nil)
		}
		for k, v := range byExchange {
			out.ByExchange[k] = Compute(v, nil)
		}
		return out, nil
	})
}

// Overview summarises every active account.
func (a *Aggregator) Overview(ctx context.Context) (*Overview, error) {
	return cached(ctx, a, "perf:overview", func() (*Overview, error) {
		active := true
		accounts, err := a.Repo.ListAccounts(ctx, repository.ListAccountsParams{Active: &active})
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out := &Overview{Accounts: make([]AccountSummary, 0, len(accounts)), AsOf: a.now()}
		for _, acct := range accounts {
			s, err := a.accountSummary(ctx, acct)
			if err != nil {
				return nil, err
			}
			out.Accounts = append(out.Accounts, *s)
			out.InitialCapital = out.InitialCapital.Add(s.InitialCapital)
			out.Equity = out.Equity.Add(s.Equity)
			out.RealizedPnL = out.RealizedPnL.Add(s.RealizedPnL)
			out.UnrealizedPnL = out.UnrealizedPnL.Add(s.UnrealizedPnL)
			out.OpenPositions += s.OpenPositions
			out.TotalTrades += s.Metrics.TotalTrades
		}
		return out, nil
	})
}

func (a *Aggregator) members(ctx context.Context, portfolioID uint64) ([]uint64, []models.Account, error) {
	ids, err := a.Repo.ListPortfolioMembers(ctx, portfolioID)
	if err != nil {
		return nil, nil, fmt.Errorf("list members: %w", err)
	}
	accounts := make([]models.Account, 0, len(ids))
	kept := make([]uint64, 0, len(ids))
	for _, id := range ids {
		acct, err := a.Repo.GetAccount(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if acct != nil {
			accounts = append(accounts, *acct)
			kept = append(kept, id)
		}
	}
	return kept, accounts, nil
}

func (a *Aggregator) positions(ctx context.Context, accountIDs []uint64, status string) ([]models.Position, error) {
	asc := true
	items, err := a.Repo.ListPositions(ctx, repository.ListPositionsParams{
		AccountIDs: accountIDs,
		Status:     &status,
		Asc:        &asc,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s positions: %w", strings.ToLower(status), err)
	}
	return items, nil
}

func returnPct(initial, equity decimal.Decimal) float64 {
	if !initial.IsPositive() {
		return 0
	}
	return equity.Sub(initial).Div(initial).InexactFloat64() * 100
}

// InvalidatePortfolio drops the cached summary after membership changes.
func (a *Aggregator) InvalidatePortfolio(ctx context.Context, id uint64) {
	if a.Cache == nil {
		return
	}
	for _, key := range []string{fmt.Sprintf("perf:portfolio:%d", id), "perf:overview"} {
		if err := a.Cache.Delete(ctx, key); err != nil && a.Logger != nil {
			a.Logger.Warn("metrics cache delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}
