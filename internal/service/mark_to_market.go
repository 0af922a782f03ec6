package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/models"
	"papertrade/internal/paper"
	"papertrade/internal/repository"
)

// MarkToMarketService appends one equity row per account holding open
// positions, active or not. Every row written by one run is priced from the same batch.
type MarkToMarketService struct {
	Repo   repository.Repository
	Prices market.PriceLookup
	Logger *zap.Logger
}

// RunOnce writes the rows for this tick and returns how many were written.
func (s *MarkToMarketService) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || s.Prices == nil {
		return 0, nil
	}
	ids, err := s.Repo.ListAccountIDsWithOpenPositions(ctx)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	accounts, err := s.Repo.ListAccounts(ctx, repository.ListAccountsParams{})
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	want := map[uint64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	byID := map[uint64]models.Account{}
	var accountIDs []uint64
	for _, a := range accounts {
		if want[a.ID] {
			byID[a.ID] = a
			accountIDs = append(accountIDs, a.ID)
		}
	}
	if len(accountIDs) == 0 {
		return 0, nil
	}

	status := models.PositionOpen
	open, err := s.Repo.ListPositions(ctx, repository.ListPositionsParams{AccountIDs: accountIDs, Status: &status})
	if err != nil {
		return 0, fmt.Errorf("list open positions: %w", err)
	}
	closedStatus := models.PositionClosed
	closed, err := s.Repo.ListPositions(ctx, repository.ListPositionsParams{AccountIDs: accountIDs, Status: &closedStatus})
	if err != nil {
		return 0, fmt.Errorf("list closed positions: %w", err)
	}

	seen := map[market.PriceKey]bool{}
	var keys []market.PriceKey
	for _, p := range open {
		k := market.Key(p.Exchange, p.Asset)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	batch := s.Prices.Batch(ctx, keys)

	marks := map[uint64]*accountMark{}
	for _, id := range accountIDs {
		marks[id] = newAccountMark()
	}
	for _, p := range closed {
		if m := marks[p.AccountID]; m != nil && p.RealizedPnL != nil {
			m.addRealized(p, *p.RealizedPnL)
		}
	}
	for _, p := range open {
		m := marks[p.AccountID]
		if m == nil {
			continue
		}
		price, ok := batch.Get(p.Exchange, p.Asset)
		if !ok {
			m.addMissing(p)
			continue
		}
		m.addOpen(p, paper.UnrealizedPnL(p, price))
	}

	written := 0
	var errs []error
	for _, id := range accountIDs {
		acct := byID[id]
		row, err := marks[id].row(acct, batch.At)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.Repo.InsertMarkToMarket(ctx, row); err != nil {
			errs = append(errs, fmt.Errorf("insert mtm for account %d: %w", id, err))
			continue
		}
		written++
		metrics.AccountEquity.WithLabelValues(acct.Name).Set(row.TotalEquity.InexactFloat64())
		if missing := marks[id].breakdown.MissingPrices; len(missing) > 0 && s.Logger != nil {
			s.Logger.Warn("mtm missing prices", zap.Uint64("account_id", id), zap.Strings("instruments", missing))
		}
	}
	if s.Logger != nil {
		s.Logger.Debug("mtm written", zap.Int("accounts", written), zap.Int("instruments", len(keys)))
	}
	return written, errors.Join(errs...)
}

type accountMark struct {
	realized   decimal.Decimal
	unrealized decimal.Decimal
	open       int
	breakdown  models.Breakdown
	missing    map[string]bool
}

func newAccountMark() *accountMark {
	return &accountMark{
		breakdown: models.Breakdown{
			ByStrategy: map[string]models.BreakdownLine{},
			ByAsset:    map[string]models.BreakdownLine{},
		},
		missing: map[string]bool{},
	}
}

func (m *accountMark) addRealized(p models.Position, pnl decimal.Decimal) {
	m.realized = m.realized.Add(pnl)
	bump(m.breakdown.ByStrategy, p.Strategy, func(l *models.BreakdownLine) { l.RealizedPnL = l.RealizedPnL.Add(pnl) })
	bump(m.breakdown.ByAsset, p.Asset, func(l *models.BreakdownLine) { l.RealizedPnL = l.RealizedPnL.Add(pnl) })
}

func (m *accountMark) addOpen(p models.Position, pnl decimal.Decimal) {
	m.unrealized = m.unrealized.Add(pnl)
	m.open++
	apply := func(l *models.BreakdownLine) {
		l.UnrealizedPnL = l.UnrealizedPnL.Add(pnl)
		l.OpenPositions++
	}
	bump(m.breakdown.ByStrategy, p.Strategy, apply)
	bump(m.breakdown.ByAsset, p.Asset, apply)
}

// addMissing counts the position as open with zero unrealized pnl.
func (m *accountMark) addMissing(p models.Position) {
	m.addOpen(p, decimal.Zero)
	k := market.Key(p.Exchange, p.Asset).String()
	if !m.missing[k] {
		m.missing[k] = true
		m.breakdown.MissingPrices = append(m.breakdown.MissingPrices, k)
		sort.Strings(m.breakdown.MissingPrices)
	}
}

func (m *accountMark) row(acct models.Account, at time.Time) (*models.MarkToMarket, error) {
	raw, err := json.Marshal(m.breakdown)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown for account %d: %w", acct.ID, err)
	}
	return &models.MarkToMarket{
		AccountID:     acct.ID,
		At:            at,
		TotalEquity:   acct.InitialCapital.Add(m.realized).Add(m.unrealized),
		UnrealizedPnL: m.unrealized,
		RealizedPnL:   m.realized,
		OpenPositions: m.open,
		Breakdown:     datatypes.JSON(raw),
	}, nil
}

func bump(lines map[string]models.BreakdownLine, key string, fn func(*models.BreakdownLine)) {
	l := lines[key]
	fn(&l)
	lines[key] = l
}
