package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

// Store implements repository.Repository with in-memory maps. It is used by
// tests and by dry runs without a database. Rows are copied on the way in and
// out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	nextID     uint64
	signals    map[uint64]models.Signal
	positions  map[uint64]models.Position
	mtm        []models.MarkToMarket
	accounts   map[uint64]models.Account
	portfolios map[uint64]models.Portfolio
	members    map[uint64]map[uint64]time.Time
	candles    []models.Candle
	funding    []models.Funding
	prediction []models.PredictionMarket
}

var _ repository.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		signals:    make(map[uint64]models.Signal),
		positions:  make(map[uint64]models.Position),
		accounts:   make(map[uint64]models.Account),
		portfolios: make(map[uint64]models.Portfolio),
		members:    make(map[uint64]map[uint64]time.Time),
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// --- signals ---

func (s *Store) InsertSignal(_ context.Context, item *models.Signal) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.signals[item.ID] = *item
	return nil
}

func (s *Store) ListSignals(_ context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Signal, 0)
	for _, sig := range s.signals {
		if v, ok := trimmed(params.Strategy); ok && sig.Strategy != v {
			continue
		}
		if v, ok := trimmed(params.Asset); ok && sig.Asset != strings.ToUpper(v) {
			continue
		}
		if v, ok := trimmed(params.Exchange); ok && sig.Exchange != v {
			continue
		}
		if params.ActedOn != nil && sig.ActedOn != *params.ActedOn {
			continue
		}
		if params.Since != nil && sig.CreatedAt.Before(*params.Since) {
			continue
		}
		out = append(out, sig)
	}
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return (out[i].ID < out[j].ID) == asc
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt) == asc
	})
	return page(out, params.Offset, params.Limit, 200), nil
}

func (s *Store) ListUnclaimedSignals(_ context.Context, exchange, strategy string, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Signal, 0)
	for _, sig := range s.signals {
		if sig.ActedOn || sig.IsPass() || sig.Exchange != exchange || sig.Strategy != strategy {
			continue
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, 0, limit, 50), nil
}

func (s *Store) ClaimSignal(_ context.Context, id uint64, accountID uint64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok || sig.ActedOn {
		return false, nil
	}
	at = at.UTC()
	sig.ActedOn = true
	sig.ClaimedBy = &accountID
	sig.ClaimedAt = &at
	s.signals[id] = sig
	return true, nil
}

// --- positions ---

func (s *Store) InsertPosition(_ context.Context, item *models.Position) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.SignalID != nil {
		for _, p := range s.positions {
			if p.SignalID != nil && *p.SignalID == *item.SignalID {
				return fmt.Errorf("position for signal %d already exists", *item.SignalID)
			}
		}
	}
	item.ID = s.id()
	if item.Status == "" {
		item.Status = models.PositionOpen
	}
	s.positions[item.ID] = *item
	return nil
}

func (s *Store) ClosePosition(_ context.Context, params repository.ClosePositionParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[params.ID]
	if !ok || p.Status != models.PositionOpen {
		return false, nil
	}
	exitPrice := params.ExitPrice
	pnl := params.RealizedPnL
	reason := params.ExitReason
	exitTime := params.ExitTime.UTC()
	p.ExitPrice = &exitPrice
	p.RealizedPnL = &pnl
	p.ExitReason = &reason
	p.ExitTime = &exitTime
	p.Status = models.PositionClosed
	if len(params.Metadata) > 0 {
		p.Metadata = params.Metadata
	}
	s.positions[p.ID] = p
	return true, nil
}

func (s *Store) GetPosition(_ context.Context, id uint64) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPositions(_ context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := idSet(params.AccountIDs)
	out := make([]models.Position, 0)
	for _, p := range s.positions {
		if len(accounts) > 0 && !accounts[p.AccountID] {
			continue
		}
		if v, ok := trimmed(params.Status); ok && p.Status != strings.ToUpper(v) {
			continue
		}
		if v, ok := trimmed(params.Strategy); ok && p.Strategy != v {
			continue
		}
		if v, ok := trimmed(params.Asset); ok && p.Asset != strings.ToUpper(v) {
			continue
		}
		if v, ok := trimmed(params.Exchange); ok && p.Exchange != v {
			continue
		}
		if params.ClosedSince != nil && (p.ExitTime == nil || p.ExitTime.Before(*params.ClosedSince)) {
			continue
		}
		out = append(out, p)
	}
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return (out[i].ID < out[j].ID) == asc
		}
		return out[i].EntryTime.Before(out[j].EntryTime) == asc
	})
	if params.Limit <= 0 {
		return out, nil
	}
	return page(out, params.Offset, params.Limit, 200), nil
}

func (s *Store) ListAccountIDsWithOpenPositions(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[uint64]bool{}
	out := make([]uint64, 0)
	for _, p := range s.positions {
		if p.Status == models.PositionOpen && !seen[p.AccountID] {
			seen[p.AccountID] = true
			out = append(out, p.AccountID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) SumRealizedPnL(_ context.Context, accountID uint64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, p := range s.positions {
		if p.AccountID == accountID && p.Status == models.PositionClosed && p.RealizedPnL != nil {
			total = total.Add(*p.RealizedPnL)
		}
	}
	return total, nil
}

// --- mark to market ---

func (s *Store) InsertMarkToMarket(_ context.Context, item *models.MarkToMarket) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	s.mtm = append(s.mtm, *item)
	return nil
}

func (s *Store) ListMarkToMarket(_ context.Context, params repository.ListMarkToMarketParams) ([]models.MarkToMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := idSet(params.AccountIDs)
	out := make([]models.MarkToMarket, 0)
	for _, row := range s.mtm {
		if len(accounts) > 0 && !accounts[row.AccountID] {
			continue
		}
		if params.Since != nil && row.At.Before(*params.Since) {
			continue
		}
		if params.Until != nil && row.At.After(*params.Until) {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[len(out)-params.Limit:]
	}
	return out, nil
}

func (s *Store) LatestMarkToMarket(_ context.Context, accountIDs []uint64) ([]models.MarkToMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := idSet(accountIDs)
	latest := map[uint64]models.MarkToMarket{}
	for _, row := range s.mtm {
		if !accounts[row.AccountID] {
			continue
		}
		cur, ok := latest[row.AccountID]
		if !ok || row.At.After(cur.At) || (row.At.Equal(cur.At) && row.ID > cur.ID) {
			latest[row.AccountID] = row
		}
	}
	out := make([]models.MarkToMarket, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// --- accounts ---

func (s *Store) CreateAccount(_ context.Context, item *models.Account) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Name = strings.TrimSpace(item.Name)
	for _, a := range s.accounts {
		if a.Name == item.Name {
			return fmt.Errorf("account %q already exists", item.Name)
		}
	}
	s.insertAccountLocked(item)
	return nil
}

func (s *Store) EnsureAccount(_ context.Context, item *models.Account) (*models.Account, bool, error) {
	if item == nil {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Name = strings.TrimSpace(item.Name)
	for _, a := range s.accounts {
		if a.Name == item.Name {
			return &a, false, nil
		}
	}
	s.insertAccountLocked(item)
	out := *item
	return &out, true, nil
}

func (s *Store) insertAccountLocked(item *models.Account) {
	item.ID = s.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.accounts[item.ID] = *item
}

func (s *Store) GetAccount(_ context.Context, id uint64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) ListAccounts(_ context.Context, params repository.ListAccountsParams) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if params.Active != nil && a.Active != *params.Active {
			continue
		}
		if v, ok := trimmed(params.Exchange); ok && a.Exchange != v {
			continue
		}
		if v, ok := trimmed(params.Strategy); ok && a.Strategy != v {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateAccount(_ context.Context, id uint64, params repository.UpdateAccountParams) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	if v, ok := trimmed(params.Name); ok {
		for _, other := range s.accounts {
			if other.ID != id && other.Name == v {
				return nil, fmt.Errorf("account %q already exists", v)
			}
		}
		a.Name = v
	}
	if params.Active != nil {
		a.Active = *params.Active
	}
	s.accounts[id] = a
	return &a, nil
}

// --- portfolios ---

func (s *Store) CreatePortfolio(_ context.Context, item *models.Portfolio, accountIDs ...uint64) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Name = strings.TrimSpace(item.Name)
	for _, p := range s.portfolios {
		if p.Name == item.Name {
			return fmt.Errorf("portfolio %q already exists", item.Name)
		}
	}
	for _, id := range accountIDs {
		if _, ok := s.accounts[id]; !ok {
			return fmt.Errorf("account %d not found", id)
		}
	}
	item.ID = s.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.portfolios[item.ID] = *item
	set := map[uint64]time.Time{}
	for _, id := range accountIDs {
		set[id] = item.CreatedAt
	}
	s.members[item.ID] = set
	return nil
}

func (s *Store) GetPortfolio(_ context.Context, id uint64) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPortfolios(_ context.Context) ([]models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Portfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddPortfolioMember(_ context.Context, portfolioID, accountID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.portfolios[portfolioID]; !ok {
		return fmt.Errorf("portfolio %d not found", portfolioID)
	}
	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("account %d not found", accountID)
	}
	set, ok := s.members[portfolioID]
	if !ok {
		set = map[uint64]time.Time{}
		s.members[portfolioID] = set
	}
	if _, exists := set[accountID]; !exists {
		set[accountID] = time.Now().UTC()
	}
	return nil
}

func (s *Store) RemovePortfolioMember(_ context.Context, portfolioID, accountID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[portfolioID], accountID)
	return nil
}

func (s *Store) ListPortfolioMembers(_ context.Context, portfolioID uint64) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.members[portfolioID]))
	for id := range s.members[portfolioID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// --- market data ---

func (s *Store) ListCandles(_ context.Context, exchange, asset string, limit int) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candle, 0)
	for _, c := range s.candles {
		if c.Exchange == exchange && c.Asset == strings.ToUpper(asset) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) ListFunding(_ context.Context, exchange, asset string, since time.Time) ([]models.Funding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Funding, 0)
	for _, f := range s.funding {
		if f.Exchange == exchange && f.Asset == strings.ToUpper(asset) && !f.At.Before(since) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *Store) ListPredictionMarkets(_ context.Context, asset string, limit int) ([]models.PredictionMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PredictionMarket, 0)
	for _, p := range s.prediction {
		if p.Asset == strings.ToUpper(asset) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if limit <= 0 {
		limit = 10
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) LatestClose(ctx context.Context, exchange, asset string) (decimal.Decimal, time.Time, bool, error) {
	candles, _ := s.ListCandles(ctx, exchange, asset, 1)
	if len(candles) == 0 {
		return decimal.Zero, time.Time{}, false, nil
	}
	last := candles[len(candles)-1]
	return last.Close, last.OpenTime, true, nil
}

func (s *Store) InsertCandles(_ context.Context, items []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range items {
		c.ID = s.id()
		s.candles = append(s.candles, c)
	}
	return nil
}

func (s *Store) InsertFunding(_ context.Context, items []models.Funding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range items {
		f.ID = s.id()
		s.funding = append(s.funding, f)
	}
	return nil
}

func (s *Store) InsertPredictionMarkets(_ context.Context, items []models.PredictionMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range items {
		p.ID = s.id()
		s.prediction = append(s.prediction, p)
	}
	return nil
}

func trimmed(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(*p)
	return v, v != ""
}

func idSet(ids []uint64) map[uint64]bool {
	out := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func page[T any](items []T, offset, limit, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
