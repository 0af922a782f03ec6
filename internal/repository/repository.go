package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"papertrade/internal/models"
)

// SignalRepository is the signal ledger. Inserts are append-only; the only
// update is the single-row claim.
type SignalRepository interface {
	InsertSignal(ctx context.Context, item *models.Signal) error
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)
	ListUnclaimedSignals(ctx context.Context, exchange, strategy string, limit int) ([]models.Signal, error)
	// ClaimSignal marks a signal acted on for accountID. It reports false when
	// another engine already claimed it.
	ClaimSignal(ctx context.Context, id uint64, accountID uint64, at time.Time) (bool, error)
}

type PositionRepository interface {
	InsertPosition(ctx context.Context, item *models.Position) error
	// ClosePosition transitions an OPEN position to CLOSED. It reports false
	// when the position was already closed.
	ClosePosition(ctx context.Context, params ClosePositionParams) (bool, error)
	GetPosition(ctx context.Context, id uint64) (*models.Position, error)
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	ListAccountIDsWithOpenPositions(ctx context.Context) ([]uint64, error)
	SumRealizedPnL(ctx context.Context, accountID uint64) (decimal.Decimal, error)
}

type MarkToMarketRepository interface {
	InsertMarkToMarket(ctx context.Context, item *models.MarkToMarket) error
	ListMarkToMarket(ctx context.Context, params ListMarkToMarketParams) ([]models.MarkToMarket, error)
	LatestMarkToMarket(ctx context.Context, accountIDs []uint64) ([]models.MarkToMarket, error)
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, item *models.Account) error
	// EnsureAccount inserts item unless an account with the same name exists,
	// and returns the stored row.
	EnsureAccount(ctx context.Context, item *models.Account) (*models.Account, bool, error)
	GetAccount(ctx context.Context, id uint64) (*models.Account, error)
	ListAccounts(ctx context.Context, params ListAccountsParams) ([]models.Account, error)
	UpdateAccount(ctx context.Context, id uint64, params UpdateAccountParams) (*models.Account, error)
}

type PortfolioRepository interface {
	// CreatePortfolio inserts the portfolio and its initial members in one
	// transaction.
	CreatePortfolio(ctx context.Context, item *models.Portfolio, accountIDs ...uint64) error
	GetPortfolio(ctx context.Context, id uint64) (*models.Portfolio, error)
	ListPortfolios(ctx context.Context) ([]models.Portfolio, error)
	// AddPortfolioMember and RemovePortfolioMember are idempotent.
	AddPortfolioMember(ctx context.Context, portfolioID, accountID uint64) error
	RemovePortfolioMember(ctx context.Context, portfolioID, accountID uint64) error
	ListPortfolioMembers(ctx context.Context, portfolioID uint64) ([]uint64, error)
}

// MarketDataRepository reads what external collectors write.
type MarketDataRepository interface {
	ListCandles(ctx context.Context, exchange, asset string, limit int) ([]models.Candle, error)
	ListFunding(ctx context.Context, exchange, asset string, since time.Time) ([]models.Funding, error)
	ListPredictionMarkets(ctx context.Context, asset string, limit int) ([]models.PredictionMarket, error)
	LatestClose(ctx context.Context, exchange, asset string) (decimal.Decimal, time.Time, bool, error)
	InsertCandles(ctx context.Context, items []models.Candle) error
	InsertFunding(ctx context.Context, items []models.Funding) error
	InsertPredictionMarkets(ctx context.Context, items []models.PredictionMarket) error
}

// Repository is the full ledger used by the engine, scheduler and API.
type Repository interface {
	SignalRepository
	PositionRepository
	MarkToMarketRepository
	AccountRepository
	PortfolioRepository
	MarketDataRepository
}

type ListSignalsParams struct {
	Limit    int
	Offset   int
	Strategy *string
	Asset    *string
	Exchange *string
	ActedOn  *bool
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}

type ClosePositionParams struct {
	ID          uint64
	ExitPrice   decimal.Decimal
	ExitTime    time.Time
	ExitReason  string
	RealizedPnL decimal.Decimal
	Metadata    datatypes.JSON
}

type ListPositionsParams struct {
	Limit       int
	Offset      int
	AccountIDs  []uint64
	Status      *string
	Strategy    *string
	Asset       *string
	Exchange    *string
	ClosedSince *time.Time
	OrderBy     string
	Asc         *bool
}

type ListMarkToMarketParams struct {
	AccountIDs []uint64
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

type ListAccountsParams struct {
	Active   *bool
	Exchange *string
	Strategy *string
}

type UpdateAccountParams struct {
	Name   *string
	Active *bool
}
