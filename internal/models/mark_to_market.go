package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MarkToMarket is an append-only equity snapshot for one account at one tick.
type MarkToMarket struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	AccountID uint64    `gorm:"not null;index:idx_mtm_account_at,priority:1"`
	At        time.Time `gorm:"column:ts;type:timestamptz;not null;index:idx_mtm_account_at,priority:2"`

	TotalEquity   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null"`
	OpenPositions int             `gorm:"not null"`
	Breakdown     datatypes.JSON  `gorm:"type:jsonb"`
}

func (MarkToMarket) TableName() string {
	return "mark_to_market"
}

// BreakdownLine is one strategy or asset bucket of a MarkToMarket row.
type BreakdownLine struct {
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenPositions int             `json:"open_positions"`
}

// Breakdown is the decoded form of MarkToMarket.Breakdown.
type Breakdown struct {
	ByStrategy    map[string]BreakdownLine `json:"by_strategy"`
	ByAsset       map[string]BreakdownLine `json:"by_asset"`
	MissingPrices []string                 `json:"missing_prices,omitempty"`
}
