package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar written by an external collector.
type Candle struct {
	ID       uint64          `gorm:"primaryKey;autoIncrement"`
	Exchange string          `gorm:"type:varchar(32);not null;uniqueIndex:uq_candles,priority:1"`
	Asset    string          `gorm:"type:varchar(32);not null;uniqueIndex:uq_candles,priority:2"`
	Interval string          `gorm:"type:varchar(8);not null;uniqueIndex:uq_candles,priority:3"`
	OpenTime time.Time       `gorm:"type:timestamptz;not null;uniqueIndex:uq_candles,priority:4"`
	Open     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	High     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Low      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Close    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Volume   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
}

func (Candle) TableName() string {
	return "candles"
}

// Funding is a point-in-time funding rate observation.
type Funding struct {
	ID           uint64           `gorm:"primaryKey;autoIncrement"`
	Exchange     string           `gorm:"type:varchar(32);not null;index:idx_funding_asset_at,priority:1"`
	Asset        string           `gorm:"type:varchar(32);not null;index:idx_funding_asset_at,priority:2"`
	At           time.Time        `gorm:"column:ts;type:timestamptz;not null;index:idx_funding_asset_at,priority:3"`
	FundingRate  decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	OpenInterest *decimal.Decimal `gorm:"type:numeric(30,10)"`
	MarkPrice    *decimal.Decimal `gorm:"type:numeric(30,10)"`
}

func (Funding) TableName() string {
	return "funding_snapshots"
}

// PredictionMarket is one observation of a prediction market tied to an asset.
type PredictionMarket struct {
	ID        uint64           `gorm:"primaryKey;autoIncrement"`
	MarketID  string           `gorm:"type:varchar(128);not null;index"`
	Title     string           `gorm:"type:text"`
	Asset     string           `gorm:"type:varchar(32);not null;index:idx_prediction_asset_at,priority:1"`
	At        time.Time        `gorm:"column:ts;type:timestamptz;not null;index:idx_prediction_asset_at,priority:2"`
	YesPrice  *decimal.Decimal `gorm:"type:numeric(30,10)"`
	NoPrice   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	Volume24h *decimal.Decimal `gorm:"column:volume_24h;type:numeric(30,10)"`
	Liquidity *decimal.Decimal `gorm:"type:numeric(30,10)"`
	EndDate   *time.Time       `gorm:"type:timestamptz"`
}

func (PredictionMarket) TableName() string {
	return "prediction_markets"
}
