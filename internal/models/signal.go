package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
	DirectionPass  = "PASS"
)

// Signal is a strategy recommendation (or explicit pass) at a point in time.
// Everything except the claim columns is immutable once written.
type Signal struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Strategy   string          `gorm:"type:varchar(64);not null;index:idx_signals_claim,priority:2"`
	Asset      string          `gorm:"type:varchar(32);not null;index"`
	Exchange   string          `gorm:"type:varchar(32);not null;index:idx_signals_claim,priority:1"`
	Direction  string          `gorm:"type:varchar(8);not null"`
	Confidence float64         `gorm:"not null;default:0"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Metadata   datatypes.JSON  `gorm:"type:jsonb"`

	ActedOn   bool       `gorm:"not null;default:false;index:idx_signals_claim,priority:3"`
	ClaimedBy *uint64    `gorm:"index"`
	ClaimedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;index"`
}

func (Signal) TableName() string {
	return "signals"
}

func (s Signal) IsPass() bool {
	return s.Direction != DirectionLong && s.Direction != DirectionShort
}
