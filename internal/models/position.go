package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

const (
	ExitStopLoss      = "stop_loss"
	ExitTakeProfit    = "take_profit"
	ExitTimeout       = "timeout"
	ExitSignalReverse = "signal_reverse"
)

// Position is one simulated trade. It moves OPEN -> CLOSED exactly once.
type Position struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index:idx_positions_account_status,priority:1"`
	Strategy  string `gorm:"type:varchar(64);not null;index"`
	Asset     string `gorm:"type:varchar(32);not null;index"`
	Exchange  string `gorm:"type:varchar(32);not null"`
	Direction string `gorm:"type:varchar(8);not null"`

	EntryPrice decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryTime  time.Time       `gorm:"type:timestamptz;not null"`
	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	ExitPrice   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	ExitTime    *time.Time       `gorm:"type:timestamptz"`
	ExitReason  *string          `gorm:"type:varchar(32)"`
	RealizedPnL *decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10)"`

	Status   string         `gorm:"type:varchar(10);not null;default:'OPEN';index:idx_positions_account_status,priority:2"`
	SignalID *uint64        `gorm:"uniqueIndex"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`
}

func (Position) TableName() string {
	return "positions"
}

func (p Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// Sign is +1 for LONG and -1 for SHORT.
func (p Position) Sign() decimal.Decimal {
	return DirectionSign(p.Direction)
}

// Notional is entry_price * quantity.
func (p Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// HoldMinutes is zero for open positions.
func (p Position) HoldMinutes() float64 {
	if p.ExitTime == nil {
		return 0
	}
	return p.ExitTime.Sub(p.EntryTime).Minutes()
}

func DirectionSign(direction string) decimal.Decimal {
	if direction == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func Opposite(direction string) string {
	switch direction {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	}
	return ""
}
