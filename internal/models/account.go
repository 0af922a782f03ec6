package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is an isolated capital unit bound to one exchange and one strategy.
type Account struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	Name           string          `gorm:"type:varchar(128);not null;uniqueIndex"`
	Exchange       string          `gorm:"type:varchar(32);not null;index:idx_accounts_scope,priority:1"`
	Strategy       string          `gorm:"type:varchar(64);not null;index:idx_accounts_scope,priority:2"`
	InitialCapital decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Active         bool            `gorm:"not null;default:true;index"`
	CreatedAt      time.Time       `gorm:"type:timestamptz;autoCreateTime"`
}

func (Account) TableName() string {
	return "accounts"
}
