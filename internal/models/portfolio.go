package models

import "time"

// Portfolio is a non-owning grouping of accounts. It holds no capital.
type Portfolio struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"type:varchar(128);not null;uniqueIndex"`
	Description *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Portfolio) TableName() string {
	return "portfolios"
}

// PortfolioMember is the join relation between portfolios and accounts.
type PortfolioMember struct {
	PortfolioID uint64    `gorm:"primaryKey"`
	AccountID   uint64    `gorm:"primaryKey;index"`
	AddedAt     time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PortfolioMember) TableName() string {
	return "portfolio_members"
}
