package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrade/internal/models"
)

func (s *Store) CreatePortfolio(ctx context.Context, item *models.Portfolio, accountIDs ...uint64) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Name = strings.TrimSpace(item.Name)
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, id := range accountIDs {
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.PortfolioMember{PortfolioID: item.ID, AccountID: id, AddedAt: now}).
				Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetPortfolio(ctx context.Context, id uint64) (*models.Portfolio, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Portfolio
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Portfolio
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) AddPortfolioMember(ctx context.Context, portfolioID, accountID uint64) error {
	if s == nil || s.db == nil || portfolioID == 0 || accountID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PortfolioMember{PortfolioID: portfolioID, AccountID: accountID, AddedAt: time.Now().UTC()}).
		Error
}

func (s *Store) RemovePortfolioMember(ctx context.Context, portfolioID, accountID uint64) error {
	if s == nil || s.db == nil || portfolioID == 0 || accountID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("portfolio_id = ? AND account_id = ?", portfolioID, accountID).
		Delete(&models.PortfolioMember{}).
		Error
}

func (s *Store) ListPortfolioMembers(ctx context.Context, portfolioID uint64) ([]uint64, error) {
	if s == nil || s.db == nil || portfolioID == 0 {
		return nil, nil
	}
	var ids []uint64
	err := s.db.WithContext(ctx).
		Model(&models.PortfolioMember{}).
		Where("portfolio_id = ?", portfolioID).
		Order("account_id asc").
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
