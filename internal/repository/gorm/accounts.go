package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

func (s *Store) CreateAccount(ctx context.Context, item *models.Account) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Name = strings.TrimSpace(item.Name)
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) EnsureAccount(ctx context.Context, item *models.Account) (*models.Account, bool, error) {
	if s == nil || s.db == nil || item == nil {
		return nil, false, nil
	}
	item.Name = strings.TrimSpace(item.Name)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(item)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return item, true, nil
	}
	var existing models.Account
	if err := s.db.WithContext(ctx).Where("name = ?", item.Name).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *Store) GetAccount(ctx context.Context, id uint64) (*models.Account, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAccounts(ctx context.Context, params repository.ListAccountsParams) ([]models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Account{})
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if v, ok := trimmed(params.Exchange); ok {
		query = query.Where("exchange = ?", v)
	}
	if v, ok := trimmed(params.Strategy); ok {
		query = query.Where("strategy = ?", v)
	}
	var items []models.Account
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id uint64, params repository.UpdateAccountParams) (*models.Account, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	updates := map[string]any{}
	if v, ok := trimmed(params.Name); ok {
		updates["name"] = v
	}
	if params.Active != nil {
		updates["active"] = *params.Active
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetAccount(ctx, id)
}
