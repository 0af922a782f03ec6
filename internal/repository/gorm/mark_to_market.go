package gormrepository

import (
	"context"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

func (s *Store) InsertMarkToMarket(ctx context.Context, item *models.MarkToMarket) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// ListMarkToMarket returns rows oldest first. A zero limit returns the full history.
func (s *Store) ListMarkToMarket(ctx context.Context, params repository.ListMarkToMarketParams) ([]models.MarkToMarket, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.MarkToMarket{})
	if len(params.AccountIDs) > 0 {
		query = query.Where("account_id IN ?", params.AccountIDs)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("ts >= ?", params.Since.UTC())
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("ts <= ?", params.Until.UTC())
	}
	if params.Limit > 0 {
		// Most recent N, still returned in ascending order.
		sub := query.Order("ts desc").Limit(params.Limit)
		var items []models.MarkToMarket
		if err := s.db.WithContext(ctx).Table("(?) AS recent", sub).Order("ts asc, id asc").Find(&items).Error; err != nil {
			return nil, err
		}
		return items, nil
	}
	var items []models.MarkToMarket
	if err := query.Order("ts asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LatestMarkToMarket(ctx context.Context, accountIDs []uint64) ([]models.MarkToMarket, error) {
	if s == nil || s.db == nil || len(accountIDs) == 0 {
		return nil, nil
	}
	var items []models.MarkToMarket
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (account_id) * FROM mark_to_market
			WHERE account_id IN ? ORDER BY account_id, ts DESC, id DESC`, accountIDs).
		Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
