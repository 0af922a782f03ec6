package gormrepository

import (
	"context"
	"strings"
	"time"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

func (s *Store) InsertSignal(ctx context.Context, item *models.Signal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Signal{})
	if v, ok := trimmed(params.Strategy); ok {
		query = query.Where("strategy = ?", v)
	}
	if v, ok := trimmed(params.Asset); ok {
		query = query.Where("asset = ?", strings.ToUpper(v))
	}
	if v, ok := trimmed(params.Exchange); ok {
		query = query.Where("exchange = ?", v)
	}
	if params.ActedOn != nil {
		query = query.Where("acted_on = ?", *params.ActedOn)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", params.Since.UTC())
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at", "created_at", "confidence", "id")
	var items []models.Signal
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListUnclaimedSignals(ctx context.Context, exchange, strategy string, limit int) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Signal
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("exchange = ? AND strategy = ? AND acted_on = ?", exchange, strategy, false).
		Where("direction IN ?", []string{models.DirectionLong, models.DirectionShort}).
		Order("created_at asc, id asc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ClaimSignal(ctx context.Context, id uint64, accountID uint64, at time.Time) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("id = ? AND acted_on = ?", id, false).
		Updates(map[string]any{
			"acted_on":   true,
			"claimed_by": accountID,
			"claimed_at": at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
