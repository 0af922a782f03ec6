package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrade/internal/models"
)

// ListCandles returns the most recent candles oldest first.
func (s *Store) ListCandles(ctx context.Context, exchange, asset string, limit int) ([]models.Candle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Candle
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND asset = ?", exchange, strings.ToUpper(asset)).
		Order("open_time desc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	reverse(items)
	return items, nil
}

func (s *Store) ListFunding(ctx context.Context, exchange, asset string, since time.Time) ([]models.Funding, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Funding
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND asset = ? AND ts >= ?", exchange, strings.ToUpper(asset), since.UTC()).
		Order("ts asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListPredictionMarkets returns the latest observations oldest first.
func (s *Store) ListPredictionMarkets(ctx context.Context, asset string, limit int) ([]models.PredictionMarket, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PredictionMarket
	err := s.db.WithContext(ctx).
		Where("asset = ?", strings.ToUpper(asset)).
		Order("ts desc").
		Limit(normalizeLimit(limit, 10)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	reverse(items)
	return items, nil
}

func (s *Store) LatestClose(ctx context.Context, exchange, asset string) (decimal.Decimal, time.Time, bool, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, time.Time{}, false, nil
	}
	var item models.Candle
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND asset = ?", exchange, strings.ToUpper(asset)).
		Order("open_time desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, time.Time{}, false, nil
	}
	if err != nil {
		return decimal.Zero, time.Time{}, false, err
	}
	return item.Close, item.OpenTime, true, nil
}

func (s *Store) InsertCandles(ctx context.Context, items []models.Candle) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "exchange"}, {Name: "asset"}, {Name: "interval"}, {Name: "open_time"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		CreateInBatches(items, 200).Error
}

func (s *Store) InsertFunding(ctx context.Context, items []models.Funding) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(items, 200).Error
}

func (s *Store) InsertPredictionMarkets(ctx context.Context, items []models.PredictionMarket) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(items, 200).Error
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
