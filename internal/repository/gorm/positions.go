package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

func (s *Store) InsertPosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.PositionOpen
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ClosePosition(ctx context.Context, params repository.ClosePositionParams) (bool, error) {
	if s == nil || s.db == nil || params.ID == 0 {
		return false, nil
	}
	exitTime := params.ExitTime
	if exitTime.IsZero() {
		exitTime = time.Now().UTC()
	}
	updates := map[string]any{
		"status":       models.PositionClosed,
		"exit_price":   params.ExitPrice,
		"exit_time":    exitTime.UTC(),
		"exit_reason":  params.ExitReason,
		"realized_pnl": params.RealizedPnL,
	}
	if len(params.Metadata) > 0 {
		updates["metadata"] = params.Metadata
	}
	res := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND status = ?", params.ID, models.PositionOpen).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetPosition(ctx context.Context, id uint64) (*models.Position, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if len(params.AccountIDs) > 0 {
		query = query.Where("account_id IN ?", params.AccountIDs)
	}
	if v, ok := trimmed(params.Status); ok {
		query = query.Where("status = ?", strings.ToUpper(v))
	}
	if v, ok := trimmed(params.Strategy); ok {
		query = query.Where("strategy = ?", v)
	}
	if v, ok := trimmed(params.Asset); ok {
		query = query.Where("asset = ?", strings.ToUpper(v))
	}
	if v, ok := trimmed(params.Exchange); ok {
		query = query.Where("exchange = ?", v)
	}
	if params.ClosedSince != nil && !params.ClosedSince.IsZero() {
		query = query.Where("exit_time >= ?", params.ClosedSince.UTC())
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "entry_time", "entry_time", "exit_time", "id")
	// Ledger reads for metrics need every row; only paginate when asked.
	if params.Limit > 0 {
		query = query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset))
	}
	var items []models.Position
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAccountIDsWithOpenPositions(ctx context.Context) ([]uint64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []uint64
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Distinct("account_id").
		Where("status = ?", models.PositionOpen).
		Order("account_id asc").
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SumRealizedPnL(ctx context.Context, accountID uint64) (decimal.Decimal, error) {
	if s == nil || s.db == nil || accountID == 0 {
		return decimal.Zero, nil
	}
	var out decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Select("COALESCE(SUM(realized_pnl),0)").
		Where("account_id = ? AND status = ?", accountID, models.PositionClosed).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !out.Valid {
		return decimal.Zero, nil
	}
	return out.Decimal, nil
}
