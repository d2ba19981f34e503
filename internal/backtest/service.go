// Package backtest manages backtest lifecycle and read access to holdings
// and trades. Balance writes are owned exclusively by the settlement engine.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strategybot/stratledger/pkg/models"
)

// ErrNotFound is returned when a requested backtest does not exist.
var ErrNotFound = errors.New("backtest not found")

// BacktestService defines backtest lifecycle and query operations
type BacktestService interface {
	CreateBacktest(ctx context.Context, strategyID uuid.UUID, name string, balance decimal.Decimal, periodStart, periodEnd time.Time) (*models.Backtest, error)
	GetBacktest(ctx context.Context, id uuid.UUID) (*models.Backtest, error)
	ListBacktests(ctx context.Context, strategyID uuid.UUID) ([]*models.Backtest, error)
	ListHoldings(ctx context.Context, backtestID uuid.UUID) ([]*models.Holding, error)
	ListTrades(ctx context.Context, backtestID uuid.UUID, limit, offset int) ([]*models.Trade, int64, error)
}

// Service implements BacktestService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new BacktestService
func NewService(logger *zap.Logger, db *gorm.DB) (BacktestService, error) {
	return &Service{logger: logger, db: db}, nil
}

// CreateBacktest creates a backtest with its seed balance and time period
func (s *Service) CreateBacktest(ctx context.Context, strategyID uuid.UUID, name string, balance decimal.Decimal, periodStart, periodEnd time.Time) (*models.Backtest, error) {
	if name == "" {
		return nil, fmt.Errorf("backtest name is required")
	}
	if balance.Sign() < 0 {
		return nil, fmt.Errorf("seed balance cannot be negative")
	}
	if !periodEnd.After(periodStart) {
		return nil, fmt.Errorf("period end must be after period start")
	}

	var strategy models.Strategy
	if err := s.db.WithContext(ctx).Where("id = ?", strategyID).First(&strategy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("strategy not found")
		}
		return nil, fmt.Errorf("failed to find strategy: %w", err)
	}

	backtest := &models.Backtest{
		ID:          uuid.New(),
		StrategyID:  strategyID,
		Name:        name,
		Balance:     balance,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(backtest).Error; err != nil {
		return nil, fmt.Errorf("failed to create backtest: %w", err)
	}

	s.logger.Info("backtest created",
		zap.String("backtest_id", backtest.ID.String()),
		zap.String("strategy_id", strategyID.String()),
		zap.String("balance", balance.String()))
	return backtest, nil
}

// GetBacktest gets a backtest by id
func (s *Service) GetBacktest(ctx context.Context, id uuid.UUID) (*models.Backtest, error) {
	var backtest models.Backtest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&backtest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find backtest: %w", err)
	}
	return &backtest, nil
}

// ListBacktests lists all backtests of a strategy
func (s *Service) ListBacktests(ctx context.Context, strategyID uuid.UUID) ([]*models.Backtest, error) {
	var backtests []*models.Backtest
	if err := s.db.WithContext(ctx).Where("strategy_id = ?", strategyID).Order("created_at DESC").Find(&backtests).Error; err != nil {
		return nil, fmt.Errorf("failed to find backtests: %w", err)
	}
	return backtests, nil
}

// ListHoldings lists the holdings of a backtest
func (s *Service) ListHoldings(ctx context.Context, backtestID uuid.UUID) ([]*models.Holding, error) {
	if _, err := s.GetBacktest(ctx, backtestID); err != nil {
		return nil, err
	}
	var holdings []*models.Holding
	if err := s.db.WithContext(ctx).Where("backtest_id = ?", backtestID).Order("ticker").Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("failed to find holdings: %w", err)
	}
	return holdings, nil
}

// ListTrades lists the trade history of a backtest, newest first
func (s *Service) ListTrades(ctx context.Context, backtestID uuid.UUID, limit, offset int) ([]*models.Trade, int64, error) {
	if _, err := s.GetBacktest(ctx, backtestID); err != nil {
		return nil, 0, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trade{}).Where("backtest_id = ?", backtestID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var trades []*models.Trade
	if err := s.db.WithContext(ctx).Where("backtest_id = ?", backtestID).
		Order("executed_at DESC").Limit(limit).Offset(offset).Find(&trades).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find trades: %w", err)
	}
	return trades, count, nil
}
