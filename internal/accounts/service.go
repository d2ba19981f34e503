// Package accounts manages strategy owners and their strategy definitions.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strategybot/stratledger/pkg/models"
)

// ErrNotFound is returned when a requested account or strategy does not exist.
var ErrNotFound = errors.New("not found")

// AccountService defines account and strategy lifecycle operations
type AccountService interface {
	CreateAccount(ctx context.Context, username string) (*models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	CreateStrategy(ctx context.Context, strategy *models.Strategy) (*models.Strategy, error)
	GetStrategy(ctx context.Context, id uuid.UUID) (*models.Strategy, error)
	ListStrategies(ctx context.Context, accountID uuid.UUID) ([]*models.Strategy, error)
}

// Service implements AccountService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new AccountService
func NewService(logger *zap.Logger, db *gorm.DB) (AccountService, error) {
	return &Service{logger: logger, db: db}, nil
}

// CreateAccount creates an account for a strategy owner
func (s *Service) CreateAccount(ctx context.Context, username string) (*models.Account, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	// Check if the username is taken
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("account already exists")
	}

	account := &models.Account{
		ID:        uuid.New(),
		Username:  username,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("username", username))
	return account, nil
}

// GetAccount gets an account by id
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

// CreateStrategy creates a strategy for an account
func (s *Service) CreateStrategy(ctx context.Context, strategy *models.Strategy) (*models.Strategy, error) {
	if strategy.Name == "" {
		return nil, fmt.Errorf("strategy name is required")
	}
	if strategy.ShortMAPeriod <= 0 || strategy.LongMAPeriod <= 0 {
		return nil, fmt.Errorf("moving average periods must be positive")
	}
	if strategy.ShortMAPeriod >= strategy.LongMAPeriod {
		return nil, fmt.Errorf("short moving average period must be below the long period")
	}

	// The owning account must exist
	if _, err := s.GetAccount(ctx, strategy.AccountID); err != nil {
		return nil, err
	}

	strategy.ID = uuid.New()
	strategy.CreatedAt = time.Now()
	strategy.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(strategy).Error; err != nil {
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}

	s.logger.Info("strategy created",
		zap.String("strategy_id", strategy.ID.String()),
		zap.String("account_id", strategy.AccountID.String()),
		zap.String("name", strategy.Name))
	return strategy, nil
}

// GetStrategy gets a strategy by id
func (s *Service) GetStrategy(ctx context.Context, id uuid.UUID) (*models.Strategy, error) {
	var strategy models.Strategy
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&strategy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("strategy: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find strategy: %w", err)
	}
	return &strategy, nil
}

// ListStrategies lists all strategies of an account
func (s *Service) ListStrategies(ctx context.Context, accountID uuid.UUID) ([]*models.Strategy, error) {
	var strategies []*models.Strategy
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at DESC").Find(&strategies).Error; err != nil {
		return nil, fmt.Errorf("failed to find strategies: %w", err)
	}
	return strategies, nil
}
