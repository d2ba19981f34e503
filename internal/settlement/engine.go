package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strategybot/stratledger/pkg/models"
)

// DefaultMaxRetries bounds how often a settlement is re-run after an
// optimistic commit conflict before ConcurrencyConflictError is surfaced.
const DefaultMaxRetries = 3

// errCommitConflict signals that a guarded write lost the race against a
// concurrent settlement and the whole sequence must be re-run.
var errCommitConflict = errors.New("settlement: commit conflict")

// TradeIntent is a proposed buy or sell trade against a backtest.
type TradeIntent struct {
	BacktestID uuid.UUID        `json:"backtest_id" validate:"required"`
	Ticker     string           `json:"ticker" validate:"required,min=1,max=12"`
	Shares     decimal.Decimal  `json:"shares" validate:"required"`
	Price      decimal.Decimal  `json:"price" validate:"required"`
	Side       models.TradeSide `json:"side" validate:"required,oneof=buy sell"`
}

// SettledTrade is the result of a committed settlement.
type SettledTrade struct {
	TradeID          uuid.UUID       `json:"trade_id"`
	NewBalance       decimal.Decimal `json:"new_balance"`
	NewHoldingShares decimal.Decimal `json:"new_holding_shares"`
}

// Engine settles trade intents against backtest balance and holding rows.
// All state lives in the injected storage handle; engines are safe for
// concurrent use and cheap to construct per test.
type Engine struct {
	db         *gorm.DB
	logger     *zap.Logger
	maxRetries int
}

// NewEngine creates a settlement engine on top of the given storage handle.
func NewEngine(db *gorm.DB, logger *zap.Logger, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{db: db, logger: logger, maxRetries: maxRetries}
}

// Settle validates the intent, derives the post-trade balance and holding
// values and applies them atomically together with the trade row. On an
// optimistic commit conflict the whole load-validate-write sequence is
// re-run up to the retry bound. Rejections leave zero observable effect.
func (e *Engine) Settle(ctx context.Context, intent *TradeIntent) (*SettledTrade, error) {
	if err := validateIntent(intent); err != nil {
		return nil, err
	}

	attempts := e.maxRetries + 1
	for i := 0; i < attempts; i++ {
		settled, err := e.settleOnce(ctx, intent)
		if errors.Is(err, errCommitConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		e.logger.Info("trade settled",
			zap.String("trade_id", settled.TradeID.String()),
			zap.String("backtest_id", intent.BacktestID.String()),
			zap.String("ticker", intent.Ticker),
			zap.String("side", string(intent.Side)),
			zap.String("shares", intent.Shares.String()),
			zap.String("price", intent.Price.String()),
			zap.String("new_balance", settled.NewBalance.String()))
		return settled, nil
	}
	return nil, &ConcurrencyConflictError{Attempts: attempts}
}

// validateIntent rejects malformed intents before any row is loaded.
func validateIntent(intent *TradeIntent) error {
	if intent.BacktestID == uuid.Nil {
		return &ValidationError{Field: "backtest_id", Reason: "is required"}
	}
	if intent.Ticker == "" {
		return &ValidationError{Field: "ticker", Reason: "is required"}
	}
	if intent.Shares.Sign() <= 0 {
		return &ValidationError{Field: "shares", Reason: "must be positive"}
	}
	if intent.Price.Sign() <= 0 {
		return &ValidationError{Field: "price", Reason: "must be positive"}
	}
	if intent.Side != models.TradeSideBuy && intent.Side != models.TradeSideSell {
		return &ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	return nil
}

// settleOnce runs one load-validate-write sequence in a single storage
// transaction. It returns errCommitConflict when a guarded write finds the
// rows changed under it, and classifies everything unexpected as a
// StorageFault.
func (e *Engine) settleOnce(ctx context.Context, intent *TradeIntent) (*SettledTrade, error) {
	var settled *SettledTrade

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var backtest models.Backtest
		if err := tx.Where("id = ?", intent.BacktestID).First(&backtest).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &MissingReferenceError{Field: "backtest"}
			}
			return err
		}

		var holding models.Holding
		hasHolding := true
		err := tx.Where("backtest_id = ? AND ticker = ?", intent.BacktestID, intent.Ticker).
			First(&holding).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			hasHolding = false
		}

		var result *SettledTrade
		switch intent.Side {
		case models.TradeSideBuy:
			result, err = e.settleBuy(tx, intent, &backtest, &holding, hasHolding)
		case models.TradeSideSell:
			result, err = e.settleSell(tx, intent, &backtest, &holding, hasHolding)
		}
		if err != nil {
			return err
		}
		settled = result
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return settled, nil
}

// settleBuy implements the buy-in protocol: funds check against the cost,
// balance decreases, holding shares increase (or a new holding is created
// on the first buy of a ticker).
func (e *Engine) settleBuy(tx *gorm.DB, intent *TradeIntent, backtest *models.Backtest, holding *models.Holding, hasHolding bool) (*SettledTrade, error) {
	cost := Total(intent.Shares, intent.Price)
	if err := RequireSufficient(backtest.Balance, cost, "balance"); err != nil {
		return nil, err
	}

	newBalance := ApplySignedDelta(backtest.Balance, cost, -1)

	now := time.Now()
	var newShares decimal.Decimal
	var holdingID uuid.UUID
	if hasHolding {
		newShares = ApplySignedDelta(holding.Shares, intent.Shares, +1)
		holdingID = holding.ID
		if err := e.updateHoldingShares(tx, holding, newShares, now); err != nil {
			return nil, err
		}
	} else {
		newShares = intent.Shares
		holdingID = uuid.New()
		created := &models.Holding{
			ID:         holdingID,
			BacktestID: intent.BacktestID,
			Ticker:     intent.Ticker,
			Shares:     newShares,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(created).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent first buy of the same ticker got there first.
				return nil, errCommitConflict
			}
			return nil, err
		}
	}

	if err := e.updateBacktestBalance(tx, backtest, newBalance, now); err != nil {
		return nil, err
	}

	entryPrice := intent.Price
	trade := &models.Trade{
		ID:         uuid.New(),
		BacktestID: intent.BacktestID,
		HoldingID:  holdingID,
		Ticker:     intent.Ticker,
		Shares:     intent.Shares,
		Side:       models.TradeSideBuy,
		EntryPrice: &entryPrice,
		ExecutedAt: now,
		CreatedAt:  now,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, err
	}

	return &SettledTrade{TradeID: trade.ID, NewBalance: newBalance, NewHoldingShares: newShares}, nil
}

// settleSell implements the exit protocol: the position must exist and
// cover the requested shares, balance increases by the proceeds, holding
// shares decrease. A fully exited holding is kept as a zero-quantity row.
func (e *Engine) settleSell(tx *gorm.DB, intent *TradeIntent, backtest *models.Backtest, holding *models.Holding, hasHolding bool) (*SettledTrade, error) {
	if !hasHolding {
		return nil, &MissingReferenceError{Field: "holding"}
	}
	if err := RequireSufficient(holding.Shares, intent.Shares, "shares"); err != nil {
		return nil, err
	}

	proceeds := Total(intent.Shares, intent.Price)
	newBalance := ApplySignedDelta(backtest.Balance, proceeds, +1)
	newShares := ApplySignedDelta(holding.Shares, intent.Shares, -1)

	now := time.Now()
	if err := e.updateHoldingShares(tx, holding, newShares, now); err != nil {
		return nil, err
	}
	if err := e.updateBacktestBalance(tx, backtest, newBalance, now); err != nil {
		return nil, err
	}

	exitPrice := intent.Price
	trade := &models.Trade{
		ID:         uuid.New(),
		BacktestID: intent.BacktestID,
		HoldingID:  holding.ID,
		Ticker:     intent.Ticker,
		Shares:     intent.Shares,
		Side:       models.TradeSideSell,
		ExitPrice:  &exitPrice,
		ExecutedAt: now,
		CreatedAt:  now,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, err
	}

	return &SettledTrade{TradeID: trade.ID, NewBalance: newBalance, NewHoldingShares: newShares}, nil
}

// updateBacktestBalance writes the new balance guarded by the balance read
// at load time. Zero rows affected means another settlement committed in
// between and the sequence must be re-run.
func (e *Engine) updateBacktestBalance(tx *gorm.DB, backtest *models.Backtest, newBalance decimal.Decimal, now time.Time) error {
	result := tx.Model(&models.Backtest{}).
		Where("id = ? AND balance = ?", backtest.ID, backtest.Balance).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errCommitConflict
	}
	return nil
}

// updateHoldingShares writes the new share quantity guarded by the quantity
// read at load time.
func (e *Engine) updateHoldingShares(tx *gorm.DB, holding *models.Holding, newShares decimal.Decimal, now time.Time) error {
	result := tx.Model(&models.Holding{}).
		Where("id = ? AND shares = ?", holding.ID, holding.Shares).
		Updates(map[string]interface{}{
			"shares":     newShares,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errCommitConflict
	}
	return nil
}

// classify keeps the settlement taxonomy intact across the transaction
// boundary and wraps everything else as a StorageFault.
func classify(err error) error {
	var validation *ValidationError
	var missing *MissingReferenceError
	var insufficient *InsufficientResourceError
	switch {
	case errors.Is(err, errCommitConflict),
		errors.As(err, &validation),
		errors.As(err, &missing),
		errors.As(err, &insufficient):
		return err
	default:
		return &StorageFault{Err: err}
	}
}
