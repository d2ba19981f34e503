package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a strategy owner in the system
type Account struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Username  string    `json:"username" gorm:"uniqueIndex" validate:"required,min=3,max=30,alphanum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Strategy represents a trading strategy owned by an account
type Strategy struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	AccountID   uuid.UUID `json:"account_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Name        string    `json:"name" gorm:"uniqueIndex" validate:"required,min=1,max=100"`
	Description string    `json:"description" validate:"omitempty,max=500"`

	ShortMAPeriod  int             `json:"short_ma_period" validate:"required,gt=0"`
	LongMAPeriod   int             `json:"long_ma_period" validate:"required,gt=0"`
	RSIPeriod      int             `json:"rsi_period" validate:"omitempty,gt=0"`
	EntryThreshold decimal.Decimal `json:"entry_threshold" gorm:"type:decimal(10,4)"`
	ExitThreshold  decimal.Decimal `json:"exit_threshold" gorm:"type:decimal(10,4)"`
	StopLoss       decimal.Decimal `json:"stop_loss" gorm:"type:decimal(10,4)"`
	TakeProfit     decimal.Decimal `json:"take_profit" gorm:"type:decimal(10,4)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backtest represents a simulated trading run with its own cash balance.
// Balance is mutated only by the settlement engine on trade commit.
type Backtest struct {
	ID         uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	StrategyID uuid.UUID       `json:"strategy_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Name       string          `json:"name" gorm:"uniqueIndex" validate:"required,min=1,max=100"`
	Balance    decimal.Decimal `json:"balance" gorm:"type:decimal(25,4)"`

	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Holding represents the share quantity of a ticker held within one backtest.
// At most one holding exists per (backtest, ticker); a sell that exhausts the
// position leaves a zero-quantity row.
type Holding struct {
	ID         uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	BacktestID uuid.UUID       `json:"backtest_id" gorm:"type:uuid;index;uniqueIndex:idx_backtest_ticker" validate:"required,uuid"`
	Ticker     string          `json:"ticker" gorm:"uniqueIndex:idx_backtest_ticker" validate:"required,min=1,max=12"`
	Shares     decimal.Decimal `json:"shares" gorm:"type:decimal(25,4)"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TradeSide discriminates buy and sell trades
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade represents an immutable buy or sell record affecting balance and
// holdings. Exactly one of EntryPrice (buy) or ExitPrice (sell) is set,
// selected by the Side discriminator. Trades are only ever appended.
type Trade struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	BacktestID uuid.UUID `json:"backtest_id" gorm:"type:uuid;index" validate:"required,uuid"`
	HoldingID  uuid.UUID `json:"holding_id" gorm:"type:uuid;index" validate:"required,uuid"`

	Ticker string          `json:"ticker" gorm:"index" validate:"required,min=1,max=12"`
	Shares decimal.Decimal `json:"shares" gorm:"type:decimal(25,4)"`
	Side   TradeSide       `json:"side" validate:"required,oneof=buy sell"`

	EntryPrice *decimal.Decimal `json:"entry_price,omitempty" gorm:"type:decimal(10,4)"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty" gorm:"type:decimal(10,4)"`

	ExecutedAt time.Time `json:"executed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Price returns the side-specific price of the trade.
func (t *Trade) Price() decimal.Decimal {
	if t.Side == TradeSideBuy && t.EntryPrice != nil {
		return *t.EntryPrice
	}
	if t.Side == TradeSideSell && t.ExitPrice != nil {
		return *t.ExitPrice
	}
	return decimal.Zero
}
