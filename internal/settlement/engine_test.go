package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/strategybot/stratledger/pkg/models"
)

func setupTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every transaction on the same in-memory
	// database and serializes concurrent settlements at commit time.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Backtest{}, &models.Holding{}, &models.Trade{}))
	return NewEngine(db, zap.NewNop(), 0), db
}

func seedBacktest(t *testing.T, db *gorm.DB, balance string) *models.Backtest {
	t.Helper()
	backtest := &models.Backtest{
		ID:          uuid.New(),
		StrategyID:  uuid.New(),
		Name:        "bt-" + uuid.NewString(),
		Balance:     decimal.RequireFromString(balance),
		PeriodStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(backtest).Error)
	return backtest
}

func seedHolding(t *testing.T, db *gorm.DB, backtestID uuid.UUID, ticker, shares string) *models.Holding {
	t.Helper()
	holding := &models.Holding{
		ID:         uuid.New(),
		BacktestID: backtestID,
		Ticker:     ticker,
		Shares:     decimal.RequireFromString(shares),
	}
	require.NoError(t, db.Create(holding).Error)
	return holding
}

func reloadBacktest(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Backtest {
	t.Helper()
	var backtest models.Backtest
	require.NoError(t, db.Where("id = ?", id).First(&backtest).Error)
	return &backtest
}

func reloadHolding(t *testing.T, db *gorm.DB, backtestID uuid.UUID, ticker string) *models.Holding {
	t.Helper()
	var holding models.Holding
	require.NoError(t, db.Where("backtest_id = ? AND ticker = ?", backtestID, ticker).First(&holding).Error)
	return &holding
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestSettleBuyThenSell(t *testing.T) {
	engine, db := setupTestEngine(t)
	ctx := context.Background()
	backtest := seedBacktest(t, db, "10000.00")

	// Buy 50 shares at 100.00: cost 5000.00.
	settled, err := engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "AAPL",
		Shares:     decimal.RequireFromString("50"),
		Price:      decimal.RequireFromString("100.00"),
		Side:       models.TradeSideBuy,
	})
	require.NoError(t, err)
	require.True(t, settled.NewBalance.Equal(decimal.NewFromInt(5000)),
		"balance after buy: %s", settled.NewBalance)
	require.True(t, settled.NewHoldingShares.Equal(decimal.NewFromInt(50)))

	holding := reloadHolding(t, db, backtest.ID, "AAPL")
	require.True(t, holding.Shares.Equal(decimal.NewFromInt(50)))

	// Sell 20 shares at 120.00: proceeds 2400.00.
	settled, err = engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "AAPL",
		Shares:     decimal.RequireFromString("20"),
		Price:      decimal.RequireFromString("120.00"),
		Side:       models.TradeSideSell,
	})
	require.NoError(t, err)
	require.True(t, settled.NewBalance.Equal(decimal.NewFromInt(7400)),
		"balance after sell: %s", settled.NewBalance)
	require.True(t, settled.NewHoldingShares.Equal(decimal.NewFromInt(30)))

	require.True(t, reloadBacktest(t, db, backtest.ID).Balance.Equal(decimal.NewFromInt(7400)))
	require.EqualValues(t, 2, countRows(t, db, &models.Trade{}))
}

func TestSettleBuyUpdatesExistingHolding(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "10000.00")
	seedHolding(t, db, backtest.ID, "AAPL", "5")

	settled, err := engine.Settle(context.Background(), &TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "AAPL",
		Shares:     decimal.RequireFromString("3"),
		Price:      decimal.RequireFromString("10.00"),
		Side:       models.TradeSideBuy,
	})
	require.NoError(t, err)
	require.True(t, settled.NewHoldingShares.Equal(decimal.NewFromInt(8)))

	// Still exactly one holding row for the (backtest, ticker) pair.
	require.EqualValues(t, 1, countRows(t, db, &models.Holding{}))
}

func TestSettleBuyInsufficientBalance(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "100.00")

	_, err := engine.Settle(context.Background(), &TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "AAPL",
		Shares:     decimal.RequireFromString("2"),
		Price:      decimal.RequireFromString("100.00"),
		Side:       models.TradeSideBuy,
	})
	var insufficient *InsufficientResourceError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "balance", insufficient.Resource)

	// Rejection is a no-op: balance untouched, no trade, no holding.
	require.True(t, reloadBacktest(t, db, backtest.ID).Balance.Equal(decimal.NewFromInt(100)))
	require.EqualValues(t, 0, countRows(t, db, &models.Trade{}))
	require.EqualValues(t, 0, countRows(t, db, &models.Holding{}))
}

func TestSettleSellInsufficientShares(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "1000.00")
	seedHolding(t, db, backtest.ID, "AAPL", "0.5")

	_, err := engine.Settle(context.Background(), &TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "AAPL",
		Shares:     decimal.NewFromInt(1),
		Price:      decimal.RequireFromString("100.00"),
		Side:       models.TradeSideSell,
	})
	var insufficient *InsufficientResourceError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "shares", insufficient.Resource)

	require.True(t, reloadHolding(t, db, backtest.ID, "AAPL").Shares.Equal(decimal.RequireFromString("0.5")))
	require.True(t, reloadBacktest(t, db, backtest.ID).Balance.Equal(decimal.NewFromInt(1000)))
	require.EqualValues(t, 0, countRows(t, db, &models.Trade{}))
}

func TestSettleSellWithoutHolding(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "1000.00")

	_, err := engine.Settle(context.Background(), &TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "TSLA",
		Shares:     decimal.NewFromInt(1),
		Price:      decimal.RequireFromString("100.00"),
		Side:       models.TradeSideSell,
	})
	var missing *MissingReferenceError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "holding", missing.Field)
	require.EqualValues(t, 0, countRows(t, db, &models.Trade{}))
}

func TestSettleUnknownBacktest(t *testing.T) {
	engine, _ := setupTestEngine(t)

	_, err := engine.Settle(context.Background(), &TradeIntent{
		BacktestID: uuid.New(),
		Ticker:     "AAPL",
		Shares:     decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		Side:       models.TradeSideBuy,
	})
	var missing *MissingReferenceError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "backtest", missing.Field)
}

func TestSettleRejectsMalformedIntent(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "1000.00")

	tests := []struct {
		name   string
		intent TradeIntent
		field  string
	}{
		{"missing backtest id", TradeIntent{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Side: models.TradeSideBuy}, "backtest_id"},
		{"missing ticker", TradeIntent{BacktestID: backtest.ID, Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Side: models.TradeSideBuy}, "ticker"},
		{"zero shares", TradeIntent{BacktestID: backtest.ID, Ticker: "AAPL", Price: decimal.NewFromInt(1), Side: models.TradeSideBuy}, "shares"},
		{"negative shares", TradeIntent{BacktestID: backtest.ID, Ticker: "AAPL", Shares: decimal.NewFromInt(-1), Price: decimal.NewFromInt(1), Side: models.TradeSideSell}, "shares"},
		{"zero price", TradeIntent{BacktestID: backtest.ID, Ticker: "AAPL", Shares: decimal.NewFromInt(1), Side: models.TradeSideBuy}, "price"},
		{"negative price", TradeIntent{BacktestID: backtest.ID, Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(-5), Side: models.TradeSideBuy}, "price"},
		{"bad side", TradeIntent{BacktestID: backtest.ID, Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Side: "hold"}, "side"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Settle(context.Background(), &tt.intent)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			require.Equal(t, tt.field, validation.Field)
		})
	}

	// Intake rejections never reach storage.
	require.EqualValues(t, 0, countRows(t, db, &models.Trade{}))
	require.True(t, reloadBacktest(t, db, backtest.ID).Balance.Equal(decimal.NewFromInt(1000)))
}

func TestSettleRoundTripRestoresBalance(t *testing.T) {
	engine, db := setupTestEngine(t)
	ctx := context.Background()
	backtest := seedBacktest(t, db, "10000.00")
	price := decimal.RequireFromString("33.3333")
	shares := decimal.RequireFromString("7.5")

	_, err := engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID, Ticker: "MSFT", Shares: shares, Price: price, Side: models.TradeSideBuy,
	})
	require.NoError(t, err)
	settled, err := engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID, Ticker: "MSFT", Shares: shares, Price: price, Side: models.TradeSideSell,
	})
	require.NoError(t, err)

	require.True(t, settled.NewBalance.Equal(decimal.NewFromInt(10000)),
		"round trip drifted: %s", settled.NewBalance)
	require.True(t, settled.NewHoldingShares.Equal(decimal.Zero))
}

func TestSettleSellToZeroKeepsHolding(t *testing.T) {
	engine, db := setupTestEngine(t)
	ctx := context.Background()
	backtest := seedBacktest(t, db, "1000.00")
	holding := seedHolding(t, db, backtest.ID, "AAPL", "4")

	_, err := engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID, Ticker: "AAPL",
		Shares: decimal.NewFromInt(4), Price: decimal.NewFromInt(10),
		Side: models.TradeSideSell,
	})
	require.NoError(t, err)

	// The exhausted holding stays as a zero-quantity row ...
	after := reloadHolding(t, db, backtest.ID, "AAPL")
	require.Equal(t, holding.ID, after.ID)
	require.True(t, after.Shares.Equal(decimal.Zero))

	// ... and a subsequent buy updates it instead of creating a duplicate.
	_, err = engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID, Ticker: "AAPL",
		Shares: decimal.NewFromInt(2), Price: decimal.NewFromInt(10),
		Side: models.TradeSideBuy,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, countRows(t, db, &models.Holding{}))
	require.Equal(t, holding.ID, reloadHolding(t, db, backtest.ID, "AAPL").ID)
}

func TestConcurrentSellsNoOversell(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "0.00")
	seedHolding(t, db, backtest.ID, "AAPL", "10")

	intent := TradeIntent{
		BacktestID: backtest.ID,
		Ticker:     "AAPL",
		Shares:     decimal.NewFromInt(10),
		Price:      decimal.NewFromInt(50),
		Side:       models.TradeSideSell,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			local := intent
			_, errs[i] = engine.Settle(context.Background(), &local)
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *InsufficientResourceError
		if !errors.As(err, &insufficient) {
			t.Fatalf("unexpected error kind: %v", err)
		}
		rejected++
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one success and one rejection, got %d/%d", succeeded, rejected)
	}

	// The position sold exactly once.
	require.True(t, reloadHolding(t, db, backtest.ID, "AAPL").Shares.Equal(decimal.Zero))
	require.True(t, reloadBacktest(t, db, backtest.ID).Balance.Equal(decimal.NewFromInt(500)))
	require.EqualValues(t, 1, countRows(t, db, &models.Trade{}))
}

func TestSettleCancelledContext(t *testing.T) {
	engine, db := setupTestEngine(t)
	backtest := seedBacktest(t, db, "1000.00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Settle(ctx, &TradeIntent{
		BacktestID: backtest.ID, Ticker: "AAPL",
		Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(10),
		Side: models.TradeSideBuy,
	})
	var fault *StorageFault
	require.ErrorAs(t, err, &fault)

	// An abort before commit leaves zero observable effect.
	require.True(t, reloadBacktest(t, db, backtest.ID).Balance.Equal(decimal.NewFromInt(1000)))
	require.EqualValues(t, 0, countRows(t, db, &models.Trade{}))
	require.EqualValues(t, 0, countRows(t, db, &models.Holding{}))
}
