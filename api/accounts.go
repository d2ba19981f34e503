package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/strategybot/stratledger/internal/accounts"
	"github.com/strategybot/stratledger/internal/backtest"
	"github.com/strategybot/stratledger/pkg/models"
)

// CreateAccountRequest represents an account creation request
type CreateAccountRequest struct {
	Username string `json:"username" binding:"required" validate:"required,min=3,max=30,alphanum"`
}

// CreateStrategyRequest represents a strategy creation request
type CreateStrategyRequest struct {
	AccountID   uuid.UUID `json:"account_id" binding:"required" validate:"required"`
	Name        string    `json:"name" binding:"required" validate:"required,min=1,max=100"`
	Description string    `json:"description" validate:"omitempty,max=500"`

	ShortMAPeriod  int             `json:"short_ma_period" binding:"required" validate:"required,gt=0"`
	LongMAPeriod   int             `json:"long_ma_period" binding:"required" validate:"required,gt=0,gtfield=ShortMAPeriod"`
	RSIPeriod      int             `json:"rsi_period" validate:"omitempty,gt=0"`
	EntryThreshold decimal.Decimal `json:"entry_threshold"`
	ExitThreshold  decimal.Decimal `json:"exit_threshold"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
}

// CreateBacktestRequest represents a backtest creation request
type CreateBacktestRequest struct {
	StrategyID  uuid.UUID       `json:"strategy_id" binding:"required" validate:"required"`
	Name        string          `json:"name" binding:"required" validate:"required,min=1,max=100"`
	Balance     decimal.Decimal `json:"balance" binding:"required"`
	PeriodStart time.Time       `json:"period_start" binding:"required" validate:"required"`
	PeriodEnd   time.Time       `json:"period_end" binding:"required" validate:"required"`
}

// POST /api/v1/accounts
func (s *Server) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := s.accounts.CreateAccount(c.Request.Context(), req.Username)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// GET /api/v1/accounts/:id
func (s *Server) getAccount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	account, err := s.accounts.GetAccount(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// GET /api/v1/accounts/:id/strategies
func (s *Server) listStrategies(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	strategies, err := s.accounts.ListStrategies(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies})
}

// POST /api/v1/strategies
func (s *Server) createStrategy(c *gin.Context) {
	var req CreateStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strategy, err := s.accounts.CreateStrategy(c.Request.Context(), &models.Strategy{
		AccountID:      req.AccountID,
		Name:           req.Name,
		Description:    req.Description,
		ShortMAPeriod:  req.ShortMAPeriod,
		LongMAPeriod:   req.LongMAPeriod,
		RSIPeriod:      req.RSIPeriod,
		EntryThreshold: req.EntryThreshold,
		ExitThreshold:  req.ExitThreshold,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
	})
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, strategy)
}

// GET /api/v1/strategies/:id
func (s *Server) getStrategy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return
	}
	strategy, err := s.accounts.GetStrategy(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, strategy)
}

// GET /api/v1/strategies/:id/backtests
func (s *Server) listBacktests(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return
	}
	backtests, err := s.backtests.ListBacktests(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtests": backtests})
}

// POST /api/v1/backtests
func (s *Server) createBacktest(c *gin.Context) {
	var req CreateBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bt, err := s.backtests.CreateBacktest(c.Request.Context(),
		req.StrategyID, req.Name, req.Balance, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bt)
}

// GET /api/v1/backtests/:id
func (s *Server) getBacktest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backtest id"})
		return
	}
	bt, err := s.backtests.GetBacktest(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// GET /api/v1/backtests/:id/holdings
func (s *Server) listHoldings(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backtest id"})
		return
	}
	holdings, err := s.backtests.ListHoldings(c.Request.Context(), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

// GET /api/v1/backtests/:id/trades
func (s *Server) listTrades(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backtest id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	trades, total, err := s.backtests.ListTrades(c.Request.Context(), id, limit, offset)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "total": total})
}

// writeServiceError maps account/backtest service failures to HTTP statuses.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrNotFound), errors.Is(err, backtest.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
