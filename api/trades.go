package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/strategybot/stratledger/internal/settlement"
	"github.com/strategybot/stratledger/pkg/metrics"
	"github.com/strategybot/stratledger/pkg/models"
)

// SubmitTradeRequest represents a trade intent submitted over HTTP
type SubmitTradeRequest struct {
	Ticker string           `json:"ticker" binding:"required" validate:"required,min=1,max=12"`
	Shares decimal.Decimal  `json:"shares" binding:"required"`
	Price  decimal.Decimal  `json:"price" binding:"required"`
	Side   models.TradeSide `json:"side" binding:"required" validate:"required,oneof=buy sell"`
}

// POST /api/v1/backtests/:id/trades
func (s *Server) submitTrade(c *gin.Context) {
	backtestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backtest id"})
		return
	}

	var req SubmitTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	settled, err := s.engine.Settle(c.Request.Context(), &settlement.TradeIntent{
		BacktestID: backtestID,
		Ticker:     req.Ticker,
		Shares:     req.Shares,
		Price:      req.Price,
		Side:       req.Side,
	})
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeSettlementError(c, err)
		return
	}

	metrics.TradesSettled.WithLabelValues(string(req.Side)).Inc()
	c.JSON(http.StatusCreated, settled)
}

// writeSettlementError maps the settlement error taxonomy to HTTP statuses.
// Errors keep their kind and offending resource all the way to the response.
func (s *Server) writeSettlementError(c *gin.Context, err error) {
	var validation *settlement.ValidationError
	var missing *settlement.MissingReferenceError
	var insufficient *settlement.InsufficientResourceError
	var conflict *settlement.ConcurrencyConflictError

	switch {
	case errors.As(err, &validation):
		metrics.TradesRejected.WithLabelValues("validation").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validation.Field})
	case errors.As(err, &missing):
		metrics.TradesRejected.WithLabelValues("missing_reference").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "field": missing.Field})
	case errors.As(err, &insufficient):
		metrics.TradesRejected.WithLabelValues("insufficient_" + insufficient.Resource).Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "resource": insufficient.Resource})
	case errors.As(err, &conflict):
		metrics.TradesRejected.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		metrics.TradesRejected.WithLabelValues("storage").Inc()
		s.logger.Error("settlement storage fault", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade not settled"})
	}
}
