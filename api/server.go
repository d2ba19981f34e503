// Package api exposes the ledger over HTTP in front of the account,
// backtest and settlement services.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/strategybot/stratledger/internal/accounts"
	"github.com/strategybot/stratledger/internal/backtest"
	"github.com/strategybot/stratledger/internal/settlement"
)

// Server represents the API server
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	accounts  accounts.AccountService
	backtests backtest.BacktestService
	engine    *settlement.Engine
	validate  *validator.Validate
}

// NewServer creates a new API server with injected services
func NewServer(
	logger *zap.Logger,
	accountSvc accounts.AccountService,
	backtestSvc backtest.BacktestService,
	engine *settlement.Engine,
) *Server {
	server := &Server{
		logger:    logger,
		accounts:  accountSvc,
		backtests: backtestSvc,
		engine:    engine,
		validate:  validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))

		v1.POST("/accounts", s.createAccount)
		v1.GET("/accounts/:id", s.getAccount)
		v1.GET("/accounts/:id/strategies", s.listStrategies)

		v1.POST("/strategies", s.createStrategy)
		v1.GET("/strategies/:id", s.getStrategy)
		v1.GET("/strategies/:id/backtests", s.listBacktests)

		v1.POST("/backtests", s.createBacktest)
		v1.GET("/backtests/:id", s.getBacktest)
		v1.GET("/backtests/:id/holdings", s.listHoldings)
		v1.GET("/backtests/:id/trades", s.listTrades)
		v1.POST("/backtests/:id/trades", s.submitTrade)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
