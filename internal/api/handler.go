// Package api is the thin HTTP transport shell around the transactional
// core: auth, routing and request/response translation only. Every
// invariant-bearing decision is made by internal/trade, internal/market,
// internal/ledger, internal/settlement and internal/analytics, which know
// nothing about HTTP; this package's handlers just call into them and map
// their internal/errs.Kind onto a status code (spec §1 scope boundary).
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"predimarket/internal/analytics"
	"predimarket/internal/errs"
	"predimarket/internal/events"
	"predimarket/internal/market"
	"predimarket/internal/settlement"
	"predimarket/internal/trade"
	"predimarket/pkg/db"
)

// Server wires HTTP endpoints around the transactional core and event bus.
type Server struct {
	Router *gin.Engine
	Bus    *events.Bus
	DB     *db.Database

	Trade      *trade.Executor
	Market     *market.Store
	Settlement *settlement.Service
	Analytics  *analytics.Service

	JWTSecret string
}

// NewServer builds the gin router and wires every middleware and route.
func NewServer(bus *events.Bus, database *db.Database, jwtSecret string) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		DB:         database,
		Trade:      trade.New(database, bus),
		Market:     market.New(database.DB),
		Settlement: settlement.New(database, bus),
		Analytics:  analytics.New(database),
		JWTSecret:  jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	v1 := s.Router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(AuthRateLimitMiddleware())
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		v1.GET("/markets", s.listMarkets)
		v1.GET("/markets/:id", s.getMarket)
		v1.GET("/markets/:id/quote", s.quoteMarket)
		v1.GET("/categories", s.listCategories)

		protected := v1.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/wallet", s.getWallet)
			protected.POST("/wallet/deposit", s.depositWallet)
			protected.POST("/wallet/withdraw", s.withdrawWallet)
			protected.GET("/wallet/transactions", s.listWalletTransactions)

			protected.POST("/trades/buy", s.executeBuy)
			protected.POST("/trades/sell", s.executeSell)
			protected.GET("/trades", s.listMyTrades)
			protected.GET("/positions", s.listMyPositions)

			admin := protected.Group("/admin")
			admin.Use(RequireAdmin(s.DB))
			{
				admin.GET("/users", s.adminListUsers)
				admin.GET("/dashboard", s.adminDashboard)
				admin.POST("/wallets/:id/credit", s.adminCreditWallet)
				admin.POST("/markets", s.adminCreateMarket)
				admin.POST("/markets/:id/transition", s.adminTransitionMarket)
				admin.POST("/markets/:id/resolve", s.adminResolveMarket)
				admin.GET("/analytics/fees", s.adminFeeWindows)
				admin.GET("/analytics/markets/:id/pnl", s.adminMarketPnL)
				admin.GET("/analytics/exposure", s.adminUnsettledExposure)
				admin.GET("/analytics/contributors", s.adminFeeContributors)
				admin.GET("/analytics/profit", s.adminPlatformProfit)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

// writeError maps an errs.Kind to an HTTP status code and writes the
// response body.
func writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Unauthorized:
		status = http.StatusUnauthorized
	case errs.Forbidden:
		status = http.StatusForbidden
	case errs.InvalidAmount, errs.InvalidTrade, errs.InvalidTransition:
		status = http.StatusBadRequest
	case errs.InsufficientFunds, errs.InsufficientShares:
		status = http.StatusUnprocessableEntity
	case errs.MarketClosed, errs.OutOfWindow:
		status = http.StatusConflict
	case errs.Conflict:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"code": string(kind), "error": err.Error()})
}
