package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"predimarket/internal/ledger"
	"predimarket/internal/market"
	"predimarket/internal/money"
	"predimarket/internal/pricing"
	"predimarket/internal/trade"
	"predimarket/pkg/db"
)

// listQuery is the shared pagination-clamping pattern every list endpoint
// binds into.
type listQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": what + " not found"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": msg})
}

// --- markets -----------------------------------------------------------

func (s *Server) listMarkets(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	status := db.MarketStatus(c.Query("status"))
	category := c.Query("category")

	markets, err := db.ListMarkets(c.Request.Context(), s.DB.DB, status, category, q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

func (s *Server) getMarket(c *gin.Context) {
	m, err := db.GetMarketByID(c.Request.Context(), s.DB.DB, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if m == nil {
		notFound(c, "market")
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) listCategories(c *gin.Context) {
	categories, err := db.ListCategories(c.Request.Context(), s.DB.DB)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

type quoteQuery struct {
	Side   string  `form:"side" binding:"required,oneof=yes no"`
	Type   string  `form:"type" binding:"required,oneof=buy sell"`
	Shares float64 `form:"shares"`
	Amount float64 `form:"amount"`
}

// quoteMarket previews an LMSR fill without moving any money; it mirrors the
// pricing the trade executor would apply for the same request.
func (s *Server) quoteMarket(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, err := db.GetMarketByID(c.Request.Context(), s.DB.DB, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if m == nil {
		notFound(c, "market")
		return
	}

	side := pricing.Yes
	if q.Side == "no" {
		side = pricing.No
	}
	qYes, qNo, b := money.ToFloat(m.QYes), money.ToFloat(m.QNo), money.ToFloat(m.LiquidityB)

	if q.Type == "buy" {
		var quote pricing.BuyQuote
		if q.Shares > 0 {
			quote, err = pricing.QuoteBuyByShares(qYes, qNo, b, trade.FeeRate, side, q.Shares)
		} else {
			quote, err = pricing.QuoteBuyByAmount(qYes, qNo, b, trade.FeeRate, side, q.Amount)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, quote)
		return
	}

	quote, err := pricing.QuoteSellByShares(qYes, qNo, b, trade.FeeRate, side, q.Shares)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// --- wallet --------------------------------------------------------------

func (s *Server) getWallet(c *gin.Context) {
	w, err := db.GetWalletByUserID(c.Request.Context(), s.DB.DB, CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}
	c.JSON(http.StatusOK, w)
}

type walletAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) depositWallet(c *gin.Context) {
	var req walletAmountRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	ctx := c.Request.Context()
	w, err := db.GetWalletByUserID(ctx, s.DB.DB, CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}

	l := ledger.New(s.DB.DB)
	tx, err := l.Deposit(ctx, w.ID, req.Amount, "user deposit")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) withdrawWallet(c *gin.Context) {
	var req walletAmountRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	ctx := c.Request.Context()
	w, err := db.GetWalletByUserID(ctx, s.DB.DB, CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}

	l := ledger.New(s.DB.DB)
	tx, err := l.Withdraw(ctx, w.ID, req.Amount, "user withdrawal")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) listWalletTransactions(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	ctx := c.Request.Context()
	w, err := db.GetWalletByUserID(ctx, s.DB.DB, CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}

	txs, err := db.ListWalletTransactions(ctx, s.DB.DB, w.ID, q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// --- trades ----------------------------------------------------------------

type buyRequest struct {
	MarketID string          `json:"market_id" binding:"required"`
	Side     string          `json:"side" binding:"required,oneof=yes no"`
	Shares   decimal.Decimal `json:"shares"`
	Amount   decimal.Decimal `json:"amount"`
}

func (s *Server) executeBuy(c *gin.Context) {
	var req buyRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	w, err := db.GetWalletByUserID(ctx, s.DB.DB, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}

	tr, err := s.Trade.Buy(ctx, trade.BuyRequest{
		UserID: userID, WalletID: w.ID, MarketID: req.MarketID,
		Side: sideFromString(req.Side), Shares: req.Shares, Amount: req.Amount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

type sellRequest struct {
	MarketID string          `json:"market_id" binding:"required"`
	Side     string          `json:"side" binding:"required,oneof=yes no"`
	Shares   decimal.Decimal `json:"shares" binding:"required"`
}

func (s *Server) executeSell(c *gin.Context) {
	var req sellRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	w, err := db.GetWalletByUserID(ctx, s.DB.DB, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}

	tr, err := s.Trade.Sell(ctx, trade.SellRequest{
		UserID: userID, WalletID: w.ID, MarketID: req.MarketID,
		Side: sideFromString(req.Side), Shares: req.Shares,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (s *Server) listMyTrades(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	trades, err := db.ListTradesByUser(c.Request.Context(), s.DB.DB, CurrentUserID(c), q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) listMyPositions(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	positions, err := db.ListPositionsByUser(c.Request.Context(), s.DB.DB, CurrentUserID(c), q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func sideFromString(v string) db.TradeSide {
	if v == "no" {
		return db.SideNo
	}
	return db.SideYes
}

// --- admin -------------------------------------------------------------

// adminUser strips the password hash before an admin listing leaves the
// process.
type adminUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      db.Role   `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) adminListUsers(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	users, err := db.ListUsers(c.Request.Context(), s.DB.DB, q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]adminUser, 0, len(users))
	for _, u := range users {
		out = append(out, adminUser{ID: u.ID, Email: u.Email, Username: u.Username, Role: u.Role, Active: u.Active, CreatedAt: u.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (s *Server) adminDashboard(c *gin.Context) {
	stats, err := s.Analytics.Dashboard(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) adminCreditWallet(c *gin.Context) {
	var req walletAmountRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	ctx := c.Request.Context()
	w, err := db.GetWalletByID(ctx, s.DB.DB, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if w == nil {
		notFound(c, "wallet")
		return
	}

	l := ledger.New(s.DB.DB)
	tx, err := l.AdminCredit(ctx, w.ID, req.Amount, CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type createMarketRequest struct {
	Title            string          `json:"title" binding:"required"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	ImageURL         string          `json:"image_url"`
	ResolutionSource string          `json:"resolution_source"`
	LiquidityB       decimal.Decimal `json:"liquidity_b"`
	StartTime        time.Time       `json:"start_time" binding:"required"`
	EndTime          time.Time       `json:"end_time" binding:"required"`
}

func (s *Server) adminCreateMarket(c *gin.Context) {
	var req createMarketRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	liquidity := req.LiquidityB
	if liquidity.IsZero() {
		liquidity = decimal.NewFromInt(market.MinLiquidity * 10)
	}

	m, err := s.Market.Create(c.Request.Context(), market.CreateParams{
		Title: req.Title, Description: req.Description, Category: req.Category,
		ImageURL: req.ImageURL, ResolutionSource: req.ResolutionSource,
		LiquidityB: liquidity, StartTime: req.StartTime, EndTime: req.EndTime,
		CreatorID: CurrentUserID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) adminTransitionMarket(c *gin.Context) {
	var req transitionRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	m, err := s.Market.Transition(c.Request.Context(), c.Param("id"), db.MarketStatus(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=yes no"`
}

// adminResolveMarket resolves the market and immediately runs settlement so
// winning positions are paid in the same admin action (spec §4.6).
func (s *Server) adminResolveMarket(c *gin.Context) {
	var req resolveRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	marketID := c.Param("id")
	if _, err := s.Market.Resolve(ctx, marketID, db.Outcome(req.Outcome)); err != nil {
		writeError(c, err)
		return
	}
	n, err := s.Settlement.Settle(ctx, marketID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market_id": marketID, "positions_settled": n})
}

func (s *Server) adminFeeWindows(c *gin.Context) {
	windows, err := s.Analytics.FeeWindows(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

func (s *Server) adminMarketPnL(c *gin.Context) {
	pnl, err := s.Analytics.ReconcileMarket(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pnl)
}

func (s *Server) adminUnsettledExposure(c *gin.Context) {
	topN := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			topN = parsed
		}
	}
	report, err := s.Analytics.UnsettledExposures(c.Request.Context(), topN)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) adminFeeContributors(c *gin.Context) {
	days := 30
	if v := c.Query("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			days = parsed
		}
	}
	since := time.Now().AddDate(0, 0, -days)
	contributors, err := s.Analytics.FeeContributors(c.Request.Context(), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributors": contributors})
}

func (s *Server) adminPlatformProfit(c *gin.Context) {
	profit, err := s.Analytics.PlatformProfit(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform_profit": profit})
}
