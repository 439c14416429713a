package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"predimarket/internal/events"
	"predimarket/pkg/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewServer(events.NewBus(), database, "test-secret")
}

func doJSON(s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

// registerAndLogin exercises the real register/login handlers and returns the
// new user's id and bearer token.
func registerAndLogin(t *testing.T, s *Server, email string) (userID, token string) {
	t.Helper()
	rec := doJSON(s, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": email, "email": email, "password": "hunter22",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	var reg struct{ UserID string `json:"user_id"` }
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	rec = doJSON(s, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": "hunter22",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var login struct{ Token string `json:"token"` }
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return reg.UserID, login.Token
}

func TestRegisterLoginAndWalletDeposit(t *testing.T) {
	s := newTestServer(t)
	_, token := registerAndLogin(t, s, "trader@example.com")

	rec := doJSON(s, http.MethodGet, "/api/v1/wallet", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("get wallet: status %d body %s", rec.Code, rec.Body.String())
	}
	var w db.Wallet
	if err := json.Unmarshal(rec.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Fatalf("fresh wallet balance = %s, want 0", w.Balance)
	}

	rec = doJSON(s, http.MethodPost, "/api/v1/wallet/deposit", map[string]string{"amount": "100"}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(s, http.MethodGet, "/api/v1/wallet", nil, token)
	if err := json.Unmarshal(rec.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance after deposit = %s, want 100", w.Balance)
	}
}

func TestWalletRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/v1/wallet", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	s := newTestServer(t)
	_, token := registerAndLogin(t, s, "notadmin@example.com")

	rec := doJSON(s, http.MethodPost, "/api/v1/admin/markets", map[string]any{
		"title": "Will it rain", "start_time": time.Now(), "end_time": time.Now().Add(time.Hour),
	}, token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 body %s", rec.Code, rec.Body.String())
	}
}

func TestBuyThroughHTTPAndQuoteMatchesExecutedPrice(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := registerAndLogin(t, s, "admin@example.com")
	if err := db.SetUserRole(context.Background(), s.DB.DB, userIDFromToken(t, s, adminToken), db.RoleAdmin); err != nil {
		t.Fatalf("promote admin: %v", err)
	}

	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)
	rec := doJSON(s, http.MethodPost, "/api/v1/admin/markets", map[string]any{
		"title": "Will it rain tomorrow", "liquidity_b": "1000",
		"start_time": start, "end_time": end,
	}, adminToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d body %s", rec.Code, rec.Body.String())
	}
	var m db.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode market: %v", err)
	}

	rec = doJSON(s, http.MethodPost, fmt.Sprintf("/api/v1/admin/markets/%s/transition", m.ID), map[string]string{
		"status": string(db.MarketActive),
	}, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate market: status %d body %s", rec.Code, rec.Body.String())
	}

	_, traderToken := registerAndLogin(t, s, "buyer@example.com")
	doJSON(s, http.MethodPost, "/api/v1/wallet/deposit", map[string]string{"amount": "500"}, traderToken)

	rec = doJSON(s, http.MethodGet, fmt.Sprintf("/api/v1/markets/%s/quote?side=yes&type=buy&amount=10", m.ID), nil, traderToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote: status %d body %s", rec.Code, rec.Body.String())
	}
	var quote struct{ TotalCost float64 }
	if err := json.Unmarshal(rec.Body.Bytes(), &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}

	rec = doJSON(s, http.MethodPost, "/api/v1/trades/buy", map[string]any{
		"market_id": m.ID, "side": "yes", "amount": "10",
	}, traderToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: status %d body %s", rec.Code, rec.Body.String())
	}
	var tr db.Trade
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if !tr.Cost.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("trade cost = %s, want 10", tr.Cost)
	}
	if !decimal.NewFromFloat(quote.TotalCost).Equal(tr.Cost) {
		t.Fatalf("quoted total cost = %v, executed cost = %s", quote.TotalCost, tr.Cost)
	}

	rec = doJSON(s, http.MethodGet, "/api/v1/positions", nil, traderToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("list positions: status %d body %s", rec.Code, rec.Body.String())
	}
	var body struct{ Positions []db.Position `json:"positions"` }
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if len(body.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(body.Positions))
	}
}

func userIDFromToken(t *testing.T, s *Server, token string) string {
	t.Helper()
	userID, err := parseToken(token, s.JWTSecret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return userID
}
