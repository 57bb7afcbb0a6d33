package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradebot-go/internal/database"
	"tradebot-go/internal/models"
)

func setupRouter(t *testing.T) (*mux.Router, *APIHandler) {
	t.Helper()
	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	h := NewAPIHandler(zap.NewNop(), db)
	r := mux.NewRouter()
	h.Routes(r)
	return r, h
}

func get(t *testing.T, r http.Handler, target string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code == http.StatusOK && v != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func TestStatusAndTrades(t *testing.T) {
	// Arrange
	r, h := setupRouter(t)
	open := &models.Trade{Pair: "ETH/BTC", Amount: 1, OpenRate: 0.05}
	closed := &models.Trade{Pair: "LTC/BTC", Amount: 2, OpenRate: 0.004}
	require.NoError(t, h.trades.Create(open))
	require.NoError(t, h.trades.Create(closed))
	require.NoError(t, h.trades.Close(closed, 0.005, "2"))

	// Act
	var status StatusResponse
	code := get(t, r, "/api/status", &status)

	// Assert
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusResponse{OpenTrades: 1, ClosedTrades: 1}, status)

	var trades []models.Trade
	require.Equal(t, http.StatusOK, get(t, r, "/api/trades?limit=1", &trades))
	assert.Len(t, trades, 1)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/trades?limit=abc", nil))

	var stats StatisticsResponse
	require.Equal(t, http.StatusOK, get(t, r, "/api/statistics", &stats))
	assert.Equal(t, int64(1), stats.AllTime.TotalTrades)
	assert.Equal(t, 1.0, stats.AllTime.WinRate)
	assert.Equal(t, int64(1), stats.Since24h.ProfitableTrades)
}

func TestOrdersHandler(t *testing.T) {
	r, h := setupRouter(t)
	require.NoError(t, h.orders.SaveOrders([]models.Order{
		{ID: "dry_run_buy_1", Symbol: "ETH/BTC", Type: "limit", Side: "buy", Status: models.OrderStatusClosed, Timestamp: 1000},
		{ID: "dry_run_sell_2", Symbol: "ETH/BTC", Type: "stop_loss_limit", Side: "sell", Status: models.OrderStatusOpen, Timestamp: 2000},
	}))

	var orders []models.Order
	require.Equal(t, http.StatusOK, get(t, r, "/api/orders", &orders))
	assert.Len(t, orders, 2)

	require.Equal(t, http.StatusOK, get(t, r, "/api/orders?status=open", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "dry_run_sell_2", orders[0].ID)
}

func TestCandlesHandler(t *testing.T) {
	r, h := setupRouter(t)
	require.NoError(t, h.candles.SaveCandles("ETH/BTC", "5m", []models.Candle{
		{Timestamp: 1000, Close: 1}, {Timestamp: 2000, Close: 2}, {Timestamp: 3000, Close: 3},
	}))

	var candles []models.Candle
	require.Equal(t, http.StatusOK, get(t, r, "/api/candles/eth/btc/5m", &candles))
	assert.Len(t, candles, 3)

	require.Equal(t, http.StatusOK, get(t, r, "/api/candles/ETH/BTC/5m?since=2000&limit=1", &candles))
	require.Len(t, candles, 1)
	assert.Equal(t, int64(3000), candles[0].Timestamp)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/candles/ETH/BTC/5m?since=x", nil))
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/candles/ETH/5m", nil))
}
