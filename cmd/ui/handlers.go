package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradebot-go/internal/database"
	"tradebot-go/internal/models"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log     *zap.Logger
	db      *gorm.DB
	trades  *database.TradeStore
	orders  *database.OrderStore
	candles *database.CandleStore
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{
		log:     log,
		db:      db,
		trades:  database.NewTradeStore(db),
		orders:  database.NewOrderStore(db),
		candles: database.NewCandleStore(db),
	}
}

// Routes registers the API endpoints on r.
func (h *APIHandler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/trades", h.TradesHandler).Methods(http.MethodGet)
	api.HandleFunc("/statistics", h.StatisticsHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.OrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/candles/{base}/{quote}/{timeframe}", h.CandlesHandler).Methods(http.MethodGet)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

// StatusResponse summarizes the stored bot state.
type StatusResponse struct {
	OpenTrades   int64 `json:"open_trades"`
	ClosedTrades int64 `json:"closed_trades"`
	DryRunOrders int64 `json:"dry_run_orders"`
	Candles      int64 `json:"candles"`
}

// StatusHandler returns row counts of the bot tables.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	err := h.db.Model(&models.Trade{}).Where("is_open = ?", true).Count(&resp.OpenTrades).Error
	if err == nil {
		err = h.db.Model(&models.Trade{}).Where("is_open = ?", false).Count(&resp.ClosedTrades).Error
	}
	if err == nil {
		err = h.db.Model(&models.DryRunOrder{}).Count(&resp.DryRunOrders).Error
	}
	if err == nil {
		err = h.db.Model(&models.CandleRecord{}).Count(&resp.Candles).Error
	}
	if err != nil {
		h.log.Error("Failed to get status from database", zap.Error(err))
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, resp)
}

// TradesHandler returns the latest trades, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	trades, err := h.trades.Recent(limit)
	if err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, trades)
}

// OrdersHandler returns the snapshot of simulated orders.
func (h *APIHandler) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.LoadOrders()
	if err != nil {
		h.log.Error("Failed to get orders from database", zap.Error(err))
		http.Error(w, "Failed to get orders", http.StatusInternalServerError)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.Status == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	h.writeJSON(w, orders)
}

// CandlesHandler returns the stored candles of BASE/QUOTE. Optional query parameters are
// since (ms) and limit.
func (h *APIHandler) CandlesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pair := strings.ToUpper(vars["base"]) + "/" + strings.ToUpper(vars["quote"])

	var since int64
	limit := 500
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	candles, err := h.candles.LoadCandles(pair, vars["timeframe"], since, limit)
	if err != nil {
		h.log.Error("Failed to get candles from database", zap.String("pair", pair), zap.Error(err))
		http.Error(w, "Failed to get candles", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, candles)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

func (s *StatsDetail) add(t models.Trade) {
	s.TotalTrades++
	if t.Profit > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += t.Profit
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates statistics over the closed trades.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var closed []models.Trade
	if err := h.db.Where("is_open = ?", false).Find(&closed).Error; err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := time.Now().Add(-24 * time.Hour)
	var resp StatisticsResponse
	for _, trade := range closed {
		resp.AllTime.add(trade)
		if trade.ClosedAt != nil && trade.ClosedAt.After(since24h) {
			resp.Since24h.add(trade)
		}
	}
	resp.AllTime.finish()
	resp.Since24h.finish()
	h.writeJSON(w, resp)
}
