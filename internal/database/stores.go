package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradebot-go/internal/models"
)

// ErrNotFound is returned when a looked up row does not exist.
var ErrNotFound = errors.New("record not found")

// OrderStore keeps the snapshot of the simulated order table.
type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// SaveOrders replaces the snapshot with orders.
func (s *OrderStore) SaveOrders(orders []models.Order) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&models.DryRunOrder{}).Error; err != nil {
			return fmt.Errorf("failed to clear order snapshot: %w", err)
		}
		if len(orders) == 0 {
			return nil
		}
		rows := make([]models.DryRunOrder, 0, len(orders))
		for _, o := range orders {
			rows = append(rows, models.NewDryRunOrder(o))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to save order snapshot: %w", err)
		}
		return nil
	})
}

// LoadOrders returns the snapshot, oldest first.
func (s *OrderStore) LoadOrders() ([]models.Order, error) {
	var rows []models.DryRunOrder
	if err := s.db.Order("opened_at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load order snapshot: %w", err)
	}
	orders := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.Order())
	}
	return orders, nil
}

// CandleStore keeps downloaded candle history.
type CandleStore struct {
	db *gorm.DB
}

func NewCandleStore(db *gorm.DB) *CandleStore {
	return &CandleStore{db: db}
}

// SaveCandles upserts candles by (pair, timeframe, timestamp).
func (s *CandleStore) SaveCandles(pair, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([]models.CandleRecord, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, models.CandleRecord{
			Pair:      pair,
			Timeframe: timeframe,
			Timestamp: c.Timestamp,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair"}, {Name: "timeframe"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).CreateInBatches(&rows, 500).Error
	if err != nil {
		return fmt.Errorf("failed to save candles of %s %s: %w", pair, timeframe, err)
	}
	return nil
}

// LoadCandles returns the stored candles with since <= timestamp, ascending.
// A positive limit keeps only the newest limit candles.
func (s *CandleStore) LoadCandles(pair, timeframe string, since int64, limit int) ([]models.Candle, error) {
	q := s.db.Where("pair = ? AND timeframe = ? AND timestamp >= ?", pair, timeframe, since)
	var rows []models.CandleRecord
	if limit > 0 {
		if err := q.Order("timestamp desc").Limit(limit).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load candles: %w", err)
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else if err := q.Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, r.Candle())
	}
	return candles, nil
}

// TradeStore keeps the positions opened by the bot.
type TradeStore struct {
	db *gorm.DB
}

func NewTradeStore(db *gorm.DB) *TradeStore {
	return &TradeStore{db: db}
}

func (s *TradeStore) Create(trade *models.Trade) error {
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = time.Now().UTC()
	}
	trade.IsOpen = true
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade for %s: %w", trade.Pair, err)
	}
	return nil
}

// OpenTrade returns the open trade of pair, or ErrNotFound.
func (s *TradeStore) OpenTrade(pair string) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.Where("pair = ? AND is_open = ?", pair, true).Order("opened_at desc").First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load open trade for %s: %w", pair, err)
	}
	return &trade, nil
}

// OpenTrades returns every open trade.
func (s *TradeStore) OpenTrades() ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Where("is_open = ?", true).Order("opened_at asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load open trades: %w", err)
	}
	return trades, nil
}

// Close marks trade as sold at rate and records the profit in the stake currency.
func (s *TradeStore) Close(trade *models.Trade, rate float64, orderID string) error {
	now := time.Now().UTC()
	trade.IsOpen = false
	trade.CloseRate = rate
	trade.CloseOrderID = orderID
	trade.ClosedAt = &now
	trade.Profit = (rate - trade.OpenRate) * trade.Amount
	if err := s.db.Save(trade).Error; err != nil {
		return fmt.Errorf("failed to close trade %d: %w", trade.ID, err)
	}
	return nil
}

// Recent returns the latest trades, newest first.
func (s *TradeStore) Recent(limit int) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Order("opened_at desc").Limit(limit).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return trades, nil
}
