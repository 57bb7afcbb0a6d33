package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket        = "market"
	OrderTypeLimit         = "limit"
	OrderTypeStopLossLimit = "stop_loss_limit"

	OrderStatusOpen     = "open"
	OrderStatusClosed   = "closed"
	OrderStatusCanceled = "canceled"
)

// Fee is the fee charged on an order or trade.
type Fee struct {
	Currency string  `json:"currency"`
	Cost     float64 `json:"cost"`
	Rate     float64 `json:"rate,omitempty"`
}

// Order is an order as seen by the bot. Live and simulated orders share this shape.
type Order struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Price     float64        `json:"price"`
	Amount    float64        `json:"amount"`
	Filled    float64        `json:"filled"`
	Remaining float64        `json:"remaining"`
	Cost      float64        `json:"cost"`
	Type      string         `json:"type"`
	Side      string         `json:"side"`
	Status    string         `json:"status"`
	Timestamp int64          `json:"timestamp"`
	Datetime  string         `json:"datetime"`
	Fee       *Fee           `json:"fee"`
	Info      map[string]any `json:"info"`
}

// IsOpen reports whether the order still rests on the book.
func (o Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// DryRunOrder is the persisted snapshot of a simulated order.
type DryRunOrder struct {
	gorm.Model
	OrderID   string  `gorm:"uniqueIndex;not null"`
	Symbol    string  `gorm:"index;not null"`
	Type      string  `gorm:"not null"`
	Side      string  `gorm:"not null"`
	Status    string  `gorm:"not null"`
	Price     float64 `gorm:"not null"`
	Amount    float64 `gorm:"not null"`
	Filled    float64
	Remaining float64
	Cost      float64
	OpenedAt  time.Time
	Info      string // json encoded Order.Info
}

// NewDryRunOrder builds the persisted form of a simulated order.
func NewDryRunOrder(o Order) DryRunOrder {
	info, _ := json.Marshal(o.Info)
	return DryRunOrder{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Type:      o.Type,
		Side:      o.Side,
		Status:    o.Status,
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Remaining: o.Remaining,
		Cost:      o.Cost,
		OpenedAt:  time.UnixMilli(o.Timestamp).UTC(),
		Info:      string(info),
	}
}

// Order restores the in-memory order from its snapshot.
func (d DryRunOrder) Order() Order {
	info := map[string]any{}
	if d.Info != "" {
		_ = json.Unmarshal([]byte(d.Info), &info)
	}
	return Order{
		ID:        d.OrderID,
		Symbol:    d.Symbol,
		Price:     d.Price,
		Amount:    d.Amount,
		Filled:    d.Filled,
		Remaining: d.Remaining,
		Cost:      d.Cost,
		Type:      d.Type,
		Side:      d.Side,
		Status:    d.Status,
		Timestamp: d.OpenedAt.UnixMilli(),
		Datetime:  d.OpenedAt.UTC().Format(time.RFC3339Nano),
		Info:      info,
	}
}
