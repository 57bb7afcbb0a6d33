package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade is a position opened by the bot and, once sold, closed.
type Trade struct {
	gorm.Model
	Pair         string     `json:"pair" gorm:"index;not null"`
	IsOpen       bool       `json:"is_open" gorm:"index"`
	Amount       float64    `json:"amount"`
	OpenRate     float64    `json:"open_rate"`
	CloseRate    float64    `json:"close_rate,omitempty"`
	OpenOrderID  string     `json:"open_order_id"`
	CloseOrderID string     `json:"close_order_id,omitempty"`
	StakeAmount  float64    `json:"stake_amount"`
	Profit       float64    `json:"profit,omitempty"`
	IsSimulation bool       `json:"is_simulation"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}
