package models

import "time"

// Candle is one OHLCV bucket. Timestamp is the bucket open time in milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time returns the candle open time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// CandleRecord is a persisted candle of a downloaded history.
type CandleRecord struct {
	ID        uint    `gorm:"primaryKey"`
	Pair      string  `gorm:"uniqueIndex:idx_pair_tf_ts;not null"`
	Timeframe string  `gorm:"uniqueIndex:idx_pair_tf_ts;not null"`
	Timestamp int64   `gorm:"uniqueIndex:idx_pair_tf_ts;not null"`
	Open      float64 `gorm:"not null"`
	High      float64 `gorm:"not null"`
	Low       float64 `gorm:"not null"`
	Close     float64 `gorm:"not null"`
	Volume    float64 `gorm:"not null"`
}

// Candle converts the record back into a Candle.
func (r CandleRecord) Candle() Candle {
	return Candle{
		Timestamp: r.Timestamp,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}
