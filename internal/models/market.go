package models

// PrecisionMode tells how a market's precision values are to be read.
type PrecisionMode int

const (
	// PrecisionDecimalPlaces means precision is a count of decimal places (2 -> 0.01).
	PrecisionDecimalPlaces PrecisionMode = 2
	// PrecisionSignificantDigits means precision is a count of significant digits.
	PrecisionSignificantDigits PrecisionMode = 3
	// PrecisionTickSize means precision is the step itself (0.01).
	PrecisionTickSize PrecisionMode = 4
)

// MinMax is a trading limit. A zero bound means unbounded.
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MarketPrecision holds the amount and price precision of a market.
// A zero value disables rounding for that field.
type MarketPrecision struct {
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// MarketLimits holds the trading limits of a market.
type MarketLimits struct {
	Amount MinMax `json:"amount"`
	Price  MinMax `json:"price"`
	Cost   MinMax `json:"cost"`
}

// Market describes one tradable instrument as reported by the venue.
type Market struct {
	// ID is the venue-native identifier (e.g. "ETHBTC").
	ID string `json:"id"`
	// Symbol is the unified BASE/QUOTE symbol (e.g. "ETH/BTC").
	Symbol     string          `json:"symbol"`
	Base       string          `json:"base"`
	Quote      string          `json:"quote"`
	Active     bool            `json:"active"`
	Restricted bool            `json:"restricted"`
	Precision  MarketPrecision `json:"precision"`
	Limits     MarketLimits    `json:"limits"`
}
