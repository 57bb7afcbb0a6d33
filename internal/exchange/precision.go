package exchange

import (
	"github.com/shopspring/decimal"

	"tradebot-go/internal/models"
)

// decimalsFor returns how many decimal places precision keeps for value d under mode.
// ok is false when the mode is a tick size.
func decimalsFor(mode models.PrecisionMode, precision float64, d decimal.Decimal) (places int32, ok bool) {
	switch mode {
	case models.PrecisionSignificantDigits:
		leading := int32(d.NumDigits()) + d.Exponent()
		return int32(precision) - leading, true
	case models.PrecisionTickSize:
		return 0, false
	default:
		return int32(precision), true
	}
}

// roundToPrecision leaves value untouched when a tick size or significant-digit count is unset.
// Zero decimal places rounds to whole units.
func roundToPrecision(mode models.PrecisionMode, precision, value float64, up bool) float64 {
	if value == 0 || (precision == 0 && mode != models.PrecisionDecimalPlaces) {
		return value
	}
	d := decimal.NewFromFloat(value)

	places, ok := decimalsFor(mode, precision, d)
	if !ok {
		step := decimal.NewFromFloat(precision)
		steps := d.Div(step)
		if up {
			steps = steps.Ceil()
		} else {
			steps = steps.Floor()
		}
		return steps.Mul(step).InexactFloat64()
	}

	shifted := d.Shift(places)
	if up {
		shifted = shifted.Ceil()
	} else {
		shifted = shifted.Floor()
	}
	return shifted.Shift(-places).InexactFloat64()
}

// AmountToPrecision truncates amount to the market's amount step. It never rounds up.
func AmountToPrecision(mode models.PrecisionMode, market models.Market, amount float64) float64 {
	return roundToPrecision(mode, market.Precision.Amount, amount, false)
}

// PriceToPrecision rounds price up to the market's next valid tick.
func PriceToPrecision(mode models.PrecisionMode, market models.Market, price float64) float64 {
	return roundToPrecision(mode, market.Precision.Price, price, true)
}

// PriceOnePip returns the smallest price increment of the market.
func PriceOnePip(mode models.PrecisionMode, market models.Market) float64 {
	p := market.Precision.Price
	if p == 0 && mode != models.PrecisionDecimalPlaces {
		return 0
	}
	if mode == models.PrecisionTickSize {
		return p
	}
	return decimal.New(1, -int32(p)).InexactFloat64()
}
