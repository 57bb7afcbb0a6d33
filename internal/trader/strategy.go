package trader

import (
	"tradebot-go/internal/models"
)

// Signal is the action a strategy asks for on one pair.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	}
	return "none"
}

// Strategy decides when to enter and exit a pair. Strategies are supplied by the caller;
// the engine only feeds them candles and executes their signals. An embedding program
// passes its strategy to NewEngine:
//
//	engine := trader.NewEngine(log, &cfg, gateway, myStrategy{}, stores)
//	engine.Run(ctx)
//
// With a nil strategy the engine only refreshes and stores candles.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// StartupCandleCount is the number of candles the strategy needs before its first signal.
	StartupCandleCount() int

	// Analyze returns the signal for pair from its latest closed candles, oldest first.
	// inTrade tells whether the bot currently holds a position in pair.
	Analyze(pair, timeframe string, candles []models.Candle, inTrade bool) (Signal, error)
}
