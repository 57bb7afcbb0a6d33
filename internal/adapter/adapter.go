// Package adapter defines the contract a venue client must honor to be driven by the exchange gateway.
package adapter

import (
	"context"

	"tradebot-go/internal/models"

	"go.uber.org/zap"
)

// Endpoint names used with Adapter.Has.
const (
	EndpointFetchOHLCV        = "fetchOHLCV"
	EndpointFetchTrades       = "fetchTrades"
	EndpointFetchTicker       = "fetchTicker"
	EndpointFetchTickers      = "fetchTickers"
	EndpointFetchOrderBook    = "fetchL2OrderBook"
	EndpointFetchMyTrades     = "fetchMyTrades"
	EndpointFetchOpenOrders   = "fetchOpenOrders"
	EndpointCreateMarketOrder = "createMarketOrder"
)

// Adapter is a connection to one venue. Every method may fail with an *Error.
type Adapter interface {
	// ID is the lowercase venue id, Name its display name.
	ID() string
	Name() string
	// Has reports whether the venue implements an endpoint.
	Has(endpoint string) bool
	// Timeframes maps supported timeframes to the venue-native interval names.
	Timeframes() map[string]string
	PrecisionMode() models.PrecisionMode

	LoadMarkets(ctx context.Context, reload bool) (map[string]models.Market, error)
	// FetchOHLCV returns at most limit candles starting at since (ms). since == 0 asks for the latest candles.
	FetchOHLCV(ctx context.Context, pair, timeframe string, since int64, limit int) ([]models.Candle, error)
	// FetchTrades returns public trades. params carries the pagination cursor when one is used.
	FetchTrades(ctx context.Context, pair string, since int64, params map[string]any) ([]models.MarketTrade, error)
	FetchTicker(ctx context.Context, pair string) (*models.Ticker, error)
	FetchTickers(ctx context.Context) (map[string]models.Ticker, error)
	FetchOrderBook(ctx context.Context, pair string, limit int) (*models.OrderBook, error)
	// CreateOrder places an order. price is nil for market orders.
	CreateOrder(ctx context.Context, pair, orderType, side string, amount float64, price *float64, params map[string]any) (*models.Order, error)
	CancelOrder(ctx context.Context, id, pair string) error
	FetchOrder(ctx context.Context, id, pair string) (*models.Order, error)
	FetchOpenOrders(ctx context.Context, pair string) ([]models.Order, error)
	FetchBalance(ctx context.Context) (map[string]models.Balance, error)
	FetchMyTrades(ctx context.Context, pair string, since int64) ([]models.MarketTrade, error)

	// Close releases the connection. It must be called by the owner.
	Close() error
}

// Config is what a Factory needs to build an adapter.
type Config struct {
	Name     string
	Key      string
	Secret   string
	Password string
	UID      string
	Sandbox  bool
	// RateLimit is the request rate in requests per second, RateLimitBurst the burst size.
	RateLimit      float64
	RateLimitBurst int
	// Options is the raw passthrough configuration for this connection.
	Options map[string]any
}

// Factory builds an adapter for a venue.
type Factory func(cfg Config, logger *zap.Logger) (Adapter, error)

// Registry maps a lowercase venue name to its factory.
type Registry map[string]Factory

// Lookup returns the factory for name.
func (r Registry) Lookup(name string) (Factory, bool) {
	f, ok := r[name]
	return f, ok
}
