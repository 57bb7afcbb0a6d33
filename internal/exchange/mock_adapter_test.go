package exchange

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
)

// MockAdapter is a mock implementation of adapter.Adapter.
// Descriptive methods answer from fields; remote calls go through mock.Mock.
type MockAdapter struct {
	mock.Mock
	id         string
	has        map[string]bool
	timeframes map[string]string
	precision  models.PrecisionMode
	closed     int
}

var _ adapter.Adapter = (*MockAdapter)(nil)

func newMockAdapter(id string) *MockAdapter {
	return &MockAdapter{
		id: id,
		has: map[string]bool{
			adapter.EndpointFetchOHLCV:        true,
			adapter.EndpointFetchTrades:       true,
			adapter.EndpointFetchTicker:       true,
			adapter.EndpointFetchTickers:      true,
			adapter.EndpointFetchOrderBook:    true,
			adapter.EndpointFetchMyTrades:     true,
			adapter.EndpointFetchOpenOrders:   true,
			adapter.EndpointCreateMarketOrder: true,
		},
		timeframes: map[string]string{"1m": "1m", "5m": "5m", "1h": "1h", "1d": "1d"},
		precision:  models.PrecisionDecimalPlaces,
	}
}

func (m *MockAdapter) ID() string                          { return m.id }
func (m *MockAdapter) Name() string                        { return m.id }
func (m *MockAdapter) Has(endpoint string) bool            { return m.has[endpoint] }
func (m *MockAdapter) Timeframes() map[string]string       { return m.timeframes }
func (m *MockAdapter) PrecisionMode() models.PrecisionMode { return m.precision }

func (m *MockAdapter) LoadMarkets(ctx context.Context, reload bool) (map[string]models.Market, error) {
	args := m.Called(ctx, reload)
	markets, _ := args.Get(0).(map[string]models.Market)
	return markets, args.Error(1)
}

func (m *MockAdapter) FetchOHLCV(ctx context.Context, pair, timeframe string, since int64, limit int) ([]models.Candle, error) {
	args := m.Called(ctx, pair, timeframe, since, limit)
	candles, _ := args.Get(0).([]models.Candle)
	return candles, args.Error(1)
}

func (m *MockAdapter) FetchTrades(ctx context.Context, pair string, since int64, params map[string]any) ([]models.MarketTrade, error) {
	args := m.Called(ctx, pair, since, params)
	trades, _ := args.Get(0).([]models.MarketTrade)
	return trades, args.Error(1)
}

func (m *MockAdapter) FetchTicker(ctx context.Context, pair string) (*models.Ticker, error) {
	args := m.Called(ctx, pair)
	ticker, _ := args.Get(0).(*models.Ticker)
	return ticker, args.Error(1)
}

func (m *MockAdapter) FetchTickers(ctx context.Context) (map[string]models.Ticker, error) {
	args := m.Called(ctx)
	tickers, _ := args.Get(0).(map[string]models.Ticker)
	return tickers, args.Error(1)
}

func (m *MockAdapter) FetchOrderBook(ctx context.Context, pair string, limit int) (*models.OrderBook, error) {
	args := m.Called(ctx, pair, limit)
	book, _ := args.Get(0).(*models.OrderBook)
	return book, args.Error(1)
}

func (m *MockAdapter) CreateOrder(ctx context.Context, pair, orderType, side string, amount float64, price *float64, params map[string]any) (*models.Order, error) {
	args := m.Called(ctx, pair, orderType, side, amount, price, params)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *MockAdapter) CancelOrder(ctx context.Context, id, pair string) error {
	args := m.Called(ctx, id, pair)
	return args.Error(0)
}

func (m *MockAdapter) FetchOrder(ctx context.Context, id, pair string) (*models.Order, error) {
	args := m.Called(ctx, id, pair)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *MockAdapter) FetchOpenOrders(ctx context.Context, pair string) ([]models.Order, error) {
	args := m.Called(ctx, pair)
	orders, _ := args.Get(0).([]models.Order)
	return orders, args.Error(1)
}

func (m *MockAdapter) FetchBalance(ctx context.Context) (map[string]models.Balance, error) {
	args := m.Called(ctx)
	balances, _ := args.Get(0).(map[string]models.Balance)
	return balances, args.Error(1)
}

func (m *MockAdapter) FetchMyTrades(ctx context.Context, pair string, since int64) ([]models.MarketTrade, error) {
	args := m.Called(ctx, pair, since)
	trades, _ := args.Get(0).([]models.MarketTrade)
	return trades, args.Error(1)
}

func (m *MockAdapter) Close() error {
	m.closed++
	return nil
}

// testMarkets is a small catalog shared by the tests.
func testMarkets() map[string]models.Market {
	mk := func(base, quote string, active bool) models.Market {
		return models.Market{
			ID:        base + quote,
			Symbol:    base + "/" + quote,
			Base:      base,
			Quote:     quote,
			Active:    active,
			Precision: models.MarketPrecision{Amount: 2, Price: 2},
		}
	}
	markets := map[string]models.Market{}
	for _, m := range []models.Market{
		mk("ETH", "BTC", true),
		mk("XRP", "BTC", true),
		mk("LTC", "BTC", true),
		mk("NEO", "BTC", false),
		mk("BTC", "USDT", true),
		mk("ETH", "USDT", true),
	} {
		markets[m.Symbol] = m
	}
	return markets
}

func temporary(op string) error {
	return adapter.Errorf(adapter.KindNetwork, op, "connection reset")
}
