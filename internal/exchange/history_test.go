package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
)

func newTestFetcher(api *MockAdapter, f Features, retries int, nowMs int64) *HistoricalFetcher {
	h := NewHistoricalFetcher(api, f, testPolicy(retries), zap.NewNop())
	h.now = func() time.Time { return time.UnixMilli(nowMs) }
	return h
}

func timestamps(c []models.Candle) []int64 {
	out := make([]int64, 0, len(c))
	for _, candle := range c {
		out = append(out, candle.Timestamp)
	}
	return out
}

func TestFetchOHLCV_SortsDescendingVenue(t *testing.T) {
	api := newMockAdapter("gdax")
	f := defaultFeatures()
	api.On("FetchOHLCV", mock.Anything, "ETH/BTC", "1s", int64(1000), 500).
		Return(candlesAt(3000, 2000, 1000), nil)

	h := newTestFetcher(api, f, 0, 4000)
	res, err := h.FetchOHLCV(context.Background(), "ETH/BTC", "1s", 1000)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Equal(t, []int64{1000, 2000, 3000}, timestamps(res.Candles))
}

func TestFetchOHLCV_MergeKeepsFirst(t *testing.T) {
	api := newMockAdapter("binance")
	f := defaultFeatures()
	f.OHLCVCandleLimit = 3

	first := candlesAt(0, 1000, 2000, 3000)
	first[3].Close = 1
	second := candlesAt(5000, 4000, 3000)
	second[2].Close = 2
	api.On("FetchOHLCV", mock.Anything, "ETH/BTC", "1s", int64(0), 3).Return(first, nil)
	api.On("FetchOHLCV", mock.Anything, "ETH/BTC", "1s", int64(3000), 3).Return(second, nil)

	h := newTestFetcher(api, f, 0, 6000)
	res, err := h.FetchOHLCV(context.Background(), "ETH/BTC", "1s", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1000, 2000, 3000, 4000, 5000}, timestamps(res.Candles))
	assert.Equal(t, 1.0, res.Candles[3].Close)
	api.AssertExpectations(t)
}

func TestFetchOHLCV_FlagsFailedWindows(t *testing.T) {
	api := newMockAdapter("binance")
	f := defaultFeatures()
	f.OHLCVCandleLimit = 3

	api.On("FetchOHLCV", mock.Anything, "ETH/BTC", "1s", int64(0), 3).Return(candlesAt(0, 1000, 2000), nil)
	api.On("FetchOHLCV", mock.Anything, "ETH/BTC", "1s", int64(3000), 3).Return(nil, temporary("fetch_ohlcv"))

	h := newTestFetcher(api, f, 1, 6000)
	res, err := h.FetchOHLCV(context.Background(), "ETH/BTC", "1s", 0)
	require.NoError(t, err)
	assert.False(t, res.Complete())
	assert.Equal(t, []Window{{Start: 3000, End: 6000}}, res.FailedWindows)
	assert.Equal(t, []int64{0, 1000, 2000}, timestamps(res.Candles))
	api.AssertNumberOfCalls(t, "FetchOHLCV", 3)
}

func TestFetchOHLCV_PermanentErrorAborts(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchOHLCV", mock.Anything, "ETH/BTC", "1s", int64(0), 500).
		Return(nil, adapter.Errorf(adapter.KindNotSupported, "fetch_ohlcv", "no history"))

	h := newTestFetcher(api, defaultFeatures(), 4, 1000)
	_, err := h.FetchOHLCV(context.Background(), "ETH/BTC", "1s", 0)
	assert.True(t, IsOperational(err))
	api.AssertNumberOfCalls(t, "FetchOHLCV", 1)
}

func TestFetchOHLCV_InvalidTimeframe(t *testing.T) {
	h := newTestFetcher(newMockAdapter("binance"), defaultFeatures(), 0, 1000)
	_, err := h.FetchOHLCV(context.Background(), "ETH/BTC", "7x", 0)
	assert.True(t, IsOperational(err))
}

func TestOHLCVWindows(t *testing.T) {
	assert.Equal(t, []Window{{0, 3000}, {3000, 6000}, {6000, 7000}}, ohlcvWindows(0, 7000, 3000))
	assert.Empty(t, ohlcvWindows(5000, 5000, 3000))
}

func trade(id string, ts int64) models.MarketTrade {
	return models.MarketTrade{ID: id, Timestamp: ts, Symbol: "ETH/BTC", Price: 0.05, Amount: 1, Side: models.SideBuy}
}

func tradeIDs(trades []models.MarketTrade) []string {
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.ID)
	}
	return out
}

func idFeatures() Features {
	f := defaultFeatures()
	f.TradesPagination = PaginationID
	f.TradesPaginationArg = "fromId"
	return f
}

func TestFetchTrades_IDPagination(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(500), map[string]any(nil)).
		Return([]models.MarketTrade{trade("1", 1000), trade("2", 2000), trade("3", 3000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(0), map[string]any{"fromId": "3"}).
		Return([]models.MarketTrade{trade("3", 3000), trade("4", 4000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(0), map[string]any{"fromId": "4"}).
		Return([]models.MarketTrade{trade("4", 4000)}, nil).Once()

	h := newTestFetcher(api, idFeatures(), 0, 10000)
	trades, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, tradeIDs(trades))
	api.AssertExpectations(t)
}

func TestFetchTrades_IDPaginationStopsPastUntil(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(500), map[string]any(nil)).
		Return([]models.MarketTrade{trade("1", 1000), trade("2", 2000), trade("3", 3000)}, nil).Once()

	h := newTestFetcher(api, idFeatures(), 0, 10000)
	trades, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 2500)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, tradeIDs(trades))
	api.AssertNumberOfCalls(t, "FetchTrades", 1)
}

func TestFetchTrades_EmptyPageKeepsCursorRecord(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(500), map[string]any(nil)).
		Return([]models.MarketTrade{trade("1", 1000), trade("2", 2000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(0), map[string]any{"fromId": "2"}).
		Return([]models.MarketTrade{}, nil).Once()

	h := newTestFetcher(api, idFeatures(), 0, 10000)
	trades, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, tradeIDs(trades))
}

func TestFetchTrades_TimePagination(t *testing.T) {
	api := newMockAdapter("kraken")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(1000), map[string]any(nil)).
		Return([]models.MarketTrade{trade("a", 1000), trade("b", 2000), trade("c", 3000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(3000), map[string]any(nil)).
		Return([]models.MarketTrade{trade("c", 3000), trade("d", 4000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(4000), map[string]any(nil)).
		Return([]models.MarketTrade{trade("d", 4000)}, nil).Once()

	h := newTestFetcher(api, defaultFeatures(), 0, 10000)
	trades, err := h.FetchTrades(context.Background(), "ETH/BTC", 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, tradeIDs(trades))
	api.AssertExpectations(t)
}

func TestFetchTrades_TemporaryPageEndsChain(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(500), map[string]any(nil)).
		Return([]models.MarketTrade{trade("1", 1000), trade("2", 2000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(0), map[string]any{"fromId": "2"}).
		Return(nil, temporary("fetch_trades"))

	h := newTestFetcher(api, idFeatures(), 2, 10000)
	trades, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, tradeIDs(trades))
	api.AssertNumberOfCalls(t, "FetchTrades", 4)
}

func TestFetchTrades_TemporaryFirstPageIsEmpty(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(500), map[string]any(nil)).
		Return(nil, temporary("fetch_trades"))

	h := newTestFetcher(api, idFeatures(), 2, 10000)
	trades, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	api.AssertNumberOfCalls(t, "FetchTrades", 3)
}

func TestFetchTrades_PermanentErrorAborts(t *testing.T) {
	api := newMockAdapter("binance")
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(500), map[string]any(nil)).
		Return([]models.MarketTrade{trade("1", 1000), trade("2", 2000)}, nil).Once()
	api.On("FetchTrades", mock.Anything, "ETH/BTC", int64(0), map[string]any{"fromId": "2"}).
		Return(nil, adapter.Errorf(adapter.KindNotSupported, "fetch_trades", "no history"))

	h := newTestFetcher(api, idFeatures(), 2, 10000)
	_, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 0)
	assert.True(t, IsOperational(err))
	api.AssertNumberOfCalls(t, "FetchTrades", 2)
}

func TestFetchTrades_CancelledContext(t *testing.T) {
	api := newMockAdapter("binance")
	h := newTestFetcher(api, idFeatures(), 2, 10000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.FetchTrades(ctx, "ETH/BTC", 500, 0)
	assert.True(t, IsTemporary(err))
	assert.ErrorIs(t, err, context.Canceled)
	api.AssertNotCalled(t, "FetchTrades", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchTrades_Unsupported(t *testing.T) {
	api := newMockAdapter("binance")
	delete(api.has, adapter.EndpointFetchTrades)
	h := newTestFetcher(api, idFeatures(), 0, 10000)
	_, err := h.FetchTrades(context.Background(), "ETH/BTC", 500, 0)
	assert.True(t, IsOperational(err))
}
