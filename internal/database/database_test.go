package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"tradebot-go/internal/models"
)

// newTestDB opens a private in-memory database shared by the connections of one pool.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// StoreSuite runs every store test against a fresh database.
type StoreSuite struct {
	suite.Suite
	db *gorm.DB
}

func (s *StoreSuite) SetupTest() {
	s.db = newTestDB(s.T())
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) TestNewDatabase_Migrates() {
	t, db := s.T(), s.db

	for _, model := range []any{&models.Trade{}, &models.DryRunOrder{}, &models.CandleRecord{}} {
		assert.True(t, db.Migrator().HasTable(model))
	}
}

func (s *StoreSuite) TestOrderStore_SnapshotRoundTrip() {
	t := s.T()
	store := NewOrderStore(s.db)
	stop := models.Order{
		ID: "dry_run_sell_1", Symbol: "ETH/BTC", Type: models.OrderTypeStopLossLimit, Side: models.SideSell,
		Status: models.OrderStatusOpen, Price: 0.05, Amount: 1, Remaining: 1, Timestamp: 1600000000000,
		Info: map[string]any{"stopPrice": 0.055},
	}
	filled := models.Order{
		ID: "dry_run_buy_2", Symbol: "LTC/BTC", Type: models.OrderTypeLimit, Side: models.SideBuy,
		Status: models.OrderStatusClosed, Price: 0.004, Amount: 2, Filled: 2, Timestamp: 1600000060000,
	}

	require.NoError(t, store.SaveOrders([]models.Order{filled, stop}))
	orders, err := store.LoadOrders()
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "dry_run_sell_1", orders[0].ID)
	assert.Equal(t, 0.055, orders[0].Info["stopPrice"])
	assert.Equal(t, int64(1600000000000), orders[0].Timestamp)
	assert.True(t, orders[0].IsOpen())

	// A new snapshot replaces the old one.
	require.NoError(t, store.SaveOrders([]models.Order{filled}))
	orders, err = store.LoadOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "dry_run_buy_2", orders[0].ID)

	require.NoError(t, store.SaveOrders(nil))
	orders, err = store.LoadOrders()
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func (s *StoreSuite) TestCandleStore_Upsert() {
	t := s.T()
	store := NewCandleStore(s.db)
	candles := []models.Candle{
		{Timestamp: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: 2000, Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 5},
	}
	require.NoError(t, store.SaveCandles("ETH/BTC", "5m", candles))
	require.NoError(t, store.SaveCandles("ETH/BTC", "1h", candles[:1]))

	// The second save updates the existing row and adds a new one.
	require.NoError(t, store.SaveCandles("ETH/BTC", "5m", []models.Candle{
		{Timestamp: 2000, Open: 1.5, High: 2.5, Low: 1, Close: 2.2, Volume: 7},
		{Timestamp: 3000, Open: 2.2, High: 2.3, Low: 2, Close: 2.1, Volume: 1},
	}))

	got, err := store.LoadCandles("ETH/BTC", "5m", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1000, 2000, 3000}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	assert.Equal(t, 2.2, got[1].Close)
	assert.Equal(t, 7.0, got[1].Volume)

	got, err = store.LoadCandles("ETH/BTC", "5m", 2000, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.LoadCandles("ETH/BTC", "5m", 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2000), got[0].Timestamp)
	assert.Equal(t, int64(3000), got[1].Timestamp)

	got, err = store.LoadCandles("ETH/BTC", "1h", 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.NoError(t, store.SaveCandles("ETH/BTC", "5m", nil))
}

func (s *StoreSuite) TestTradeStore_Lifecycle() {
	t := s.T()
	store := NewTradeStore(s.db)

	_, err := store.OpenTrade("ETH/BTC")
	assert.ErrorIs(t, err, ErrNotFound)

	trade := &models.Trade{Pair: "ETH/BTC", Amount: 2, OpenRate: 0.05, OpenOrderID: "1", StakeAmount: 0.1}
	require.NoError(t, store.Create(trade))
	assert.NotZero(t, trade.ID)
	assert.False(t, trade.OpenedAt.IsZero())

	open, err := store.OpenTrade("ETH/BTC")
	require.NoError(t, err)
	assert.Equal(t, trade.ID, open.ID)

	all, err := store.OpenTrades()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.Close(open, 0.06, "2"))
	assert.InDelta(t, 0.02, open.Profit, 1e-12)
	require.NotNil(t, open.ClosedAt)
	assert.WithinDuration(t, time.Now(), *open.ClosedAt, time.Minute)

	_, err = store.OpenTrade("ETH/BTC")
	assert.ErrorIs(t, err, ErrNotFound)

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "2", recent[0].CloseOrderID)
	assert.False(t, recent[0].IsOpen)
}
