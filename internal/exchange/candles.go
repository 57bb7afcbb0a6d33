package exchange

import (
	"sort"
	"sync"
	"time"

	"tradebot-go/internal/models"
)

// PairTimeframe keys a candle series.
type PairTimeframe struct {
	Pair      string
	Timeframe string
}

// CandleCache holds the latest candle series per pair and timeframe. Series are
// replaced as a whole and never mutated after being stored.
type CandleCache struct {
	mu     sync.RWMutex
	series map[PairTimeframe][]models.Candle
	// freshness is the timestamp (ms) of the newest stored candle.
	freshness map[PairTimeframe]int64
}

func NewCandleCache() *CandleCache {
	return &CandleCache{
		series:    make(map[PairTimeframe][]models.Candle),
		freshness: make(map[PairTimeframe]int64),
	}
}

// Get returns a copy of the cached series, empty when nothing was stored.
func (c *CandleCache) Get(pair, timeframe string) []models.Candle {
	c.mu.RLock()
	s := c.series[PairTimeframe{pair, timeframe}]
	c.mu.RUnlock()
	return append([]models.Candle{}, s...)
}

// Has reports whether a series was stored for pair and timeframe.
func (c *CandleCache) Has(pair, timeframe string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.series[PairTimeframe{pair, timeframe}]
	return ok
}

// Put replaces the series and moves freshness to its newest candle.
// An empty series keeps the previous freshness.
func (c *CandleCache) Put(pair, timeframe string, series []models.Candle) {
	var newest int64
	if len(series) > 0 {
		newest = series[len(series)-1].Timestamp
	}
	c.Store(pair, timeframe, series, newest)
}

// Store is Put with an explicit freshness timestamp, for series whose newest fetched
// candle was dropped as incomplete. A zero newest keeps the previous freshness.
func (c *CandleCache) Store(pair, timeframe string, series []models.Candle, newest int64) {
	key := PairTimeframe{pair, timeframe}
	stored := append([]models.Candle(nil), series...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[key] = stored
	if newest > 0 {
		c.freshness[key] = newest
	}
}

// Freshness returns the timestamp (ms) of the newest candle stored for the key.
func (c *CandleCache) Freshness(pair, timeframe string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.freshness[PairTimeframe{pair, timeframe}]
	return ts, ok
}

// IsStale reports whether a new candle period began since the newest stored candle.
// Unknown keys and unparsable timeframes are stale.
func (c *CandleCache) IsStale(pair, timeframe string, now time.Time) bool {
	ts, ok := c.Freshness(pair, timeframe)
	if !ok {
		return true
	}
	d, err := ParseTimeframe(timeframe)
	if err != nil {
		return true
	}
	return now.UnixMilli()-ts >= d.Milliseconds()
}

// Keys returns the cached keys in a stable order.
func (c *CandleCache) Keys() []PairTimeframe {
	c.mu.RLock()
	keys := make([]PairTimeframe, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Pair != keys[j].Pair {
			return keys[i].Pair < keys[j].Pair
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})
	return keys
}

// TradesToCandles buckets trades into candles of timeframe. Buckets without trades are
// left out. trades must be sorted ascending by timestamp.
func TradesToCandles(trades []models.MarketTrade, timeframe string) ([]models.Candle, error) {
	step, err := TimeframeToMsecs(timeframe)
	if err != nil {
		return nil, err
	}
	var out []models.Candle
	for _, t := range trades {
		// Round timestamp down to interval boundary
		ts := t.Timestamp - t.Timestamp%step
		if n := len(out); n > 0 && out[n-1].Timestamp == ts {
			c := &out[n-1]
			c.High = max(c.High, t.Price)
			c.Low = min(c.Low, t.Price)
			c.Close = t.Price
			c.Volume += t.Amount
			continue
		}
		out = append(out, models.Candle{
			Timestamp: ts,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Volume:    t.Amount,
		})
	}
	return out, nil
}
