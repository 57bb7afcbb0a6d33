package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
	"tradebot-go/internal/retry"
)

// DefaultMarketsRefreshInterval is used when no interval is configured.
const DefaultMarketsRefreshInterval = time.Hour

// MarketFilter narrows GetMarkets. Empty slices match everything.
type MarketFilter struct {
	Bases      []string
	Quotes     []string
	PairsOnly  bool
	ActiveOnly bool
}

// MarketCatalog caches the venue's instruments. A load replaces the snapshot as a whole.
type MarketCatalog struct {
	api      adapter.Adapter
	policy   retry.Policy
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	markets  map[string]models.Market
	loadedAt time.Time
}

// NewMarketCatalog creates an empty catalog backed by api.
func NewMarketCatalog(api adapter.Adapter, policy retry.Policy, interval time.Duration, logger *zap.Logger) *MarketCatalog {
	if interval <= 0 {
		interval = DefaultMarketsRefreshInterval
	}
	return &MarketCatalog{
		api:      api,
		policy:   policy,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Load fetches the instrument list unless the last successful load is younger than the
// refresh interval. force bypasses the timer. A failed load keeps the previous snapshot
// and only logs; without a previous snapshot the error is returned.
func (c *MarketCatalog) Load(ctx context.Context, force bool) error {
	c.mu.RLock()
	loadedAt, hasSnapshot := c.loadedAt, c.markets != nil
	c.mu.RUnlock()

	if !force && hasSnapshot && c.now().Sub(loadedAt) < c.interval {
		return nil
	}
	c.logger.Debug("Loading markets", zap.Bool("force", force))

	markets, err := retry.Do(ctx, c.policy, "load_markets", func(ctx context.Context) (map[string]models.Market, error) {
		m, err := c.api.LoadMarkets(ctx, hasSnapshot)
		return m, translate(err, "load markets")
	})
	if err != nil {
		if hasSnapshot {
			c.logger.Warn("Could not reload markets, keeping the previous snapshot", zap.Error(err))
			return nil
		}
		return err
	}

	snapshot := make(map[string]models.Market, len(markets))
	for symbol, m := range markets {
		snapshot[symbol] = m
	}
	c.mu.Lock()
	c.markets = snapshot
	c.loadedAt = c.now()
	c.mu.Unlock()

	c.logger.Info("Markets loaded", zap.Int("count", len(snapshot)))
	return nil
}

// Loaded reports whether a snapshot is available.
func (c *MarketCatalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markets != nil
}

// LoadedAt returns the time of the last successful load.
func (c *MarketCatalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *MarketCatalog) snapshot() map[string]models.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markets
}

// Get returns the market of symbol.
func (c *MarketCatalog) Get(symbol string) (models.Market, bool) {
	m, ok := c.snapshot()[symbol]
	return m, ok
}

// All returns a copy of the current snapshot.
func (c *MarketCatalog) All() map[string]models.Market {
	src := c.snapshot()
	out := make(map[string]models.Market, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Filter returns the markets matching f.
func (c *MarketCatalog) Filter(f MarketFilter) map[string]models.Market {
	out := make(map[string]models.Market)
	for symbol, m := range c.snapshot() {
		if len(f.Bases) > 0 && !contains(f.Bases, m.Base) {
			continue
		}
		if len(f.Quotes) > 0 && !contains(f.Quotes, m.Quote) {
			continue
		}
		if f.PairsOnly && !SymbolIsPair(symbol, m.Base, m.Quote) {
			continue
		}
		if f.ActiveOnly && !m.Active {
			continue
		}
		out[symbol] = m
	}
	return out
}

// QuoteCurrencies returns the sorted distinct quote currencies.
func (c *MarketCatalog) QuoteCurrencies() []string {
	seen := make(map[string]struct{})
	for _, m := range c.snapshot() {
		seen[m.Quote] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// ValidateStakeCurrency fails when stake is not the quote currency of any market.
func (c *MarketCatalog) ValidateStakeCurrency(stake string) error {
	quotes := c.QuoteCurrencies()
	if !contains(quotes, stake) {
		return newError(KindOperational, nil,
			"%s is not available as stake on %s. Available currencies are: %s",
			stake, c.api.Name(), strings.Join(quotes, ", "))
	}
	return nil
}

// ValidatePairs checks that every pair is listed and quoted in stake. Restricted or
// inactive pairs are returned as warnings.
func (c *MarketCatalog) ValidatePairs(pairs []string, stake string) (warnings []string, err error) {
	markets := c.snapshot()
	if len(markets) == 0 {
		c.logger.Warn("Unable to validate pairs (assuming they are correct)")
		return nil, nil
	}
	for _, pair := range pairs {
		m, ok := markets[pair]
		if !ok {
			return warnings, newError(KindOperational, nil,
				"pair %s is not available on %s. Please remove %s from your whitelist", pair, c.api.Name(), pair)
		}
		if stake != "" && m.Quote != stake {
			return warnings, newError(KindOperational, nil,
				"pair %s is not compatible with stake currency %s. Please remove %s from your whitelist", pair, stake, pair)
		}
		if m.Restricted {
			warnings = append(warnings, fmt.Sprintf("pair %s is restricted for some users on this exchange", pair))
		}
		if !m.Active {
			warnings = append(warnings, fmt.Sprintf("pair %s is not active on this exchange", pair))
		}
	}
	for _, w := range warnings {
		c.logger.Warn(w)
	}
	return warnings, nil
}

// SymbolIsPair reports whether symbol is the plain base/quote spot symbol.
func SymbolIsPair(symbol, base, quote string) bool {
	return symbol == base+"/"+quote
}

// PairBaseCurrency returns the base part of a BASE/QUOTE pair.
func PairBaseCurrency(pair string) string {
	base, _, _ := splitPair(pair)
	return base
}

// PairQuoteCurrency returns the quote part of a BASE/QUOTE pair.
func PairQuoteCurrency(pair string) string {
	_, quote, _ := splitPair(pair)
	return quote
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
