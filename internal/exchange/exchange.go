// Package exchange is the bot's only way to talk to a venue. The Gateway validates the
// configuration against the venue, retries transient failures, caches markets and
// candles, and simulates orders in dry-run mode.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/config"
	"tradebot-go/internal/models"
	"tradebot-go/internal/retry"
)

// State is the lifecycle state of a Gateway.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateValidating    State = "validating"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateFatal         State = "fatal"
)

// degradeAfter is the number of consecutive Temporary failures that degrade a ready gateway.
const degradeAfter = 3

// startupCandleMargin is kept free of the venue's candle page for the strategy warm-up.
const startupCandleMargin = 5

// myTradesOffset widens GetTradesForOrder to absorb clock skew with the venue.
const myTradesOffset = 5 * time.Second

// Gateway is the facade over one venue.
type Gateway struct {
	cfg      config.Config
	registry adapter.Registry
	logger   *zap.Logger
	now      func() time.Time

	api      adapter.Adapter
	asyncAPI adapter.Adapter
	variant  Variant
	features Features

	policy      retry.Policy
	orderPolicy retry.Policy

	markets *MarketCatalog
	candles *CandleCache
	history *HistoricalFetcher
	dryRun  *OrderSimulator

	tickerMu sync.Mutex
	tickers  map[string]models.Ticker

	stateMu  sync.RWMutex
	state    State
	failures int
	fatalErr error
}

// NewGateway creates an uninitialized gateway. Call Initialize before use and Close when done.
func NewGateway(cfg config.Config, registry adapter.Registry, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With(zap.String("exchange", strings.ToLower(cfg.Exchange.Name))),
		now:      time.Now,
		candles:  NewCandleCache(),
		tickers:  make(map[string]models.Ticker),
		state:    StateUninitialized,
	}
}

// Initialize connects to the venue and loads its markets. With validate set it also
// checks the configuration against the venue. Any failure leaves the gateway fatal.
func (g *Gateway) Initialize(ctx context.Context, validate bool) error {
	g.stateMu.Lock()
	if g.state != StateUninitialized {
		state := g.state
		g.stateMu.Unlock()
		return newError(KindOperational, nil, "gateway already initialized (state %s)", state)
	}
	g.state = StateValidating
	g.stateMu.Unlock()

	if err := g.connect(); err != nil {
		return g.fail(err)
	}
	if g.cfg.DryRun {
		g.logger.Info("Instance is running with dry_run enabled")
	}

	if err := g.markets.Load(ctx, true); err != nil {
		return g.fail(newError(KindOperational, err, "unable to initialize markets: %v", err))
	}
	if validate {
		if err := g.validate(); err != nil {
			return g.fail(err)
		}
	}

	g.setState(StateReady)
	g.logger.Info("Using exchange", zap.String("name", g.api.Name()), zap.Bool("dry_run", g.cfg.DryRun))
	return nil
}

func (g *Gateway) connect() error {
	name := strings.ToLower(g.cfg.Exchange.Name)
	factory, ok := g.registry.Lookup(name)
	if !ok {
		return newError(KindOperational, nil, "exchange %s is not supported", g.cfg.Exchange.Name)
	}

	build := func(options map[string]any) (adapter.Adapter, error) {
		if len(options) > 0 {
			g.logger.Info("Applying additional adapter config", zap.Any("options", options))
		}
		api, err := factory(adapter.Config{
			Name:           name,
			Key:            g.cfg.Exchange.Key,
			Secret:         g.cfg.Exchange.Secret,
			Password:       g.cfg.Exchange.Password,
			UID:            g.cfg.Exchange.UID,
			Sandbox:        g.cfg.Exchange.Sandbox,
			RateLimit:      g.cfg.Exchange.RateLimit,
			RateLimitBurst: g.cfg.Exchange.RateLimitBurst,
			Options:        options,
		}, g.logger)
		switch {
		case errors.Is(err, adapter.ErrNoSandbox):
			return nil, newError(KindOperational, err, "exchange %s does not provide a sandbox api", name)
		case err != nil:
			return nil, newError(KindOperational, err, "could not connect to %s: %v", name, err)
		}
		if g.cfg.Exchange.Sandbox {
			g.logger.Info("Enabled sandbox api", zap.String("name", name))
		}
		return api, nil
	}

	var err error
	if g.api, err = build(g.cfg.Exchange.CCXTConfig); err != nil {
		return err
	}
	if g.asyncAPI, err = build(g.cfg.Exchange.CCXTAsyncConfig); err != nil {
		return err
	}

	g.variant = VariantFor(g.api.ID())
	if g.features, err = ResolveFeatures(g.variant, g.cfg.Exchange.FeatureOverrides); err != nil {
		return newError(KindOperational, err, "%v", err)
	}
	if len(g.cfg.Exchange.FeatureOverrides) > 0 {
		g.logger.Info("Overriding exchange features with config params", zap.Any("features", g.features))
	}

	g.policy = retry.New(g.cfg.Retry.Count, IsTemporary,
		time.Duration(g.cfg.Retry.InitialInterval)*time.Millisecond,
		time.Duration(g.cfg.Retry.MaxInterval)*time.Millisecond,
		g.logger)
	g.policy.Interrupted = interrupted
	g.orderPolicy = g.policy.WithRetries(g.cfg.Retry.FetchOrderCount)

	refresh := time.Duration(g.cfg.Exchange.MarketsRefreshInterval) * time.Minute
	g.markets = NewMarketCatalog(g.api, g.policy, refresh, g.logger)
	g.history = NewHistoricalFetcher(g.asyncAPI, g.features, g.policy, g.logger)
	g.dryRun = NewOrderSimulator(g.AmountToPrecision, g.logger)
	return nil
}

func (g *Gateway) validate() error {
	if err := g.validateTimeframe(g.cfg.ActiveTimeframe()); err != nil {
		return err
	}
	if err := g.markets.ValidateStakeCurrency(g.cfg.StakeCurrency); err != nil {
		return err
	}
	if _, err := g.markets.ValidatePairs(g.cfg.TradablePairs(), g.cfg.StakeCurrency); err != nil {
		return err
	}
	if err := g.validateOrderTypes(g.cfg.OrderTypes); err != nil {
		return err
	}
	if err := g.validateTimeInForce(g.cfg.OrderTimeInForce); err != nil {
		return err
	}
	return g.validateStartupCandles(g.cfg.StartupCandleCount)
}

func (g *Gateway) validateTimeframe(tf string) error {
	supported := g.api.Timeframes()
	if len(supported) == 0 {
		return newError(KindOperational, nil, "%s does not provide the list of timeframes", g.api.Name())
	}
	if _, ok := supported[tf]; !ok {
		names := make([]string, 0, len(supported))
		for k := range supported {
			names = append(names, k)
		}
		sort.Strings(names)
		return newError(KindOperational, nil, "invalid timeframe %s, %s supports %s", tf, g.api.Name(), strings.Join(names, ", "))
	}
	d, err := ParseTimeframe(tf)
	if err != nil {
		return newError(KindOperational, err, "%v", err)
	}
	if d < time.Minute {
		return newError(KindOperational, nil, "timeframes < 1m are currently not supported")
	}
	return nil
}

func (g *Gateway) validateOrderTypes(o config.OrderTypes) error {
	if contains(o.Values(), models.OrderTypeMarket) && !g.api.Has(adapter.EndpointCreateMarketOrder) {
		return newError(KindOperational, nil, "exchange %s does not support market orders", g.api.Name())
	}
	if o.StoplossOnExchange && !g.features.StoplossOnExchange {
		return newError(KindOperational, nil, "on exchange stoploss is not supported for %s", g.api.Name())
	}
	return nil
}

func (g *Gateway) validateTimeInForce(tif config.OrderTimeInForce) error {
	for _, v := range tif.Values() {
		if !g.features.SupportsTimeInForce(v) {
			return newError(KindOperational, nil, "time in force policy %s is not supported for %s", v, g.api.Name())
		}
	}
	return nil
}

func (g *Gateway) validateStartupCandles(required int) error {
	available := g.features.OHLCVCandleLimit - startupCandleMargin
	if required > available {
		return newError(KindOperational, nil,
			"this strategy requires %d candles to start, %s only provides %d", required, g.api.Name(), available)
	}
	return nil
}

func (g *Gateway) setState(s State) {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	g.state = s
	g.failures = 0
}

func (g *Gateway) fail(err error) error {
	g.stateMu.Lock()
	g.state = StateFatal
	g.fatalErr = err
	g.stateMu.Unlock()
	g.logger.Error("Exchange gateway failed", zap.Error(err))
	return err
}

// State returns the lifecycle state.
func (g *Gateway) State() State {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.state
}

// Err returns the error that made the gateway fatal.
func (g *Gateway) Err() error {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.fatalErr
}

// guard rejects calls on a gateway that is not usable.
func (g *Gateway) guard() error {
	switch s := g.State(); s {
	case StateReady, StateDegraded:
		return nil
	case StateFatal:
		return newError(KindOperational, g.Err(), "exchange gateway is fatal: %v", g.Err())
	default:
		return newError(KindOperational, nil, "exchange gateway is %s", s)
	}
}

// observe tracks consecutive Temporary failures for the ready/degraded transition.
func (g *Gateway) observe(err error) error {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	if g.state != StateReady && g.state != StateDegraded {
		return err
	}
	switch {
	case err == nil:
		if g.state == StateDegraded {
			g.logger.Info("Exchange recovered")
		}
		g.state = StateReady
		g.failures = 0
	case errors.Is(err, context.Canceled):
	case IsTemporary(err):
		g.failures++
		if g.state == StateReady && g.failures >= degradeAfter {
			g.state = StateDegraded
			g.logger.Warn("Exchange degraded", zap.Int("consecutive_failures", g.failures), zap.Error(err))
		}
	}
	return err
}

// Close releases both venue connections. The gateway cannot be used afterwards.
func (g *Gateway) Close() error {
	var errs []error
	for _, api := range []adapter.Adapter{g.api, g.asyncAPI} {
		if api != nil {
			errs = append(errs, api.Close())
		}
	}
	g.stateMu.Lock()
	if g.state != StateFatal {
		g.state = StateFatal
		g.fatalErr = errors.New("gateway closed")
	}
	g.stateMu.Unlock()
	g.logger.Debug("Exchange connections closed")
	return errors.Join(errs...)
}

// Name is the venue display name.
func (g *Gateway) Name() string {
	if g.api == nil {
		return g.cfg.Exchange.Name
	}
	return g.api.Name()
}

// ID is the venue id.
func (g *Gateway) ID() string {
	if g.api == nil {
		return strings.ToLower(g.cfg.Exchange.Name)
	}
	return g.api.ID()
}

// DryRun reports whether orders are simulated.
func (g *Gateway) DryRun() bool { return g.cfg.DryRun }

// Features returns the resolved venue features.
func (g *Gateway) Features() Features { return g.features }

// Has reports whether the venue implements endpoint.
func (g *Gateway) Has(endpoint string) bool {
	return g.api != nil && g.api.Has(endpoint)
}

// Markets returns the loaded markets.
func (g *Gateway) Markets() map[string]models.Market {
	if g.markets == nil {
		return map[string]models.Market{}
	}
	return g.markets.All()
}

// GetMarkets returns the markets matching f.
func (g *Gateway) GetMarkets(f MarketFilter) map[string]models.Market {
	if g.markets == nil {
		return map[string]models.Market{}
	}
	return g.markets.Filter(f)
}

// QuoteCurrencies lists the quote currencies of the loaded markets.
func (g *Gateway) QuoteCurrencies() []string {
	if g.markets == nil {
		return nil
	}
	return g.markets.QuoteCurrencies()
}

// MarketIsActive reports whether pair is listed and active.
func (g *Gateway) MarketIsActive(pair string) bool {
	if g.markets == nil {
		return false
	}
	m, ok := g.markets.Get(pair)
	return ok && m.Active
}

// ValidPairCombination returns the listed pair made of the two currencies.
func (g *Gateway) ValidPairCombination(a, b string) (string, error) {
	for _, pair := range []string{a + "/" + b, b + "/" + a} {
		if _, ok := g.Markets()[pair]; ok {
			return pair, nil
		}
	}
	return "", newError(KindDependency, nil, "could not combine %s and %s to get a valid pair", a, b)
}

// ReloadMarkets reloads the markets if the refresh interval has passed.
func (g *Gateway) ReloadMarkets(ctx context.Context) error {
	if err := g.guard(); err != nil {
		return err
	}
	return g.observe(g.markets.Load(ctx, false))
}

// AmountToPrecision truncates amount to the pair's amount precision. Unknown pairs are returned unchanged.
func (g *Gateway) AmountToPrecision(pair string, amount float64) float64 {
	if g.markets == nil {
		return amount
	}
	m, ok := g.markets.Get(pair)
	if !ok {
		return amount
	}
	return AmountToPrecision(g.api.PrecisionMode(), m, amount)
}

// PriceToPrecision rounds price up to the pair's next tick. Unknown pairs are returned unchanged.
func (g *Gateway) PriceToPrecision(pair string, price float64) float64 {
	if g.markets == nil {
		return price
	}
	m, ok := g.markets.Get(pair)
	if !ok {
		return price
	}
	return PriceToPrecision(g.api.PrecisionMode(), m, price)
}

// Buy places a buy order, simulated in dry-run mode.
func (g *Gateway) Buy(ctx context.Context, pair, orderType string, amount, rate float64, timeInForce string) (models.Order, error) {
	return g.placeOrder(ctx, pair, orderType, models.SideBuy, amount, rate, timeInForce)
}

// Sell places a sell order, simulated in dry-run mode.
func (g *Gateway) Sell(ctx context.Context, pair, orderType string, amount, rate float64, timeInForce string) (models.Order, error) {
	return g.placeOrder(ctx, pair, orderType, models.SideSell, amount, rate, timeInForce)
}

func (g *Gateway) placeOrder(ctx context.Context, pair, orderType, side string, amount, rate float64, timeInForce string) (models.Order, error) {
	if err := g.guard(); err != nil {
		return models.Order{}, err
	}
	if g.cfg.DryRun {
		return g.dryRun.Place(pair, orderType, side, amount, rate, nil), nil
	}

	params := map[string]any{}
	if timeInForce != "" && timeInForce != "gtc" && orderType != models.OrderTypeMarket {
		params[g.features.TimeInForceParameter] = timeInForce
	}
	return g.createOrder(ctx, pair, orderType, side, amount, rate, params)
}

// StoplossLimit places a stop-loss limit sell order on the venue. stopPrice is rounded
// up to the tick and must stay above rate.
func (g *Gateway) StoplossLimit(ctx context.Context, pair string, amount, stopPrice, rate float64) (models.Order, error) {
	if err := g.guard(); err != nil {
		return models.Order{}, err
	}
	if !g.features.StoplossOnExchange {
		return models.Order{}, newError(KindOperational, nil, "stoploss on exchange is not supported for %s", g.Name())
	}

	stopPrice = g.PriceToPrecision(pair, stopPrice)
	if stopPrice <= rate {
		return models.Order{}, newError(KindOperational, nil,
			"in stoploss limit order, stop price should be more than limit price (stop %g, limit %g)", stopPrice, rate)
	}

	orderType := g.features.StoplossOrderType
	if g.cfg.DryRun {
		return g.dryRun.Place(pair, orderType, models.SideSell, amount, rate, map[string]any{"stopPrice": stopPrice}), nil
	}

	order, err := g.createOrder(ctx, pair, orderType, models.SideSell, amount, rate, map[string]any{"stopPrice": stopPrice})
	if err != nil {
		return order, err
	}
	g.logger.Info("Stoploss limit order added",
		zap.String("pair", pair), zap.Float64("stop_price", stopPrice), zap.Float64("limit", rate))
	return order, nil
}

func (g *Gateway) createOrder(ctx context.Context, pair, orderType, side string, amount, rate float64, params map[string]any) (models.Order, error) {
	amount = g.AmountToPrecision(pair, amount)
	var price *float64
	if orderType != models.OrderTypeMarket {
		p := g.PriceToPrecision(pair, rate)
		price = &p
	}

	merged := make(map[string]any, len(g.variant.OrderParams)+len(params))
	for k, v := range g.variant.OrderParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	desc := fmt.Sprintf("%s %s order on market %s (amount %g at rate %g)", orderType, side, pair, amount, rate)
	order, err := retry.Do(ctx, g.policy, "create_order", func(ctx context.Context) (*models.Order, error) {
		o, err := g.api.CreateOrder(ctx, pair, orderType, side, amount, price, merged)
		return o, translateCreate(err, desc)
	})
	if err = g.observe(err); err != nil {
		return models.Order{}, err
	}
	if order == nil {
		return models.Order{}, newError(KindTemporary, nil, "empty response placing %s", desc)
	}
	g.logger.Info("Order placed", zap.String("id", order.ID), zap.String("desc", desc))
	return *order, nil
}

// GetOrder returns an order by id. Lookups use the larger order retry budget.
func (g *Gateway) GetOrder(ctx context.Context, id, pair string) (models.Order, error) {
	if err := g.guard(); err != nil {
		return models.Order{}, err
	}
	if g.cfg.DryRun {
		return g.dryRun.Get(id)
	}
	order, err := retry.Do(ctx, g.orderPolicy, "fetch_order", func(ctx context.Context) (*models.Order, error) {
		o, err := g.api.FetchOrder(ctx, id, pair)
		return o, translateOrderLookup(err, fmt.Sprintf("get order %s", id))
	})
	if err = g.observe(err); err != nil {
		return models.Order{}, err
	}
	if order == nil {
		return models.Order{}, newError(KindInvalidOrder, nil, "order %s not found", id)
	}
	return *order, nil
}

// CancelOrder cancels an order. In dry-run mode it only drops resting simulated orders.
func (g *Gateway) CancelOrder(ctx context.Context, id, pair string) error {
	if err := g.guard(); err != nil {
		return err
	}
	if g.cfg.DryRun {
		return g.dryRun.Cancel(id)
	}
	err := retry.Run(ctx, g.policy, "cancel_order", func(ctx context.Context) error {
		return translateOrderLookup(g.api.CancelOrder(ctx, id, pair), fmt.Sprintf("cancel order %s", id))
	})
	return g.observe(err)
}

// DryRunOrders returns the simulated order table.
func (g *Gateway) DryRunOrders() []models.Order {
	if g.dryRun == nil {
		return nil
	}
	return g.dryRun.Orders()
}

// RestoreDryRunOrders replaces the simulated order table with a saved snapshot.
func (g *Gateway) RestoreDryRunOrders(orders []models.Order) {
	if g.dryRun != nil {
		g.dryRun.Load(orders)
	}
}

// GetBalance returns the free balance of currency. Dry-run reports the configured wallet.
func (g *Gateway) GetBalance(ctx context.Context, currency string) (float64, error) {
	if err := g.guard(); err != nil {
		return 0, err
	}
	if g.cfg.DryRun {
		return g.cfg.DryRunWallet, nil
	}
	balances, err := g.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	b, ok := balances[currency]
	if !ok {
		return 0, newError(KindTemporary, nil, "could not get %s balance due to malformed exchange response", currency)
	}
	return b.Free, nil
}

// GetBalances returns all balances. Dry-run reports none.
func (g *Gateway) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}
	if g.cfg.DryRun {
		return map[string]models.Balance{}, nil
	}
	balances, err := retry.Do(ctx, g.policy, "fetch_balance", func(ctx context.Context) (map[string]models.Balance, error) {
		b, err := g.api.FetchBalance(ctx)
		if err != nil {
			return nil, translate(err, "get balance")
		}
		if g.variant.adjustBalances != nil {
			b, err = g.variant.adjustBalances(ctx, g.api, b)
			if err != nil {
				return nil, translate(err, "get open orders for balance")
			}
		}
		return b, nil
	})
	return balances, g.observe(err)
}

// GetTickers returns the tickers of all markets.
func (g *Gateway) GetTickers(ctx context.Context) (map[string]models.Ticker, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}
	tickers, err := retry.Do(ctx, g.policy, "fetch_tickers", func(ctx context.Context) (map[string]models.Ticker, error) {
		t, err := g.api.FetchTickers(ctx)
		return t, translate(err, "load tickers")
	})
	return tickers, g.observe(err)
}

// GetTicker returns the ticker of pair. Without refresh a cached ticker is returned when present.
func (g *Gateway) GetTicker(ctx context.Context, pair string, refresh bool) (models.Ticker, error) {
	if err := g.guard(); err != nil {
		return models.Ticker{}, err
	}
	if !refresh {
		g.tickerMu.Lock()
		t, ok := g.tickers[pair]
		g.tickerMu.Unlock()
		if ok {
			g.logger.Debug("Returning cached ticker", zap.String("pair", pair))
			return t, nil
		}
	}
	if _, ok := g.markets.Get(pair); !ok {
		return models.Ticker{}, newError(KindDependency, nil, "pair %s not available", pair)
	}

	ticker, err := retry.Do(ctx, g.policy, "fetch_ticker", func(ctx context.Context) (*models.Ticker, error) {
		t, err := g.api.FetchTicker(ctx, pair)
		return t, translate(err, "load ticker")
	})
	if err = g.observe(err); err != nil {
		return models.Ticker{}, err
	}
	if ticker == nil {
		return models.Ticker{}, newError(KindTemporary, nil, "empty ticker for %s", pair)
	}
	g.tickerMu.Lock()
	g.tickers[pair] = *ticker
	g.tickerMu.Unlock()
	return *ticker, nil
}

// GetOrderBook returns the level 2 order book, with limit snapped to a depth the venue accepts.
func (g *Gateway) GetOrderBook(ctx context.Context, pair string, limit int) (models.OrderBook, error) {
	if err := g.guard(); err != nil {
		return models.OrderBook{}, err
	}
	limit = g.features.OrderBookLimit(limit)
	book, err := retry.Do(ctx, g.policy, "fetch_l2_order_book", func(ctx context.Context) (*models.OrderBook, error) {
		b, err := g.api.FetchOrderBook(ctx, pair, limit)
		return b, translate(err, "get order book")
	})
	if err = g.observe(err); err != nil {
		return models.OrderBook{}, err
	}
	if book == nil {
		return models.OrderBook{Symbol: pair}, nil
	}
	return *book, nil
}

// GetTradesForOrder returns the own trades that filled orderID since the given time.
// It is empty in dry-run mode and on venues without own-trade history.
func (g *Gateway) GetTradesForOrder(ctx context.Context, orderID, pair string, since time.Time) ([]models.MarketTrade, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}
	if g.cfg.DryRun || !g.api.Has(adapter.EndpointFetchMyTrades) {
		return nil, nil
	}
	trades, err := retry.Do(ctx, g.policy, "fetch_my_trades", func(ctx context.Context) ([]models.MarketTrade, error) {
		t, err := g.api.FetchMyTrades(ctx, pair, since.Add(-myTradesOffset).UnixMilli())
		return t, translate(err, "get trades")
	})
	if err = g.observe(err); err != nil {
		return nil, err
	}
	var matched []models.MarketTrade
	for _, t := range trades {
		if t.Order == orderID {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// RefreshReport tells which series a refresh replaced.
type RefreshReport struct {
	Refreshed []PairTimeframe
	Cached    []PairTimeframe
	Failed    map[PairTimeframe]error
}

// RefreshLatestCandles fetches the latest candles of every absent or stale pair
// concurrently and stores them in the candle cache. A failing pair is logged and
// skipped; the others are still stored.
func (g *Gateway) RefreshLatestCandles(ctx context.Context, pairs []PairTimeframe) (RefreshReport, error) {
	report := RefreshReport{Failed: map[PairTimeframe]error{}}
	if err := g.guard(); err != nil {
		return report, err
	}
	g.logger.Debug("Refreshing candles", zap.Int("pairs", len(pairs)))

	now := g.now()
	seen := make(map[PairTimeframe]struct{}, len(pairs))
	var todo []PairTimeframe
	for _, key := range pairs {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if g.candles.Has(key.Pair, key.Timeframe) && !g.candles.IsStale(key.Pair, key.Timeframe, now) {
			g.logger.Debug("Using cached candles", zap.String("pair", key.Pair), zap.String("timeframe", key.Timeframe))
			report.Cached = append(report.Cached, key)
			continue
		}
		todo = append(todo, key)
	}

	results := make([][]models.Candle, len(todo))
	errs := make([]error, len(todo))
	wg := conc.NewWaitGroup()
	for i, key := range todo {
		i, key := i, key
		wg.Go(func() {
			results[i], errs[i] = g.history.FetchCandles(ctx, key.Pair, key.Timeframe, 0)
		})
	}
	wg.Wait()

	var firstErr error
	for i, key := range todo {
		if err := errs[i]; err != nil {
			g.logger.Warn("Could not refresh candles",
				zap.String("pair", key.Pair), zap.String("timeframe", key.Timeframe), zap.Error(err))
			report.Failed[key] = err
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		series := results[i]
		var newest int64
		if len(series) > 0 {
			newest = series[len(series)-1].Timestamp
			if g.features.OHLCVPartialCandle {
				series = series[:len(series)-1]
			}
		}
		g.candles.Store(key.Pair, key.Timeframe, series, newest)
		report.Refreshed = append(report.Refreshed, key)
	}

	if len(report.Refreshed) > 0 {
		g.observe(nil)
	} else if firstErr != nil {
		g.observe(firstErr)
	}
	return report, nil
}

// Candles returns the cached series of pair and timeframe without fetching.
func (g *Gateway) Candles(pair, timeframe string) []models.Candle {
	return g.candles.Get(pair, timeframe)
}

// GetHistoricOHLCV downloads the candles of pair since the given time (ms).
func (g *Gateway) GetHistoricOHLCV(ctx context.Context, pair, timeframe string, since int64) (OHLCVResult, error) {
	if err := g.guard(); err != nil {
		return OHLCVResult{}, err
	}
	res, err := g.history.FetchOHLCV(ctx, pair, timeframe, since)
	return res, g.observe(err)
}

// GetHistoricTrades downloads the public trades of pair between since and until (ms, 0 for now).
func (g *Gateway) GetHistoricTrades(ctx context.Context, pair string, since, until int64) ([]models.MarketTrade, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}
	trades, err := g.history.FetchTrades(ctx, pair, since, until)
	return trades, g.observe(err)
}
