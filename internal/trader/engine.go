// Package trader runs the polling loop that drives the exchange gateway.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot-go/internal/config"
	"tradebot-go/internal/database"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/models"
)

// State is the lifecycle state of the engine.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateCooldown State = "cooldown"
	StateStopped  State = "stopped"
)

// Gateway is the part of exchange.Gateway the engine uses.
type Gateway interface {
	Name() string
	State() exchange.State
	DryRun() bool
	ReloadMarkets(ctx context.Context) error
	RefreshLatestCandles(ctx context.Context, pairs []exchange.PairTimeframe) (exchange.RefreshReport, error)
	Candles(pair, timeframe string) []models.Candle
	GetTicker(ctx context.Context, pair string, refresh bool) (models.Ticker, error)
	GetBalance(ctx context.Context, currency string) (float64, error)
	AmountToPrecision(pair string, amount float64) float64
	Buy(ctx context.Context, pair, orderType string, amount, rate float64, timeInForce string) (models.Order, error)
	Sell(ctx context.Context, pair, orderType string, amount, rate float64, timeInForce string) (models.Order, error)
	DryRunOrders() []models.Order
	RestoreDryRunOrders(orders []models.Order)
}

var _ Gateway = (*exchange.Gateway)(nil)

// OrderSnapshotter persists the simulated order table.
type OrderSnapshotter interface {
	SaveOrders(orders []models.Order) error
	LoadOrders() ([]models.Order, error)
}

// TradeRepository persists the positions opened by the bot.
type TradeRepository interface {
	Create(trade *models.Trade) error
	OpenTrade(pair string) (*models.Trade, error)
	Close(trade *models.Trade, rate float64, orderID string) error
}

// CandleWriter persists refreshed candles.
type CandleWriter interface {
	SaveCandles(pair, timeframe string, candles []models.Candle) error
}

// Stores groups the persistence collaborators. Nil members are skipped.
type Stores struct {
	Orders  OrderSnapshotter
	Trades  TradeRepository
	Candles CandleWriter
}

// Status is a point in time view of the engine.
type Status struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	State        State          `json:"state"`
	GatewayState exchange.State `json:"gateway_state"`
	DryRun       bool           `json:"dry_run"`
	Strategy     string         `json:"strategy"`
	StartTime    time.Time      `json:"start_time"`
	LastTick     time.Time      `json:"last_tick"`
	LastError    string         `json:"last_error,omitempty"`
}

// Engine is the worker loop. Every tick it reloads markets, refreshes the latest candles,
// executes the strategy signals and snapshots state into the database.
type Engine struct {
	ID        string
	Name      string
	StartTime time.Time

	logger   *zap.Logger
	cfg      *config.Config
	gateway  Gateway
	strategy Strategy
	stores   Stores
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	lastTick  time.Time
	lastError error
}

// NewEngine creates a new trading engine. A nil strategy runs the engine in data-only mode.
func NewEngine(logger *zap.Logger, cfg *config.Config, gateway Gateway, strategy Strategy, stores Stores) *Engine {
	id := uuid.NewString()
	return &Engine{
		ID:        id,
		Name:      fmt.Sprintf("tradebot-%s", gateway.Name()),
		StartTime: time.Now(),
		logger:    logger.With(zap.String("engine", id)),
		cfg:       cfg,
		gateway:   gateway,
		strategy:  strategy,
		stores:    stores,
		now:       time.Now,
		state:     StateStarting,
	}
}

// Run restores persisted state and ticks until ctx is done. Once stopped, it waits for ctx
// without ticking so the status stays observable.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Initializing trading engine...")
	e.restore()
	if e.strategy == nil {
		e.logger.Warn("No strategy configured, running in data-only mode")
	} else {
		e.logger.Info("Using strategy", zap.String("strategy", e.strategy.Name()))
	}

	for {
		wait := e.Step(ctx)
		if e.State() == StateStopped {
			e.logger.Error("Engine stopped, no further orders will be placed", zap.Error(e.LastError()))
			<-ctx.Done()
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("Stopping trading engine...")
			e.persist()
			return
		case <-timer.C:
		}
	}
}

// Step runs one tick, updates the engine state from its outcome and returns the time to
// wait before the next tick.
func (e *Engine) Step(ctx context.Context) time.Duration {
	interval := time.Duration(e.cfg.Bot.TickInterval) * time.Second
	if e.State() == StateStopped {
		return interval
	}

	err := e.tick(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTick = e.now()
	e.lastError = err
	switch {
	case err == nil:
		e.state = StateRunning
		return interval
	case exchange.IsOperational(err):
		e.state = StateStopped
		return interval
	case exchange.IsTemporary(err):
		cooldown := time.Duration(e.cfg.Bot.RetryCooldown) * time.Second
		e.logger.Warn("Temporary error, waiting before the next tick",
			zap.Error(err), zap.Duration("cooldown", cooldown))
		e.state = StateCooldown
		return cooldown
	default:
		e.logger.Error("Tick failed", zap.Error(err))
		e.state = StateRunning
		return interval
	}
}

func (e *Engine) tick(ctx context.Context) error {
	if err := e.gateway.ReloadMarkets(ctx); err != nil {
		return fmt.Errorf("reload markets: %w", err)
	}

	timeframe := e.cfg.ActiveTimeframe()
	pairs := e.cfg.TradablePairs()
	keys := make([]exchange.PairTimeframe, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, exchange.PairTimeframe{Pair: p, Timeframe: timeframe})
	}
	report, err := e.gateway.RefreshLatestCandles(ctx, keys)
	if err != nil {
		return fmt.Errorf("refresh candles: %w", err)
	}
	e.logger.Debug("Refreshed candles",
		zap.Int("refreshed", len(report.Refreshed)), zap.Int("cached", len(report.Cached)), zap.Int("failed", len(report.Failed)))
	if len(report.Refreshed) == 0 && len(report.Cached) == 0 {
		for _, key := range keys {
			if ferr, ok := report.Failed[key]; ok {
				return fmt.Errorf("refresh candles of %s: %w", key.Pair, ferr)
			}
		}
	}
	e.saveCandles(report.Refreshed)

	if e.strategy != nil {
		for _, pair := range pairs {
			if err := e.processPair(ctx, pair, timeframe); err != nil {
				if exchange.IsDependency(err) || errors.Is(err, errSkipPair) {
					e.logger.Warn("Skipping pair", zap.String("pair", pair), zap.Error(err))
					continue
				}
				e.persist()
				return err
			}
		}
	}

	e.persist()
	return nil
}

// errSkipPair marks a per-pair failure that must not abort the tick.
var errSkipPair = errors.New("pair skipped")

func (e *Engine) processPair(ctx context.Context, pair, timeframe string) error {
	candles := e.gateway.Candles(pair, timeframe)
	if len(candles) < e.strategy.StartupCandleCount() {
		e.logger.Debug("Not enough candles yet", zap.String("pair", pair), zap.Int("candles", len(candles)))
		return nil
	}

	var trade *models.Trade
	if e.stores.Trades != nil {
		t, err := e.stores.Trades.OpenTrade(pair)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %v", errSkipPair, err)
		}
		trade = t
	}

	signal, err := e.strategy.Analyze(pair, timeframe, candles, trade != nil)
	if err != nil {
		return fmt.Errorf("%w: strategy %s: %v", errSkipPair, e.strategy.Name(), err)
	}

	switch {
	case signal == SignalBuy && trade == nil:
		return e.enter(ctx, pair)
	case signal == SignalSell && trade != nil:
		return e.exit(ctx, trade)
	}
	return nil
}

// enter buys stake_amount worth of pair at the current ask.
func (e *Engine) enter(ctx context.Context, pair string) error {
	l := e.logger.With(zap.String("pair", pair), zap.String("side", models.SideBuy))

	available, err := e.gateway.GetBalance(ctx, e.cfg.StakeCurrency)
	if err != nil {
		return err
	}
	stake := e.cfg.StakeAmount
	if stake <= 0 || stake > available {
		l.Info("Insufficient stake to open a trade",
			zap.Float64("stake_amount", stake), zap.Float64("available", available))
		return nil
	}

	ticker, err := e.gateway.GetTicker(ctx, pair, true)
	if err != nil {
		return err
	}
	rate := ticker.Ask
	if rate <= 0 {
		rate = ticker.Last
	}
	if rate <= 0 {
		return fmt.Errorf("%w: no usable price for %s", errSkipPair, pair)
	}
	amount := e.gateway.AmountToPrecision(pair, stake/rate)
	if amount <= 0 {
		l.Error("Formatted quantity is zero or less, skipping trade", zap.Float64("rate", rate))
		return nil
	}

	l.Info("Executing trade...", zap.Float64("amount", amount), zap.Float64("rate", rate))
	order, err := e.gateway.Buy(ctx, pair, e.cfg.OrderTypes.Buy, amount, rate, e.cfg.OrderTimeInForce.Buy)
	if err != nil {
		return err
	}

	openRate := order.Price
	if openRate == 0 {
		openRate = rate
	}
	trade := &models.Trade{
		Pair:         pair,
		Amount:       order.Amount,
		OpenRate:     openRate,
		OpenOrderID:  order.ID,
		StakeAmount:  stake,
		IsSimulation: e.gateway.DryRun(),
		OpenedAt:     e.now().UTC(),
	}
	if e.stores.Trades != nil {
		if err := e.stores.Trades.Create(trade); err != nil {
			l.Error("Failed to save trade record to database", zap.Error(err))
			return nil
		}
	}
	l.Info("Opened trade", zap.String("order_id", order.ID), zap.Uint("trade_id", trade.ID))
	return nil
}

// exit sells the whole position at the current bid.
func (e *Engine) exit(ctx context.Context, trade *models.Trade) error {
	l := e.logger.With(zap.String("pair", trade.Pair), zap.String("side", models.SideSell))

	ticker, err := e.gateway.GetTicker(ctx, trade.Pair, true)
	if err != nil {
		return err
	}
	rate := ticker.Bid
	if rate <= 0 {
		rate = ticker.Last
	}
	if rate <= 0 {
		return fmt.Errorf("%w: no usable price for %s", errSkipPair, trade.Pair)
	}

	order, err := e.gateway.Sell(ctx, trade.Pair, e.cfg.OrderTypes.Sell, trade.Amount, rate, e.cfg.OrderTimeInForce.Sell)
	if err != nil {
		return err
	}
	closeRate := order.Price
	if closeRate == 0 {
		closeRate = rate
	}
	if err := e.stores.Trades.Close(trade, closeRate, order.ID); err != nil {
		l.Error("Failed to close trade record", zap.Error(err))
		return nil
	}
	l.Info("Closed trade", zap.Uint("trade_id", trade.ID), zap.Float64("profit", trade.Profit))
	return nil
}

func (e *Engine) saveCandles(keys []exchange.PairTimeframe) {
	if e.stores.Candles == nil {
		return
	}
	for _, key := range keys {
		if err := e.stores.Candles.SaveCandles(key.Pair, key.Timeframe, e.gateway.Candles(key.Pair, key.Timeframe)); err != nil {
			e.logger.Error("Failed to persist candles", zap.String("pair", key.Pair), zap.Error(err))
		}
	}
}

// persist snapshots the simulated orders.
func (e *Engine) persist() {
	if e.stores.Orders == nil || !e.gateway.DryRun() {
		return
	}
	if err := e.stores.Orders.SaveOrders(e.gateway.DryRunOrders()); err != nil {
		e.logger.Error("Failed to snapshot dry-run orders", zap.Error(err))
	}
}

// restore loads the simulated order snapshot into the gateway.
func (e *Engine) restore() {
	if e.stores.Orders == nil || !e.gateway.DryRun() {
		return
	}
	orders, err := e.stores.Orders.LoadOrders()
	if err != nil {
		e.logger.Error("Failed to restore dry-run orders", zap.Error(err))
		return
	}
	e.gateway.RestoreDryRunOrders(orders)
	e.logger.Info("Restored dry-run orders", zap.Int("count", len(orders)))
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastError returns the error of the last tick, nil if it succeeded.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Status{
		ID:           e.ID,
		Name:         e.Name,
		State:        e.state,
		GatewayState: e.gateway.State(),
		DryRun:       e.gateway.DryRun(),
		Strategy:     "none",
		StartTime:    e.StartTime,
		LastTick:     e.lastTick,
	}
	if e.strategy != nil {
		s.Strategy = e.strategy.Name()
	}
	if e.lastError != nil {
		s.LastError = e.lastError.Error()
	}
	return s
}
