package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/binance"
	"tradebot-go/internal/config"
	"tradebot-go/internal/database"
	"tradebot-go/internal/exchange"
	"tradebot-go/internal/logger"
)

var registry = adapter.Registry{
	"binance":   binance.New,
	"binanceus": binance.New,
	"binanceje": binance.New,
}

func main() {
	configDir := pflag.String("config", "./configs", "directory holding config.yml")
	days := pflag.Int("days", 30, "number of days to download")
	timeframes := pflag.StringSlice("timeframes", nil, "timeframes to download (default: the configured timeframe)")
	pairs := pflag.StringSlice("pairs", nil, "pairs to download (default: the whitelist)")
	withTrades := pflag.Bool("trades", false, "build the candles from public trades instead of OHLCV")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log, *days, *timeframes, *pairs, *withTrades); err != nil {
		log.Error("Download failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger, days int, timeframes, pairs []string, withTrades bool) error {
	if days <= 0 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}
	if len(timeframes) == 0 {
		timeframes = []string{cfg.ActiveTimeframe()}
	}
	if len(pairs) == 0 {
		pairs = cfg.TradablePairs()
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return err
	}
	candles := database.NewCandleStore(db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Downloading needs no trading configuration, so the gateway is not validated.
	gateway := exchange.NewGateway(cfg, registry, log)
	defer gateway.Close()
	if err := gateway.Initialize(ctx, false); err != nil {
		return fmt.Errorf("initialize exchange: %w", err)
	}

	since := time.Now().AddDate(0, 0, -days).UnixMilli()
	for _, pair := range pairs {
		if !gateway.MarketIsActive(pair) {
			log.Warn("Skipping pair, not an active market", zap.String("pair", pair))
			continue
		}
		if withTrades {
			err = downloadTrades(ctx, gateway, candles, log, pair, timeframes, since)
		} else {
			err = downloadCandles(ctx, gateway, candles, log, pair, timeframes, since)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func downloadCandles(ctx context.Context, gateway *exchange.Gateway, store *database.CandleStore, log *zap.Logger,
	pair string, timeframes []string, since int64) error {
	for _, tf := range timeframes {
		res, err := gateway.GetHistoricOHLCV(ctx, pair, tf, since)
		if err != nil {
			return fmt.Errorf("download %s %s: %w", pair, tf, err)
		}
		if !res.Complete() {
			log.Warn("Candle history has gaps",
				zap.String("pair", pair), zap.String("timeframe", tf), zap.Any("failed_windows", res.FailedWindows))
		}
		if err := store.SaveCandles(pair, tf, res.Candles); err != nil {
			return err
		}
		log.Info("Stored candles", zap.String("pair", pair), zap.String("timeframe", tf), zap.Int("count", len(res.Candles)))
	}
	return nil
}

// downloadTrades fetches the public trades of pair once and stores them as candles of every timeframe.
func downloadTrades(ctx context.Context, gateway *exchange.Gateway, store *database.CandleStore, log *zap.Logger,
	pair string, timeframes []string, since int64) error {
	trades, err := gateway.GetHistoricTrades(ctx, pair, since, 0)
	if err != nil {
		return fmt.Errorf("download trades of %s: %w", pair, err)
	}
	for _, tf := range timeframes {
		series, err := exchange.TradesToCandles(trades, tf)
		if err != nil {
			return err
		}
		if err := store.SaveCandles(pair, tf, series); err != nil {
			return err
		}
		log.Info("Stored candles from trades",
			zap.String("pair", pair), zap.String("timeframe", tf), zap.Int("trades", len(trades)), zap.Int("count", len(series)))
	}
	return nil
}
