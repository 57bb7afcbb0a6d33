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
	"tradebot-go/internal/trader"
)

// registry lists the venues this build can connect to.
var registry = adapter.Registry{
	"binance":   binance.New,
	"binanceus": binance.New,
	"binanceje": binance.New,
}

func main() {
	configDir := pflag.String("config", "./configs", "directory holding config.yml")
	pflag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to the exchange and validate the configuration against it
	gateway := exchange.NewGateway(cfg, registry, log)
	defer gateway.Close()
	if err := gateway.Initialize(ctx, true); err != nil {
		// Fatal skips deferred calls.
		gateway.Close()
		log.Fatal("Failed to initialize exchange", zap.Error(err))
	}
	log.Info("Successfully connected to exchange.", zap.String("exchange", gateway.Name()))

	stores := trader.Stores{
		Orders:  database.NewOrderStore(db),
		Trades:  database.NewTradeStore(db),
		Candles: database.NewCandleStore(db),
	}
	// Strategies are plugged in by embedding programs (see trader.Strategy); this binary collects data only.
	tradeEngine := trader.NewEngine(log, &cfg, gateway, nil, stores)

	apiServer := trader.NewAPIServer(tradeEngine, cfg.Bot.APIPort, log)
	apiServer.Start()

	tradeEngine.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}
	log.Info("Bot has been shut down.")
}
