package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange           Exchange         `mapstructure:"exchange"`
	DryRun             bool             `mapstructure:"dry_run"`
	DryRunWallet       float64          `mapstructure:"dry_run_wallet"`
	StakeCurrency      string           `mapstructure:"stake_currency"`
	StakeAmount        float64          `mapstructure:"stake_amount"`
	Timeframe          string           `mapstructure:"timeframe"`
	TickerInterval     string           `mapstructure:"ticker_interval"`
	OrderTypes         OrderTypes       `mapstructure:"order_types"`
	OrderTimeInForce   OrderTimeInForce `mapstructure:"order_time_in_force"`
	StartupCandleCount int              `mapstructure:"startup_candle_count"`
	Retry              Retry            `mapstructure:"retry"`
	Bot                Bot              `mapstructure:"bot"`
	Logger             Logger           `mapstructure:"logger"`
	Server             Server           `mapstructure:"server"`
	Database           Database         `mapstructure:"database"`
}

// Exchange holds the venue connection and pair selection.
type Exchange struct {
	Name                   string         `mapstructure:"name"`
	Key                    string         `mapstructure:"key"`
	Secret                 string         `mapstructure:"secret"`
	Password               string         `mapstructure:"password"`
	UID                    string         `mapstructure:"uid"`
	Sandbox                bool           `mapstructure:"sandbox"`
	PairWhitelist          []string       `mapstructure:"pair_whitelist"`
	PairBlacklist          []string       `mapstructure:"pair_blacklist"`
	CCXTConfig             map[string]any `mapstructure:"ccxt_config"`
	CCXTAsyncConfig        map[string]any `mapstructure:"ccxt_async_config"`
	FeatureOverrides       map[string]any `mapstructure:"ft_has_params"`
	MarketsRefreshInterval int            `mapstructure:"markets_refresh_interval"` // minutes
	RateLimit              float64        `mapstructure:"rate_limit"`               // requests per second
	RateLimitBurst         int            `mapstructure:"rate_limit_burst"`
}

// OrderTypes maps each order purpose to the venue order type.
type OrderTypes struct {
	Buy                string `mapstructure:"buy"`
	Sell               string `mapstructure:"sell"`
	Stoploss           string `mapstructure:"stoploss"`
	StoplossOnExchange bool   `mapstructure:"stoploss_on_exchange"`
}

// Values returns the configured order types, skipping empty entries.
func (o OrderTypes) Values() []string {
	var out []string
	for _, v := range []string{o.Buy, o.Sell, o.Stoploss} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// OrderTimeInForce holds the time in force policy per side.
type OrderTimeInForce struct {
	Buy  string `mapstructure:"buy"`
	Sell string `mapstructure:"sell"`
}

// Values returns the configured policies, skipping empty entries.
func (o OrderTimeInForce) Values() []string {
	var out []string
	for _, v := range []string{o.Buy, o.Sell} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Retry holds the retry budget for remote calls.
type Retry struct {
	Count           int `mapstructure:"count"`
	FetchOrderCount int `mapstructure:"fetch_order_count"`
	InitialInterval int `mapstructure:"initial_interval"` // milliseconds
	MaxInterval     int `mapstructure:"max_interval"`     // milliseconds
}

// Bot holds the worker loop settings.
type Bot struct {
	TickInterval  int `mapstructure:"tick_interval"`  // seconds
	RetryCooldown int `mapstructure:"retry_cooldown"` // seconds
	APIPort       int `mapstructure:"api_port"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultTimeframe is used when neither timeframe nor ticker_interval is set.
const DefaultTimeframe = "5m"

// ActiveTimeframe returns the configured timeframe, falling back to the legacy ticker_interval key.
func (c *Config) ActiveTimeframe() string {
	if c.Timeframe != "" {
		return c.Timeframe
	}
	if c.TickerInterval != "" {
		return c.TickerInterval
	}
	return DefaultTimeframe
}

// TradablePairs returns the whitelist without blacklisted pairs, preserving order.
func (c *Config) TradablePairs() []string {
	blocked := make(map[string]struct{}, len(c.Exchange.PairBlacklist))
	for _, p := range c.Exchange.PairBlacklist {
		blocked[p] = struct{}{}
	}
	pairs := make([]string, 0, len(c.Exchange.PairWhitelist))
	for _, p := range c.Exchange.PairWhitelist {
		if _, ok := blocked[p]; !ok {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("exchange.markets_refresh_interval", 60)
	v.SetDefault("exchange.rate_limit", 10)
	v.SetDefault("exchange.rate_limit_burst", 5)
	v.SetDefault("dry_run", true)
	v.SetDefault("dry_run_wallet", 1000.0)
	v.SetDefault("order_types.buy", "limit")
	v.SetDefault("order_types.sell", "limit")
	v.SetDefault("order_types.stoploss", "market")
	v.SetDefault("order_time_in_force.buy", "gtc")
	v.SetDefault("order_time_in_force.sell", "gtc")
	v.SetDefault("retry.count", 4)
	v.SetDefault("retry.fetch_order_count", 5)
	v.SetDefault("retry.initial_interval", 500)
	v.SetDefault("retry.max_interval", 30000)
	v.SetDefault("bot.tick_interval", 5)
	v.SetDefault("bot.retry_cooldown", 30)
	v.SetDefault("bot.api_port", 8081)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 28)
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "tradebot.sqlite")
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if c.StakeCurrency == "" {
		return fmt.Errorf("stake_currency is required")
	}
	if !c.DryRun && (c.Exchange.Key == "" || c.Exchange.Secret == "") {
		return fmt.Errorf("exchange.key and exchange.secret are required when dry_run is disabled")
	}
	return nil
}
