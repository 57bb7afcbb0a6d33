package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
)

// Pagination styles of public trade history.
const (
	PaginationTime = "time"
	PaginationID   = "id"
)

// Features describes what the bot may rely on for a venue.
type Features struct {
	StoplossOnExchange   bool     `mapstructure:"stoploss_on_exchange"`
	StoplossOrderType    string   `mapstructure:"stoploss_order_type"`
	OrderTimeInForce     []string `mapstructure:"order_time_in_force"`
	TimeInForceParameter string   `mapstructure:"time_in_force_parameter"`
	OHLCVCandleLimit     int      `mapstructure:"ohlcv_candle_limit"`
	OHLCVPartialCandle   bool     `mapstructure:"ohlcv_partial_candle"`
	TradesPagination     string   `mapstructure:"trades_pagination"`
	TradesPaginationArg  string   `mapstructure:"trades_pagination_arg"`
	L2LimitRange         []int    `mapstructure:"l2_limit_range"`
}

func defaultFeatures() Features {
	return Features{
		StoplossOrderType:    models.OrderTypeStopLossLimit,
		OrderTimeInForce:     []string{"gtc"},
		TimeInForceParameter: "timeInForce",
		OHLCVCandleLimit:     500,
		OHLCVPartialCandle:   true,
		TradesPagination:     PaginationTime,
		TradesPaginationArg:  "since",
	}
}

// SupportsTimeInForce reports whether tif is accepted by the venue.
func (f Features) SupportsTimeInForce(tif string) bool {
	for _, v := range f.OrderTimeInForce {
		if v == tif {
			return true
		}
	}
	return false
}

// OrderBookLimit snaps limit up to the next depth the venue accepts.
func (f Features) OrderBookLimit(limit int) int {
	if len(f.L2LimitRange) == 0 {
		return limit
	}
	steps := append([]int(nil), f.L2LimitRange...)
	sort.Ints(steps)
	for _, s := range steps {
		if limit <= s {
			return s
		}
	}
	return steps[len(steps)-1]
}

// balanceAdjuster rewrites balances fetched from api.
type balanceAdjuster func(ctx context.Context, api adapter.Adapter, balances map[string]models.Balance) (map[string]models.Balance, error)

// Variant holds the per-venue quirks the gateway applies.
type Variant struct {
	Name string
	// features edits the defaults for this venue.
	features func(f *Features)
	// OrderParams is merged into every live order request.
	OrderParams map[string]any
	// adjustBalances is optional.
	adjustBalances balanceAdjuster
}

var variants = map[string]Variant{
	"binance": {
		Name: "binance",
		features: func(f *Features) {
			f.StoplossOnExchange = true
			f.OrderTimeInForce = []string{"gtc", "fok", "ioc"}
			f.OHLCVCandleLimit = 1000
			f.TradesPagination = PaginationID
			f.TradesPaginationArg = "fromId"
			f.L2LimitRange = []int{5, 10, 20, 50, 100, 500, 1000}
		},
	},
	"kraken": {
		Name: "kraken",
		features: func(f *Features) {
			f.TradesPaginationArg = "since"
		},
		OrderParams:    map[string]any{"trading_agreement": "agree"},
		adjustBalances: adjustForOpenOrders,
	},
	"ftx": {
		Name: "ftx",
		features: func(f *Features) {
			f.StoplossOnExchange = true
			f.StoplossOrderType = "stop"
			f.OHLCVCandleLimit = 1500
		},
	},
	"gateio": {
		Name: "gateio",
		features: func(f *Features) {
			f.StoplossOnExchange = true
			f.StoplossOrderType = models.OrderTypeLimit
			f.OHLCVCandleLimit = 1000
		},
	},
	"bittrex": {
		Name: "bittrex",
		features: func(f *Features) {
			f.OHLCVPartialCandle = false
			f.L2LimitRange = []int{1, 25, 500}
		},
	},
	"okex": {
		Name: "okex",
		features: func(f *Features) {
			f.OHLCVCandleLimit = 100
		},
	},
}

func init() {
	variants["binanceus"] = renamed(variants["binance"], "binanceus")
	variants["binanceje"] = renamed(variants["binance"], "binanceje")
}

func renamed(v Variant, name string) Variant {
	v.Name = name
	return v
}

// VariantFor returns the quirks of the named venue. Unknown venues get the defaults.
func VariantFor(name string) Variant {
	if v, ok := variants[strings.ToLower(name)]; ok {
		return v
	}
	return Variant{Name: strings.ToLower(name)}
}

// ResolveFeatures merges the defaults, the venue variant and the configured overrides, in that order.
func ResolveFeatures(v Variant, overrides map[string]any) (Features, error) {
	f := defaultFeatures()
	if v.features != nil {
		v.features(&f)
	}
	if len(overrides) == 0 {
		return f, nil
	}

	// Slices given in overrides replace the current value instead of being merged into it.
	if _, ok := overrides["order_time_in_force"]; ok {
		f.OrderTimeInForce = nil
	}
	if _, ok := overrides["l2_limit_range"]; ok {
		f.L2LimitRange = nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &f,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return f, err
	}
	if err := dec.Decode(overrides); err != nil {
		return f, fmt.Errorf("invalid ft_has_params: %w", err)
	}
	return f, nil
}

// adjustForOpenOrders recomputes used and free from the open orders, for venues that
// report the full balance as free.
func adjustForOpenOrders(ctx context.Context, api adapter.Adapter, balances map[string]models.Balance) (map[string]models.Balance, error) {
	orders, err := api.FetchOpenOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	used := make(map[string]float64)
	for _, o := range orders {
		base, quote, ok := splitPair(o.Symbol)
		if !ok {
			continue
		}
		if o.Side == models.SideSell {
			used[base] += o.Remaining
		} else {
			used[quote] += o.Remaining * o.Price
		}
	}
	out := make(map[string]models.Balance, len(balances))
	for cur, b := range balances {
		b.Used = used[cur]
		b.Free = b.Total - b.Used
		out[cur] = b
	}
	return out, nil
}

func splitPair(pair string) (base, quote string, ok bool) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
