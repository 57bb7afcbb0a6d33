package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
	"tradebot-go/internal/retry"
)

// maxConcurrentWindows bounds the in-flight candle windows of one history download.
const maxConcurrentWindows = 10

// Window is a half-open time range [Start, End) in milliseconds.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// OHLCVResult is a downloaded candle history. FailedWindows lists the ranges whose
// fetch kept failing after all retries; the candles of those ranges are missing.
type OHLCVResult struct {
	Candles       []models.Candle
	FailedWindows []Window
}

// Complete reports whether every window was downloaded.
func (r OHLCVResult) Complete() bool {
	return len(r.FailedWindows) == 0
}

// HistoricalFetcher downloads candle and trade history.
type HistoricalFetcher struct {
	api      adapter.Adapter
	features Features
	policy   retry.Policy
	logger   *zap.Logger
	now      func() time.Time
}

func NewHistoricalFetcher(api adapter.Adapter, features Features, policy retry.Policy, logger *zap.Logger) *HistoricalFetcher {
	return &HistoricalFetcher{
		api:      api,
		features: features,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// FetchCandles fetches one page of candles starting at since (0 for the latest page),
// sorted ascending.
func (h *HistoricalFetcher) FetchCandles(ctx context.Context, pair, timeframe string, since int64) ([]models.Candle, error) {
	candles, err := retry.Do(ctx, h.policy, "fetch_ohlcv", func(ctx context.Context) ([]models.Candle, error) {
		c, err := h.api.FetchOHLCV(ctx, pair, timeframe, since, h.features.OHLCVCandleLimit)
		if err != nil {
			return nil, translate(err, fmt.Sprintf("fetch candles of %s %s", pair, timeframe))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	// Venues disagree on the order of the page.
	if len(candles) > 1 && candles[0].Timestamp > candles[len(candles)-1].Timestamp {
		sortCandles(candles)
	}
	h.logger.Debug("Fetched candles",
		zap.String("pair", pair), zap.String("timeframe", timeframe), zap.Int("count", len(candles)))
	return candles, nil
}

// ohlcvWindows splits [since, until) into ranges of one page each.
func ohlcvWindows(since, until, step int64) []Window {
	var windows []Window
	for start := since; start < until; start += step {
		end := start + step
		if end > until {
			end = until
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	return windows
}

// FetchOHLCV downloads the candles from since until now. Windows are fetched
// concurrently and merged into one ascending series without duplicate timestamps.
// A window that keeps failing with a Temporary error is reported in FailedWindows;
// any other error aborts the download.
func (h *HistoricalFetcher) FetchOHLCV(ctx context.Context, pair, timeframe string, since int64) (OHLCVResult, error) {
	tfMs, err := TimeframeToMsecs(timeframe)
	if err != nil {
		return OHLCVResult{}, newError(KindOperational, err, "%v", err)
	}
	limit := h.features.OHLCVCandleLimit
	if limit <= 0 {
		limit = defaultFeatures().OHLCVCandleLimit
	}
	windows := ohlcvWindows(since, h.now().UnixMilli(), tfMs*int64(limit))
	h.logger.Debug("Downloading candle history",
		zap.String("pair", pair), zap.String("timeframe", timeframe), zap.Int("windows", len(windows)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages := make([][]models.Candle, len(windows))
	errs := make([]error, len(windows))
	p := pool.New().WithMaxGoroutines(maxConcurrentWindows)
	for i, w := range windows {
		i, w := i, w
		p.Go(func() {
			pages[i], errs[i] = h.FetchCandles(ctx, pair, timeframe, w.Start)
			if errs[i] != nil && !IsTemporary(errs[i]) {
				cancel()
			}
		})
	}
	p.Wait()

	// Report the error that caused the abort, not the cancellations it triggered.
	for _, err := range errs {
		if k := KindOf(err); k != "" && !IsTemporary(err) {
			return OHLCVResult{}, err
		}
	}
	for _, err := range errs {
		if err != nil && !IsTemporary(err) {
			return OHLCVResult{}, err
		}
	}

	var result OHLCVResult
	var merged []models.Candle
	for i, w := range windows {
		if errs[i] != nil {
			h.logger.Warn("Candle window could not be downloaded",
				zap.String("pair", pair),
				zap.String("timeframe", timeframe),
				zap.Time("start", time.UnixMilli(w.Start).UTC()),
				zap.Time("end", time.UnixMilli(w.End).UTC()),
				zap.Error(errs[i]),
			)
			result.FailedWindows = append(result.FailedWindows, w)
			continue
		}
		merged = append(merged, pages[i]...)
	}
	result.Candles = mergeCandles(merged)
	h.logger.Info("Downloaded candle history",
		zap.String("pair", pair), zap.String("timeframe", timeframe),
		zap.Int("candles", len(result.Candles)), zap.Int("failed_windows", len(result.FailedWindows)))
	return result, nil
}

func sortCandles(c []models.Candle) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Timestamp < c[j].Timestamp })
}

// mergeCandles sorts by timestamp and keeps the first candle of every timestamp.
// The sort is stable so "first" means first in fetch order.
func mergeCandles(c []models.Candle) []models.Candle {
	sortCandles(c)
	out := c[:0]
	for i, candle := range c {
		if i > 0 && candle.Timestamp == out[len(out)-1].Timestamp {
			continue
		}
		out = append(out, candle)
	}
	return out
}

// fetchTradesPage fetches one page of public trades, sorted ascending by timestamp.
func (h *HistoricalFetcher) fetchTradesPage(ctx context.Context, pair string, since int64, params map[string]any) ([]models.MarketTrade, error) {
	trades, err := retry.Do(ctx, h.policy, "fetch_trades", func(ctx context.Context) ([]models.MarketTrade, error) {
		t, err := h.api.FetchTrades(ctx, pair, since, params)
		if err != nil {
			return nil, translate(err, "fetch trades of "+pair)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })
	return trades, nil
}

// FetchTrades downloads the public trades between since and until (ms, 0 for now),
// following the venue's pagination style. Pages are requested one after another.
func (h *HistoricalFetcher) FetchTrades(ctx context.Context, pair string, since, until int64) ([]models.MarketTrade, error) {
	if !h.api.Has(adapter.EndpointFetchTrades) {
		return nil, newError(KindOperational, nil, "%s does not support fetching trades", h.api.Name())
	}
	if until == 0 {
		until = h.now().UnixMilli()
	}

	var trades []models.MarketTrade
	var err error
	if h.features.TradesPagination == PaginationID {
		trades, err = h.paginate(ctx, pair, until, since, func(t models.MarketTrade) (int64, map[string]any) {
			return 0, map[string]any{h.features.TradesPaginationArg: t.ID}
		}, func(t models.MarketTrade) string { return t.ID })
	} else {
		trades, err = h.paginate(ctx, pair, until, since, func(t models.MarketTrade) (int64, map[string]any) {
			if h.features.TradesPaginationArg != "" && h.features.TradesPaginationArg != "since" {
				return 0, map[string]any{h.features.TradesPaginationArg: t.Timestamp}
			}
			return t.Timestamp, nil
		}, func(t models.MarketTrade) string { return strconv.FormatInt(t.Timestamp, 10) })
	}
	if err != nil {
		return nil, err
	}
	trades = dedupeTrades(trades)
	h.logger.Info("Downloaded trade history", zap.String("pair", pair), zap.Int("trades", len(trades)))
	return trades, nil
}

// paginate walks the pages. The last record of each page is withheld and used as the
// next cursor; the page on which the cursor stops advancing, or which passes until, is
// kept in full. A page still failing with a Temporary error after retries counts as
// empty. The result may hold duplicates.
func (h *HistoricalFetcher) paginate(
	ctx context.Context,
	pair string,
	until, since int64,
	next func(last models.MarketTrade) (int64, map[string]any),
	cursorOf func(t models.MarketTrade) string,
) ([]models.MarketTrade, error) {
	var (
		out     []models.MarketTrade
		pending *models.MarketTrade
		cursor  string
		params  map[string]any
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, interrupted(err)
		}
		page, err := h.fetchTradesPage(ctx, pair, since, params)
		if err != nil {
			if !IsTemporary(err) || ctx.Err() != nil {
				return nil, err
			}
			// A page that keeps failing ends the chain with what was collected.
			h.logger.Warn("Fetching trades page failed, stopping pagination",
				zap.String("pair", pair), zap.String("cursor", cursor), zap.Error(err))
			page = nil
		}
		// The withheld record goes first; dedupeTrades drops it if the page repeats it.
		if pending != nil {
			out = append(out, *pending)
			pending = nil
		}
		if len(page) == 0 {
			return out, nil
		}

		last := page[len(page)-1]
		if cursorOf(last) == cursor || last.Timestamp > until {
			return append(out, page...), nil
		}
		out = append(out, page[:len(page)-1]...)
		pending = &last
		cursor = cursorOf(last)
		since, params = next(last)
		h.logger.Debug("Fetching next trades page", zap.String("pair", pair), zap.String("cursor", cursor))
	}
}

// dedupeTrades removes repeated trades, keeping the first arrival.
func dedupeTrades(trades []models.MarketTrade) []models.MarketTrade {
	seen := make(map[string]struct{}, len(trades))
	out := trades[:0]
	for _, t := range trades {
		key := t.ID
		if key == "" {
			key = fmt.Sprintf("%d|%g|%g|%s", t.Timestamp, t.Price, t.Amount, t.Side)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
