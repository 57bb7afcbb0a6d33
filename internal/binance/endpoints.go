package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
)

// LoadMarkets fetches exchange info and converts its symbols into markets.
func (c *RestClient) LoadMarkets(ctx context.Context, reload bool) (map[string]models.Market, error) {
	var info exchangeInfo
	if _, err := c.doRequest(ctx, "load_markets", http.MethodGet, "/exchangeInfo", c.client.R().SetResult(&info)); err != nil {
		return nil, err
	}

	markets := make(map[string]models.Market, len(info.Symbols))
	symbolOf := make(map[string]string, len(info.Symbols))
	idOf := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		m := s.market()
		markets[m.Symbol] = m
		symbolOf[m.ID] = m.Symbol
		idOf[m.Symbol] = m.ID
	}

	c.mu.Lock()
	c.symbolOf, c.idOf, c.marketsOK = symbolOf, idOf, true
	c.mu.Unlock()

	c.logger.Info("Loaded markets", zap.Int("count", len(markets)), zap.Bool("reload", reload))
	return markets, nil
}

func (c *RestClient) FetchOHLCV(ctx context.Context, pair, timeframe string, since int64, limit int) ([]models.Candle, error) {
	interval, ok := timeframes[timeframe]
	if !ok {
		return nil, adapter.Errorf(adapter.KindNotSupported, "fetch_ohlcv", "timeframe %s is not supported", timeframe)
	}
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	req := c.client.R().
		SetQueryParam("symbol", c.marketID(pair)).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", strconv.Itoa(limit))
	if since > 0 {
		req.SetQueryParam("startTime", strconv.FormatInt(since, 10))
	}

	var rows [][]any
	if _, err := c.doRequest(ctx, "fetch_ohlcv", http.MethodGet, "/klines", req.SetResult(&rows)); err != nil {
		return nil, err
	}
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, adapter.Wrap(adapter.KindExchange, "fetch_ohlcv", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// FetchTrades returns aggregated trades. params may carry "fromId".
func (c *RestClient) FetchTrades(ctx context.Context, pair string, since int64, params map[string]any) ([]models.MarketTrade, error) {
	req := c.client.R().
		SetQueryParam("symbol", c.marketID(pair)).
		SetQueryParam("limit", strconv.Itoa(defaultLimit))
	if fromID, ok := params["fromId"]; ok {
		req.SetQueryParam("fromId", fmt.Sprint(fromID))
	} else if since > 0 {
		req.SetQueryParam("startTime", strconv.FormatInt(since, 10))
	}

	var rows []aggTrade
	if _, err := c.doRequest(ctx, "fetch_trades", http.MethodGet, "/aggTrades", req.SetResult(&rows)); err != nil {
		return nil, err
	}
	trades := make([]models.MarketTrade, 0, len(rows))
	for _, t := range rows {
		trades = append(trades, t.trade(pair))
	}
	return trades, nil
}

func (c *RestClient) FetchTicker(ctx context.Context, pair string) (*models.Ticker, error) {
	var t ticker24h
	req := c.client.R().SetQueryParam("symbol", c.marketID(pair)).SetResult(&t)
	if _, err := c.doRequest(ctx, "fetch_ticker", http.MethodGet, "/ticker/24hr", req); err != nil {
		return nil, err
	}
	out := t.ticker(pair)
	return &out, nil
}

func (c *RestClient) FetchTickers(ctx context.Context) (map[string]models.Ticker, error) {
	if err := c.ensureMarkets(ctx); err != nil {
		return nil, err
	}
	var rows []ticker24h
	if _, err := c.doRequest(ctx, "fetch_tickers", http.MethodGet, "/ticker/24hr", c.client.R().SetResult(&rows)); err != nil {
		return nil, err
	}
	tickers := make(map[string]models.Ticker, len(rows))
	for _, t := range rows {
		symbol := c.symbol(t.Symbol)
		if !strings.Contains(symbol, "/") {
			continue
		}
		tickers[symbol] = t.ticker(symbol)
	}
	return tickers, nil
}

func (c *RestClient) FetchOrderBook(ctx context.Context, pair string, limit int) (*models.OrderBook, error) {
	var book depth
	req := c.client.R().SetQueryParam("symbol", c.marketID(pair)).SetResult(&book)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if _, err := c.doRequest(ctx, "fetch_order_book", http.MethodGet, "/depth", req); err != nil {
		return nil, err
	}
	return &models.OrderBook{
		Symbol:    pair,
		Timestamp: time.Now().UnixMilli(),
		Bids:      parseLevels(book.Bids),
		Asks:      parseLevels(book.Asks),
	}, nil
}

var orderTypes = map[string]string{
	models.OrderTypeMarket:        "MARKET",
	models.OrderTypeLimit:         "LIMIT",
	models.OrderTypeStopLossLimit: "STOP_LOSS_LIMIT",
}

// CreateOrder places an order. Supported params are timeInForce and stopPrice.
func (c *RestClient) CreateOrder(ctx context.Context, pair, orderType, side string, amount float64, price *float64, params map[string]any) (*models.Order, error) {
	venueType, ok := orderTypes[orderType]
	if !ok {
		return nil, adapter.Errorf(adapter.KindInvalidOrder, "create_order", "order type %s is not supported", orderType)
	}
	if venueType != "MARKET" && price == nil {
		return nil, adapter.Errorf(adapter.KindInvalidOrder, "create_order", "%s order requires a price", orderType)
	}

	form := url.Values{}
	form.Set("symbol", c.marketID(pair))
	form.Set("side", strings.ToUpper(side))
	form.Set("type", venueType)
	form.Set("quantity", strconv.FormatFloat(amount, 'f', -1, 64))
	form.Set("newOrderRespType", "FULL")
	if price != nil && venueType != "MARKET" {
		form.Set("price", strconv.FormatFloat(*price, 'f', -1, 64))
		tif := "GTC"
		if v, ok := params["timeInForce"]; ok {
			tif = strings.ToUpper(fmt.Sprint(v))
		}
		form.Set("timeInForce", tif)
	}
	if v, ok := params["stopPrice"]; ok {
		form.Set("stopPrice", fmt.Sprint(v))
	}

	var resp orderResponse
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signed(form)).
		SetResult(&resp)
	if _, err := c.doRequest(ctx, "create_order", http.MethodPost, "/order", req); err != nil {
		return nil, err
	}
	order := resp.order(pair)
	c.logger.Info("Order created",
		zap.String("id", order.ID), zap.String("pair", pair), zap.String("type", orderType), zap.String("side", side))
	return &order, nil
}

func (c *RestClient) CancelOrder(ctx context.Context, id, pair string) error {
	params := url.Values{}
	params.Set("symbol", c.marketID(pair))
	params.Set("orderId", id)
	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey).SetQueryString(c.signed(params))
	_, err := c.doRequest(ctx, "cancel_order", http.MethodDelete, "/order", req)
	return err
}

func (c *RestClient) FetchOrder(ctx context.Context, id, pair string) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", c.marketID(pair))
	params.Set("orderId", id)

	var resp orderResponse
	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey).SetQueryString(c.signed(params)).SetResult(&resp)
	if _, err := c.doRequest(ctx, "fetch_order", http.MethodGet, "/order", req); err != nil {
		return nil, err
	}
	order := resp.order(pair)
	return &order, nil
}

// FetchOpenOrders returns the open orders of pair, or of every pair when pair is empty.
func (c *RestClient) FetchOpenOrders(ctx context.Context, pair string) ([]models.Order, error) {
	if err := c.ensureMarkets(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	if pair != "" {
		params.Set("symbol", c.marketID(pair))
	}

	var rows []orderResponse
	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey).SetQueryString(c.signed(params)).SetResult(&rows)
	if _, err := c.doRequest(ctx, "fetch_open_orders", http.MethodGet, "/openOrders", req); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(rows))
	for _, o := range rows {
		orders = append(orders, o.order(c.symbol(o.Symbol)))
	}
	return orders, nil
}

func (c *RestClient) FetchBalance(ctx context.Context) (map[string]models.Balance, error) {
	var acc account
	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey).SetQueryString(c.signed(url.Values{})).SetResult(&acc)
	if _, err := c.doRequest(ctx, "fetch_balance", http.MethodGet, "/account", req); err != nil {
		return nil, err
	}
	balances := make(map[string]models.Balance, len(acc.Balances))
	for _, b := range acc.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		balances[b.Asset] = models.Balance{Free: free, Used: locked, Total: free + locked}
	}
	return balances, nil
}

func (c *RestClient) FetchMyTrades(ctx context.Context, pair string, since int64) ([]models.MarketTrade, error) {
	params := url.Values{}
	params.Set("symbol", c.marketID(pair))
	if since > 0 {
		params.Set("startTime", strconv.FormatInt(since, 10))
	}

	var rows []accountTrade
	req := c.client.R().SetHeader("X-MBX-APIKEY", c.apiKey).SetQueryString(c.signed(params)).SetResult(&rows)
	if _, err := c.doRequest(ctx, "fetch_my_trades", http.MethodGet, "/myTrades", req); err != nil {
		return nil, err
	}
	trades := make([]models.MarketTrade, 0, len(rows))
	for _, t := range rows {
		trades = append(trades, t.trade(pair))
	}
	return trades, nil
}
