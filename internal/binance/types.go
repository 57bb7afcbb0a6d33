package binance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradebot-go/internal/models"
)

// exchangeInfo is the response of /exchangeInfo.
type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice,omitempty"`
	MaxPrice    string `json:"maxPrice,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// market converts the symbol; precision values are step sizes.
func (s symbolInfo) market() models.Market {
	m := models.Market{
		ID:     s.Symbol,
		Symbol: s.BaseAsset + "/" + s.QuoteAsset,
		Base:   s.BaseAsset,
		Quote:  s.QuoteAsset,
		Active: s.Status == "TRADING",
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			m.Precision.Price = parseFloat(f.TickSize)
			m.Limits.Price = models.MinMax{Min: parseFloat(f.MinPrice), Max: parseFloat(f.MaxPrice)}
		case "LOT_SIZE":
			m.Precision.Amount = parseFloat(f.StepSize)
			m.Limits.Amount = models.MinMax{Min: parseFloat(f.MinQty), Max: parseFloat(f.MaxQty)}
		case "MIN_NOTIONAL", "NOTIONAL":
			m.Limits.Cost.Min = parseFloat(f.MinNotional)
		}
	}
	return m
}

// parseKline reads [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []any) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline has %d fields", len(row))
	}
	ts, ok := row[0].(float64)
	if !ok {
		return models.Candle{}, fmt.Errorf("kline open time %v is not a number", row[0])
	}
	var values [5]float64
	for i := range values {
		s, ok := row[i+1].(string)
		if !ok {
			return models.Candle{}, fmt.Errorf("kline field %d is not a string", i+1)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, err
		}
		values[i] = v
	}
	return models.Candle{
		Timestamp: int64(ts),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

type aggTrade struct {
	ID           int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	Time         int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (t aggTrade) trade(pair string) models.MarketTrade {
	side := models.SideBuy
	if t.IsBuyerMaker {
		side = models.SideSell
	}
	return models.MarketTrade{
		ID:        strconv.FormatInt(t.ID, 10),
		Timestamp: t.Time,
		Symbol:    pair,
		Price:     parseFloat(t.Price),
		Amount:    parseFloat(t.Quantity),
		Side:      side,
	}
}

type ticker24h struct {
	Symbol    string `json:"symbol"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

func (t ticker24h) ticker(symbol string) models.Ticker {
	return models.Ticker{
		Symbol:     symbol,
		Timestamp:  t.CloseTime,
		Bid:        parseFloat(t.BidPrice),
		Ask:        parseFloat(t.AskPrice),
		Last:       parseFloat(t.LastPrice),
		BaseVolume: parseFloat(t.Volume),
	}
}

type depth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func parseLevels(levels [][2]string) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, models.PriceLevel{Price: parseFloat(l[0]), Amount: parseFloat(l[1])})
	}
	return out
}

type fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// orderResponse is returned by the order endpoints.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	StopPrice           string `json:"stopPrice"`
	Time                int64  `json:"time"`
	TransactTime        int64  `json:"transactTime"`
	Fills               []fill `json:"fills"`
}

var orderStatuses = map[string]string{
	"NEW":              models.OrderStatusOpen,
	"PARTIALLY_FILLED": models.OrderStatusOpen,
	"PENDING_CANCEL":   models.OrderStatusOpen,
	"FILLED":           models.OrderStatusClosed,
	"CANCELED":         models.OrderStatusCanceled,
	"REJECTED":         models.OrderStatusCanceled,
	"EXPIRED":          models.OrderStatusCanceled,
}

func (o orderResponse) order(pair string) models.Order {
	amount := parseFloat(o.OrigQty)
	filled := parseFloat(o.ExecutedQty)
	cost := parseFloat(o.CummulativeQuoteQty)
	price := parseFloat(o.Price)
	if price == 0 && filled > 0 {
		price = cost / filled
	}
	ts := o.Time
	if ts == 0 {
		ts = o.TransactTime
	}
	status, ok := orderStatuses[o.Status]
	if !ok {
		status = strings.ToLower(o.Status)
	}

	order := models.Order{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    pair,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Remaining: amount - filled,
		Cost:      cost,
		Type:      strings.ToLower(o.Type),
		Side:      strings.ToLower(o.Side),
		Status:    status,
		Timestamp: ts,
		Datetime:  time.UnixMilli(ts).UTC().Format(time.RFC3339Nano),
		Info: map[string]any{
			"clientOrderId": o.ClientOrderID,
			"timeInForce":   o.TimeInForce,
			"status":        o.Status,
		},
	}
	if sp := parseFloat(o.StopPrice); sp > 0 {
		order.Info["stopPrice"] = sp
	}
	if len(o.Fills) > 0 {
		fee := &models.Fee{Currency: o.Fills[0].CommissionAsset}
		for _, f := range o.Fills {
			fee.Cost += parseFloat(f.Commission)
		}
		order.Fee = fee
	}
	return order
}

type account struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type accountTrade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

func (t accountTrade) trade(pair string) models.MarketTrade {
	side := models.SideSell
	if t.IsBuyer {
		side = models.SideBuy
	}
	return models.MarketTrade{
		ID:        strconv.FormatInt(t.ID, 10),
		Timestamp: t.Time,
		Symbol:    pair,
		Price:     parseFloat(t.Price),
		Amount:    parseFloat(t.Qty),
		Side:      side,
		Order:     strconv.FormatInt(t.OrderID, 10),
		Fee:       &models.Fee{Currency: t.CommissionAsset, Cost: parseFloat(t.Commission)},
	}
}
