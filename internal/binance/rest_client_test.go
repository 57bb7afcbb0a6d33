package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
)

// setupTestServer creates a mock server and a client configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	client, err := NewRestClient(adapter.Config{
		Name:    "binance",
		Key:     "test-key",
		Secret:  "test-secret",
		Options: map[string]any{"base_url": server.URL},
	}, zap.NewNop())
	if err != nil {
		panic(err)
	}
	client.limiter = rate.NewLimiter(rate.Inf, 1)
	return client, server
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

const exchangeInfoBody = `{"symbols":[
 {"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC","filters":[
  {"filterType":"PRICE_FILTER","minPrice":"0.000001","maxPrice":"922327","tickSize":"0.000001"},
  {"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"100000","stepSize":"0.001"},
  {"filterType":"NOTIONAL","minNotional":"0.0001"}]},
 {"symbol":"BNBBTC","status":"BREAK","baseAsset":"BNB","quoteAsset":"BTC","filters":[]}
]}`

func TestSign(t *testing.T) {
	c := &RestClient{secretKey: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"}
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", c.sign(query))
}

func TestNewRestClient(t *testing.T) {
	logger := zap.NewNop()

	t.Run("Production", func(t *testing.T) {
		c, err := NewRestClient(adapter.Config{Name: "binance"}, logger)
		require.NoError(t, err)
		assert.Equal(t, baseURL, c.client.BaseURL)
		assert.Equal(t, recvWindow, c.recvWindow)
		assert.Equal(t, "Binance", c.Name())
	})

	t.Run("Testnet", func(t *testing.T) {
		c, err := NewRestClient(adapter.Config{Name: "binance", Sandbox: true}, logger)
		require.NoError(t, err)
		assert.Equal(t, testnetBaseURL, c.client.BaseURL)
	})

	t.Run("NoSandbox", func(t *testing.T) {
		_, err := NewRestClient(adapter.Config{Name: "binanceus", Sandbox: true}, logger)
		assert.ErrorIs(t, err, adapter.ErrNoSandbox)
	})

	t.Run("Options", func(t *testing.T) {
		c, err := NewRestClient(adapter.Config{
			Name:    "binanceus",
			Options: map[string]any{"recv_window": "6000", "rate_limit": 5},
		}, logger)
		require.NoError(t, err)
		assert.Equal(t, usBaseURL, c.client.BaseURL)
		assert.Equal(t, 6000, c.recvWindow)
		assert.Equal(t, rate.Limit(5), c.limiter.Limit())
		assert.Equal(t, "Binanceus", c.Name())
	})

	t.Run("UnknownVenue", func(t *testing.T) {
		_, err := NewRestClient(adapter.Config{Name: "kraken"}, logger)
		assert.Error(t, err)
	})
}

func TestLoadMarkets(t *testing.T) {
	// Arrange
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchangeInfo", r.URL.Path)
		writeJSON(w, http.StatusOK, exchangeInfoBody)
	}))
	defer server.Close()

	// Act
	markets, err := client.LoadMarkets(context.Background(), false)

	// Assert
	require.NoError(t, err)
	require.Len(t, markets, 2)
	eth := markets["ETH/BTC"]
	assert.Equal(t, "ETHBTC", eth.ID)
	assert.True(t, eth.Active)
	assert.Equal(t, 0.001, eth.Precision.Amount)
	assert.Equal(t, 0.000001, eth.Precision.Price)
	assert.Equal(t, 0.0001, eth.Limits.Cost.Min)
	assert.False(t, markets["BNB/BTC"].Active)
	assert.Equal(t, "ETHBTC", client.marketID("ETH/BTC"))
	assert.Equal(t, "ETH/BTC", client.symbol("ETHBTC"))
}

func TestFetchOHLCV(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/klines", r.URL.Path)
		assert.Equal(t, "ETHBTC", q.Get("symbol"))
		assert.Equal(t, "5m", q.Get("interval"))
		assert.Equal(t, "1000", q.Get("limit"))
		assert.Equal(t, "1600000000000", q.Get("startTime"))
		writeJSON(w, http.StatusOK, `[
		 [1600000000000,"0.1","0.2","0.05","0.15","10.5",1600000299999,"1.5",3,"1","1","0"],
		 [1600000300000,"0.15","0.16","0.14","0.155","2",1600000599999,"0.3",1,"1","1","0"]]`)
	}))
	defer server.Close()

	candles, err := client.FetchOHLCV(context.Background(), "ETH/BTC", "5m", 1600000000000, 5000)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, models.Candle{Timestamp: 1600000000000, Open: 0.1, High: 0.2, Low: 0.05, Close: 0.15, Volume: 10.5}, candles[0])
	assert.Equal(t, int64(1600000300000), candles[1].Timestamp)

	_, err = client.FetchOHLCV(context.Background(), "ETH/BTC", "7m", 0, 0)
	assert.Equal(t, adapter.KindNotSupported, adapter.KindOf(err))
}

func TestFetchTrades_FromID(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "42", q.Get("fromId"))
		assert.Empty(t, q.Get("startTime"))
		writeJSON(w, http.StatusOK, `[{"a":42,"p":"0.1","q":"2","T":1600000000000,"m":true},
		 {"a":43,"p":"0.2","q":"1","T":1600000001000,"m":false}]`)
	}))
	defer server.Close()

	trades, err := client.FetchTrades(context.Background(), "ETH/BTC", 1600000000000, map[string]any{"fromId": "42"})

	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "42", trades[0].ID)
	assert.Equal(t, models.SideSell, trades[0].Side)
	assert.Equal(t, models.SideBuy, trades[1].Side)
	assert.Equal(t, "ETH/BTC", trades[1].Symbol)
}

func TestCreateOrder(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ETHBTC", r.PostForm.Get("symbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.Equal(t, "LIMIT", r.PostForm.Get("type"))
		assert.Equal(t, "1.5", r.PostForm.Get("quantity"))
		assert.Equal(t, "0.06", r.PostForm.Get("price"))
		assert.Equal(t, "IOC", r.PostForm.Get("timeInForce"))
		assert.NotEmpty(t, r.PostForm.Get("signature"))
		assert.NotEmpty(t, r.PostForm.Get("timestamp"))
		writeJSON(w, http.StatusOK, `{"symbol":"ETHBTC","orderId":28,"clientOrderId":"abc","transactTime":1600000000000,
		 "price":"0.06","origQty":"1.5","executedQty":"1.5","cummulativeQuoteQty":"0.09","status":"FILLED",
		 "timeInForce":"IOC","type":"LIMIT","side":"BUY",
		 "fills":[{"price":"0.06","qty":"1","commission":"0.001","commissionAsset":"ETH"},
		          {"price":"0.06","qty":"0.5","commission":"0.0005","commissionAsset":"ETH"}]}`)
	}))
	defer server.Close()

	price := 0.06
	order, err := client.CreateOrder(context.Background(), "ETH/BTC", models.OrderTypeLimit, models.SideBuy, 1.5, &price,
		map[string]any{"timeInForce": "ioc"})

	require.NoError(t, err)
	assert.Equal(t, "28", order.ID)
	assert.Equal(t, models.OrderStatusClosed, order.Status)
	assert.Equal(t, 1.5, order.Filled)
	assert.Equal(t, 0.0, order.Remaining)
	assert.Equal(t, int64(1600000000000), order.Timestamp)
	require.NotNil(t, order.Fee)
	assert.Equal(t, "ETH", order.Fee.Currency)
	assert.InDelta(t, 0.0015, order.Fee.Cost, 1e-12)
}

func TestCreateOrder_Validation(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	}))
	defer server.Close()

	_, err := client.CreateOrder(context.Background(), "ETH/BTC", "trailing", models.SideBuy, 1, nil, nil)
	assert.Equal(t, adapter.KindInvalidOrder, adapter.KindOf(err))

	_, err = client.CreateOrder(context.Background(), "ETH/BTC", models.OrderTypeLimit, models.SideBuy, 1, nil, nil)
	assert.Equal(t, adapter.KindInvalidOrder, adapter.KindOf(err))
}

func TestFetchOrder_MarketPrice(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("orderId"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		writeJSON(w, http.StatusOK, `{"symbol":"ETHBTC","orderId":7,"price":"0","origQty":"2","executedQty":"1",
		 "cummulativeQuoteQty":"0.05","status":"PARTIALLY_FILLED","type":"MARKET","side":"SELL","time":1600000000000}`)
	}))
	defer server.Close()

	order, err := client.FetchOrder(context.Background(), "7", "ETH/BTC")

	require.NoError(t, err)
	assert.True(t, order.IsOpen())
	assert.Equal(t, 0.05, order.Price)
	assert.Equal(t, 1.0, order.Remaining)
	assert.Equal(t, models.OrderTypeMarket, order.Type)
}

func TestFetchTickers(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exchangeInfo":
			writeJSON(w, http.StatusOK, exchangeInfoBody)
		case "/ticker/24hr":
			writeJSON(w, http.StatusOK, `[{"symbol":"ETHBTC","bidPrice":"0.05","askPrice":"0.051","lastPrice":"0.0505","volume":"100","closeTime":1600000000000},
			 {"symbol":"UNKNOWN","bidPrice":"1","askPrice":"1","lastPrice":"1","volume":"1","closeTime":1}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	tickers, err := client.FetchTickers(context.Background())

	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.Equal(t, 0.051, tickers["ETH/BTC"].Ask)
	assert.Equal(t, 100.0, tickers["ETH/BTC"].BaseVolume)
}

func TestFetchBalance(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"balances":[{"asset":"BTC","free":"1.5","locked":"0.5"},{"asset":"ETH","free":"0","locked":"0"}]}`)
	}))
	defer server.Close()

	balances, err := client.FetchBalance(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.Balance{Free: 1.5, Used: 0.5, Total: 2}, balances["BTC"])
	assert.Contains(t, balances, "ETH")
}

func TestFetchOrderBook(t *testing.T) {
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, `{"lastUpdateId":1,"bids":[["0.05","3"]],"asks":[["0.051","1"],["0.052","2"]]}`)
	}))
	defer server.Close()

	book, err := client.FetchOrderBook(context.Background(), "ETH/BTC", 50)

	require.NoError(t, err)
	assert.Equal(t, []models.PriceLevel{{Price: 0.05, Amount: 3}}, book.Bids)
	assert.Len(t, book.Asks, 2)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   adapter.Kind
	}{
		{"RateLimited", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, adapter.KindDDoSProtection},
		{"Banned", http.StatusTeapot, `{"code":-1003,"msg":"banned"}`, adapter.KindDDoSProtection},
		{"Unavailable", http.StatusServiceUnavailable, `{}`, adapter.KindExchangeNotAvailable},
		{"BadKey", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key"}`, adapter.KindAuthentication},
		{"InsufficientFunds", http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, adapter.KindInsufficientFunds},
		{"Rejected", http.StatusBadRequest, `{"code":-2010,"msg":"Order would trigger immediately."}`, adapter.KindInvalidOrder},
		{"UnknownOrder", http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`, adapter.KindOrderNotFound},
		{"FilterFailure", http.StatusBadRequest, `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, adapter.KindInvalidOrder},
		{"BadSymbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, adapter.KindExchange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			_, err := client.FetchOrder(context.Background(), "1", "ETH/BTC")

			require.Error(t, err)
			assert.Equal(t, tt.kind, adapter.KindOf(err))
		})
	}
}

func TestErrorMapping_Transport(t *testing.T) {
	client, server := setupTestServer(http.NotFoundHandler())
	server.Close()

	_, err := client.FetchTicker(context.Background(), "ETH/BTC")
	assert.Equal(t, adapter.KindNetwork, adapter.KindOf(err))
}

func TestTimestampResync(t *testing.T) {
	serverTime := time.Now().Add(time.Minute).UnixMilli()
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/time":
			body, _ := json.Marshal(map[string]int64{"serverTime": serverTime})
			writeJSON(w, http.StatusOK, string(body))
		default:
			writeJSON(w, http.StatusBadRequest, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`)
		}
	}))
	defer server.Close()

	_, err := client.FetchBalance(context.Background())

	assert.Equal(t, adapter.KindExchange, adapter.KindOf(err))
	assert.InDelta(t, float64(time.Minute.Milliseconds()), float64(client.timeOffset.Load()), 5000)
}

func TestServerTime(t *testing.T) {
	// Arrange
	expectedTime := int64(1499827319559)
	client, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"serverTime":`+strconv.FormatInt(expectedTime, 10)+`}`)
	}))
	defer server.Close()

	// Act
	serverTime, err := client.ServerTime(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, expectedTime, serverTime)
}
