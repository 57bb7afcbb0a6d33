// Package binance implements the exchange adapter for the Binance spot REST api.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradebot-go/internal/adapter"
	"tradebot-go/internal/models"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	usBaseURL      = "https://api.binance.us/api/v3"
	recvWindow     = 5000 // How long a request is valid in milliseconds
	defaultLimit   = 1000
)

// venueURLs maps the venue ids served by this adapter to their production and sandbox urls.
var venueURLs = map[string][2]string{
	"binance":   {baseURL, testnetBaseURL},
	"binanceje": {baseURL, testnetBaseURL},
	"binanceus": {usBaseURL, ""},
}

// Options is the passthrough configuration understood by the adapter.
type Options struct {
	BaseURL        string  `mapstructure:"base_url"`
	RecvWindow     int     `mapstructure:"recv_window"` // milliseconds
	Timeout        int     `mapstructure:"timeout"`     // milliseconds
	RateLimit      float64 `mapstructure:"rate_limit"`  // requests per second
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// RestClient is a client for the Binance REST API.
// It implements adapter.Adapter.
type RestClient struct {
	id         string
	client     *resty.Client
	apiKey     string
	secretKey  string
	recvWindow int
	logger     *zap.Logger
	limiter    *rate.Limiter

	// timeOffset is the server clock minus the local clock, in milliseconds.
	timeOffset atomic.Int64

	mu        sync.RWMutex
	symbolOf  map[string]string // venue id -> BASE/QUOTE
	idOf      map[string]string // BASE/QUOTE -> venue id
	marketsOK bool
}

// ensure RestClient implements the interface
var _ adapter.Adapter = (*RestClient)(nil)

// New creates a Binance adapter. It matches adapter.Factory.
func New(cfg adapter.Config, logger *zap.Logger) (adapter.Adapter, error) {
	c, err := NewRestClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg adapter.Config, logger *zap.Logger) (*RestClient, error) {
	id := strings.ToLower(cfg.Name)
	if id == "" {
		id = "binance"
	}
	urls, ok := venueURLs[id]
	if !ok {
		return nil, fmt.Errorf("binance adapter does not serve %q", cfg.Name)
	}

	opts := Options{
		RecvWindow:     recvWindow,
		Timeout:        10000,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
	}
	if err := mapstructure.WeakDecode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid binance options: %w", err)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 5
	}

	endpoint := urls[0]
	if cfg.Sandbox {
		if urls[1] == "" {
			return nil, adapter.ErrNoSandbox
		}
		endpoint = urls[1]
		logger.Warn("Using Binance Testnet")
	} else {
		logger.Info("Using Binance Production API", zap.String("venue", id))
	}
	if opts.BaseURL != "" {
		endpoint = opts.BaseURL
	}

	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(time.Duration(opts.Timeout) * time.Millisecond)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimitBurst)

	return &RestClient{
		id:         id,
		client:     client,
		apiKey:     cfg.Key,
		secretKey:  cfg.Secret,
		recvWindow: opts.RecvWindow,
		logger:     logger,
		limiter:    limiter,
	}, nil
}

func (c *RestClient) ID() string { return c.id }

func (c *RestClient) Name() string {
	if c.id == "binance" {
		return "Binance"
	}
	return strings.ToUpper(c.id[:1]) + c.id[1:]
}

var endpoints = map[string]bool{
	adapter.EndpointFetchOHLCV:        true,
	adapter.EndpointFetchTrades:       true,
	adapter.EndpointFetchTicker:       true,
	adapter.EndpointFetchTickers:      true,
	adapter.EndpointFetchOrderBook:    true,
	adapter.EndpointFetchMyTrades:     true,
	adapter.EndpointFetchOpenOrders:   true,
	adapter.EndpointCreateMarketOrder: true,
}

func (c *RestClient) Has(endpoint string) bool { return endpoints[endpoint] }

var timeframes = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
}

func (c *RestClient) Timeframes() map[string]string { return timeframes }

// PrecisionMode is tick size: the exchange filters publish step sizes.
func (c *RestClient) PrecisionMode() models.PrecisionMode { return models.PrecisionTickSize }

// Close releases idle connections.
func (c *RestClient) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signed adds timestamp, recvWindow and the signature to params.
func (c *RestClient) signed(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli()+c.timeOffset.Load(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

// apiError is the error body returned by Binance.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// doRequest executes one rate limited attempt. Failures are returned as *adapter.Error;
// retrying is left to the caller.
func (c *RestClient) doRequest(ctx context.Context, op, method, path string, req *resty.Request) (*resty.Response, error) {
	// Wait for the rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, adapter.Wrap(adapter.KindNetwork, op, fmt.Errorf("rate limiter wait failed: %w", err))
	}

	c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, adapter.Wrap(adapter.KindRequestTimeout, op, err)
		}
		return nil, adapter.Wrap(adapter.KindNetwork, op, err)
	}
	if !resp.IsError() {
		return resp, nil
	}
	return nil, c.classify(op, resp)
}

// classify maps a failed response to the adapter taxonomy.
func (c *RestClient) classify(op string, resp *resty.Response) error {
	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)
	msg := body.Msg
	if msg == "" {
		msg = resp.Status()
	}
	status := resp.StatusCode()

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || body.Code == -1003:
		c.logger.Warn("Rate limited by Binance",
			zap.Int("status", status), zap.String("retry_after", resp.Header().Get("Retry-After")))
		return adapter.Errorf(adapter.KindDDoSProtection, op, "%s", msg)
	case status >= http.StatusInternalServerError:
		return adapter.Errorf(adapter.KindExchangeNotAvailable, op, "%s", msg)
	}

	switch body.Code {
	case -2014, -2015, -1022:
		return adapter.Errorf(adapter.KindAuthentication, op, "%s", msg)
	case -1021:
		c.resync()
		return adapter.Errorf(adapter.KindExchange, op, "%s", msg)
	case -2013, -2011:
		return adapter.Errorf(adapter.KindOrderNotFound, op, "%s", msg)
	case -2010, -2019:
		if strings.Contains(strings.ToLower(msg), "insufficient") {
			return adapter.Errorf(adapter.KindInsufficientFunds, op, "%s", msg)
		}
		return adapter.Errorf(adapter.KindInvalidOrder, op, "%s", msg)
	case -1013, -1100, -1102, -1106, -1111, -1115, -1116, -1117:
		return adapter.Errorf(adapter.KindInvalidOrder, op, "%s", msg)
	}
	if status == http.StatusUnauthorized {
		return adapter.Errorf(adapter.KindAuthentication, op, "%s", msg)
	}
	return adapter.Errorf(adapter.KindExchange, op, "request failed with status %d: %s", status, msg)
}

// ServerTime fetches the current server time from Binance.
func (c *RestClient) ServerTime(ctx context.Context) (int64, error) {
	type serverTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	resp, err := c.doRequest(ctx, "server_time", http.MethodGet, "/time", c.client.R().SetResult(&serverTimeResponse{}))
	if err != nil {
		return 0, err
	}
	return resp.Result().(*serverTimeResponse).ServerTime, nil
}

// resync refreshes the clock offset after the venue rejected a timestamp.
func (c *RestClient) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	serverTime, err := c.ServerTime(ctx)
	if err != nil {
		c.logger.Warn("Could not sync clock with Binance", zap.Error(err))
		return
	}
	offset := serverTime - time.Now().UnixMilli()
	c.timeOffset.Store(offset)
	c.logger.Info("Synced clock with Binance", zap.Int64("offset_ms", offset))
}

// marketID converts BASE/QUOTE to the venue symbol.
func (c *RestClient) marketID(pair string) string {
	c.mu.RLock()
	id, ok := c.idOf[pair]
	c.mu.RUnlock()
	if ok {
		return id
	}
	return strings.ReplaceAll(pair, "/", "")
}

// symbol converts a venue symbol to BASE/QUOTE, or returns it unchanged if unknown.
func (c *RestClient) symbol(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.symbolOf[id]; ok {
		return s
	}
	return id
}

// ensureMarkets loads the symbol mapping once; most endpoints report venue symbols only.
func (c *RestClient) ensureMarkets(ctx context.Context) error {
	c.mu.RLock()
	ok := c.marketsOK
	c.mu.RUnlock()
	if ok {
		return nil
	}
	_, err := c.LoadMarkets(ctx, false)
	return err
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
