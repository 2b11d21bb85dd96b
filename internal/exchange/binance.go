package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/safety"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

const (
	binanceMainnetURL = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"

	// Binance's default budget is 6000 weight per minute
	binanceWeightCapacity = 6000
	binanceWeightRefill   = 100
)

// BinanceConfig holds Binance REST settings
type BinanceConfig struct {
	BaseURL        string
	Testnet        bool
	RequestTimeout time.Duration
}

// BinanceExchange implements MarketData over the Binance spot REST API
type BinanceExchange struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	testnet bool
	limiter *safety.RateLimiter
}

// NewBinanceExchange creates a new Binance market data client
func NewBinanceExchange(cfg BinanceConfig) *BinanceExchange {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceMainnetURL
		if cfg.Testnet {
			baseURL = binanceTestnetURL
		}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &BinanceExchange{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		testnet: cfg.Testnet,
		limiter: safety.NewRateLimiter("binance-rest", binanceWeightCapacity, binanceWeightRefill),
	}
}

func (b *BinanceExchange) GetName() string {
	return "Binance"
}

// GetEnvironment returns "testnet" or "mainnet"
func (b *BinanceExchange) GetEnvironment() string {
	if b.testnet {
		return "testnet"
	}
	return "mainnet"
}

// RateLimitStats reports the remaining request weight
func (b *BinanceExchange) RateLimitStats() safety.RateLimiterStats {
	return b.limiter.GetStats()
}

// GetKlines loads up to limit historical candles, oldest first
func (b *BinanceExchange) GetKlines(ctx context.Context, symbol string, interval Interval, limit int) ([]types.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", string(interval))
	query.Set("limit", strconv.Itoa(limit))

	var raw [][]interface{}
	if err := b.getJSON(ctx, "GetKlines", "/api/v3/klines", query, 2, &raw); err != nil {
		return nil, err
	}

	return parseKlines(raw), nil
}

// GetStats24h loads the rolling 24h statistics of symbol
func (b *BinanceExchange) GetStats24h(ctx context.Context, symbol string) (*types.Stats24h, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var raw binanceTicker24h
	if err := b.getJSON(ctx, "GetStats24h", "/api/v3/ticker/24hr", query, 2, &raw); err != nil {
		return nil, err
	}

	stats, err := parseStats24h(raw)
	if err != nil {
		return nil, terrors.NewDataUnavailable("binance", "GetStats24h", err)
	}
	return stats, nil
}

// GetDepth loads the top limit levels of each side of the book
func (b *BinanceExchange) GetDepth(ctx context.Context, symbol string, limit int) (*types.Depth, error) {
	limit = depthLimit(limit)
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(limit))

	var raw binanceDepth
	if err := b.getJSON(ctx, "GetDepth", "/api/v3/depth", query, depthWeight(limit), &raw); err != nil {
		return nil, err
	}

	depth, err := parseDepth(symbol, raw)
	if err != nil {
		return nil, terrors.NewDataUnavailable("binance", "GetDepth", err)
	}
	return depth, nil
}

// getJSON performs a bounded GET and decodes the body into out
func (b *BinanceExchange) getJSON(ctx context.Context, op, path string, query url.Values, weight int, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.limiter.WaitN(ctx, weight); err != nil {
		return terrors.NewDataUnavailable("binance", op, err)
	}

	endpoint := fmt.Sprintf("%s%s?%s", b.baseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return terrors.NewDataUnavailable("binance", op, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return terrors.NewDataUnavailable("binance", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return terrors.NewDataUnavailable("binance", op,
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, apiErr.Msg)).
			WithContext("code", apiErr.Code)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return terrors.NewDataUnavailable("binance", op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

type binanceTicker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

type binanceDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// parseKlines maps [openTime, open, high, low, close, volume, ...] rows.
// Short or unparsable rows, rows whose OHLC do not nest and rows out of time
// order are skipped.
func parseKlines(raw [][]interface{}) []types.Candle {
	candles := make([]types.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}

		openTime, ok := toInt64(row[0])
		if !ok {
			continue
		}
		var vals [5]float64
		valid := true
		for i := 0; i < 5; i++ {
			v, ok := toFloat(row[i+1])
			if !ok {
				valid = false
				break
			}
			vals[i] = v
		}
		if !valid {
			continue
		}

		c := types.Candle{
			Time:   openTime / 1000,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		}
		if !c.Valid() {
			continue
		}
		if n := len(candles); n > 0 && c.Time <= candles[n-1].Time {
			continue
		}
		candles = append(candles, c)
	}
	return candles
}

func parseStats24h(raw binanceTicker24h) (*types.Stats24h, error) {
	fields := []string{raw.LastPrice, raw.HighPrice, raw.LowPrice, raw.Volume, raw.QuoteVolume, raw.PriceChangePercent}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ticker field %q: %w", f, err)
		}
		vals[i] = v
	}

	return &types.Stats24h{
		Symbol:        raw.Symbol,
		LastPrice:     vals[0],
		High:          vals[1],
		Low:           vals[2],
		Volume:        vals[3],
		QuoteVolume:   vals[4],
		ChangePercent: vals[5],
	}, nil
}

func parseDepth(symbol string, raw binanceDepth) (*types.Depth, error) {
	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &types.Depth{
		Symbol:       symbol,
		LastUpdateID: raw.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func parseLevels(raw [][2]string) ([]types.OrderBookLevel, error) {
	levels := make([]types.OrderBookLevel, 0, len(raw))
	for _, lv := range raw {
		price, err := strconv.ParseFloat(lv[0], 64)
		if err != nil {
			return nil, err
		}
		qty, err := strconv.ParseFloat(lv[1], 64)
		if err != nil {
			return nil, err
		}
		levels = append(levels, types.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// depthLimit rounds n up to a limit Binance accepts
func depthLimit(n int) int {
	for _, l := range []int{5, 10, 20, 50, 100, 500, 1000, 5000} {
		if n <= l {
			return l
		}
	}
	return 5000
}

func depthWeight(limit int) int {
	switch {
	case limit <= 100:
		return 5
	case limit <= 500:
		return 25
	case limit <= 1000:
		return 50
	default:
		return 250
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
