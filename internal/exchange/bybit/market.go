package bybit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// GetKlines fetches up to limit candles for an interval given in Bybit
// notation ("1", "60", "D"). Candles are returned oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}

	var result klineResult
	err := c.Retry(ctx, "get klines", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	return parseKlineList(result.List), nil
}

// GetTicker fetches the rolling 24h statistics of symbol
func (c *Client) GetTicker(ctx context.Context, symbol string) (*types.Stats24h, error) {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	var result tickerResult
	err := c.Retry(ctx, "get ticker", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	return parseTicker(result)
}

// GetOrderBook fetches the top limit levels on each side of the book
func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (*types.Depth, error) {
	if limit <= 0 {
		limit = 25
	}
	// spot caps the book at 200 levels
	if c.category == "spot" && limit > 200 {
		limit = 200
	}

	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"limit":    limit,
	}

	var result orderBookResult
	err := c.Retry(ctx, "get order book", func() error {
		resp, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
		if err != nil {
			return err
		}
		return decodeResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	return parseOrderBook(symbol, result)
}

// parseKlineList reverses Bybit's newest-first list and drops rows that are
// short, unparsable, inconsistent or out of order
func parseKlineList(list [][]string) []types.Candle {
	candles := make([]types.Candle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		item := list[i]
		if len(item) < 6 {
			continue
		}

		start, err := strconv.ParseInt(item[0], 10, 64)
		if err != nil {
			continue
		}
		var vals [5]float64
		valid := true
		for j := 0; j < 5; j++ {
			v, err := parseFloat64(item[j+1])
			if err != nil {
				valid = false
				break
			}
			vals[j] = v
		}
		if !valid {
			continue
		}

		candle := types.Candle{
			Time:   start / 1000,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		}
		if !candle.Valid() {
			continue
		}
		if n := len(candles); n > 0 && candle.Time <= candles[n-1].Time {
			continue
		}
		candles = append(candles, candle)
	}
	return candles
}

// parseTicker maps the first ticker entry. Bybit reports the change as a
// fraction, so it is scaled to percent.
func parseTicker(result tickerResult) (*types.Stats24h, error) {
	if len(result.List) == 0 {
		return nil, fmt.Errorf("no ticker data found")
	}
	t := result.List[0]

	fields := []string{t.LastPrice, t.HighPrice24h, t.LowPrice24h, t.Volume24h, t.Turnover24h, t.Price24hPcnt}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat64(f)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	return &types.Stats24h{
		Symbol:        t.Symbol,
		LastPrice:     vals[0],
		High:          vals[1],
		Low:           vals[2],
		Volume:        vals[3],
		QuoteVolume:   vals[4],
		ChangePercent: vals[5] * 100,
	}, nil
}

func parseOrderBook(symbol string, result orderBookResult) (*types.Depth, error) {
	bids, err := parseLevels(result.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(result.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &types.Depth{
		Symbol:       symbol,
		LastUpdateID: result.UpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func parseLevels(raw [][2]string) ([]types.OrderBookLevel, error) {
	levels := make([]types.OrderBookLevel, 0, len(raw))
	for _, lv := range raw {
		price, err := parseFloat64(lv[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseFloat64(lv[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, types.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
