package types

import (
	"math"
	"time"
)

// Candle is one OHLCV bucket. Time is the bucket start in epoch seconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Valid reports whether low <= min(open,close) <= max(open,close) <= high.
func (c Candle) Valid() bool {
	lo := math.Min(c.Open, c.Close)
	hi := math.Max(c.Open, c.Close)
	return c.Low <= lo && hi <= c.High
}

// Timestamp returns the bucket start as a time.Time
func (c Candle) Timestamp() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

// Bullish reports whether the candle closed at or above its open
func (c Candle) Bullish() bool {
	return c.Close >= c.Open
}

// Stats24h holds the rolling 24 hour statistics of an instrument
type Stats24h struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"last_price"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Volume        float64 `json:"volume"`
	QuoteVolume   float64 `json:"quote_volume"`
	ChangePercent float64 `json:"change_percent"`
}

// OrderBookLevel is one aggregated price level of the book
type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Notional returns price * quantity
func (l OrderBookLevel) Notional() float64 {
	return l.Price * l.Quantity
}

// Depth is a raw order book snapshot as returned by an exchange.
// Asks are ascending by price, bids descending.
type Depth struct {
	Symbol       string           `json:"symbol"`
	LastUpdateID int64            `json:"last_update_id"`
	Bids         []OrderBookLevel `json:"bids"`
	Asks         []OrderBookLevel `json:"asks"`
}

// TickerUpdate is a streamed last-trade price message
type TickerUpdate struct {
	Symbol        string
	LastPrice     float64
	ChangePercent float64
	EventTime     time.Time
}

// KlineUpdate is a streamed candle update. OpenTime is in milliseconds, as
// exchanges send it.
type KlineUpdate struct {
	Symbol   string
	Interval string
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool
}

// Candle converts the update into the candle it describes
func (k KlineUpdate) Candle() Candle {
	return Candle{
		Time:   k.OpenTime / 1000,
		Open:   k.Open,
		High:   k.High,
		Low:    k.Low,
		Close:  k.Close,
		Volume: k.Volume,
	}
}
