package stream

import (
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// Change describes what ApplyKline did to the candle sequence
type Change int

const (
	ChangeNone Change = iota
	ChangeUpdated
	ChangeAppended
)

func (c Change) String() string {
	switch c {
	case ChangeUpdated:
		return "updated"
	case ChangeAppended:
		return "appended"
	default:
		return "none"
	}
}

// ApplyKline folds a streamed kline into candles. An update for the last
// bucket replaces it, a newer bucket is appended, anything older, invalid or
// for another interval is ignored. The input slice is never modified.
func ApplyKline(candles []types.Candle, update types.KlineUpdate, interval exchange.Interval) ([]types.Candle, Change) {
	if update.Interval != "" && interval != "" && update.Interval != string(interval) {
		return candles, ChangeNone
	}

	c := update.Candle()
	if !c.Valid() {
		return candles, ChangeNone
	}

	n := len(candles)
	if n == 0 {
		return []types.Candle{c}, ChangeAppended
	}

	last := candles[n-1]
	switch {
	case c.Time == last.Time:
		out := make([]types.Candle, n)
		copy(out, candles)
		out[n-1] = c
		return out, ChangeUpdated
	case c.Time > last.Time:
		out := make([]types.Candle, n, n+1)
		copy(out, candles)
		return append(out, c), ChangeAppended
	default:
		return candles, ChangeNone
	}
}

// Direction of the last price move
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionUp
	DirectionDown
)

// PriceState is the price display: last trade, previous trade and 24h change
type PriceState struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	PrevPrice     float64   `json:"prev_price"`
	ChangePercent float64   `json:"change_percent"`
	Direction     Direction `json:"direction"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ApplyTicker folds a ticker update into the price display. Updates for
// another symbol, without a positive price or older than the current state
// are ignored.
func ApplyTicker(state PriceState, update types.TickerUpdate) PriceState {
	if state.Symbol != "" && !strings.EqualFold(state.Symbol, update.Symbol) {
		return state
	}
	if update.LastPrice <= 0 {
		return state
	}
	if !update.EventTime.IsZero() && update.EventTime.Before(state.UpdatedAt) {
		return state
	}

	next := state
	if next.Symbol == "" {
		next.Symbol = update.Symbol
	}
	next.PrevPrice = state.LastPrice
	next.LastPrice = update.LastPrice
	next.ChangePercent = update.ChangePercent
	if !update.EventTime.IsZero() {
		next.UpdatedAt = update.EventTime
	}

	switch {
	case state.LastPrice == 0 || update.LastPrice == state.LastPrice:
		next.Direction = DirectionFlat
	case update.LastPrice > state.LastPrice:
		next.Direction = DirectionUp
	default:
		next.Direction = DirectionDown
	}
	return next
}

// ApplyStats folds a polled 24h ticker into the price display. It is the
// fallback path when the ticker stream is degraded.
func ApplyStats(state PriceState, stats types.Stats24h, at time.Time) PriceState {
	return ApplyTicker(state, types.TickerUpdate{
		Symbol:        stats.Symbol,
		LastPrice:     stats.LastPrice,
		ChangePercent: stats.ChangePercent,
		EventTime:     at,
	})
}
