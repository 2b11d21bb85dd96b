package chart

import (
	"strings"
	"sync"

	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/indicators"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// DefaultPeriods are the moving averages drawn over the candles
var DefaultPeriods = []int{7, 25, 99}

const defaultMaxCandles = 1000

// Chart owns the candle series of the selected instrument and interval.
//
// Loads are tagged with a generation: BeginLoad starts a new one and
// CommitLoad only accepts candles for the latest, so a slow response for a
// previous selection can never replace newer data.
type Chart struct {
	mu         sync.RWMutex
	periods    []int
	maxCandles int

	symbol     string
	interval   exchange.Interval
	generation uint64

	loadedSymbol   string
	loadedInterval exchange.Interval
	candles        []types.Candle
}

// New creates a chart drawing the given moving averages, DefaultPeriods
// when none are given
func New(periods ...int) *Chart {
	if len(periods) == 0 {
		periods = DefaultPeriods
	}
	valid := make([]int, 0, len(periods))
	for _, p := range periods {
		if p > 0 {
			valid = append(valid, p)
		}
	}
	return &Chart{
		periods:    valid,
		maxCandles: defaultMaxCandles,
	}
}

// BeginLoad selects symbol and interval and returns the generation the
// matching CommitLoad must present. The current candles stay visible until
// then.
func (c *Chart) BeginLoad(symbol string, interval exchange.Interval) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbol = strings.ToUpper(symbol)
	c.interval = interval
	c.generation++
	return c.generation
}

// CommitLoad installs candles loaded for generation gen. It reports false and
// changes nothing when a newer load has begun since.
func (c *Chart) CommitLoad(gen uint64, candles []types.Candle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}

	if n := len(candles); n > c.maxCandles {
		candles = candles[n-c.maxCandles:]
	}
	c.candles = append([]types.Candle(nil), candles...)
	c.loadedSymbol = c.symbol
	c.loadedInterval = c.interval
	return true
}

// Generation returns the latest load generation
func (c *Chart) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Loaded reports whether the displayed candles belong to the selection
func (c *Chart) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedLocked()
}

func (c *Chart) loadedLocked() bool {
	return c.loadedSymbol != "" && c.loadedSymbol == c.symbol && c.loadedInterval == c.interval
}

// ApplyKline folds a streamed kline into the series. Updates arriving
// before the selection's history has loaded, or for anything other than the
// selection, are ignored.
func (c *Chart) ApplyKline(update types.KlineUpdate) stream.Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loadedLocked() || !strings.EqualFold(update.Symbol, c.symbol) {
		return stream.ChangeNone
	}

	next, change := stream.ApplyKline(c.candles, update, c.interval)
	if change == stream.ChangeNone {
		return change
	}
	if n := len(next); n > c.maxCandles {
		next = next[n-c.maxCandles:]
	}
	c.candles = next
	return change
}

// VolumeBar is one volume column, colored by candle direction
type VolumeBar struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Up    bool    `json:"up"`
}

// MASeries is one moving average aligned with the candles
type MASeries struct {
	Period int                `json:"period"`
	Values []indicators.Value `json:"values"`
}

// Series is everything needed to draw the chart surface
type Series struct {
	Symbol   string            `json:"symbol"`
	Interval exchange.Interval `json:"interval"`
	Candles  []types.Candle    `json:"candles"`
	MAs      []MASeries        `json:"moving_averages"`
	Volume   []VolumeBar       `json:"volume"`
}

// Series recomputes the moving averages and volume bars over the displayed
// candles
func (c *Chart) Series() Series {
	c.mu.RLock()
	candles := append([]types.Candle(nil), c.candles...)
	symbol, interval := c.loadedSymbol, c.loadedInterval
	periods := c.periods
	c.mu.RUnlock()

	closes := indicators.Closes(candles)
	mas := make([]MASeries, 0, len(periods))
	for _, p := range periods {
		values, err := indicators.MovingAverage(closes, p)
		if err != nil {
			continue
		}
		mas = append(mas, MASeries{Period: p, Values: values})
	}

	volume := make([]VolumeBar, len(candles))
	for i, cd := range candles {
		volume[i] = VolumeBar{Time: cd.Time, Value: cd.Volume, Up: cd.Bullish()}
	}

	return Series{
		Symbol:   symbol,
		Interval: interval,
		Candles:  candles,
		MAs:      mas,
		Volume:   volume,
	}
}
