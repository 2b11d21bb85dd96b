package chart

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

func candle(t int64, o, c float64) types.Candle {
	hi, lo := o, c
	if c > o {
		hi, lo = c, o
	}
	return types.Candle{Time: t, Open: o, High: hi + 1, Low: lo - 1, Close: c, Volume: 10}
}

func TestChart_StaleLoadIsDiscarded(t *testing.T) {
	c := New()

	first := c.BeginLoad("btcusdt", exchange.Interval1h)
	second := c.BeginLoad("ETHUSDT", exchange.Interval1h)

	assert.True(t, c.CommitLoad(second, []types.Candle{candle(3600, 10, 11)}))
	assert.False(t, c.CommitLoad(first, []types.Candle{candle(3600, 50000, 50100)}))

	got := c.Series().Candles
	require.Len(t, got, 1)
	assert.Equal(t, 11.0, got[0].Close)

	s := c.Series()
	assert.Equal(t, "ETHUSDT", s.Symbol)
}

func TestChart_CandlesKeptUntilCommit(t *testing.T) {
	c := New()
	gen := c.BeginLoad("BTCUSDT", exchange.Interval1m)
	require.True(t, c.CommitLoad(gen, []types.Candle{candle(60, 1, 2)}))

	c.BeginLoad("BTCUSDT", exchange.Interval5m)
	assert.Len(t, c.Series().Candles, 1)
	assert.False(t, c.Loaded())

	// klines for the new interval wait for its history
	change := c.ApplyKline(types.KlineUpdate{Symbol: "BTCUSDT", Interval: "5m", OpenTime: 300_000, Open: 2, High: 3, Low: 1, Close: 2.5})
	assert.Equal(t, stream.ChangeNone, change)
}

func TestChart_EndToEndMovingAverage(t *testing.T) {
	c := New(3)
	gen := c.BeginLoad("BTCUSDT", exchange.Interval1m)
	require.True(t, c.CommitLoad(gen, []types.Candle{
		candle(0, 99, 100),
		candle(60, 100, 102),
		candle(120, 102, 101),
	}))

	s := c.Series()
	require.Len(t, s.MAs, 1)
	ma := s.MAs[0].Values
	require.Len(t, ma, 3)
	assert.False(t, ma[0].Valid)
	assert.False(t, ma[1].Valid)
	assert.True(t, ma[2].Valid)
	assert.InDelta(t, 101.0, ma[2].V, 1e-9)

	change := c.ApplyKline(types.KlineUpdate{
		Symbol: "BTCUSDT", Interval: "1m", OpenTime: 120_000,
		Open: 102, High: 104, Low: 100, Close: 103, Volume: 12,
	})
	assert.Equal(t, stream.ChangeUpdated, change)

	s = c.Series()
	require.Len(t, s.Candles, 3)
	assert.Equal(t, 103.0, s.Candles[2].Close)
	assert.InDelta(t, 305.0/3.0, s.MAs[0].Values[2].V, 1e-9)
	assert.True(t, s.Volume[2].Up)
	assert.Equal(t, 12.0, s.Volume[2].Value)
}

func TestChart_ApplyKline(t *testing.T) {
	c := New()
	gen := c.BeginLoad("BTCUSDT", exchange.Interval1m)
	require.True(t, c.CommitLoad(gen, []types.Candle{candle(60, 10, 11)}))

	next := types.KlineUpdate{Symbol: "BTCUSDT", Interval: "1m", OpenTime: 120_000, Open: 11, High: 12, Low: 9, Close: 9.5}
	assert.Equal(t, stream.ChangeAppended, c.ApplyKline(next))

	other := next
	other.Symbol = "ETHUSDT"
	other.OpenTime = 180_000
	assert.Equal(t, stream.ChangeNone, c.ApplyKline(other))

	older := next
	older.OpenTime = 0
	assert.Equal(t, stream.ChangeNone, c.ApplyKline(older))

	s := c.Series()
	require.Len(t, s.Candles, 2)
	assert.False(t, s.Volume[1].Up)
	assert.Equal(t, 9.5, s.Candles[1].Close)
}

func TestChart_IgnoresInvalidPeriods(t *testing.T) {
	c := New(0, -1, 2)
	assert.Len(t, c.Series().MAs, 1)
}

func TestRender(t *testing.T) {
	c := New(2)
	gen := c.BeginLoad("BTCUSDT", exchange.Interval1h)
	require.True(t, c.CommitLoad(gen, []types.Candle{
		candle(0, 100, 101),
		candle(3600, 101, 103),
		candle(7200, 103, 102),
	}))

	var buf bytes.Buffer
	Render(&buf, c.Series(), RenderOptions{Rows: 2})

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT 1h")
	assert.Contains(t, out, "MA(2)")
	assert.Contains(t, out, "1970-01-01 02:00")
	assert.NotContains(t, out, "1970-01-01 00:00")
}
