package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/orderbook"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
	"github.com/ducminhle1904/crypto-terminal/internal/terminal"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

type fakeTarget struct {
	view      terminal.View
	orders    []terminal.OrderRequest
	symbol    string
	interval  exchange.Interval
	cancelled []string
	alerts    []alerts.Alert
	removed   []string
}

func (f *fakeTarget) View() terminal.View { return f.view }

func (f *fakeTarget) SelectInstrument(symbol string) error {
	f.symbol = symbol
	return nil
}

func (f *fakeTarget) SelectInterval(interval exchange.Interval) error {
	if _, err := exchange.ParseInterval(string(interval)); err != nil {
		return err
	}
	f.interval = interval
	return nil
}

func (f *fakeTarget) SubmitOrder(_ context.Context, req terminal.OrderRequest) (*trading.Result, error) {
	f.orders = append(f.orders, req)
	if req.Quantity == "0" {
		return nil, terrors.ErrInvalidQuantity
	}
	return &trading.Result{
		Order: trading.Order{
			ID: "ord-1", Side: req.Side, Type: req.Type,
			Quantity: decimal.RequireFromString(req.Quantity), Price: decimal.NewFromInt(100),
			Status: trading.StatusFilled,
		},
		Balance: decimal.NewFromInt(9900),
	}, nil
}

func (f *fakeTarget) CancelOrder(id string) (trading.Order, error) {
	f.cancelled = append(f.cancelled, id)
	return trading.Order{ID: id, Side: trading.SideBuy}, nil
}

func (f *fakeTarget) AddAlert(symbol string, cond alerts.Condition, target float64) (alerts.Alert, error) {
	a := alerts.Alert{ID: "al-1", Symbol: symbol, Condition: cond, Target: target, Active: true}
	f.alerts = append(f.alerts, a)
	return a, nil
}

func (f *fakeTarget) RemoveAlert(id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func newTestREPL() (*repl, *fakeTarget, *bytes.Buffer) {
	target := &fakeTarget{view: terminal.View{
		Symbol:   "BTCUSDT",
		Interval: exchange.Interval1h,
		Price:    stream.PriceState{Symbol: "BTCUSDT", LastPrice: 100, Direction: stream.DirectionUp},
		Streams:  map[exchange.Channel]string{exchange.ChannelTicker: "open"},
		Balance:  decimal.NewFromInt(10000),
		Health:   "healthy",
	}}
	var out bytes.Buffer
	r := newREPL(target, &out, false)
	r.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r, target, &out
}

func TestREPL_Orders(t *testing.T) {
	r, target, out := newTestREPL()
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "buy 0.5"))
	require.NoError(t, r.execute(ctx, "sell 1 105.5"))
	require.Len(t, target.orders, 2)

	assert.Equal(t, terminal.OrderRequest{Side: trading.SideBuy, Type: trading.OrderTypeMarket, Quantity: "0.5"}, target.orders[0])
	assert.Equal(t, terminal.OrderRequest{Side: trading.SideSell, Type: trading.OrderTypeLimit, Price: "105.5", Quantity: "1"}, target.orders[1])
	assert.Contains(t, out.String(), "balance 9900.00")

	err := r.execute(ctx, "buy 0")
	assert.ErrorIs(t, err, terrors.ErrInvalidQuantity)

	assert.Error(t, r.execute(ctx, "buy"))

	require.NoError(t, r.execute(ctx, "cancel ord-9"))
	assert.Equal(t, []string{"ord-9"}, target.cancelled)
}

func TestREPL_Selection(t *testing.T) {
	r, target, _ := newTestREPL()
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "symbol ethusdt"))
	assert.Equal(t, "ethusdt", target.symbol)

	require.NoError(t, r.execute(ctx, "interval 15m"))
	assert.Equal(t, exchange.Interval15m, target.interval)

	assert.Error(t, r.execute(ctx, "interval 7m"))
	assert.Error(t, r.execute(ctx, "symbol"))
}

func TestREPL_Alerts(t *testing.T) {
	r, target, out := newTestREPL()
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "alert above 50000"))
	require.Len(t, target.alerts, 1)
	assert.Equal(t, "BTCUSDT", target.alerts[0].Symbol)
	assert.Equal(t, alerts.PriceAbove, target.alerts[0].Condition)
	assert.Contains(t, out.String(), "alert al-1")

	assert.Error(t, r.execute(ctx, "alert sideways 1"))
	assert.Error(t, r.execute(ctx, "alert below abc"))

	require.NoError(t, r.execute(ctx, "unalert al-1"))
	assert.Equal(t, []string{"al-1"}, target.removed)
}

func TestREPL_Display(t *testing.T) {
	r, target, out := newTestREPL()
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "status"))
	assert.Contains(t, out.String(), "BTCUSDT 1h")
	assert.Contains(t, out.String(), "Stream ticker")

	out.Reset()
	require.NoError(t, r.execute(ctx, "book"))
	assert.Contains(t, out.String(), "order book loading")

	target.view.OrderBook = &orderbook.Snapshot{
		Symbol: "BTCUSDT",
		Asks:   []orderbook.Row{{Price: 101, Quantity: 1, Total: 1, SizePercent: 100}},
		Bids:   []orderbook.Row{{Price: 99, Quantity: 2, Total: 2, SizePercent: 50}},
		Spread: 2,
	}
	target.view.OrderBookAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out.Reset()
	require.NoError(t, r.execute(ctx, "book"))
	assert.Contains(t, out.String(), "spread")
	assert.Contains(t, out.String(), "updated 03:04:05")

	out.Reset()
	require.NoError(t, r.execute(ctx, "orders"))
	assert.Contains(t, out.String(), "no open orders")

	out.Reset()
	require.NoError(t, r.execute(ctx, "chart 5"))
	assert.Contains(t, strings.ToUpper(out.String()), "CLOSE")

	assert.Error(t, r.execute(ctx, "chart -1"))
	assert.Error(t, r.execute(ctx, "fly"))
}

func TestREPL_Positions(t *testing.T) {
	r, target, out := newTestREPL()
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "positions"))
	assert.Contains(t, out.String(), "no positions")

	positions := trading.BuildPositions([]trading.Trade{{
		Symbol: "BTCUSDT", Side: trading.SideBuy,
		Price: decimal.NewFromInt(90), Quantity: decimal.NewFromInt(2),
	}}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100)})
	target.view.Portfolio = trading.NewPortfolio(decimal.NewFromInt(9820), positions)

	out.Reset()
	require.NoError(t, r.execute(ctx, "pos"))
	assert.Contains(t, out.String(), "equity 10020.00")
	assert.Contains(t, out.String(), "BTCUSDT")
	assert.Contains(t, out.String(), "20.00")
	assert.Contains(t, out.String(), "11.11%")
}

func TestREPL_Export(t *testing.T) {
	r, _, out := newTestREPL()
	path := filepath.Join(t.TempDir(), "trades.csv")

	require.NoError(t, r.execute(context.Background(), "export "+path))
	assert.Contains(t, out.String(), "exported to "+path)
}

func TestREPL_RunStopsOnQuit(t *testing.T) {
	r, target, _ := newTestREPL()

	in := strings.NewReader("symbol SOLUSDT\nquit\nsymbol XRPUSDT\n")
	require.NoError(t, r.Run(context.Background(), in))
	assert.Equal(t, "SOLUSDT", target.symbol)
}
