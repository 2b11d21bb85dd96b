package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/state"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

const wsBase = "ws://test"

type fakeMarket struct {
	mu       sync.Mutex
	klines   map[string][]types.Candle
	gates    map[string]chan struct{}
	failures map[string]int
	calls    map[string]int
	stats    map[string]*types.Stats24h
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		klines:   make(map[string][]types.Candle),
		gates:    make(map[string]chan struct{}),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		stats:    make(map[string]*types.Stats24h),
	}
}

func (m *fakeMarket) klineCalls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

func (m *fakeMarket) GetName() string { return "fake" }

func (m *fakeMarket) GetKlines(ctx context.Context, symbol string, interval exchange.Interval, limit int) ([]types.Candle, error) {
	key := symbol + "/" + string(interval)
	m.mu.Lock()
	gate := m.gates[key]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, terrors.NewDataUnavailable("fake", "GetKlines", ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[key]++
	if m.failures[key] > 0 {
		m.failures[key]--
		return nil, terrors.NewDataUnavailable("fake", "GetKlines", errors.New("upstream timeout"))
	}
	candles, ok := m.klines[key]
	if !ok {
		return nil, terrors.NewDataUnavailable("fake", "GetKlines", errors.New("no klines"))
	}
	return append([]types.Candle(nil), candles...), nil
}

func (m *fakeMarket) GetStats24h(ctx context.Context, symbol string) (*types.Stats24h, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[symbol]
	if !ok {
		return nil, terrors.NewDataUnavailable("fake", "GetStats24h", errors.New("no stats"))
	}
	cp := *s
	return &cp, nil
}

func (m *fakeMarket) GetDepth(ctx context.Context, symbol string, limit int) (*types.Depth, error) {
	return &types.Depth{
		Symbol: symbol,
		Bids:   []types.OrderBookLevel{{Price: 99, Quantity: 1}},
		Asks:   []types.OrderBookLevel{{Price: 101, Quantity: 2}},
	}, nil
}

func (m *fakeMarket) setStats(symbol string, last, change float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[symbol] = &types.Stats24h{Symbol: symbol, LastPrice: last, ChangePercent: change}
}

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    map[string]*fakeConn
	failWith error
}

func (d *fakeDialer) Dial(ctx context.Context, url string, subscribe, keepAlive []byte) (exchange.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	c := &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
	d.conns[url] = c
	return c, nil
}

func (d *fakeDialer) send(t *testing.T, url, msg string) {
	t.Helper()
	var c *fakeConn
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		c = d.conns[url]
		return c != nil
	}, 2*time.Second, 5*time.Millisecond, "no connection to %s", url)
	c.msgs <- []byte(msg)
}

type harness struct {
	term   *Terminal
	market *fakeMarket
	dialer *fakeDialer
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T, symbol string, interval exchange.Interval, configure func(*Deps)) *harness {
	h := &harness{
		market: newFakeMarket(),
		dialer: &fakeDialer{conns: make(map[string]*fakeConn)},
	}

	deps := Deps{
		Market:       h.market,
		Dialer:       h.dialer,
		Protocol:     exchange.NewBinanceStreams(wsBase),
		StreamConfig: stream.Config{MaxReconnects: 0, ReconnectDelay: time.Millisecond},
		Entry:        trading.NewEntry(trading.NewSession(decimal.NewFromInt(1000)), symbol, logger.Discard()),
		Logger:       logger.Discard(),
	}
	if configure != nil {
		configure(&deps)
	}

	term, err := New(Options{
		Symbol:            symbol,
		Interval:          interval,
		StatsPollInterval: 20 * time.Millisecond,
		DepthPollInterval: 20 * time.Millisecond,
		RequestTimeout:    time.Second,
	}, deps)
	require.NoError(t, err)
	h.term = term
	return h
}

func (h *harness) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		h.term.Run(ctx)
	}()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
}

// flush waits until every event posted so far has run
func (h *harness) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	h.term.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not drain")
	}
}

func candles(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Time: int64(i * 60), Open: c, High: c + 2, Low: c - 2, Close: c, Volume: 1}
	}
	return out
}

func tickerMsg(symbol string, price float64, at int64) string {
	return fmt.Sprintf(`{"e":"24hrTicker","E":%d,"s":"%s","c":"%v","P":"1.5"}`, at, symbol, price)
}

func TestTerminal_LoadsHistoryAndStreams(t *testing.T) {
	h := newHarness(t, "BTCUSDT", exchange.Interval1m, nil)
	h.market.klines["BTCUSDT/1m"] = candles(100, 102, 101)
	h.start(t)

	require.Eventually(t, func() bool {
		v := h.term.View()
		return !v.ChartLoading && len(v.Chart.Candles) == 3
	}, 2*time.Second, 5*time.Millisecond)

	h.dialer.send(t, wsBase+"/btcusdt@ticker", tickerMsg("BTCUSDT", 101.5, 1_700_000_000_000))
	require.Eventually(t, func() bool {
		return h.term.View().Price.LastPrice == 101.5
	}, 2*time.Second, 5*time.Millisecond)

	v := h.term.View()
	assert.True(t, v.Entry.MarketPrice.Equal(decimal.NewFromFloat(101.5)))
	assert.Equal(t, "healthy", v.Health)

	h.dialer.send(t, wsBase+"/btcusdt@kline_1m",
		`{"e":"kline","E":1,"s":"BTCUSDT","k":{"t":120000,"s":"BTCUSDT","i":"1m","o":"101","c":"103","h":"104","l":"100","v":"5","x":false}}`)
	require.Eventually(t, func() bool {
		c := h.term.View().Chart.Candles
		return len(c) == 3 && c[2].Close == 103
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.term.View().OrderBook != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 99.0, h.term.View().OrderBook.BestBid)
	assert.False(t, h.term.View().OrderBookAt.IsZero())
	assert.Contains(t, h.term.Health().Status().Components, "orderbook")
}

func TestTerminal_StaleHistoryIsDiscarded(t *testing.T) {
	h := newHarness(t, "BTCUSDT", exchange.Interval1h, nil)
	gate := make(chan struct{})
	h.market.gates["BTCUSDT/1h"] = gate
	h.market.klines["BTCUSDT/1h"] = candles(50000, 50100)
	h.market.klines["ETHUSDT/1h"] = candles(3000, 3010, 3020)
	h.start(t)

	require.NoError(t, h.term.SelectInstrument("ethusdt"))
	require.Eventually(t, func() bool {
		v := h.term.View()
		return v.Symbol == "ETHUSDT" && !v.ChartLoading
	}, 2*time.Second, 5*time.Millisecond)

	close(gate)
	time.Sleep(50 * time.Millisecond)
	h.flush(t)

	v := h.term.View()
	require.Len(t, v.Chart.Candles, 3)
	assert.Equal(t, 3020.0, v.Chart.Candles[2].Close)
	assert.Equal(t, "ETHUSDT", v.Chart.Symbol)
	assert.Equal(t, "ETHUSDT", v.Entry.Draft.Symbol)
}

func TestTerminal_IgnoresUpdatesForOtherSelection(t *testing.T) {
	h := newHarness(t, "BTCUSDT", exchange.Interval1m, nil)
	h.market.klines["BTCUSDT/1m"] = candles(100, 101)
	h.start(t)

	require.Eventually(t, func() bool { return !h.term.View().ChartLoading }, 2*time.Second, 5*time.Millisecond)

	h.term.Post(func() {
		h.term.onTicker(types.TickerUpdate{Symbol: "ETHUSDT", LastPrice: 3000})
		h.term.onKline(types.KlineUpdate{Symbol: "BTCUSDT", Interval: "5m", OpenTime: 600_000, Open: 1, High: 2, Low: 1, Close: 2})
	})
	h.flush(t)

	v := h.term.View()
	assert.Zero(t, v.Price.LastPrice)
	assert.Len(t, v.Chart.Candles, 2)
}

func TestTerminal_StatsPollFeedsPriceAndAlerts(t *testing.T) {
	notified := make(chan string, 4)
	h := newHarness(t, "BTCUSDT", exchange.Interval1h, func(d *Deps) {
		d.Alerts = alerts.NewManager(notifierFunc(func(level, msg string) error {
			notified <- msg
			return nil
		}), logger.Discard())
	})
	h.market.setStats("BTCUSDT", 50500, 2.5)

	_, err := h.term.AddAlert("BTCUSDT", alerts.PriceAbove, 50000)
	require.NoError(t, err)
	h.start(t)

	require.Eventually(t, func() bool {
		return h.term.View().Price.LastPrice == 50500
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case msg := <-notified:
		assert.Contains(t, msg, "BTCUSDT")
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}

	v := h.term.View()
	require.Len(t, v.Alerts, 1)
	assert.False(t, v.Alerts[0].Active)
	require.NotNil(t, v.Stats)
	assert.Equal(t, 2.5, v.Stats.ChangePercent)
	assert.True(t, v.Entry.MarketPrice.Equal(decimal.NewFromInt(50500)))
}

func TestTerminal_SlowNotifierDoesNotBlockLoop(t *testing.T) {
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	sent := make(chan string, 1)
	h := newHarness(t, "BTCUSDT", exchange.Interval1h, func(d *Deps) {
		d.Alerts = alerts.NewManager(notifierFunc(func(level, msg string) error {
			<-release
			sent <- msg
			return nil
		}), logger.Discard())
	})
	h.market.klines["BTCUSDT/1h"] = candles(100, 101)
	h.market.setStats("BTCUSDT", 50500, 1)

	_, err := h.term.AddAlert("BTCUSDT", alerts.PriceAbove, 50000)
	require.NoError(t, err)
	h.start(t)

	require.Eventually(t, func() bool {
		v := h.term.View()
		return len(v.Alerts) == 1 && !v.Alerts[0].Active
	}, 2*time.Second, 5*time.Millisecond)

	// the notifier is still blocked, yet the loop keeps serving
	h.term.Post(func() {
		h.term.onTicker(types.TickerUpdate{Symbol: "BTCUSDT", LastPrice: 50600, EventTime: time.Now()})
	})
	h.flush(t)

	began := time.Now()
	v := h.term.View()
	assert.Less(t, time.Since(began), 200*time.Millisecond)
	assert.NotZero(t, v.Price.LastPrice)
	assert.Contains(t, v.Notice, "alert")

	unblock()
	select {
	case msg := <-sent:
		assert.Contains(t, msg, "BTCUSDT crossed above")
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}
}

func TestTerminal_RetriesFailedHistory(t *testing.T) {
	h := newHarness(t, "BTCUSDT", exchange.Interval1m, nil)
	h.market.klines["BTCUSDT/1m"] = candles(100, 101, 102)
	h.market.failures["BTCUSDT/1m"] = 1
	h.start(t)

	require.Eventually(t, func() bool {
		v := h.term.View()
		return !v.ChartLoading && len(v.Chart.Candles) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, h.market.klineCalls("BTCUSDT/1m"), 2)
	assert.NotContains(t, h.term.View().Notice, "history")

	h.term.Post(func() {
		h.term.onKline(types.KlineUpdate{Symbol: "BTCUSDT", Interval: "1m", OpenTime: 180_000, Open: 102, High: 104, Low: 101, Close: 103})
	})
	h.flush(t)
	assert.Len(t, h.term.View().Chart.Candles, 4)

	calls := h.market.klineCalls("BTCUSDT/1m")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, h.market.klineCalls("BTCUSDT/1m"), "loaded history is not fetched again")
}

func TestTerminal_SavesKeepMutationOrder(t *testing.T) {
	dir := t.TempDir()
	persistence := state.NewStatePersistence(logger.Discard(), dir)
	require.NoError(t, persistence.Initialize())

	h := newHarness(t, "BTCUSDT", exchange.Interval1h, func(d *Deps) {
		d.Persistence = persistence
	})
	h.market.setStats("BTCUSDT", 100, 0)
	h.start(t)

	for i := 0; i < 20; i++ {
		res, err := h.term.SubmitOrder(context.Background(), OrderRequest{
			Side: trading.SideBuy, Type: trading.OrderTypeLimit, Price: "90", Quantity: "1",
		})
		require.NoError(t, err)
		_, err = h.term.CancelOrder(res.Order.ID)
		require.NoError(t, err)
	}
	a, err := h.term.AddAlert("BTCUSDT", alerts.PriceBelow, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := persistence.LoadState()
		return err == nil && snap != nil && len(snap.Alerts) == 1 && len(snap.Session.OpenOrders) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.term.RemoveAlert(a.ID))
	h.stop()

	snap, err := persistence.LoadState()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap.Alerts)
	assert.Empty(t, snap.Session.OpenOrders)
}

func TestTerminal_DegradedStreams(t *testing.T) {
	h := newHarness(t, "BTCUSDT", exchange.Interval1h, nil)
	h.dialer.failWith = errors.New("connection refused")
	h.market.setStats("BTCUSDT", 42000, -1)
	h.start(t)

	require.Eventually(t, func() bool {
		v := h.term.View()
		return v.Health == "degraded" && v.Price.LastPrice == 42000
	}, 2*time.Second, 5*time.Millisecond)

	v := h.term.View()
	assert.Equal(t, "closed", v.Streams[exchange.ChannelTicker])
	assert.NotEmpty(t, h.term.Health().Status().Degraded)
	assert.True(t, strings.Contains(v.Notice, "degraded") || strings.Contains(v.Notice, "history"))
}

func TestTerminal_SubmitOrderAndPersist(t *testing.T) {
	dir := t.TempDir()
	persistence := state.NewStatePersistence(logger.Discard(), dir)
	require.NoError(t, persistence.Initialize())

	h := newHarness(t, "BTCUSDT", exchange.Interval1h, func(d *Deps) {
		d.Persistence = persistence
	})
	h.market.setStats("BTCUSDT", 100, 0)
	h.start(t)

	require.Eventually(t, func() bool {
		return h.term.View().Entry.MarketPrice.Equal(decimal.NewFromInt(100))
	}, 2*time.Second, 5*time.Millisecond)

	res, err := h.term.SubmitOrder(context.Background(), OrderRequest{Side: trading.SideBuy, Quantity: "2"})
	require.NoError(t, err)
	assert.Equal(t, trading.StatusFilled, res.Order.Status)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(800)))

	_, err = h.term.SubmitOrder(context.Background(), OrderRequest{Side: trading.SideBuy, Quantity: "100"})
	assert.ErrorIs(t, err, terrors.ErrInsufficientBalance)

	limit, err := h.term.SubmitOrder(context.Background(), OrderRequest{Side: trading.SideBuy, Type: trading.OrderTypeLimit, Price: "90", Quantity: "1"})
	require.NoError(t, err)
	_, err = h.term.CancelOrder(limit.Order.ID)
	require.NoError(t, err)
	_, err = h.term.CancelOrder(limit.Order.ID)
	assert.ErrorIs(t, err, terrors.ErrOrderNotFound)

	v := h.term.View()
	assert.True(t, v.Balance.Equal(decimal.NewFromInt(800)))
	assert.Len(t, v.Trades, 1)
	assert.Empty(t, v.OpenOrders)

	require.Len(t, v.Portfolio.Positions, 1)
	pos := v.Portfolio.Positions[0]
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.MarketPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, v.Portfolio.Equity.Equal(decimal.NewFromInt(1000)))

	h.stop()

	snap, err := persistence.LoadState()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.True(t, snap.Session.Balance.Equal(decimal.NewFromInt(800)))
	assert.Len(t, snap.Session.Trades, 1)

	components := h.term.Health().Status().Components
	require.Contains(t, components, "persistence")
	assert.False(t, components["persistence"].(map[string]time.Time)["last_save"].IsZero())
}

func TestTerminal_SelectValidation(t *testing.T) {
	h := newHarness(t, "BTCUSDT", exchange.Interval1h, nil)
	assert.Error(t, h.term.SelectInstrument("  "))
	assert.Error(t, h.term.SelectInterval("7m"))

	_, err := New(Options{}, Deps{})
	assert.ErrorIs(t, err, terrors.ErrConfiguration)
}

func TestEventQueue_Order(t *testing.T) {
	q := newEventQueue()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		q.push(func() { got = append(got, i) })
	}
	assert.Equal(t, 3, q.len())
	for _, fn := range q.drain() {
		fn()
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Zero(t, q.len())
}

type notifierFunc func(level, msg string) error

func (f notifierFunc) SendAlert(level, msg string) error { return f(level, msg) }
