package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
	onDone func()
}

func newFakeConn(onDone func()) *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		closed: make(chan struct{}),
		onDone: onDone,
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return msg, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		if c.onDone != nil {
			c.onDone()
		}
	})
	return nil
}

// fakeDialer hands out fakeConns per URL and records overlapping
// connections on the same stream.
type fakeDialer struct {
	mu       sync.Mutex
	conns    map[string][]*fakeConn
	dials    map[string]int
	active   map[string]int
	overlap  bool
	failWith error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns:  make(map[string][]*fakeConn),
		dials:  make(map[string]int),
		active: make(map[string]int),
	}
}

func channelOf(url string) string {
	if strings.Contains(url, "@kline") {
		return "kline"
	}
	return "ticker"
}

func (d *fakeDialer) Dial(ctx context.Context, url string, subscribe, keepAlive []byte) (exchange.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials[url]++
	if d.failWith != nil {
		return nil, d.failWith
	}

	ch := channelOf(url)
	if d.active[ch] > 0 {
		d.overlap = true
	}
	d.active[ch]++

	conn := newFakeConn(func() {
		d.mu.Lock()
		d.active[ch]--
		d.mu.Unlock()
	})
	d.conns[url] = append(d.conns[url], conn)
	return conn, nil
}

func (d *fakeDialer) conn(t *testing.T, url string, idx int) *fakeConn {
	t.Helper()
	var c *fakeConn
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns[url]) > idx {
			c = d.conns[url][idx]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func (d *fakeDialer) dialCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[url]
}

type recorder struct {
	mu       sync.Mutex
	tickers  []types.TickerUpdate
	klines   []types.KlineUpdate
	degraded map[exchange.Channel]error
}

func newRecorder() *recorder {
	return &recorder{degraded: make(map[exchange.Channel]error)}
}

func (r *recorder) handler() Handler {
	return HandlerFuncs{
		Ticker: func(u types.TickerUpdate) {
			r.mu.Lock()
			r.tickers = append(r.tickers, u)
			r.mu.Unlock()
		},
		Kline: func(u types.KlineUpdate) {
			r.mu.Lock()
			r.klines = append(r.klines, u)
			r.mu.Unlock()
		},
		Degraded: func(ch exchange.Channel, err error) {
			r.mu.Lock()
			r.degraded[ch] = err
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickers), len(r.klines), len(r.degraded)
}

const (
	tickerURL = "ws://fake/btcusdt@ticker"
	klineURL  = "ws://fake/btcusdt@kline_1h"
)

func tickerMsg(symbol, price string) []byte {
	return []byte(`{"e":"24hrTicker","E":1700000000000,"s":"` + symbol + `","c":"` + price + `","P":"1.5"}`)
}

func klineMsg(interval, close string) []byte {
	return []byte(`{"e":"kline","E":1700000000000,"s":"BTCUSDT","k":{"t":1699999200000,"s":"BTCUSDT","i":"` +
		interval + `","o":"100","c":"` + close + `","h":"110","l":"90","v":"1","x":false}}`)
}

func newTestManager(d exchange.Dialer, h Handler, stats *terrors.ErrorStats) *Manager {
	return NewManager(d, exchange.NewBinanceStreams("ws://fake"), h, logger.Discard(), stats,
		Config{MaxReconnects: 1, ReconnectDelay: 5 * time.Millisecond})
}

func TestManager_DeliversMessagesInOrder(t *testing.T) {
	dialer := newFakeDialer()
	rec := newRecorder()
	stats := terrors.NewErrorStats(10)
	m := newTestManager(dialer, rec.handler(), stats)
	defer m.Close()

	require.NoError(t, m.Open(context.Background(), "BTCUSDT", exchange.Interval1h))

	tc := dialer.conn(t, tickerURL, 0)
	kc := dialer.conn(t, klineURL, 0)
	require.Eventually(t, func() bool {
		return m.State(exchange.ChannelTicker) == StateOpen && m.State(exchange.ChannelKline) == StateOpen
	}, time.Second, 5*time.Millisecond)

	tc.msgs <- tickerMsg("BTCUSDT", "100")
	tc.msgs <- []byte(`{broken`)
	tc.msgs <- tickerMsg("ETHUSDT", "2000")
	tc.msgs <- tickerMsg("BTCUSDT", "101")
	kc.msgs <- klineMsg("1h", "103")
	kc.msgs <- klineMsg("5m", "104")

	require.Eventually(t, func() bool {
		tickers, klines, _ := rec.counts()
		return tickers == 2 && klines == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, 100.0, rec.tickers[0].LastPrice)
	assert.Equal(t, 101.0, rec.tickers[1].LastPrice)
	assert.Equal(t, 103.0, rec.klines[0].Close)
	rec.mu.Unlock()

	require.Eventually(t, func() bool {
		return stats.Count(terrors.ErrorCategoryMalformedMessage) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestManager_SwitchClosesBeforeOpening(t *testing.T) {
	dialer := newFakeDialer()
	rec := newRecorder()
	m := newTestManager(dialer, rec.handler(), nil)
	defer m.Close()

	require.NoError(t, m.Open(context.Background(), "BTCUSDT", exchange.Interval1h))
	dialer.conn(t, tickerURL, 0)
	dialer.conn(t, klineURL, 0)

	require.NoError(t, m.Open(context.Background(), "ETHUSDT", exchange.Interval1h))
	dialer.conn(t, "ws://fake/ethusdt@ticker", 0)
	dialer.conn(t, "ws://fake/ethusdt@kline_1h", 0)

	require.NoError(t, m.Open(context.Background(), "ETHUSDT", exchange.Interval5m))
	dialer.conn(t, "ws://fake/ethusdt@kline_5m", 0)

	dialer.mu.Lock()
	assert.False(t, dialer.overlap, "two subscriptions were open on one channel")
	dialer.mu.Unlock()

	// the BTC streams must not have reconnected after being replaced
	assert.Equal(t, 1, dialer.dialCount(tickerURL))
	assert.Equal(t, 1, dialer.dialCount(klineURL))
	_, _, degraded := rec.counts()
	assert.Zero(t, degraded)
}

func TestManager_ReconnectsOnceThenDegrades(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failWith = errors.New("connection refused")
	rec := newRecorder()
	m := newTestManager(dialer, rec.handler(), nil)
	defer m.Close()

	require.NoError(t, m.Open(context.Background(), "BTCUSDT", exchange.Interval1h))

	require.Eventually(t, func() bool {
		_, _, degraded := rec.counts()
		return degraded == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, dialer.dialCount(tickerURL))
	assert.Equal(t, 2, dialer.dialCount(klineURL))
	assert.Equal(t, StateClosed, m.State(exchange.ChannelTicker))

	rec.mu.Lock()
	assert.ErrorIs(t, rec.degraded[exchange.ChannelKline], terrors.ErrStreamDegraded)
	rec.mu.Unlock()
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	dialer := newFakeDialer()
	rec := newRecorder()
	m := newTestManager(dialer, rec.handler(), nil)
	defer m.Close()

	require.NoError(t, m.Open(context.Background(), "BTCUSDT", exchange.Interval1h))

	first := dialer.conn(t, tickerURL, 0)
	first.msgs <- tickerMsg("BTCUSDT", "100")
	close(first.msgs)

	second := dialer.conn(t, tickerURL, 1)
	second.msgs <- tickerMsg("BTCUSDT", "102")

	require.Eventually(t, func() bool {
		tickers, _, _ := rec.counts()
		return tickers == 2
	}, time.Second, 5*time.Millisecond)
	_, _, degraded := rec.counts()
	assert.Zero(t, degraded)
}

func TestManager_CloseMovesChannelsToClosed(t *testing.T) {
	dialer := newFakeDialer()
	m := newTestManager(dialer, newRecorder().handler(), nil)

	require.NoError(t, m.Open(context.Background(), "BTCUSDT", exchange.Interval1h))
	dialer.conn(t, tickerURL, 0)
	dialer.conn(t, klineURL, 0)

	m.Close()
	for ch, st := range m.States() {
		assert.Equal(t, StateClosed, st, "channel %s", ch)
	}

	dialer.mu.Lock()
	assert.Zero(t, dialer.active["ticker"])
	assert.Zero(t, dialer.active["kline"])
	dialer.mu.Unlock()
}

func TestManager_UnsupportedIntervalDegradesKline(t *testing.T) {
	dialer := newFakeDialer()
	rec := newRecorder()
	m := NewManager(dialer, exchange.NewBybitStreams("ws://fake"), rec.handler(), logger.Discard(), nil, DefaultConfig())
	defer m.Close()

	err := m.Open(context.Background(), "BTCUSDT", exchange.Interval8h)
	require.Error(t, err)
	assert.ErrorIs(t, err, terrors.ErrStreamDegraded)

	rec.mu.Lock()
	_, ok := rec.degraded[exchange.ChannelKline]
	rec.mu.Unlock()
	assert.True(t, ok)
}
