package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
)

// Config holds reconnect settings
type Config struct {
	MaxReconnects  int
	ReconnectDelay time.Duration
}

// DefaultConfig allows one reconnect after a second
func DefaultConfig() Config {
	return Config{
		MaxReconnects:  1,
		ReconnectDelay: time.Second,
	}
}

var channels = []exchange.Channel{exchange.ChannelTicker, exchange.ChannelKline}

// Manager owns the ticker and kline subscriptions of the selected instrument.
// At most one subscription per channel exists at any time.
type Manager struct {
	dialer     exchange.Dialer
	protocol   exchange.StreamProtocol
	handler    Handler
	logger     *logger.Logger
	errorStats *terrors.ErrorStats
	cfg        Config

	mu       sync.Mutex // serializes Open and Close
	subs     []*subscription
	symbol   string
	interval exchange.Interval

	stateMu sync.RWMutex
	states  map[exchange.Channel]State
}

type subscription struct {
	channel   exchange.Channel
	symbol    string
	interval  exchange.Interval
	url       string
	subscribe []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   exchange.Conn
	closed bool
}

// NewManager creates a stream manager. errorStats may be nil.
func NewManager(dialer exchange.Dialer, protocol exchange.StreamProtocol, handler Handler,
	log *logger.Logger, errorStats *terrors.ErrorStats, cfg Config) *Manager {
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	}
	return &Manager{
		dialer:     dialer,
		protocol:   protocol,
		handler:    handler,
		logger:     log,
		errorStats: errorStats,
		cfg:        cfg,
		states:     make(map[exchange.Channel]State),
	}
}

// Open replaces the current subscriptions with ticker and kline streams for
// symbol and interval. Existing readers are stopped before anything is dialed.
// Connecting happens in the background; an endpoint that cannot be built
// degrades its channel and is returned as an error.
func (m *Manager) Open(ctx context.Context, symbol string, interval exchange.Interval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()
	m.symbol = strings.ToUpper(symbol)
	m.interval = interval

	var firstErr error
	for _, ch := range channels {
		url, sub, err := m.protocol.Endpoint(ch, symbol, interval)
		if err != nil {
			degraded := terrors.NewStreamDegraded("stream", "Open", err).WithContext("channel", string(ch))
			m.degrade(ch, degraded)
			if firstErr == nil {
				firstErr = degraded
			}
			continue
		}

		sctx, cancel := context.WithCancel(ctx)
		s := &subscription{
			channel:   ch,
			symbol:    m.symbol,
			interval:  interval,
			url:       url,
			subscribe: sub,
			ctx:       sctx,
			cancel:    cancel,
			done:      make(chan struct{}),
		}
		m.subs = append(m.subs, s)
		m.setState(ch, StateConnecting)
		go m.run(s)
	}

	m.logger.Info("Streams opened for %s %s", m.symbol, interval)
	return firstErr
}

// Close stops every subscription and waits for the readers to exit
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if len(m.subs) == 0 {
		return
	}
	for _, s := range m.subs {
		s.close()
	}
	for _, s := range m.subs {
		<-s.done
	}
	m.subs = nil
	m.logger.Info("Streams closed for %s %s", m.symbol, m.interval)
}

// State returns the current state of a channel
func (m *Manager) State(ch exchange.Channel) State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.states[ch]
}

// States returns a copy of all channel states
func (m *Manager) States() map[exchange.Channel]State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	out := make(map[exchange.Channel]State, len(channels))
	for _, ch := range channels {
		out[ch] = m.states[ch]
	}
	return out
}

func (m *Manager) setState(ch exchange.Channel, st State) {
	m.stateMu.Lock()
	prev, seen := m.states[ch]
	if seen && prev == st {
		m.stateMu.Unlock()
		return
	}
	m.states[ch] = st
	m.stateMu.Unlock()

	monitoring.SetStreamState(string(ch), int(st))
	m.handler.OnStateChange(ch, st)
}

func (m *Manager) degrade(ch exchange.Channel, err error) {
	m.setState(ch, StateClosed)
	m.logger.Warning("Stream %s degraded: %v", ch, err)
	monitoring.RecordStreamDegraded(string(ch))
	if m.errorStats != nil {
		m.errorStats.RecordError(err)
	}
	m.handler.OnDegraded(ch, err)
}

// run dials, reads until the connection fails and reconnects up to
// MaxReconnects times in a row before degrading the channel
func (m *Manager) run(s *subscription) {
	defer close(s.done)
	defer m.setState(s.channel, StateClosed)

	failures := 0
	for {
		if s.ctx.Err() != nil {
			return
		}
		m.setState(s.channel, StateConnecting)

		conn, err := m.dialer.Dial(s.ctx, s.url, s.subscribe, m.protocol.KeepAlive())
		if err == nil {
			if !s.attach(conn) {
				conn.Close()
				return
			}
			m.setState(s.channel, StateOpen)
			m.logger.Debug("Stream %s connected: %s", s.channel, s.url)

			var delivered int
			delivered, err = m.readLoop(s, conn)
			s.detach()
			conn.Close()
			if delivered > 0 {
				failures = 0
			}
		}

		if s.ctx.Err() != nil {
			return
		}

		failures++
		if failures > m.cfg.MaxReconnects {
			m.degrade(s.channel, terrors.NewStreamDegraded("stream", string(s.channel), err).
				WithContext("symbol", s.symbol).
				WithContext("attempts", failures))
			return
		}

		m.setState(s.channel, StateClosed)
		m.logger.Warning("Stream %s dropped (%v), reconnecting (%d/%d)", s.channel, err, failures, m.cfg.MaxReconnects)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

// readLoop processes messages in arrival order and returns how many were
// delivered when the connection fails
func (m *Manager) readLoop(s *subscription, conn exchange.Conn) (int, error) {
	delivered := 0
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		if m.dispatch(s, data) {
			delivered++
		}
	}
}

func (m *Manager) dispatch(s *subscription, data []byte) bool {
	var err error
	switch s.channel {
	case exchange.ChannelTicker:
		update, decErr := m.protocol.DecodeTicker(data)
		err = decErr
		if err == nil && !strings.EqualFold(update.Symbol, s.symbol) {
			err = fmt.Errorf("ticker for %s on %s stream", update.Symbol, s.symbol)
		}
		if err == nil {
			monitoring.RecordStreamMessage(string(s.channel))
			m.handler.OnTicker(update)
			return true
		}
	case exchange.ChannelKline:
		update, decErr := m.protocol.DecodeKline(data)
		err = decErr
		if err == nil && !strings.EqualFold(update.Symbol, s.symbol) {
			err = fmt.Errorf("kline for %s on %s stream", update.Symbol, s.symbol)
		}
		if err == nil && update.Interval != string(s.interval) {
			err = fmt.Errorf("kline interval %s on %s stream", update.Interval, s.interval)
		}
		if err == nil {
			monitoring.RecordStreamMessage(string(s.channel))
			m.handler.OnKline(update)
			return true
		}
	}

	if errors.Is(err, exchange.ErrControlMessage) {
		return false
	}

	malformed := terrors.NewMalformedMessage("stream", string(s.channel), err)
	m.logger.Warning("Dropped malformed %s message: %v", s.channel, err)
	monitoring.RecordMalformedMessage(string(s.channel))
	if m.errorStats != nil {
		m.errorStats.RecordError(malformed)
	}
	return false
}

func (s *subscription) attach(conn exchange.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

func (s *subscription) detach() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = nil
}

func (s *subscription) close() {
	s.cancel()
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
}
