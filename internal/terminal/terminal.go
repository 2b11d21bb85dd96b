package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	"github.com/ducminhle1904/crypto-terminal/internal/chart"
	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
	"github.com/ducminhle1904/crypto-terminal/internal/orderbook"
	"github.com/ducminhle1904/crypto-terminal/internal/state"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

var errSymbolRequired = errors.New("symbol is required")

// Options are the terminal's start-up selection and timings
type Options struct {
	Symbol            string
	Interval          exchange.Interval
	HistoryLimit      int
	StatsPollInterval time.Duration
	DepthPollInterval time.Duration
	RequestTimeout    time.Duration
}

func (o *Options) setDefaults() {
	if o.Symbol == "" {
		o.Symbol = "BTCUSDT"
	}
	if o.Interval == "" {
		o.Interval = exchange.Interval1h
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 500
	}
	if o.StatsPollInterval <= 0 {
		o.StatsPollInterval = 5 * time.Second
	}
	if o.DepthPollInterval <= 0 {
		o.DepthPollInterval = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
}

// Deps are the collaborators of a terminal. Market, Dialer, Protocol and
// Entry are required; the rest default when nil.
type Deps struct {
	Market       exchange.MarketData
	Dialer       exchange.Dialer
	Protocol     exchange.StreamProtocol
	StreamConfig stream.Config

	Entry       *trading.Entry
	Book        *orderbook.ViewModel
	Chart       *chart.Chart
	Alerts      *alerts.Manager
	Health      *monitoring.HealthChecker
	ErrorStats  *terrors.ErrorStats
	Persistence *state.StatePersistence
	Logger      *logger.Logger
}

// OrderRequest is an order submitted from outside the loop
type OrderRequest struct {
	Side     trading.Side      `json:"side"`
	Type     trading.OrderType `json:"type"`
	Price    string            `json:"price"`
	Quantity string            `json:"quantity"`
}

// Terminal wires market data, streams, the order book and the order form
// around a single event loop. Stream callbacks, REST completions and timer
// ticks are posted to the loop and run one at a time.
type Terminal struct {
	opts Options

	market      exchange.MarketData
	streams     *stream.Manager
	book        *orderbook.ViewModel
	poller      *orderbook.Poller
	chart       *chart.Chart
	entry       *trading.Entry
	alerts      *alerts.Manager
	health      *monitoring.HealthChecker
	errorStats  *terrors.ErrorStats
	persistence *state.StatePersistence
	logger      *logger.Logger

	queue      *eventQueue
	deliveries *eventQueue // alert notifications, sent outside the loop
	saveSignal chan struct{}
	saveMu     sync.Mutex
	ctx        context.Context
	wg         sync.WaitGroup

	orderMu sync.Mutex // serializes draft edits with their submit

	// loop-owned, written only while an event runs
	mu           sync.RWMutex
	symbol       string
	interval     exchange.Interval
	price        stream.PriceState
	stats        *types.Stats24h
	streamStates map[exchange.Channel]stream.State
	bookErr      string
	notice       string
	historyGen   uint64 // generation of the history request in flight, 0 when idle
}

// New creates a terminal. Nothing is fetched or dialed before Run.
func New(opts Options, deps Deps) (*Terminal, error) {
	if deps.Market == nil || deps.Dialer == nil || deps.Protocol == nil || deps.Entry == nil {
		return nil, terrors.NewConfigurationError("terminal", "New", "market data, dialer, stream protocol and order entry are required")
	}
	if _, err := exchange.ParseInterval(string(opts.Interval)); opts.Interval != "" && err != nil {
		return nil, terrors.NewConfigurationError("terminal", "New", err.Error())
	}
	opts.setDefaults()

	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	if deps.ErrorStats == nil {
		deps.ErrorStats = terrors.NewErrorStats(50)
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealthChecker(deps.ErrorStats)
	}
	if deps.Book == nil {
		deps.Book = orderbook.NewViewModel(deps.Market, orderbook.DefaultOptions(), log)
	}
	if deps.Chart == nil {
		deps.Chart = chart.New()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewManager(nil, log)
	}

	t := &Terminal{
		opts:         opts,
		market:       deps.Market,
		book:         deps.Book,
		chart:        deps.Chart,
		entry:        deps.Entry,
		alerts:       deps.Alerts,
		health:       deps.Health,
		errorStats:   deps.ErrorStats,
		persistence:  deps.Persistence,
		logger:       log,
		queue:        newEventQueue(),
		deliveries:   newEventQueue(),
		saveSignal:   make(chan struct{}, 1),
		ctx:          context.Background(),
		streamStates: make(map[exchange.Channel]stream.State),
	}

	handler := stream.HandlerFuncs{
		Ticker: func(u types.TickerUpdate) { t.Post(func() { t.onTicker(u) }) },
		Kline:  func(u types.KlineUpdate) { t.Post(func() { t.onKline(u) }) },
		StateChange: func(ch exchange.Channel, st stream.State) {
			t.Post(func() { t.onStateChange(ch, st) })
		},
		Degraded: func(ch exchange.Channel, err error) {
			t.Post(func() { t.onDegraded(ch, err) })
		},
	}
	book := deps.Book
	deps.Health.AddComponent("orderbook", func() interface{} {
		return map[string]interface{}{"failures": book.Failures(), "last_refresh": book.LastRefresh()}
	})
	if p := deps.Persistence; p != nil {
		deps.Health.AddComponent("persistence", func() interface{} {
			return map[string]time.Time{"last_save": p.LastSave()}
		})
	}

	t.streams = stream.NewManager(deps.Dialer, deps.Protocol, handler, log, deps.ErrorStats, deps.StreamConfig)
	t.poller = orderbook.NewPoller(deps.Book, opts.DepthPollInterval, func(symbol string, snap *orderbook.Snapshot, err error) {
		t.Post(func() { t.onDepth(symbol, err) })
	})

	return t, nil
}

// Post queues fn to run on the loop. It never blocks.
func (t *Terminal) Post(fn func()) {
	t.queue.push(fn)
}

// Run selects the start-up instrument and processes events until ctx is
// cancelled. Streams are closed and the session saved on the way out.
func (t *Terminal) Run(ctx context.Context) error {
	t.ctx = ctx

	t.wg.Add(3)
	go func() {
		defer t.wg.Done()
		t.poller.Run(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.deliveries.serve(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.runSaver(ctx)
	}()

	t.mu.Lock()
	t.selectLocked(t.opts.Symbol, t.opts.Interval, true)
	t.mu.Unlock()

	statsTicker := time.NewTicker(t.opts.StatsPollInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return nil
		case <-t.queue.signal:
			t.processEvents()
		case <-statsTicker.C:
			t.Post(t.onPollTick)
		}
	}
}

func (t *Terminal) processEvents() {
	for {
		events := t.queue.drain()
		if len(events) == 0 {
			return
		}
		for _, fn := range events {
			t.mu.Lock()
			fn()
			t.mu.Unlock()
		}
	}
}

func (t *Terminal) shutdown() {
	t.streams.Close()
	t.wg.Wait()
	if err := t.Save(); err != nil {
		t.logger.LogError("save session", err)
	}
	t.logger.Info("Terminal stopped")
}

// SelectInstrument switches to symbol on the current interval
func (t *Terminal) SelectInstrument(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return errSymbolRequired
	}
	t.Post(func() { t.selectLocked(symbol, t.interval, false) })
	return nil
}

// SelectInterval switches the candle interval of the current symbol
func (t *Terminal) SelectInterval(interval exchange.Interval) error {
	if _, err := exchange.ParseInterval(string(interval)); err != nil {
		return err
	}
	t.Post(func() { t.selectLocked(t.symbol, interval, false) })
	return nil
}

// selectLocked moves the terminal to symbol and interval: streams are
// reopened, history reloads under a new generation and the book and price
// are reset when the symbol changes.
func (t *Terminal) selectLocked(symbol string, interval exchange.Interval, force bool) {
	symbol = strings.ToUpper(symbol)
	if !force && symbol == t.symbol && interval == t.interval {
		return
	}
	symbolChanged := symbol != t.symbol

	t.symbol = symbol
	t.interval = interval
	gen := t.chart.BeginLoad(symbol, interval)

	if symbolChanged {
		t.price = stream.PriceState{Symbol: symbol}
		t.stats = nil
		t.bookErr = ""
		t.entry.SetSymbol(symbol)
		t.book.Reset()
		t.poller.SetSymbol(symbol)
	}

	t.logger.Info("Selected %s %s", symbol, interval)
	if err := t.streams.Open(t.ctx, symbol, interval); err != nil {
		t.notice = err.Error()
		t.logger.Warning("Streams unavailable for %s %s: %v", symbol, interval, err)
	}

	t.goLoadHistory(gen, symbol, interval)
	if symbolChanged {
		t.goLoadStats(symbol)
	}
}

// onPollTick refreshes the 24h stats and retries a failed history load
func (t *Terminal) onPollTick() {
	t.goLoadStats(t.symbol)
	if gen := t.chart.Generation(); !t.chart.Loaded() && t.historyGen != gen {
		t.logger.Debug("Retrying history for %s %s", t.symbol, t.interval)
		t.goLoadHistory(gen, t.symbol, t.interval)
	}
}

// goLoadHistory must run on the loop
func (t *Terminal) goLoadHistory(gen uint64, symbol string, interval exchange.Interval) {
	t.historyGen = gen
	ctx := t.ctx
	go func() {
		rctx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
		candles, err := t.market.GetKlines(rctx, symbol, interval, t.opts.HistoryLimit)
		cancel()
		if ctx.Err() != nil {
			return
		}
		t.Post(func() { t.onHistory(gen, symbol, interval, candles, err) })
	}()
}

func (t *Terminal) goLoadStats(symbol string) {
	ctx := t.ctx
	go func() {
		rctx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
		stats, err := t.market.GetStats24h(rctx, symbol)
		cancel()
		if ctx.Err() != nil {
			return
		}
		t.Post(func() { t.onStats(symbol, stats, err) })
	}()
}

func (t *Terminal) recordError(err error) {
	t.errorStats.RecordError(err)
	monitoring.RecordError(strings.ToLower(string(terrors.CategoryOf(err))))
}

func historyNotice(symbol string, interval exchange.Interval) string {
	return fmt.Sprintf("history for %s %s unavailable", symbol, interval)
}

func (t *Terminal) onHistory(gen uint64, symbol string, interval exchange.Interval, candles []types.Candle, err error) {
	if gen == t.historyGen {
		t.historyGen = 0
	}
	if err != nil {
		t.recordError(err)
		if gen == t.chart.Generation() {
			t.notice = historyNotice(symbol, interval)
		}
		t.logger.Warning("History load failed for %s %s: %v", symbol, interval, err)
		return
	}
	if !t.chart.CommitLoad(gen, candles) {
		t.logger.Debug("Discarded stale history for %s %s", symbol, interval)
		return
	}
	if t.notice == historyNotice(symbol, interval) {
		t.notice = ""
	}
	t.logger.Info("Loaded %d candles for %s %s", len(candles), symbol, interval)
}

// onStats applies the polled 24h ticker. It carries no event time so it
// never blocks a later stream tick.
func (t *Terminal) onStats(symbol string, stats *types.Stats24h, err error) {
	if symbol != t.symbol {
		return
	}
	if err != nil {
		t.recordError(err)
		t.logger.Debug("Stats poll failed for %s: %v", symbol, err)
		return
	}
	if stats == nil {
		return
	}

	cp := *stats
	t.stats = &cp

	if t.streamStates[exchange.ChannelTicker] == stream.StateOpen && t.price.LastPrice > 0 {
		return
	}
	if cp.Symbol == "" {
		cp.Symbol = symbol
	}
	before := t.price
	t.price = stream.ApplyStats(t.price, cp, time.Time{})
	if t.price != before {
		t.applyPriceLocked(types.TickerUpdate{Symbol: symbol, LastPrice: cp.LastPrice, ChangePercent: cp.ChangePercent})
	}
}

func (t *Terminal) onTicker(u types.TickerUpdate) {
	if !strings.EqualFold(u.Symbol, t.symbol) {
		return
	}
	before := t.price
	t.price = stream.ApplyTicker(t.price, u)
	if t.price == before {
		return
	}
	t.applyPriceLocked(u)
}

func (t *Terminal) applyPriceLocked(u types.TickerUpdate) {
	last := t.price.LastPrice
	if last <= 0 {
		return
	}
	t.entry.SetMarketPrice(last)
	t.health.UpdatePrice(last)
	monitoring.UpdatePrice(t.symbol, last)

	u.Symbol = t.symbol
	if fired := t.alerts.Evaluate(u); len(fired) > 0 {
		t.notice = fmt.Sprintf("%d alert(s) fired for %s", len(fired), t.symbol)
		t.deliveries.push(func() { t.alerts.Deliver(fired) })
		t.persistAsync()
	}
}

func (t *Terminal) onKline(u types.KlineUpdate) {
	if !strings.EqualFold(u.Symbol, t.symbol) || u.Interval != string(t.interval) {
		return
	}
	t.chart.ApplyKline(u)
}

func (t *Terminal) onStateChange(ch exchange.Channel, st stream.State) {
	t.streamStates[ch] = st
	t.health.SetStreamConnected(string(ch), st == stream.StateOpen)
}

func (t *Terminal) onDegraded(ch exchange.Channel, err error) {
	t.health.MarkDegraded(string(ch), err)
	t.notice = fmt.Sprintf("%s stream degraded, falling back to polling", strings.Join(t.health.DegradedChannels(), ", "))
	if ch == exchange.ChannelTicker {
		t.goLoadStats(t.symbol)
	}
}

func (t *Terminal) onDepth(symbol string, err error) {
	if !strings.EqualFold(symbol, t.symbol) {
		return
	}
	if err != nil {
		t.recordError(err)
		t.bookErr = err.Error()
		return
	}
	t.bookErr = ""
}

// SubmitOrder fills the order form with req and submits it. Market orders
// use the live price of the selected symbol.
func (t *Terminal) SubmitOrder(ctx context.Context, req OrderRequest) (*trading.Result, error) {
	t.orderMu.Lock()
	defer t.orderMu.Unlock()

	side, orderType := req.Side, req.Type
	if side == "" {
		side = trading.SideBuy
	}
	if orderType == "" {
		orderType = trading.OrderTypeMarket
	}

	t.entry.SetSide(side)
	t.entry.SetType(orderType)
	t.entry.SetPrice(req.Price)
	t.entry.SetQuantity(req.Quantity)

	res, err := t.entry.Submit(ctx)
	if err != nil {
		return nil, err
	}
	t.persistAsync()
	return res, nil
}

// CancelOrder cancels an open order
func (t *Terminal) CancelOrder(id string) (trading.Order, error) {
	order, err := t.entry.Cancel(id)
	if err != nil {
		return trading.Order{}, err
	}
	t.persistAsync()
	return order, nil
}

// AddAlert registers a price alert
func (t *Terminal) AddAlert(symbol string, cond alerts.Condition, target float64) (alerts.Alert, error) {
	a, err := t.alerts.Add(symbol, cond, target)
	if err != nil {
		return alerts.Alert{}, err
	}
	t.persistAsync()
	return a, nil
}

// RemoveAlert deletes a price alert
func (t *Terminal) RemoveAlert(id string) error {
	if err := t.alerts.Remove(id); err != nil {
		return err
	}
	t.persistAsync()
	return nil
}

// Snapshot returns the recoverable session state
func (t *Terminal) Snapshot() state.Snapshot {
	t.mu.RLock()
	symbol, interval := t.symbol, t.interval
	t.mu.RUnlock()

	return state.Snapshot{
		SavedAt:  time.Now(),
		Symbol:   symbol,
		Interval: string(interval),
		Session:  t.entry.Session().State(time.Now()),
		Alerts:   t.alerts.List(),
	}
}

// Save writes the session when persistence is configured. Saves are
// serialized and each one snapshots under the save lock, so a later save
// never writes older state.
func (t *Terminal) Save() error {
	if t.persistence == nil {
		return nil
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	return t.persistence.SaveState(t.Snapshot())
}

// persistAsync asks the saver for a save. Requests made while one is
// pending are coalesced.
func (t *Terminal) persistAsync() {
	if t.persistence == nil {
		return
	}
	select {
	case t.saveSignal <- struct{}{}:
	default:
	}
}

func (t *Terminal) runSaver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.saveSignal:
			if err := t.Save(); err != nil {
				t.logger.LogError("save session", err)
			}
		}
	}
}

// EntryView is the order form as displayed
type EntryView struct {
	Draft       trading.Draft      `json:"draft"`
	State       trading.EntryState `json:"state"`
	Error       string             `json:"error,omitempty"`
	Quote       trading.Quote      `json:"quote"`
	MarketPrice decimal.Decimal    `json:"market_price"`
}

// View is a consistent snapshot of everything the terminal displays
type View struct {
	Symbol         string                      `json:"symbol"`
	Interval       exchange.Interval           `json:"interval"`
	Price          stream.PriceState           `json:"price"`
	Stats          *types.Stats24h             `json:"stats,omitempty"`
	Streams        map[exchange.Channel]string `json:"streams"`
	Chart          chart.Series                `json:"chart"`
	ChartLoading   bool                        `json:"chart_loading"`
	OrderBook      *orderbook.Snapshot         `json:"order_book,omitempty"`
	OrderBookError string                      `json:"order_book_error,omitempty"`
	OrderBookAt    time.Time                   `json:"order_book_updated_at"`
	Entry          EntryView                   `json:"entry"`
	Balance        decimal.Decimal             `json:"balance"`
	OpenOrders     []trading.Order             `json:"open_orders"`
	Trades         []trading.Trade             `json:"trades"`
	Portfolio      trading.Portfolio           `json:"portfolio"`
	Alerts         []alerts.Alert              `json:"alerts"`
	Health         string                      `json:"health"`
	Notice         string                      `json:"notice,omitempty"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// View assembles the display state between two events
func (t *Terminal) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	streams := make(map[exchange.Channel]string, len(t.streamStates))
	for ch, st := range t.streamStates {
		streams[ch] = st.String()
	}

	var stats *types.Stats24h
	if t.stats != nil {
		cp := *t.stats
		stats = &cp
	}

	entryState, lastErr := t.entry.State()
	entry := EntryView{
		Draft:       t.entry.Draft(),
		State:       entryState,
		Quote:       t.entry.Quote(),
		MarketPrice: t.entry.MarketPrice(),
	}
	if lastErr != nil {
		entry.Error = lastErr.Error()
	}

	session := t.entry.Session()
	balance := session.Balance()
	marks := make(map[string]decimal.Decimal, 1)
	if t.price.LastPrice > 0 {
		marks[t.symbol] = decimal.NewFromFloat(t.price.LastPrice)
	}
	return View{
		Symbol:         t.symbol,
		Interval:       t.interval,
		Price:          t.price,
		Stats:          stats,
		Streams:        streams,
		Chart:          t.chart.Series(),
		ChartLoading:   !t.chart.Loaded(),
		OrderBook:      t.book.Snapshot(t.symbol),
		OrderBookError: t.bookErr,
		OrderBookAt:    t.book.LastRefresh(),
		Entry:          entry,
		Balance:        balance,
		OpenOrders:     session.OpenOrders(),
		Trades:         session.Trades(),
		Portfolio:      trading.NewPortfolio(balance, session.Positions(marks)),
		Alerts:         t.alerts.List(),
		Health:         t.health.Status().Status,
		Notice:         t.notice,
		GeneratedAt:    time.Now(),
	}
}

// Health returns the health checker backing /health
func (t *Terminal) Health() *monitoring.HealthChecker {
	return t.health
}
