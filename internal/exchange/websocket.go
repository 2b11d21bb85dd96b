package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// ErrControlMessage marks acknowledgements and pongs that carry no market data
var ErrControlMessage = errors.New("control message")

// Conn is one open push-update connection
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens push-update connections
type Dialer interface {
	Dial(ctx context.Context, url string, subscribe []byte, keepAlive []byte) (Conn, error)
}

// WebSocketDialer dials exchange streams with gorilla/websocket
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

// NewWebSocketDialer creates a dialer with a 10s handshake timeout and 20s pings
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     20 * time.Second,
	}
}

// Dial connects to url, sends subscribe when non-empty and starts the
// keep-alive loop
func (d *WebSocketDialer) Dial(ctx context.Context, url string, subscribe []byte, keepAlive []byte) (Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = d.HandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	interval := d.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}

	ws := &WebSocketConnection{
		conn:        conn,
		url:         url,
		keepAlive:   keepAlive,
		readTimeout: 2 * interval,
		done:        make(chan struct{}),
	}

	// a connection that stays silent for two ping intervals is dead
	ws.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		ws.extendReadDeadline()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		ws.extendReadDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	if len(subscribe) > 0 {
		if err := ws.write(websocket.TextMessage, subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send subscribe message: %w", err)
		}
	}

	go ws.pingPong(interval)

	return ws, nil
}

// WebSocketConnection handles one WebSocket connection to an exchange
type WebSocketConnection struct {
	conn      *websocket.Conn
	url       string
	keepAlive []byte
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	readTimeout time.Duration
}

// ReadMessage reads a message from the WebSocket. It fails once nothing,
// not even a pong, has arrived within the read timeout.
func (ws *WebSocketConnection) ReadMessage() ([]byte, error) {
	_, message, err := ws.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	ws.extendReadDeadline()
	return message, nil
}

func (ws *WebSocketConnection) extendReadDeadline() {
	ws.conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
}

// Close closes the WebSocket connection. Safe to call more than once.
func (ws *WebSocketConnection) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocketConnection) write(messageType int, data []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.conn.WriteMessage(messageType, data)
}

// pingPong keeps the connection alive until it is closed. A failed ping
// closes the connection so the reader sees the error.
func (ws *WebSocketConnection) pingPong(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			var err error
			if len(ws.keepAlive) > 0 {
				err = ws.write(websocket.TextMessage, ws.keepAlive)
			} else {
				err = ws.write(websocket.PingMessage, nil)
			}
			if err != nil {
				ws.Close()
				return
			}
		}
	}
}

// BinanceStreams implements StreamProtocol for Binance raw streams
type BinanceStreams struct {
	BaseURL string
}

// NewBinanceStreams creates the Binance stream protocol
func NewBinanceStreams(baseURL string) *BinanceStreams {
	if baseURL == "" {
		baseURL = "wss://stream.binance.com:9443/ws"
	}
	return &BinanceStreams{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (b *BinanceStreams) Endpoint(channel Channel, symbol string, interval Interval) (string, []byte, error) {
	sym := strings.ToLower(symbol)
	switch channel {
	case ChannelTicker:
		return fmt.Sprintf("%s/%s@ticker", b.BaseURL, sym), nil, nil
	case ChannelKline:
		return fmt.Sprintf("%s/%s@kline_%s", b.BaseURL, sym, interval), nil, nil
	default:
		return "", nil, fmt.Errorf("unknown channel %q", channel)
	}
}

func (b *BinanceStreams) KeepAlive() []byte {
	return nil
}

type binanceEvent struct {
	Event  string          `json:"e"`
	Time   int64           `json:"E"`
	Symbol string          `json:"s"`
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
}

func (b *BinanceStreams) DecodeTicker(data []byte) (types.TickerUpdate, error) {
	var msg struct {
		binanceEvent
		LastPrice     string `json:"c"`
		ChangePercent string `json:"P"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.TickerUpdate{}, err
	}
	if msg.Event == "" && msg.ID != nil {
		return types.TickerUpdate{}, ErrControlMessage
	}
	if msg.Event != "24hrTicker" {
		return types.TickerUpdate{}, fmt.Errorf("unexpected event %q", msg.Event)
	}

	last, err := strconv.ParseFloat(msg.LastPrice, 64)
	if err != nil {
		return types.TickerUpdate{}, fmt.Errorf("last price: %w", err)
	}
	change, err := strconv.ParseFloat(msg.ChangePercent, 64)
	if err != nil {
		return types.TickerUpdate{}, fmt.Errorf("change percent: %w", err)
	}

	return types.TickerUpdate{
		Symbol:        msg.Symbol,
		LastPrice:     last,
		ChangePercent: change,
		EventTime:     time.UnixMilli(msg.Time),
	}, nil
}

func (b *BinanceStreams) DecodeKline(data []byte) (types.KlineUpdate, error) {
	var msg struct {
		binanceEvent
		Kline struct {
			OpenTime int64  `json:"t"`
			Symbol   string `json:"s"`
			Interval string `json:"i"`
			Open     string `json:"o"`
			Close    string `json:"c"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.KlineUpdate{}, err
	}
	if msg.Event == "" && msg.ID != nil {
		return types.KlineUpdate{}, ErrControlMessage
	}
	if msg.Event != "kline" {
		return types.KlineUpdate{}, fmt.Errorf("unexpected event %q", msg.Event)
	}

	k := msg.Kline
	vals, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return types.KlineUpdate{}, err
	}

	return types.KlineUpdate{
		Symbol:   msg.Symbol,
		Interval: k.Interval,
		OpenTime: k.OpenTime,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Closed:   k.Closed,
	}, nil
}

func parseFloats(fields ...string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}
