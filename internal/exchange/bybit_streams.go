package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

const bybitPublicSpotURL = "wss://stream.bybit.com/v5/public/spot"

// BybitStreams implements StreamProtocol for Bybit v5 public streams.
// Topics are subscribed after connecting and kept alive with {"op":"ping"}.
type BybitStreams struct {
	URL string
}

// NewBybitStreams creates the Bybit stream protocol
func NewBybitStreams(url string) *BybitStreams {
	if url == "" {
		url = bybitPublicSpotURL
	}
	return &BybitStreams{URL: url}
}

type bybitOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func (b *BybitStreams) Endpoint(channel Channel, symbol string, interval Interval) (string, []byte, error) {
	sym := strings.ToUpper(symbol)

	var topic string
	switch channel {
	case ChannelTicker:
		topic = "tickers." + sym
	case ChannelKline:
		code, err := interval.BybitCode()
		if err != nil {
			return "", nil, err
		}
		topic = fmt.Sprintf("kline.%s.%s", code, sym)
	default:
		return "", nil, fmt.Errorf("unknown channel %q", channel)
	}

	sub, err := json.Marshal(bybitOp{Op: "subscribe", Args: []string{topic}})
	if err != nil {
		return "", nil, err
	}
	return b.URL, sub, nil
}

func (b *BybitStreams) KeepAlive() []byte {
	return []byte(`{"op":"ping"}`)
}

// bybitEnvelope covers both data pushes and op responses
type bybitEnvelope struct {
	Topic   string          `json:"topic"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

func decodeBybitEnvelope(data []byte, prefix string) (bybitEnvelope, error) {
	var env bybitEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.Op != "" {
		if env.Success != nil && !*env.Success {
			return env, fmt.Errorf("%s rejected: %s", env.Op, env.RetMsg)
		}
		return env, ErrControlMessage
	}
	if !strings.HasPrefix(env.Topic, prefix) {
		return env, fmt.Errorf("unexpected topic %q", env.Topic)
	}
	if len(env.Data) == 0 {
		return env, fmt.Errorf("missing data")
	}
	return env, nil
}

func (b *BybitStreams) DecodeTicker(data []byte) (types.TickerUpdate, error) {
	env, err := decodeBybitEnvelope(data, "tickers.")
	if err != nil {
		return types.TickerUpdate{}, err
	}

	var t struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		Price24hPcnt string `json:"price24hPcnt"`
	}
	if err := json.Unmarshal(env.Data, &t); err != nil {
		return types.TickerUpdate{}, err
	}

	vals, err := parseFloats(t.LastPrice, t.Price24hPcnt)
	if err != nil {
		return types.TickerUpdate{}, err
	}

	return types.TickerUpdate{
		Symbol:        t.Symbol,
		LastPrice:     vals[0],
		ChangePercent: vals[1] * 100,
		EventTime:     time.UnixMilli(env.Ts),
	}, nil
}

func (b *BybitStreams) DecodeKline(data []byte) (types.KlineUpdate, error) {
	env, err := decodeBybitEnvelope(data, "kline.")
	if err != nil {
		return types.KlineUpdate{}, err
	}

	var rows []struct {
		Start    int64  `json:"start"`
		Interval string `json:"interval"`
		Open     string `json:"open"`
		Close    string `json:"close"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Volume   string `json:"volume"`
		Confirm  bool   `json:"confirm"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return types.KlineUpdate{}, err
	}
	if len(rows) == 0 {
		return types.KlineUpdate{}, fmt.Errorf("empty kline push")
	}
	k := rows[len(rows)-1]

	vals, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return types.KlineUpdate{}, err
	}

	// topic is kline.<interval>.<symbol>
	parts := strings.Split(env.Topic, ".")
	symbol := parts[len(parts)-1]

	return types.KlineUpdate{
		Symbol:   symbol,
		Interval: intervalFromBybit(k.Interval),
		OpenTime: k.Start,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Closed:   k.Confirm,
	}, nil
}

func intervalFromBybit(code string) string {
	for iv, c := range bybitIntervals {
		if c == code {
			return string(iv)
		}
	}
	if _, err := strconv.Atoi(code); err == nil {
		return code + "m"
	}
	return code
}
