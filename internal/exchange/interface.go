package exchange

import (
	"context"

	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// MarketData is the REST side of an exchange: historical candles, rolling
// statistics and order book depth. Every failure is a DataUnavailable error.
type MarketData interface {
	GetName() string

	GetKlines(ctx context.Context, symbol string, interval Interval, limit int) ([]types.Candle, error)
	GetStats24h(ctx context.Context, symbol string) (*types.Stats24h, error)
	GetDepth(ctx context.Context, symbol string, limit int) (*types.Depth, error)
}

// Channel identifies a push-update subscription
type Channel string

const (
	ChannelTicker Channel = "ticker"
	ChannelKline  Channel = "kline"
)

// StreamProtocol describes how one exchange exposes its push updates
type StreamProtocol interface {
	// Endpoint returns the URL to dial and an optional message to send once
	// connected.
	Endpoint(channel Channel, symbol string, interval Interval) (url string, subscribe []byte, err error)

	// KeepAlive returns an application level ping, or nil to use control frames
	KeepAlive() []byte

	DecodeTicker(data []byte) (types.TickerUpdate, error)
	DecodeKline(data []byte) (types.KlineUpdate, error)
}
