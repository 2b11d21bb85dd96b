package adapters

import (
	"context"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// BybitAdapter implements exchange.MarketData on top of the Bybit client
type BybitAdapter struct {
	client *bybit.Client
}

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(config bybit.Config) *BybitAdapter {
	return &BybitAdapter{client: bybit.NewClient(config)}
}

// GetName returns the exchange name
func (b *BybitAdapter) GetName() string {
	return "Bybit"
}

// GetEnvironment returns the current environment string
func (b *BybitAdapter) GetEnvironment() string {
	return b.client.GetEnvironment()
}

func (b *BybitAdapter) GetKlines(ctx context.Context, symbol string, interval exchange.Interval, limit int) ([]types.Candle, error) {
	code, err := interval.BybitCode()
	if err != nil {
		return nil, terrors.NewDataUnavailable("bybit", "GetKlines", err)
	}
	candles, err := b.client.GetKlines(ctx, symbol, code, limit)
	if err != nil {
		return nil, terrors.NewDataUnavailable("bybit", "GetKlines", err)
	}
	return candles, nil
}

func (b *BybitAdapter) GetStats24h(ctx context.Context, symbol string) (*types.Stats24h, error) {
	stats, err := b.client.GetTicker(ctx, symbol)
	if err != nil {
		return nil, terrors.NewDataUnavailable("bybit", "GetStats24h", err)
	}
	return stats, nil
}

func (b *BybitAdapter) GetDepth(ctx context.Context, symbol string, limit int) (*types.Depth, error) {
	depth, err := b.client.GetOrderBook(ctx, symbol, limit)
	if err != nil {
		return nil, terrors.NewDataUnavailable("bybit", "GetDepth", err)
	}
	return depth, nil
}
