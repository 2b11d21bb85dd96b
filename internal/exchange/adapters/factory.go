package adapters

import (
	"fmt"
	"strings"
	"time"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-terminal/internal/safety"
)

// ExchangeConfig selects and configures a market data provider
type ExchangeConfig struct {
	Name           string        `yaml:"name" json:"name"` // binance or bybit
	Testnet        bool          `yaml:"testnet" json:"testnet"`
	RESTURL        string        `yaml:"rest_url" json:"rest_url,omitempty"`
	StreamURL      string        `yaml:"stream_url" json:"stream_url,omitempty"`
	Category       string        `yaml:"category" json:"category,omitempty"` // bybit only
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// SupportedExchanges returns the provider names accepted by the factory
func SupportedExchanges() []string {
	return []string{"binance", "bybit"}
}

func normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "binance"
	}
	return n
}

// ValidateConfig validates the exchange configuration
func ValidateConfig(config ExchangeConfig) error {
	switch normalize(config.Name) {
	case "binance", "bybit":
	default:
		return terrors.NewConfigurationError("config", "exchange.name",
			fmt.Sprintf("exchange '%s' is not supported, use one of %v", config.Name, SupportedExchanges()))
	}
	if config.RequestTimeout < 0 {
		return terrors.NewConfigurationError("config", "exchange.request_timeout", "must not be negative")
	}
	return nil
}

// NewMarketData creates the REST provider named by config
func NewMarketData(config ExchangeConfig) (exchange.MarketData, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	switch normalize(config.Name) {
	case "bybit":
		return NewBybitAdapter(bybit.Config{
			Testnet:  config.Testnet,
			Category: config.Category,
			BaseURL:  config.RESTURL,
		}), nil
	default:
		return exchange.NewBinanceExchange(exchange.BinanceConfig{
			BaseURL:        config.RESTURL,
			Testnet:        config.Testnet,
			RequestTimeout: config.RequestTimeout,
		}), nil
	}
}

// NewStreamProtocol creates the push-update protocol named by config
func NewStreamProtocol(config ExchangeConfig) (exchange.StreamProtocol, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	switch normalize(config.Name) {
	case "bybit":
		return exchange.NewBybitStreams(config.StreamURL), nil
	default:
		return exchange.NewBinanceStreams(config.StreamURL), nil
	}
}

// ProviderStatus describes a market data provider on /health
type ProviderStatus struct {
	Name        string                   `json:"name"`
	Environment string                   `json:"environment,omitempty"`
	RateLimit   *safety.RateLimiterStats `json:"rate_limit,omitempty"`
}

// Describe reports the provider's name, environment and remaining request
// budget when it exposes them
func Describe(md exchange.MarketData) ProviderStatus {
	status := ProviderStatus{Name: md.GetName()}
	if e, ok := md.(interface{ GetEnvironment() string }); ok {
		status.Environment = e.GetEnvironment()
	}
	if l, ok := md.(interface {
		RateLimitStats() safety.RateLimiterStats
	}); ok {
		stats := l.RateLimitStats()
		status.RateLimit = &stats
	}
	return status
}
