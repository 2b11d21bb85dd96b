package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Client wraps the Bybit API client for public market data
type Client struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	retry      RetryConfig
}

// Config holds the configuration for the Bybit client
type Config struct {
	Testnet  bool
	Category string // "spot", "linear" or "inverse"; defaults to spot
	BaseURL  string // overrides the mainnet/testnet URL when set
}

// NewClient creates a new Bybit client. Market endpoints are public, so no
// credentials are required.
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = bybit_api.MAINNET
		if config.Testnet {
			baseURL = bybit_api.TESTNET
		}
	}

	category := config.Category
	if category == "" {
		category = "spot"
	}

	return &Client{
		httpClient: bybit_api.NewBybitHttpClient("", "", bybit_api.WithBaseURL(baseURL)),
		category:   category,
		testnet:    config.Testnet,
		retry:      DefaultRetryConfig(),
	}
}

// GetEnvironment returns the current environment string
func (c *Client) GetEnvironment() string {
	if c.testnet {
		return "testnet"
	}
	return "mainnet"
}
