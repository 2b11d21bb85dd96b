package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-terminal/internal/orderbook"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
)

// Config is the complete terminal configuration
type Config struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`

	Exchange      adapters.ExchangeConfig `yaml:"exchange"`
	Stream        StreamConfig            `yaml:"stream"`
	OrderBook     OrderBookConfig         `yaml:"orderbook"`
	Chart         ChartConfig             `yaml:"chart"`
	Trading       TradingConfig           `yaml:"trading"`
	API           APIConfig               `yaml:"api"`
	Notifications NotificationConfig      `yaml:"notifications"`
	Logging       LoggingConfig           `yaml:"logging"`

	StatsPollInterval time.Duration `yaml:"stats_poll_interval"`
	StateDir          string        `yaml:"state_dir"`
}

// StreamConfig controls push-update reconnection
type StreamConfig struct {
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// OrderBookConfig controls the depth view and its poller
type OrderBookConfig struct {
	Levels       int                   `yaml:"levels"`
	TickSize     float64               `yaml:"tick_size"`
	PollInterval time.Duration         `yaml:"poll_interval"`
	Redis        orderbook.RedisConfig `yaml:"redis"` // empty addr disables the cache
}

// ChartConfig controls the candle history and moving averages
type ChartConfig struct {
	HistoryLimit int   `yaml:"history_limit"`
	MAPeriods    []int `yaml:"ma_periods"`
}

// TradingConfig holds the simulated account
type TradingConfig struct {
	InitialBalance  float64       `yaml:"initial_balance"`
	FeeRate         float64       `yaml:"fee_rate"`
	ExecutorURL     string        `yaml:"executor_url"` // empty settles locally
	ExecutorTimeout time.Duration `yaml:"executor_timeout"`
}

// APIConfig holds the HTTP surface settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NotificationConfig holds alert delivery settings
type NotificationConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Dir         string `yaml:"dir"`
	Debug       bool   `yaml:"debug"`
	ConsoleOnly bool   `yaml:"console_only"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Symbol:   "BTCUSDT",
		Interval: string(exchange.Interval1h),
		Exchange: adapters.ExchangeConfig{
			Name:           "binance",
			RequestTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			MaxReconnects:  stream.DefaultConfig().MaxReconnects,
			ReconnectDelay: stream.DefaultConfig().ReconnectDelay,
		},
		OrderBook: OrderBookConfig{
			Levels:       orderbook.DefaultOptions().Levels,
			PollInterval: 2 * time.Second,
			Redis:        orderbook.RedisConfig{TTL: 30 * time.Second},
		},
		Chart: ChartConfig{
			HistoryLimit: 500,
			MAPeriods:    []int{7, 25, 99},
		},
		Trading: TradingConfig{
			InitialBalance:  10000,
			FeeRate:         0.001,
			ExecutorTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Dir: "logs",
		},
		StatsPollInterval: 5 * time.Second,
		StateDir:          "state",
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// given, then TERMINAL_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, terrors.NewConfigurationError("config", "Load",
				fmt.Sprintf("failed to read config file %s: %v", path, err))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, terrors.NewConfigurationError("config", "Load",
				fmt.Sprintf("failed to parse config file %s: %v", path, err))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Symbol = getEnv("TERMINAL_SYMBOL", c.Symbol)
	c.Interval = getEnv("TERMINAL_INTERVAL", c.Interval)

	c.Exchange.Name = getEnv("TERMINAL_EXCHANGE", c.Exchange.Name)
	c.Exchange.RESTURL = getEnv("TERMINAL_REST_URL", c.Exchange.RESTURL)
	c.Exchange.StreamURL = getEnv("TERMINAL_STREAM_URL", c.Exchange.StreamURL)

	c.OrderBook.Redis.Addr = getEnv("TERMINAL_REDIS_ADDR", c.OrderBook.Redis.Addr)
	c.OrderBook.Redis.Password = getEnv("TERMINAL_REDIS_PASSWORD", c.OrderBook.Redis.Password)

	c.Trading.ExecutorURL = getEnv("TERMINAL_EXECUTOR_URL", c.Trading.ExecutorURL)
	c.API.Addr = getEnv("TERMINAL_API_ADDR", c.API.Addr)
	c.Logging.Dir = getEnv("TERMINAL_LOG_DIR", c.Logging.Dir)
	c.StateDir = getEnv("TERMINAL_STATE_DIR", c.StateDir)

	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)

	var err error
	if c.Exchange.Testnet, err = getEnvBool("TERMINAL_TESTNET", c.Exchange.Testnet); err != nil {
		return err
	}
	if c.API.Enabled, err = getEnvBool("TERMINAL_API_ENABLED", c.API.Enabled); err != nil {
		return err
	}
	if c.Logging.Debug, err = getEnvBool("TERMINAL_DEBUG", c.Logging.Debug); err != nil {
		return err
	}
	if c.Trading.InitialBalance, err = getEnvFloat("TERMINAL_INITIAL_BALANCE", c.Trading.InitialBalance); err != nil {
		return err
	}
	if c.Trading.FeeRate, err = getEnvFloat("TERMINAL_FEE_RATE", c.Trading.FeeRate); err != nil {
		return err
	}
	if c.StatsPollInterval, err = getEnvDuration("TERMINAL_STATS_POLL_INTERVAL", c.StatsPollInterval); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration and returns a CONFIG error naming the
// first invalid field
func (c *Config) Validate() error {
	fail := func(field, msg string) error {
		return terrors.NewConfigurationError("config", field, msg)
	}

	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		return fail("symbol", "trading symbol is required")
	}
	if _, err := exchange.ParseInterval(c.Interval); err != nil {
		return fail("interval", err.Error())
	}
	if err := adapters.ValidateConfig(c.Exchange); err != nil {
		return err
	}

	if c.Stream.MaxReconnects < 0 {
		return fail("stream.max_reconnects", "must not be negative")
	}
	if c.Stream.ReconnectDelay < 0 {
		return fail("stream.reconnect_delay", "must not be negative")
	}

	if c.OrderBook.Levels <= 0 {
		return fail("orderbook.levels", "must be greater than 0")
	}
	if c.OrderBook.TickSize < 0 {
		return fail("orderbook.tick_size", "must not be negative")
	}
	if c.OrderBook.PollInterval <= 0 {
		return fail("orderbook.poll_interval", "must be greater than 0")
	}

	if c.Chart.HistoryLimit <= 0 || c.Chart.HistoryLimit > 1000 {
		return fail("chart.history_limit", "must be between 1 and 1000")
	}
	for _, p := range c.Chart.MAPeriods {
		if p <= 0 {
			return fail("chart.ma_periods", fmt.Sprintf("period %d must be greater than 0", p))
		}
	}

	if c.Trading.InitialBalance < 0 {
		return fail("trading.initial_balance", "must not be negative")
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return fail("trading.fee_rate", "must be in [0, 1)")
	}

	if c.StatsPollInterval <= 0 {
		return fail("stats_poll_interval", "must be greater than 0")
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fail("api.addr", "required when the API is enabled")
	}
	return nil
}

// SelectedInterval returns the validated start-up interval
func (c *Config) SelectedInterval() exchange.Interval {
	iv, _ := exchange.ParseInterval(c.Interval)
	return iv
}

// StreamSettings converts the stream section for the stream manager
func (c *Config) StreamSettings() stream.Config {
	return stream.Config{
		MaxReconnects:  c.Stream.MaxReconnects,
		ReconnectDelay: c.Stream.ReconnectDelay,
	}
}

// OrderBookOptions converts the orderbook section for the view model
func (c *Config) OrderBookOptions() orderbook.Options {
	return orderbook.Options{
		Levels:   c.OrderBook.Levels,
		TickSize: c.OrderBook.TickSize,
	}
}

// InitialBalance returns the starting balance as a decimal
func (c *Config) InitialBalance() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.InitialBalance)
}

// FeeRate returns the fee rate as a decimal
func (c *Config) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.FeeRate)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal, terrors.NewConfigurationError("config", key, fmt.Sprintf("invalid boolean %q", val))
	}
	return b, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal, terrors.NewConfigurationError("config", key, fmt.Sprintf("invalid number %q", val))
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal, terrors.NewConfigurationError("config", key, fmt.Sprintf("invalid duration %q", val))
	}
	return d, nil
}
