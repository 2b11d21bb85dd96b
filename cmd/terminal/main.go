package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ducminhle1904/crypto-terminal/cmd/common"
	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	"github.com/ducminhle1904/crypto-terminal/internal/api"
	"github.com/ducminhle1904/crypto-terminal/internal/chart"
	"github.com/ducminhle1904/crypto-terminal/internal/config"
	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/monitoring"
	"github.com/ducminhle1904/crypto-terminal/internal/notifications"
	"github.com/ducminhle1904/crypto-terminal/internal/orderbook"
	"github.com/ducminhle1904/crypto-terminal/internal/safety"
	"github.com/ducminhle1904/crypto-terminal/internal/state"
	"github.com/ducminhle1904/crypto-terminal/internal/terminal"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

const appName = "crypto-terminal"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	symbol := fs.String("symbol", "", "Instrument to open, overrides config")
	interval := fs.String("interval", "", "Candle interval, overrides config")
	exchangeName := fs.String("exchange", "", "Market data provider (binance, bybit), overrides config")
	apiAddr := fs.String("api", "", "Serve the HTTP API on this address")

	fs.Usage = common.NewUsageFormatter(appName, "real-time market data and paper order entry").
		AddExample(appName+" -symbol ETHUSDT -interval 15m", "Open ETHUSDT on 15 minute candles").
		AddExample(appName+" -config terminal.yaml -api :8080", "Load a config file and serve the HTTP API").
		Usage(fs)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	if *flags.Version {
		common.PrintVersion(out, appName)
		return nil
	}

	console := common.NewConsole(out)
	console.ShowColors = !*flags.NoColors
	console.Verbose = *flags.Verbose

	validator := common.NewFlagValidator().
		ValidateFile("config", *flags.ConfigFile, false).
		ValidateChoice("exchange", *exchangeName, adapters.SupportedExchanges())
	if *interval != "" {
		if _, err := exchange.ParseInterval(*interval); err != nil {
			validator.AddError(err.Error())
		}
	}
	if err := validator.GetError(); err != nil {
		return err
	}

	_ = common.LoadEnvFile(console, *flags.EnvFile)

	cfg, err := config.Load(*flags.ConfigFile)
	if err != nil {
		return err
	}
	defaults := config.Default()
	pin := selectionPin{
		symbol:   *symbol != "" || !strings.EqualFold(cfg.Symbol, defaults.Symbol),
		interval: *interval != "" || cfg.Interval != defaults.Interval,
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *interval != "" {
		cfg.Interval = *interval
	}
	if *exchangeName != "" {
		cfg.Exchange.Name = *exchangeName
	}
	if *apiAddr != "" {
		cfg.API.Enabled = true
		cfg.API.Addr = *apiAddr
	}
	if *flags.Verbose {
		cfg.Logging.Debug = true
	}
	if *flags.ConsoleOnly {
		cfg.Logging.ConsoleOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := buildLogger(cfg, out)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, log, pin)
	if err != nil {
		return err
	}
	defer app.close()

	console.Header(fmt.Sprintf("%s %s on %s", app.symbol, app.interval, cfg.Exchange.Name))
	console.Info("Balance %s, type help for commands", app.term.View().Balance.StringFixed(2))
	if p := log.GetLogPath(); p != "" {
		console.Debug("Logging to %s", p)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.term.Run(runCtx) }()

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(api.Config{Addr: cfg.API.Addr}, app.term, app.term.Health(), log)
		server.Start()
		console.Info("HTTP API on %s", cfg.API.Addr)
	}

	replErr := newREPL(app.term, out, console.ShowColors).Run(runCtx, in)
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.LogError("http api shutdown", err)
		}
		shutdownCancel()
	}

	if err := <-done; err != nil {
		return err
	}
	console.Success("Session saved")
	return replErr
}

func buildLogger(cfg *config.Config, out io.Writer) (*logger.Logger, error) {
	var log *logger.Logger
	if cfg.Logging.ConsoleOnly {
		log = logger.NewWriterLogger(out, cfg.Symbol, cfg.Interval)
	} else {
		var err error
		log, err = logger.NewLogger(cfg.Logging.Dir, cfg.Symbol, cfg.Interval)
		if err != nil {
			return nil, err
		}
	}
	log.SetDebug(cfg.Logging.Debug)
	return log, nil
}

type app struct {
	term     *terminal.Terminal
	symbol   string
	interval exchange.Interval
	closers  []func() error
}

// selectionPin records which parts of the start-up selection were chosen by
// flags or config and must not be replaced by the saved session's
type selectionPin struct {
	symbol   bool
	interval bool
}

// restoreSelection reopens the instrument and interval of the saved session
// where nothing was pinned
func restoreSelection(symbol string, interval exchange.Interval, snap *state.Snapshot, pin selectionPin) (string, exchange.Interval) {
	if snap == nil {
		return symbol, interval
	}
	if saved := strings.ToUpper(strings.TrimSpace(snap.Symbol)); !pin.symbol && saved != "" {
		symbol = saved
	}
	if iv, err := exchange.ParseInterval(snap.Interval); !pin.interval && err == nil {
		interval = iv
	}
	return symbol, interval
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp wires the terminal from cfg: market data, streams, the cached
// order book, the restored session, alerts and persistence
func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger, pin selectionPin) (*app, error) {
	a := &app{}

	market, err := adapters.NewMarketData(cfg.Exchange)
	if err != nil {
		return nil, err
	}
	protocol, err := adapters.NewStreamProtocol(cfg.Exchange)
	if err != nil {
		return nil, err
	}

	errorStats := terrors.NewErrorStats(100)
	health := monitoring.NewHealthChecker(errorStats)
	health.AddComponent("exchange", func() interface{} { return adapters.Describe(market) })

	book := orderbook.NewViewModel(market, cfg.OrderBookOptions(), log)
	if cfg.OrderBook.Redis.Addr != "" {
		client, err := orderbook.NewRedisClient(ctx, cfg.OrderBook.Redis)
		if err != nil {
			log.LogWarning("orderbook cache", "running without Redis: %v", err)
		} else {
			book.WithCache(orderbook.NewRedisCache(client, cfg.OrderBook.Redis.TTL))
			a.closers = append(a.closers, client.Close)
		}
	}

	persistence := state.NewStatePersistence(log, cfg.StateDir)
	if err := persistence.Initialize(); err != nil {
		return nil, err
	}

	symbol, interval := cfg.Symbol, cfg.SelectedInterval()
	session := trading.NewSession(cfg.InitialBalance())
	var savedAlerts []alerts.Alert
	snap, err := persistence.LoadState()
	if err != nil {
		log.LogWarning("session restore", "starting a new session: %v", err)
	} else if snap != nil {
		session = trading.RestoreSession(snap.Session)
		savedAlerts = snap.Alerts
		symbol, interval = restoreSelection(symbol, interval, snap, pin)
		log.Info("Restored session saved at %s: balance %s, %d open orders, %s %s",
			snap.SavedAt.Format(time.DateTime), snap.Session.Balance.StringFixed(2), len(snap.Session.OpenOrders), symbol, interval)
	}

	entryOpts := []trading.EntryOption{trading.WithFeeRate(cfg.FeeRate())}
	if cfg.Trading.ExecutorURL != "" {
		breaker := safety.NewCircuitBreaker("executor", safety.CircuitBreakerConfig{FailureThreshold: 3, Timeout: 30 * time.Second})
		breaker.OnStateChange(func(name string, from, to safety.CircuitBreakerState) {
			log.Warning("%s circuit %s -> %s", name, from, to)
		})
		health.AddComponent("executor", func() interface{} { return breaker.GetStats() })
		executor := trading.NewHTTPExecutor(cfg.Trading.ExecutorURL, cfg.Trading.ExecutorTimeout)
		entryOpts = append(entryOpts, trading.WithExecutor(trading.NewGuardedExecutor(executor, breaker)))
	}
	entry := trading.NewEntry(session, symbol, log, entryOpts...)

	notifier := notifications.Multi{notifications.NewLogNotifier(log)}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID != "" {
		notifier = append(notifier, notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID))
	}
	alertManager := alerts.NewManager(notifier, log)
	alertManager.Restore(savedAlerts)

	term, err := terminal.New(terminal.Options{
		Symbol:            symbol,
		Interval:          interval,
		HistoryLimit:      cfg.Chart.HistoryLimit,
		StatsPollInterval: cfg.StatsPollInterval,
		DepthPollInterval: cfg.OrderBook.PollInterval,
		RequestTimeout:    cfg.Exchange.RequestTimeout,
	}, terminal.Deps{
		Market:       market,
		Dialer:       exchange.NewWebSocketDialer(),
		Protocol:     protocol,
		StreamConfig: cfg.StreamSettings(),
		Entry:        entry,
		Book:         book,
		Chart:        chart.New(cfg.Chart.MAPeriods...),
		Alerts:       alertManager,
		Health:       health,
		ErrorStats:   errorStats,
		Persistence:  persistence,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	a.term = term
	a.symbol, a.interval = symbol, interval
	return a, nil
}
