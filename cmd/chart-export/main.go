package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-terminal/cmd/common"
	"github.com/ducminhle1904/crypto-terminal/internal/chart"
	"github.com/ducminhle1904/crypto-terminal/internal/config"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-terminal/pkg/reporting"
)

const appName = "chart-export"

func main() {
	fs := flag.NewFlagSet(appName, flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	symbols := fs.String("symbols", "BTCUSDT", "Comma-separated list of symbols")
	intervals := fs.String("intervals", "1h", "Comma-separated list of intervals")
	limit := fs.Int("limit", 500, "Candles per chart")
	outdir := fs.String("outdir", "", "Output directory (default exports/<SYMBOL>_<interval>)")

	fs.Usage = common.NewUsageFormatter(appName, "export candle history with moving averages to Excel").
		AddExample(appName+" -symbols BTCUSDT,ETHUSDT -intervals 15m,1h", "Export two symbols on two intervals").
		Usage(fs)
	_ = fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion(os.Stdout, appName)
		return
	}

	console := common.NewConsole(os.Stdout)
	console.ShowColors = !*flags.NoColors
	console.Verbose = *flags.Verbose
	_ = common.LoadEnvFile(console, *flags.EnvFile)

	cfg, err := config.Load(*flags.ConfigFile)
	if err != nil {
		console.Error("%v", err)
		os.Exit(1)
	}

	market, err := adapters.NewMarketData(cfg.Exchange)
	if err != nil {
		console.Error("%v", err)
		os.Exit(1)
	}

	failed := 0
	for _, sym := range splitList(*symbols, strings.ToUpper) {
		for _, iv := range splitList(*intervals, strings.ToLower) {
			path, err := export(market, cfg.Chart.MAPeriods, sym, iv, *limit, *outdir)
			if err != nil {
				console.Error("%s %s: %v", sym, iv, err)
				failed++
				continue
			}
			console.Success("%s %s -> %s", sym, iv, path)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func export(market exchange.MarketData, periods []int, symbol, rawInterval string, limit int, outdir string) (string, error) {
	interval, err := exchange.ParseInterval(rawInterval)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	candles, err := market.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return "", err
	}

	c := chart.New(periods...)
	c.CommitLoad(c.BeginLoad(symbol, interval), candles)

	now := time.Now()
	path := reporting.ChartExportPath(symbol, string(interval), now)
	if outdir != "" {
		path = filepath.Join(outdir, fmt.Sprintf("%s_%s_%s.xlsx", symbol, interval, now.Format("20060102_150405")))
	}
	if err := reporting.ExportChart(c.Series(), nil, path); err != nil {
		return "", err
	}
	return path, nil
}

func splitList(raw string, norm func(string) string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = norm(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
