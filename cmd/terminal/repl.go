package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	"github.com/ducminhle1904/crypto-terminal/internal/chart"
	"github.com/ducminhle1904/crypto-terminal/internal/exchange"
	"github.com/ducminhle1904/crypto-terminal/internal/format"
	"github.com/ducminhle1904/crypto-terminal/internal/stream"
	"github.com/ducminhle1904/crypto-terminal/internal/terminal"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
	"github.com/ducminhle1904/crypto-terminal/pkg/reporting"
)

var errQuit = errors.New("quit")

// commandTarget is the part of the terminal driven by commands
type commandTarget interface {
	View() terminal.View
	SelectInstrument(symbol string) error
	SelectInterval(interval exchange.Interval) error
	SubmitOrder(ctx context.Context, req terminal.OrderRequest) (*trading.Result, error)
	CancelOrder(id string) (trading.Order, error)
	AddAlert(symbol string, cond alerts.Condition, target float64) (alerts.Alert, error)
	RemoveAlert(id string) error
}

type repl struct {
	term  commandTarget
	out   io.Writer
	color bool
	now   func() time.Time
}

func newREPL(term commandTarget, out io.Writer, color bool) *repl {
	return &repl{term: term, out: out, color: color, now: time.Now}
}

const helpText = `Commands:
  status                       price, 24h stats and stream health
  chart [rows]                 candles with moving averages
  book                         order book
  buy <qty> [price]            market order, limit when a price is given
  sell <qty> [price]
  cancel <order-id>
  orders                       balance and open orders
  trades                       trade history
  positions                    holdings and P/L at the live price
  symbol <SYMBOL>              switch instrument
  interval <1m|5m|1h|...>      switch candle interval
  alert <above|below|change> <target>
  alerts                       list alerts
  unalert <alert-id>
  export [path.xlsx|path.csv]  export chart and trades
  quit`

// Run reads commands from in until quit, EOF or ctx is cancelled
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(r.out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := r.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			fmt.Fprint(r.out, "> ")
		}
	}
}

func (r *repl) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
	case "quit", "exit", "q":
		return errQuit
	case "status", "price":
		r.printStatus(r.term.View())
	case "chart":
		rows := 20
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("rows must be a positive number, got %q", args[0])
			}
			rows = n
		}
		view := r.term.View()
		if view.ChartLoading {
			fmt.Fprintln(r.out, "loading candles...")
		}
		chart.Render(r.out, view.Chart, chart.RenderOptions{Rows: rows, Color: r.color})
	case "book":
		r.printBook(r.term.View())
	case "buy", "sell":
		return r.submit(ctx, trading.Side(cmd), args)
	case "cancel":
		if len(args) != 1 {
			return errors.New("usage: cancel <order-id>")
		}
		order, err := r.term.CancelOrder(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "cancelled %s %s %s @ %s\n", order.ID, order.Side, order.Quantity, order.Price)
	case "orders":
		r.printOrders(r.term.View())
	case "trades":
		r.printTrades(r.term.View())
	case "positions", "pos":
		r.printPositions(r.term.View())
	case "symbol":
		if len(args) != 1 {
			return errors.New("usage: symbol <SYMBOL>")
		}
		return r.term.SelectInstrument(args[0])
	case "interval":
		if len(args) != 1 {
			return errors.New("usage: interval <1m|5m|15m|1h|4h|1d>")
		}
		return r.term.SelectInterval(exchange.Interval(args[0]))
	case "alert":
		return r.addAlert(args)
	case "alerts":
		r.printAlerts(r.term.View())
	case "unalert":
		if len(args) != 1 {
			return errors.New("usage: unalert <alert-id>")
		}
		return r.term.RemoveAlert(args[0])
	case "export":
		return r.export(args)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (r *repl) submit(ctx context.Context, side trading.Side, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: %s <qty> [price]", side)
	}
	req := terminal.OrderRequest{Side: side, Type: trading.OrderTypeMarket, Quantity: args[0]}
	if len(args) == 2 {
		req.Type = trading.OrderTypeLimit
		req.Price = args[1]
	}

	res, err := r.term.SubmitOrder(ctx, req)
	if err != nil {
		return err
	}
	o := res.Order
	fmt.Fprintf(r.out, "%s %s %s %s @ %s total %s fee %s (%s)\n",
		o.ID, o.Type, o.Side, o.Quantity, o.Price, o.Total.StringFixed(2), o.Fee.StringFixed(4), o.Status)
	fmt.Fprintf(r.out, "balance %s\n", res.Balance.StringFixed(2))
	return nil
}

func (r *repl) addAlert(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: alert <above|below|change> <target>")
	}
	cond, err := alerts.ParseCondition(args[0])
	if err != nil {
		return err
	}
	target, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("target must be a number, got %q", args[1])
	}
	a, err := r.term.AddAlert(r.term.View().Symbol, cond, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "alert %s: %s %s %s\n", a.ID, a.Symbol, a.Condition, format.Price(a.Target))
	return nil
}

func (r *repl) export(args []string) error {
	view := r.term.View()
	path := reporting.ChartExportPath(view.Symbol, string(view.Interval), r.now())
	if len(args) > 0 {
		path = args[0]
	}

	var err error
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		err = reporting.WriteTradesCSV(view.Trades, path)
	} else {
		err = reporting.ExportChart(view.Chart, view.Trades, path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "exported to %s\n", path)
	return nil
}

func (r *repl) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func (r *repl) colored(s string, up bool) string {
	if !r.color {
		return s
	}
	if up {
		return text.FgGreen.Sprint(s)
	}
	return text.FgRed.Sprint(s)
}

func (r *repl) printStatus(v terminal.View) {
	t := r.newTable(fmt.Sprintf("%s %s", v.Symbol, v.Interval))

	price := "-"
	if v.Price.LastPrice > 0 {
		price = r.colored(format.Price(v.Price.LastPrice), v.Price.Direction != stream.DirectionDown)
	}
	t.AppendRow(table.Row{"Price", price})
	if v.Stats != nil {
		t.AppendRow(table.Row{"24h Change", r.colored(format.Percent(v.Stats.ChangePercent), v.Stats.ChangePercent >= 0)})
		t.AppendRow(table.Row{"24h High", format.Price(v.Stats.High)})
		t.AppendRow(table.Row{"24h Low", format.Price(v.Stats.Low)})
		t.AppendRow(table.Row{"24h Volume", format.Volume(v.Stats.Volume)})
	}

	channels := make([]string, 0, len(v.Streams))
	for ch := range v.Streams {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)
	for _, ch := range channels {
		t.AppendRow(table.Row{"Stream " + ch, v.Streams[exchange.Channel(ch)]})
	}
	t.AppendRow(table.Row{"Health", v.Health})
	if v.Notice != "" {
		t.AppendRow(table.Row{"Notice", v.Notice})
	}
	t.Render()
}

func (r *repl) printBook(v terminal.View) {
	if v.OrderBook == nil {
		if v.OrderBookError != "" {
			fmt.Fprintf(r.out, "order book unavailable: %s\n", v.OrderBookError)
		} else {
			fmt.Fprintln(r.out, "order book loading...")
		}
		return
	}
	b := v.OrderBook
	t := r.newTable(fmt.Sprintf("%s order book", b.Symbol))
	t.AppendHeader(table.Row{"Price", "Quantity", "Total", "Depth"})
	for i := len(b.Asks) - 1; i >= 0; i-- {
		row := b.Asks[i]
		t.AppendRow(table.Row{r.colored(format.Price(row.Price), false), format.Volume(row.Quantity), format.Volume(row.Total), format.Fixed(row.SizePercent, 1) + "%"})
	}
	t.AppendSeparator()
	spread := fmt.Sprintf("spread %s (%s)", format.Price(b.Spread), format.Percent(b.SpreadPercent))
	if b.Crossed {
		spread += " crossed"
	}
	t.AppendRow(table.Row{spread, "", "", ""})
	t.AppendSeparator()
	for _, row := range b.Bids {
		t.AppendRow(table.Row{r.colored(format.Price(row.Price), true), format.Volume(row.Quantity), format.Volume(row.Total), format.Fixed(row.SizePercent, 1) + "%"})
	}
	if v.OrderBookError != "" {
		t.SetCaption("stale: %s", v.OrderBookError)
	} else if !v.OrderBookAt.IsZero() {
		t.SetCaption("updated %s", v.OrderBookAt.Format(time.TimeOnly))
	}
	t.Render()
}

func (r *repl) printOrders(v terminal.View) {
	fmt.Fprintf(r.out, "balance %s\n", v.Balance.StringFixed(2))
	if len(v.OpenOrders) == 0 {
		fmt.Fprintln(r.out, "no open orders")
		return
	}
	t := r.newTable("Open orders")
	t.AppendHeader(table.Row{"ID", "Symbol", "Side", "Price", "Quantity", "Total", "Created"})
	for _, o := range v.OpenOrders {
		t.AppendRow(table.Row{o.ID, o.Symbol, o.Side, o.Price.String(), o.Quantity.String(), o.Total.StringFixed(2), o.CreatedAt.Format(time.DateTime)})
	}
	t.Render()
}

func (r *repl) printTrades(v terminal.View) {
	if len(v.Trades) == 0 {
		fmt.Fprintln(r.out, "no trades")
		return
	}
	t := r.newTable("Trades")
	t.AppendHeader(table.Row{"Time", "Symbol", "Side", "Price", "Quantity", "Total", "Fee"})
	for _, tr := range v.Trades {
		t.AppendRow(table.Row{tr.ExecutedAt.Format(time.DateTime), tr.Symbol, r.colored(string(tr.Side), tr.Side == trading.SideBuy),
			tr.Price.String(), tr.Quantity.String(), tr.Total.StringFixed(2), tr.Fee.StringFixed(4)})
	}
	t.Render()
}

func (r *repl) printPositions(v terminal.View) {
	pf := v.Portfolio
	fmt.Fprintf(r.out, "balance %s, positions %s, equity %s\n",
		pf.Balance.StringFixed(2), pf.MarketValue.StringFixed(2), pf.Equity.StringFixed(2))
	if len(pf.Positions) == 0 {
		fmt.Fprintln(r.out, "no positions")
		return
	}
	t := r.newTable("Positions")
	t.AppendHeader(table.Row{"Symbol", "Quantity", "Avg price", "Mark", "Value", "P/L", "Return", "Realized"})
	for _, p := range pf.Positions {
		t.AppendRow(table.Row{p.Symbol, p.Quantity.String(), p.AvgPrice.StringFixed(2), p.MarketPrice.StringFixed(2),
			p.CurrentValue.StringFixed(2), r.colored(p.ProfitLoss.StringFixed(2), !p.ProfitLoss.IsNegative()),
			p.ReturnPercent.StringFixed(2) + "%", p.RealizedPL.StringFixed(2)})
	}
	t.AppendFooter(table.Row{"", "", "", "", pf.MarketValue.StringFixed(2), pf.UnrealizedPL.StringFixed(2), "", pf.RealizedPL.StringFixed(2)})
	t.Render()
}

func (r *repl) printAlerts(v terminal.View) {
	if len(v.Alerts) == 0 {
		fmt.Fprintln(r.out, "no alerts")
		return
	}
	t := r.newTable("Alerts")
	t.AppendHeader(table.Row{"ID", "Symbol", "Condition", "Target", "Active"})
	for _, a := range v.Alerts {
		t.AppendRow(table.Row{a.ID, a.Symbol, a.Condition, format.Price(a.Target), a.Active})
	}
	t.Render()
}
