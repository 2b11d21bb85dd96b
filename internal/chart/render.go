package chart

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-terminal/internal/format"
)

// RenderOptions controls the text rendering of a series
type RenderOptions struct {
	Rows  int  // newest candles to show, default 20
	Color bool // green/red closes
}

// Render writes the newest candles of s with their moving averages as a
// table
func Render(w io.Writer, s Series, opts RenderOptions) {
	if opts.Rows <= 0 {
		opts.Rows = 20
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s %s", s.Symbol, s.Interval))
	t.SetStyle(table.StyleRounded)

	header := table.Row{"Time", "Open", "High", "Low", "Close", "Volume"}
	for _, ma := range s.MAs {
		header = append(header, fmt.Sprintf("MA(%d)", ma.Period))
	}
	t.AppendHeader(header)

	start := len(s.Candles) - opts.Rows
	if start < 0 {
		start = 0
	}

	for i := start; i < len(s.Candles); i++ {
		c := s.Candles[i]

		closeStr := format.Price(c.Close)
		if opts.Color {
			if c.Bullish() {
				closeStr = text.FgGreen.Sprint(closeStr)
			} else {
				closeStr = text.FgRed.Sprint(closeStr)
			}
		}

		row := table.Row{
			c.Timestamp().Format("2006-01-02 15:04"),
			format.Price(c.Open),
			format.Price(c.High),
			format.Price(c.Low),
			closeStr,
			format.Volume(c.Volume),
		}
		for _, ma := range s.MAs {
			if i < len(ma.Values) && ma.Values[i].Valid {
				row = append(row, format.Price(ma.Values[i].V))
			} else {
				row = append(row, "-")
			}
		}
		t.AppendRow(row)
	}

	configs := []table.ColumnConfig{{Number: 1, Align: text.AlignLeft}}
	for n := 2; n <= len(header); n++ {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	t.SetColumnConfigs(configs)

	t.Render()
}
