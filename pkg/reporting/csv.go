package reporting

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

// WriteTradesCSV writes the trade history as CSV. A path ending in .xlsx is
// written as a workbook instead.
func WriteTradesCSV(trades []trading.Trade, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		fx, err := newTradesWorkbook(trades)
		if err != nil {
			return err
		}
		defer fx.Close()
		return fx.SaveAs(path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"Executed_At",
		"Trade_ID",
		"Order_ID",
		"Symbol",
		"Side",
		"Price",
		"Quantity",
		"Total",
		"Fee",
		"Status",
	}); err != nil {
		return err
	}

	for _, t := range trades {
		if err := w.Write([]string{
			t.ExecutedAt.Format("2006-01-02 15:04:05"),
			t.ID,
			t.OrderID,
			t.Symbol,
			string(t.Side),
			t.Price.String(),
			t.Quantity.String(),
			t.Total.String(),
			t.Fee.String(),
			t.Status,
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
