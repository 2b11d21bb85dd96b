package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-terminal/internal/chart"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle int
	PriceStyle  int
	BaseStyle   int
	UpStyle     int
	DownStyle   int
}

// ExportChart writes the chart series to an .xlsx workbook: one Candles
// sheet with the moving averages and, when trades are given, a Trades sheet.
func ExportChart(series chart.Series, trades []trading.Trade, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const candlesSheet = "Candles"
	const tradesSheet = "Trades"

	fx.SetSheetName(fx.GetSheetName(0), candlesSheet)

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := writeCandlesSheet(fx, candlesSheet, series, styles); err != nil {
		return err
	}

	if len(trades) > 0 {
		if _, err := fx.NewSheet(tradesSheet); err != nil {
			return err
		}
		if err := writeTradesSheet(fx, tradesSheet, trades, styles); err != nil {
			return err
		}
	}

	return fx.SaveAs(path)
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - Dark blue background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.PriceStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    4, // #,##0.00
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: border})
	if err != nil {
		return styles, err
	}

	styles.UpStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    4,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.DownStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    4,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	return styles, nil
}

func writeHeaders(fx *excelize.File, sheet string, headers []string, styles ExcelStyles) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}
}

func writeCandlesSheet(fx *excelize.File, sheet string, series chart.Series, styles ExcelStyles) error {
	headers := []string{"Time", "Open", "High", "Low", "Close", "Volume"}
	for _, ma := range series.MAs {
		headers = append(headers, fmt.Sprintf("MA(%d)", ma.Period))
	}
	writeHeaders(fx, sheet, headers, styles)

	fx.SetColWidth(sheet, "A", "A", 18)
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	fx.SetColWidth(sheet, "B", lastCol, 14)

	for i, c := range series.Candles {
		row := i + 2
		values := []interface{}{
			c.Timestamp().Format("2006-01-02 15:04"),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		}
		for _, ma := range series.MAs {
			if i < len(ma.Values) && ma.Values[i].Valid {
				values = append(values, ma.Values[i].V)
			} else {
				values = append(values, nil)
			}
		}

		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := fx.SetSheetRow(sheet, start, &values); err != nil {
			return err
		}

		end, _ := excelize.CoordinatesToCellName(len(values), row)
		fx.SetCellStyle(sheet, start, end, styles.PriceStyle)
		fx.SetCellStyle(sheet, start, start, styles.BaseStyle)

		closeCell, _ := excelize.CoordinatesToCellName(5, row)
		if c.Bullish() {
			fx.SetCellStyle(sheet, closeCell, closeCell, styles.UpStyle)
		} else {
			fx.SetCellStyle(sheet, closeCell, closeCell, styles.DownStyle)
		}
	}

	return fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeTradesSheet(fx *excelize.File, sheet string, trades []trading.Trade, styles ExcelStyles) error {
	writeHeaders(fx, sheet, []string{"Executed", "Symbol", "Side", "Price", "Quantity", "Total", "Fee", "Status"}, styles)
	fx.SetColWidth(sheet, "A", "A", 20)
	fx.SetColWidth(sheet, "B", "H", 14)

	for i, t := range trades {
		row := i + 2
		values := []interface{}{
			t.ExecutedAt.Format("2006-01-02 15:04:05"),
			t.Symbol,
			string(t.Side),
			t.Price.InexactFloat64(),
			t.Quantity.InexactFloat64(),
			t.Total.InexactFloat64(),
			t.Fee.InexactFloat64(),
			t.Status,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := fx.SetSheetRow(sheet, start, &values); err != nil {
			return err
		}
		end, _ := excelize.CoordinatesToCellName(len(values), row)
		fx.SetCellStyle(sheet, start, end, styles.BaseStyle)
	}
	return nil
}

func newTradesWorkbook(trades []trading.Trade) (*excelize.File, error) {
	fx := excelize.NewFile()
	const sheet = "Trades"
	fx.SetSheetName(fx.GetSheetName(0), sheet)

	styles, err := createExcelStyles(fx)
	if err != nil {
		fx.Close()
		return nil, err
	}
	if err := writeTradesSheet(fx, sheet, trades, styles); err != nil {
		fx.Close()
		return nil, err
	}
	return fx, nil
}
