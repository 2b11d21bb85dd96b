// Package format turns raw prices and volumes into display strings.
package format

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter formats numbers for one locale
type Formatter struct {
	printer *message.Printer
}

// NewFormatter creates a formatter for the given locale
func NewFormatter(tag language.Tag) *Formatter {
	return &Formatter{printer: message.NewPrinter(tag)}
}

var defaultFormatter = NewFormatter(language.English)

// PriceDecimals returns how many fraction digits a price of this magnitude shows
func PriceDecimals(v float64) int {
	a := math.Abs(v)
	switch {
	case a == 0 || a >= 1:
		return 2
	case a >= 0.01:
		return 4
	case a >= 0.0001:
		return 6
	default:
		return 8
	}
}

// Price formats a price with thousands grouping
func (f *Formatter) Price(v float64) string {
	return f.Fixed(v, PriceDecimals(v))
}

// Fixed formats v with exactly decimals fraction digits and grouping
func (f *Formatter) Fixed(v float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	return f.printer.Sprintf(fmt.Sprintf("%%.%df", decimals), v)
}

// Volume formats a volume with K/M/B suffixes
func (f *Formatter) Volume(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1e9:
		return f.Fixed(v/1e9, 2) + "B"
	case a >= 1e6:
		return f.Fixed(v/1e6, 2) + "M"
	case a >= 1e3:
		return f.Fixed(v/1e3, 2) + "K"
	default:
		return f.Fixed(v, 2)
	}
}

// Percent formats a percentage with an explicit sign
func (f *Formatter) Percent(v float64) string {
	s := f.Fixed(v, 2) + "%"
	if v > 0 && s != "0.00%" {
		return "+" + s
	}
	return s
}

// Price formats a price using the English locale
func Price(v float64) string { return defaultFormatter.Price(v) }

// Fixed formats v with decimals fraction digits using the English locale
func Fixed(v float64, decimals int) string { return defaultFormatter.Fixed(v, decimals) }

// Volume formats a volume using the English locale
func Volume(v float64) string { return defaultFormatter.Volume(v) }

// Percent formats a signed percentage using the English locale
func Percent(v float64) string { return defaultFormatter.Percent(v) }
