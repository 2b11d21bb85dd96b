package exchange

import (
	"fmt"
	"time"
)

// Interval is a candle width in exchange notation ("1m", "1h", "1w")
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval3d:  72 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// Bybit uses minutes for intraday and letters above
var bybitIntervals = map[Interval]string{
	Interval1m:  "1",
	Interval3m:  "3",
	Interval5m:  "5",
	Interval15m: "15",
	Interval30m: "30",
	Interval1h:  "60",
	Interval2h:  "120",
	Interval4h:  "240",
	Interval6h:  "360",
	Interval12h: "720",
	Interval1d:  "D",
	Interval1w:  "W",
}

// Intervals lists the supported intervals, shortest first
func Intervals() []Interval {
	return []Interval{
		Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
		Interval1d, Interval3d, Interval1w,
	}
}

// ParseInterval validates s against the supported set
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q, use one of %v", s, Intervals())
	}
	return iv, nil
}

// BybitCode returns the interval in Bybit notation
func (i Interval) BybitCode() (string, error) {
	code, ok := bybitIntervals[i]
	if !ok {
		return "", fmt.Errorf("interval %s not supported by bybit", i)
	}
	return code, nil
}

func (i Interval) String() string {
	return string(i)
}
