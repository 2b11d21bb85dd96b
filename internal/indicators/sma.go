package indicators

import (
	"errors"
	"fmt"

	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

// ErrInvalidPeriod is returned for a non-positive averaging period
var ErrInvalidPeriod = errors.New("moving average period must be positive")

// Value is one point of an indicator series. Valid is false where there is
// not enough history yet.
type Value struct {
	V     float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// MovingAverage returns the simple moving average of closes, same length as
// the input. Positions before period-1 are invalid. Runs in O(n) with a
// sliding-window sum.
func MovingAverage(closes []float64, period int) ([]Value, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	out := make([]Value, len(closes))
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out[i] = Value{V: sum / float64(period), Valid: true}
		}
	}
	return out, nil
}

// Closes extracts closing prices from candles
func Closes(candles []types.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// SMA represents the Simple Moving Average technical indicator, usable both
// over a candle slice and incrementally.
type SMA struct {
	period    int
	window    []float64
	sum       float64
	lastValue float64
}

// NewSMA creates a new SMA indicator
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		window: make([]float64, 0, period),
	}
}

// Calculate calculates the SMA value of the last period candles
func (s *SMA) Calculate(data []types.Candle) (float64, error) {
	if s.period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(data) < s.period {
		return 0, errors.New("insufficient data for SMA calculation")
	}

	sum := 0.0
	for i := len(data) - s.period; i < len(data); i++ {
		sum += data[i].Close
	}

	s.lastValue = sum / float64(s.period)
	return s.lastValue, nil
}

// Update feeds a closed candle's price
func (s *SMA) Update(close float64) {
	if s.period <= 0 {
		return
	}
	if len(s.window) == s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
	s.window = append(s.window, close)
	s.sum += close
	if s.Ready() {
		s.lastValue = s.sum / float64(s.period)
	}
}

// Ready reports whether a full window has been seen
func (s *SMA) Ready() bool {
	return s.period > 0 && len(s.window) == s.period
}

// Value returns the last calculated value, 0 until ready
func (s *SMA) Value() float64 {
	return s.lastValue
}

// Peek returns what the SMA would be if close were the next value, without
// changing state. It is used for the forming candle.
func (s *SMA) Peek(close float64) float64 {
	if s.period <= 0 || len(s.window)+1 < s.period {
		return 0
	}
	sum := s.sum + close
	if len(s.window) == s.period {
		sum -= s.window[0]
	}
	return sum / float64(s.period)
}

// GetName returns the indicator name
func (s *SMA) GetName() string {
	return fmt.Sprintf("MA(%d)", s.period)
}

// GetRequiredPeriods returns the minimum number of periods needed
func (s *SMA) GetRequiredPeriods() int {
	return s.period
}
