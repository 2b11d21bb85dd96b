package alerts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/ducminhle1904/crypto-terminal/internal/errors"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/pkg/types"
)

type recorder struct {
	messages []string
	err      error
}

func (r *recorder) SendAlert(level, message string) error {
	r.messages = append(r.messages, message)
	return r.err
}

func newTestManager(n *recorder) *Manager {
	m := NewManager(n, logger.Discard())
	id := 0
	m.newID = func() string { id++; return fmt.Sprintf("a%d", id) }
	m.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return m
}

func ticker(sym string, price, change float64) types.TickerUpdate {
	return types.TickerUpdate{Symbol: sym, LastPrice: price, ChangePercent: change}
}

func TestEvaluate_FiresOnce(t *testing.T) {
	n := &recorder{}
	m := newTestManager(n)
	_, err := m.Add("btcusdt", PriceAbove, 50000)
	require.NoError(t, err)

	assert.Empty(t, m.Evaluate(ticker("BTCUSDT", 49999, 0)))

	fired := m.Evaluate(ticker("BTCUSDT", 50000, 0))
	require.Len(t, fired, 1)
	assert.False(t, fired[0].Active)
	assert.True(t, fired[0].Triggered)
	require.NotNil(t, fired[0].TriggeredAt)

	assert.Contains(t, fired[0].Message, "BTCUSDT crossed above")
	assert.Empty(t, n.messages)

	m.Deliver(fired)
	assert.Empty(t, m.Evaluate(ticker("BTCUSDT", 51000, 0)))
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "BTCUSDT crossed above")

	list := m.List()
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
}

func TestEvaluate_Conditions(t *testing.T) {
	for _, tc := range []struct {
		cond   Condition
		target float64
		tick   types.TickerUpdate
		want   bool
	}{
		{PriceBelow, 2000, ticker("ETHUSDT", 1999, 0), true},
		{PriceBelow, 2000, ticker("ETHUSDT", 2001, 0), false},
		{PriceBelow, 2000, ticker("ETHUSDT", 0, 0), false},
		{PercentChange, 5, ticker("ETHUSDT", 1, -5.5), true},
		{PercentChange, 5, ticker("ETHUSDT", 1, 4.9), false},
		{PriceAbove, 1, ticker("BTCUSDT", 5, 0), false},
	} {
		t.Run(fmt.Sprintf("%s_%v", tc.cond, tc.want), func(t *testing.T) {
			m := newTestManager(&recorder{})
			_, err := m.Add("ETHUSDT", tc.cond, tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.want, len(m.Evaluate(tc.tick)) == 1)
		})
	}
}

func TestEvaluate_DeliveryFailureStillDeactivates(t *testing.T) {
	n := &recorder{err: errors.New("telegram down")}
	m := newTestManager(n)
	_, err := m.Add("BTCUSDT", PriceBelow, 100)
	require.NoError(t, err)

	fired := m.Evaluate(ticker("BTCUSDT", 99, 0))
	assert.Len(t, fired, 1)
	m.Deliver(fired)
	assert.Len(t, n.messages, 1)
	assert.Empty(t, m.Evaluate(ticker("BTCUSDT", 98, 0)))
}

func TestDeliver_WithoutNotifier(t *testing.T) {
	m := NewManager(nil, logger.Discard())
	_, err := m.Add("BTCUSDT", PercentChange, 3)
	require.NoError(t, err)

	fired := m.Evaluate(ticker("BTCUSDT", 10, -3.2))
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0].Message, "-3.20%")
	assert.NotPanics(t, func() { m.Deliver(fired) })
}

func TestAdd_Validation(t *testing.T) {
	m := newTestManager(&recorder{})

	_, err := m.Add("", PriceAbove, 1)
	assert.ErrorIs(t, err, terrors.ErrInvalidAlert)
	_, err = m.Add("BTCUSDT", PriceAbove, 0)
	assert.ErrorIs(t, err, terrors.ErrInvalidAlert)
	_, err = m.Add("BTCUSDT", Condition("sideways"), 1)
	assert.ErrorIs(t, err, terrors.ErrInvalidAlert)
	assert.Empty(t, m.List())
}

func TestRemoveAndRestore(t *testing.T) {
	m := newTestManager(&recorder{})
	a, err := m.Add("BTCUSDT", PriceAbove, 1)
	require.NoError(t, err)

	require.NoError(t, m.Remove(a.ID))
	assert.ErrorIs(t, m.Remove(a.ID), terrors.ErrAlertNotFound)

	m.Restore([]Alert{a})
	assert.Len(t, m.List(), 1)
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("Above")
	require.NoError(t, err)
	assert.Equal(t, PriceAbove, c)
	c, err = ParseCondition("%")
	require.NoError(t, err)
	assert.Equal(t, PercentChange, c)
}
