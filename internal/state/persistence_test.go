package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-terminal/internal/alerts"
	"github.com/ducminhle1904/crypto-terminal/internal/logger"
	"github.com/ducminhle1904/crypto-terminal/internal/trading"
)

func newStore(t *testing.T) *StatePersistence {
	sp := NewStatePersistence(logger.Discard(), filepath.Join(t.TempDir(), "state"))
	require.NoError(t, sp.Initialize())
	return sp
}

func TestLoadState_Empty(t *testing.T) {
	snap, err := newStore(t).LoadState()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSaveAndLoad(t *testing.T) {
	sp := newStore(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	in := Snapshot{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Session: trading.SessionState{
			Balance: decimal.RequireFromString("9876.5"),
			OpenOrders: []trading.Order{{
				ID: "o1", Symbol: "BTCUSDT", Side: trading.SideBuy, Type: trading.OrderTypeLimit,
				Price: decimal.RequireFromString("40000"), Quantity: decimal.RequireFromString("0.1"),
				Status: trading.StatusOpen, CreatedAt: now, UpdatedAt: now,
			}},
		},
		Alerts: []alerts.Alert{{ID: "a1", Symbol: "BTCUSDT", Condition: alerts.PriceAbove, Target: 50000, Active: true, CreatedAt: now}},
	}
	require.NoError(t, sp.SaveState(in))
	assert.False(t, sp.LastSave().IsZero())

	out, err := sp.LoadState()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, "BTCUSDT", out.Symbol)
	assert.True(t, out.Session.Balance.Equal(in.Session.Balance))
	require.Len(t, out.Session.OpenOrders, 1)
	assert.Equal(t, "o1", out.Session.OpenOrders[0].ID)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, alerts.PriceAbove, out.Alerts[0].Condition)
}

func TestLoadState_FallsBackToBackup(t *testing.T) {
	sp := newStore(t)
	require.NoError(t, sp.SaveState(Snapshot{Symbol: "ETHUSDT", Session: trading.SessionState{Balance: decimal.NewFromInt(5)}}))
	require.NoError(t, sp.SaveState(Snapshot{Symbol: "ETHUSDT", Session: trading.SessionState{Balance: decimal.NewFromInt(6)}}))

	require.NoError(t, os.WriteFile(sp.statePath(), []byte("{not json"), 0644))

	snap, err := sp.LoadState()
	require.NoError(t, err)
	assert.True(t, snap.Session.Balance.Equal(decimal.NewFromInt(5)))
}

func TestLoadState_Corrupt(t *testing.T) {
	sp := newStore(t)
	require.NoError(t, os.WriteFile(sp.statePath(), []byte(`{"version":""}`), 0644))

	_, err := sp.LoadState()
	assert.Error(t, err)
}
