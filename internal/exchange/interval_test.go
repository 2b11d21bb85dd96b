package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("15m")
	require.NoError(t, err)
	assert.Equal(t, Interval15m, iv)

	_, err = ParseInterval("7m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "15m")

	assert.Len(t, Intervals(), 14)
}

func TestInterval_BybitCode(t *testing.T) {
	code, err := Interval1h.BybitCode()
	require.NoError(t, err)
	assert.Equal(t, "60", code)

	code, err = Interval1d.BybitCode()
	require.NoError(t, err)
	assert.Equal(t, "D", code)

	_, err = Interval3d.BybitCode()
	assert.Error(t, err)

	assert.Equal(t, "1h", intervalFromBybit("60"))
	assert.Equal(t, "1w", intervalFromBybit("W"))
}
