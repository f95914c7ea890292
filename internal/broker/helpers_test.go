package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsForex(t *testing.T) {
	assert.True(t, IsForex("EUR_USD"))
	assert.True(t, IsForex("EUR/USD"))
	assert.False(t, IsForex("AAPL"))
	assert.False(t, IsForex("BRK_B"))
	assert.False(t, IsForex("EUR_USD_JPY"))
}

func TestSideForAction(t *testing.T) {
	side, err := SideForAction("BUY")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)

	side, err = SideForAction("SELL")
	require.NoError(t, err)
	assert.Equal(t, SideSell, side)

	_, err = SideForAction("HOLD")
	assert.Error(t, err)
}

func TestSyntheticTradeID(t *testing.T) {
	id := SyntheticTradeID("AAPL", 10, 1875.5)
	assert.Equal(t, "AAPL_10_1875.50", id)

	// Qty keeps its natural formatting so fractional shares stay distinct.
	assert.Equal(t, "AAPL_0.5_93.78", SyntheticTradeID("AAPL", 0.5, 93.775))
}
