package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalTickerRouting(t *testing.T) {
	s := &Signal{
		Metadata: map[string]interface{}{
			"ticker_pipelines": map[string]interface{}{
				"AAPL": []interface{}{"pipe-1", "pipe-2"},
				"TSLA": []interface{}{
					map[string]interface{}{"pipeline_id": "pipe-3"},
				},
			},
		},
	}

	assert.Equal(t, []string{"pipe-1", "pipe-2"}, s.TickerRouting("AAPL"))
	assert.Equal(t, []string{"pipe-3"}, s.TickerRouting("TSLA"))
	assert.Nil(t, s.TickerRouting("MSFT"))
}

func TestSignalTickerRoutingNoMetadata(t *testing.T) {
	s := &Signal{}
	assert.Nil(t, s.TickerRouting("AAPL"))

	s = &Signal{Metadata: map[string]interface{}{"ticker_pipelines": "garbage"}}
	assert.Nil(t, s.TickerRouting("AAPL"))
}

func TestSignalEntry(t *testing.T) {
	s := &Signal{
		Tickers: []SignalEntry{
			{Ticker: "AAPL", Signal: BiasBullish, Confidence: 82},
			{Ticker: "TSLA", Signal: BiasBearish, Confidence: 55},
		},
	}

	e, ok := s.Entry("TSLA")
	require.True(t, ok)
	assert.Equal(t, BiasBearish, e.Signal)
	assert.Equal(t, 55.0, e.Confidence)

	_, ok = s.Entry("MSFT")
	assert.False(t, ok)
}
