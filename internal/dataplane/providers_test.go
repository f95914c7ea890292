package dataplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/domain"
)

func TestTiingoGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/iex/", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("tickers"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"bidPrice":187.40,"askPrice":187.60,"last":187.52,"timestamp":"2026-03-02T15:04:05Z"}]`))
	}))
	defer srv.Close()

	c := NewTiingoClient("test-key", zerolog.Nop())
	c.baseURL = srv.URL

	q, err := c.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 187.52, q.CurrentPrice)
	assert.Equal(t, 187.40, q.Bid)
	assert.Equal(t, 187.60, q.Ask)
}

func TestTiingoGetQuoteFallsBackToTngoLast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"bidPrice":10,"askPrice":10.2,"last":0,"tngoLast":10.1,"timestamp":"2026-03-02T15:04:05Z"}]`))
	}))
	defer srv.Close()

	c := NewTiingoClient("test-key", zerolog.Nop())
	c.baseURL = srv.URL

	q, err := c.GetQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 10.1, q.CurrentPrice)
}

func TestTiingoDailyCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"date":"2026-03-02T00:00:00Z","adjOpen":100,"adjHigh":105,"adjLow":99,"adjClose":104,"adjVolume":1000},
			{"date":"2026-03-03T00:00:00Z","adjOpen":104,"adjHigh":108,"adjLow":103,"adjClose":107,"adjVolume":1200}
		]`))
	}))
	defer srv.Close()

	c := NewTiingoClient("test-key", zerolog.Nop())
	c.baseURL = srv.URL

	candles, err := c.GetCandles(context.Background(), "AAPL", domain.TimeframeD, 400)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "AAPL", candles[0].Ticker)
	assert.Equal(t, domain.TimeframeD, candles[0].Timeframe)
	assert.Equal(t, 104.0, candles[0].Close)
	assert.Equal(t, 1200.0, candles[1].Volume)
}

func TestAlphaVantageGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		w.Write([]byte(`{"Global Quote":{"01. symbol":"AAPL","05. price":"187.52"}}`))
	}))
	defer srv.Close()

	c := NewAlphaVantageClient("test-key", zerolog.Nop())
	c.baseURL = srv.URL

	q, err := c.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 187.52, q.CurrentPrice)
	assert.Equal(t, 187.52, q.Bid)
}

func TestAlphaVantageGetQuoteEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote":{}}`))
	}))
	defer srv.Close()

	c := NewAlphaVantageClient("test-key", zerolog.Nop())
	c.baseURL = srv.URL

	_, err := c.GetQuote(context.Background(), "XXXX")
	assert.Error(t, err)
}
