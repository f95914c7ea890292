package dataplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// AlphaVantageClient is the fallback provider used when the primary is
// unavailable. Its free tier is heavily rate limited, so it only serves
// on-demand fetches, never the prefetch loop.
type AlphaVantageClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewAlphaVantageClient creates an Alpha Vantage client.
func NewAlphaVantageClient(apiKey string, log zerolog.Logger) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:  apiKey,
		baseURL: "https://www.alphavantage.co/query",
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

func (c *AlphaVantageClient) Name() string { return "alphavantage" }

func (c *AlphaVantageClient) get(ctx context.Context, query url.Values, out interface{}) error {
	query.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("alphavantage build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("alphavantage request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alphavantage returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("alphavantage decode response: %w", err)
	}
	return nil
}

// GetQuote fetches the GLOBAL_QUOTE endpoint. Alpha Vantage exposes no
// bid/ask, so both sides carry the last price.
func (c *AlphaVantageClient) GetQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	var resp struct {
		Quote map[string]string `json:"Global Quote"`
	}
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", ticker)
	if err := c.get(ctx, q, &resp); err != nil {
		return nil, err
	}
	price, err := strconv.ParseFloat(resp.Quote["05. price"], 64)
	if err != nil || price == 0 {
		return nil, fmt.Errorf("alphavantage returned no quote for %s", ticker)
	}
	return &domain.Quote{
		Symbol:       ticker,
		Bid:          price,
		Ask:          price,
		CurrentPrice: price,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// GetCandles serves 1m via TIME_SERIES_INTRADAY and daily via
// TIME_SERIES_DAILY_ADJUSTED.
func (c *AlphaVantageClient) GetCandles(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", ticker)
	var seriesKey, timeLayout string
	switch tf {
	case domain.Timeframe1m:
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("interval", "1min")
		q.Set("outputsize", "full")
		seriesKey = "Time Series (1min)"
		timeLayout = "2006-01-02 15:04:05"
	case domain.TimeframeD:
		q.Set("function", "TIME_SERIES_DAILY")
		q.Set("outputsize", "full")
		seriesKey = "Time Series (Daily)"
		timeLayout = "2006-01-02"
	default:
		return nil, fmt.Errorf("alphavantage does not serve %s candles directly", tf)
	}

	var resp map[string]json.RawMessage
	if err := c.get(ctx, q, &resp); err != nil {
		return nil, err
	}
	raw, ok := resp[seriesKey]
	if !ok {
		return nil, fmt.Errorf("alphavantage returned no %s series for %s", tf, ticker)
	}
	var series map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	}
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("alphavantage decode series: %w", err)
	}

	out := make([]domain.Candle, 0, len(series))
	for stamp, bar := range series {
		ts, err := time.Parse(timeLayout, stamp)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(bar.Open, 64)
		high, _ := strconv.ParseFloat(bar.High, 64)
		low, _ := strconv.ParseFloat(bar.Low, 64)
		closePx, _ := strconv.ParseFloat(bar.Close, 64)
		volume, _ := strconv.ParseFloat(bar.Volume, 64)
		out = append(out, domain.Candle{
			Ticker:    ticker,
			Timeframe: tf,
			Timestamp: ts.UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}
