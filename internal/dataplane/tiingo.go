package dataplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// TiingoClient is the primary market data provider.
type TiingoClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewTiingoClient creates a Tiingo client.
func NewTiingoClient(apiKey string, log zerolog.Logger) *TiingoClient {
	return &TiingoClient{
		apiKey:  apiKey,
		baseURL: "https://api.tiingo.com",
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "tiingo").Logger(),
	}
}

func (c *TiingoClient) Name() string { return "tiingo" }

func (c *TiingoClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("tiingo build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tiingo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("tiingo rate limited: %w", errRetryable)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("tiingo server error %d: %w", resp.StatusCode, errRetryable)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tiingo returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tiingo decode response: %w", err)
	}
	return nil
}

// GetQuote fetches the latest IEX top-of-book quote.
func (c *TiingoClient) GetQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	var rows []struct {
		Ticker    string  `json:"ticker"`
		BidPrice  float64 `json:"bidPrice"`
		AskPrice  float64 `json:"askPrice"`
		Last      float64 `json:"last"`
		TngoLast  float64 `json:"tngoLast"`
		Timestamp string  `json:"timestamp"`
	}
	q := url.Values{}
	q.Set("tickers", ticker)
	if err := c.get(ctx, "/iex/", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("tiingo returned no quote for %s", ticker)
	}
	r := rows[0]
	last := r.Last
	if last == 0 {
		last = r.TngoLast
	}
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	return &domain.Quote{
		Symbol:       ticker,
		Bid:          r.BidPrice,
		Ask:          r.AskPrice,
		CurrentPrice: last,
		Timestamp:    ts,
	}, nil
}

// GetCandles fetches 1m candles from the IEX intraday endpoint or daily
// candles from the EOD endpoint.
func (c *TiingoClient) GetCandles(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	switch tf {
	case domain.Timeframe1m:
		return c.intradayCandles(ctx, ticker, count)
	case domain.TimeframeD:
		return c.dailyCandles(ctx, ticker, count)
	default:
		return nil, fmt.Errorf("tiingo does not serve %s candles directly", tf)
	}
}

func (c *TiingoClient) intradayCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	var rows []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	q := url.Values{}
	q.Set("resampleFreq", "1min")
	// The IEX endpoint caps lookback per request; two trading days is
	// enough for the largest window we prefetch.
	q.Set("startDate", time.Now().AddDate(0, 0, -4).Format("2006-01-02"))
	if err := c.get(ctx, "/iex/"+url.PathEscape(ticker)+"/prices", q, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339, r.Date)
		if err != nil {
			continue
		}
		out = append(out, domain.Candle{
			Ticker:    ticker,
			Timeframe: domain.Timeframe1m,
			Timestamp: ts.UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func (c *TiingoClient) dailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	var rows []struct {
		Date      string  `json:"date"`
		AdjOpen   float64 `json:"adjOpen"`
		AdjHigh   float64 `json:"adjHigh"`
		AdjLow    float64 `json:"adjLow"`
		AdjClose  float64 `json:"adjClose"`
		AdjVolume float64 `json:"adjVolume"`
	}
	q := url.Values{}
	q.Set("startDate", time.Now().AddDate(0, 0, -count*2).Format("2006-01-02"))
	if err := c.get(ctx, "/tiingo/daily/"+url.PathEscape(ticker)+"/prices", q, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339, r.Date)
		if err != nil {
			continue
		}
		out = append(out, domain.Candle{
			Ticker:    ticker,
			Timeframe: domain.TimeframeD,
			Timestamp: ts.UTC(),
			Open:      r.AdjOpen,
			High:      r.AdjHigh,
			Low:       r.AdjLow,
			Close:     r.AdjClose,
			Volume:    r.AdjVolume,
		})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}
