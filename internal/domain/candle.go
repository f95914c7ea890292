package domain

import "time"

// Candle is a single OHLCV bar. 1-minute candles are the only raw rows in
// the time-series store; every other timeframe is derived from them.
type Candle struct {
	Ticker    string    `json:"ticker" msgpack:"ticker"`
	Timeframe Timeframe `json:"timeframe" msgpack:"timeframe"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Open      float64   `json:"open" msgpack:"open"`
	High      float64   `json:"high" msgpack:"high"`
	Low       float64   `json:"low" msgpack:"low"`
	Close     float64   `json:"close" msgpack:"close"`
	Volume    float64   `json:"volume" msgpack:"volume"`
}

// Quote is a point-in-time market snapshot for one symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"current_price"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Spread        float64   `json:"spread"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previous_close"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, falling back to the last price when
// the book is one-sided.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.CurrentPrice
}

// AggregateCandles rolls a slice of 1-minute candles up into target buckets:
// open = first, high = max, low = min, close = last, volume = sum.
// Input must be sorted oldest first; output is sorted oldest first.
// This mirrors the continuous-aggregate definitions in the time-series store
// and is used for cache warming and for parity tests against them.
func AggregateCandles(oneMin []Candle, target Timeframe) []Candle {
	if len(oneMin) == 0 {
		return nil
	}
	var out []Candle
	var cur *Candle
	for _, c := range oneMin {
		bucket := target.Truncate(c.Timestamp)
		if cur == nil || !cur.Timestamp.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			cc := c
			cc.Timeframe = target
			cc.Timestamp = bucket
			cur = &cc
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	out = append(out, *cur)
	return out
}
