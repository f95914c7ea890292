package dataplane

import (
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"

	"github.com/aristath/tradewinds/internal/domain"
)

// Indicator names served by ComputeIndicators.
const (
	IndRSI14  = "rsi_14"
	IndSMA20  = "sma_20"
	IndSMA50  = "sma_50"
	IndSMA200 = "sma_200"
	IndEMA9   = "ema_9"
	IndEMA21  = "ema_21"
	IndATR14  = "atr_14"
	IndMACD   = "macd"
)

// AllIndicators lists every series the cache precomputes.
var AllIndicators = []string{IndRSI14, IndSMA20, IndSMA50, IndSMA200, IndEMA9, IndEMA21, IndATR14, IndMACD}

// ComputeIndicator returns one indicator series for the candle window.
// Series shorter than the indicator's period return an error rather than
// a padded slice.
func ComputeIndicator(name string, candles []domain.Candle) ([]float64, error) {
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	need := minCandles(name)
	if len(candles) < need {
		return nil, fmt.Errorf("%s needs %d candles, have %d", name, need, len(candles))
	}

	switch name {
	case IndRSI14:
		return talib.Rsi(closes, 14), nil
	case IndSMA20:
		return talib.Sma(closes, 20), nil
	case IndSMA50:
		return talib.Sma(closes, 50), nil
	case IndSMA200:
		return talib.Sma(closes, 200), nil
	case IndEMA9:
		return talib.Ema(closes, 9), nil
	case IndEMA21:
		return talib.Ema(closes, 21), nil
	case IndATR14:
		return talib.Atr(highs, lows, closes, 14), nil
	case IndMACD:
		macd, _, _ := talib.Macd(closes, 12, 26, 9)
		return macd, nil
	default:
		return nil, fmt.Errorf("unknown indicator %s", name)
	}
}

func minCandles(name string) int {
	switch name {
	case IndSMA200:
		return 201
	case IndSMA50:
		return 51
	case IndMACD:
		return 35
	case IndSMA20:
		return 21
	case IndEMA21:
		return 22
	case IndRSI14, IndATR14:
		return 15
	case IndEMA9:
		return 10
	}
	return 1
}

// ComputeIndicators evaluates the named series concurrently over a shared
// candle window. Series the window is too short for are skipped.
func ComputeIndicators(names []string, candles []domain.Candle, workers int) map[string][]float64 {
	if workers < 1 {
		workers = 1
	}
	type result struct {
		name   string
		values []float64
	}

	jobs := make(chan string)
	results := make(chan result, len(names))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				values, err := ComputeIndicator(name, candles)
				if err != nil {
					continue
				}
				results <- result{name: name, values: values}
			}
		}()
	}

	for _, name := range names {
		jobs <- name
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make(map[string][]float64, len(names))
	for r := range results {
		out[r.name] = r.values
	}
	return out
}
