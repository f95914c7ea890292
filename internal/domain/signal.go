package domain

import "time"

// SignalType classifies a detector output.
type SignalType string

const (
	SignalGoldenCross        SignalType = "golden_cross"
	SignalDeathCross         SignalType = "death_cross"
	SignalBreakOfStructureUp SignalType = "break_of_structure_bullish"
	SignalBreakOfStructureDn SignalType = "break_of_structure_bearish"
	SignalLiquidityGrab      SignalType = "liquidity_grab"
	SignalFVGFormation       SignalType = "fvg_formation"
)

// Bias is the directional view a signal or agent attaches to a ticker.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// SignalEntry is one ticker's row inside a broadcast signal.
type SignalEntry struct {
	Ticker     string  `json:"ticker"`
	Signal     Bias    `json:"signal"`
	Confidence float64 `json:"confidence"` // 0-100
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Signal is a broadcast event produced by a detector and published to the
// signals topic. Signals are content-addressed by ID; replayed duplicates
// in the log are benign.
type Signal struct {
	SignalID   string                 `json:"signal_id"`
	SignalType SignalType             `json:"signal_type"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	Tickers    []SignalEntry          `json:"tickers"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// TickerRouting reads the optional metadata.ticker_pipelines override that
// pins specific tickers to specific pipelines. Returns nil when the signal
// carries no routing metadata for the ticker.
func (s *Signal) TickerRouting(ticker string) []string {
	raw, ok := s.Metadata["ticker_pipelines"]
	if !ok {
		return nil
	}
	byTicker, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	entries, ok := byTicker[ticker].([]interface{})
	if !ok {
		return nil
	}
	var ids []string
	for _, e := range entries {
		switch v := e.(type) {
		case string:
			ids = append(ids, v)
		case map[string]interface{}:
			if id, ok := v["pipeline_id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Entry returns the signal entry for a ticker, if present.
func (s *Signal) Entry(ticker string) (SignalEntry, bool) {
	for _, e := range s.Tickers {
		if e.Ticker == ticker {
			return e, true
		}
	}
	return SignalEntry{}, false
}

// SignalContext is the slice of a signal that travels with a pipeline job:
// enough to reconstruct why an execution was triggered, scoped to one ticker.
type SignalContext struct {
	SignalID   string                 `json:"signal_id"`
	SignalType SignalType             `json:"signal_type"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	Tickers    []string               `json:"tickers"`
	Confidence float64                `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
