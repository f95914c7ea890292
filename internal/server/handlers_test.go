package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/events"
)

func TestParseTimeframe(t *testing.T) {
	tf, ok := parseTimeframe("")
	assert.True(t, ok)
	assert.Equal(t, domain.Timeframe1h, tf)

	tf, ok = parseTimeframe("5m")
	assert.True(t, ok)
	assert.Equal(t, domain.Timeframe5m, tf)

	_, ok = parseTimeframe("7m")
	assert.False(t, ok)
}

func TestTypeFilter(t *testing.T) {
	assert.Nil(t, typeFilter(""))

	allowed := typeFilter("TRADE_EXECUTED, POSITION_CLOSED")
	assert.True(t, allowed[events.TradeExecuted])
	assert.True(t, allowed[events.PositionClosed])
	assert.False(t, allowed[events.ExecutionStarted])
}

func TestWriteJSONAndError(t *testing.T) {
	s := &Server{log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	s.writeJSON(rec, 200, map[string]string{"ok": "yes"})
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "yes", body["ok"])

	rec = httptest.NewRecorder()
	s.writeError(rec, 404, errInvalidTimeframe)
	assert.Equal(t, 404, rec.Code)

	var errBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Contains(t, errBody["error"], "timeframe")
}
