package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeframeValid(t *testing.T) {
	for _, tf := range AllTimeframes {
		assert.True(t, tf.Valid(), string(tf))
	}
	assert.False(t, Timeframe("2m").Valid())
	assert.False(t, Timeframe("").Valid())
}

func TestTimeframeTruncate(t *testing.T) {
	ts := time.Date(2026, 3, 4, 14, 37, 23, 0, time.UTC) // a Wednesday

	assert.Equal(t, time.Date(2026, 3, 4, 14, 37, 0, 0, time.UTC), Timeframe1m.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 14, 35, 0, 0, time.UTC), Timeframe5m.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC), Timeframe15m.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC), Timeframe1h.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), Timeframe4h.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), TimeframeD.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), TimeframeW.Truncate(ts)) // Monday
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), TimeframeM.Truncate(ts))
}

func TestTimeframeTruncateMondayStaysPut(t *testing.T) {
	monday := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), TimeframeW.Truncate(monday))
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Timeframe1m.Duration())
	assert.Equal(t, 4*time.Hour, Timeframe4h.Duration())
	assert.Equal(t, 24*time.Hour, TimeframeD.Duration())
	// Unknown timeframes degrade to a minute rather than zero so TTL math
	// never divides by zero.
	assert.Equal(t, time.Minute, Timeframe("bogus").Duration())
}
