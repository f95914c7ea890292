package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tradewinds/internal/cache"
	"github.com/aristath/tradewinds/internal/database"
	"github.com/aristath/tradewinds/internal/queue"
)

// SystemHandlers reports process and dependency health.
type SystemHandlers struct {
	db    *database.DB
	cache *cache.Cache
	queue *queue.Manager
	log   zerolog.Logger
	start time.Time
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(db *database.DB, c *cache.Cache, q *queue.Manager, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:    db,
		cache: c,
		queue: q,
		log:   log.With().Str("component", "system").Logger(),
		start: time.Now(),
	}
}

// HandleStatus handles GET /api/system/status.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "ok"
	if err := h.db.HealthCheck(ctx); err != nil {
		dbStatus = err.Error()
	}
	cacheStatus := "ok"
	if err := h.cache.Ping(ctx); err != nil {
		cacheStatus = err.Error()
	}

	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.start).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"queue_depth":    h.queue.Size(),
		"database":       dbStatus,
		"cache":          cacheStatus,
		"db_pool":        h.db.GetStats(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = vm.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		status["host_uptime_seconds"] = uptime
	}

	code := http.StatusOK
	if dbStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode status response")
	}
}
