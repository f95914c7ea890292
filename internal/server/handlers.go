package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/pipeline"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.db.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "tradewinds",
	})
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipes, err := s.pipes.ListActive(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"pipelines": pipes})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.pipes.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err == pipeline.ErrNotFound {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePipelineExecutions(w http.ResponseWriter, r *http.Request) {
	status := domain.ExecutionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status == "" {
		status = domain.StatusMonitoring
	}
	execs, err := s.execs.ListByStatus(r.Context(), status, 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	pipelineID := chi.URLParam(r, "id")
	filtered := execs[:0]
	for _, e := range execs {
		if e.PipelineID == pipelineID {
			filtered = append(filtered, e)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": filtered})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	e, err := s.execs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err == pipeline.ErrNotFound {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUserExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.execs.ListActiveForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": execs})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.executor.Approve(r.Context(), id); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"execution_id": id, "approved": true})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.executor.Reject(r.Context(), id); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"execution_id": id, "approved": false})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.data.GetQuote(r.Context(), strings.ToUpper(chi.URLParam(r, "ticker")))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	tf, ok := parseTimeframe(r.URL.Query().Get("tf"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, errInvalidTimeframe)
		return
	}
	count := 250
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}
	candles, err := s.data.GetCandles(r.Context(), ticker, tf, count)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":    ticker,
		"timeframe": string(tf),
		"candles":   candles,
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	tf, ok := parseTimeframe(r.URL.Query().Get("tf"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, errInvalidTimeframe)
		return
	}
	names := dataplane.AllIndicators
	if v := r.URL.Query().Get("names"); v != "" {
		names = strings.Split(v, ",")
	}
	values, err := s.data.GetIndicators(r.Context(), ticker, tf, names)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":     ticker,
		"timeframe":  string(tf),
		"indicators": values,
	})
}

var errInvalidTimeframe = errors.New("invalid or missing timeframe")

// parseTimeframe validates the tf query parameter, defaulting to 1h.
func parseTimeframe(v string) (domain.Timeframe, bool) {
	if v == "" {
		return domain.Timeframe1h, true
	}
	tf := domain.Timeframe(v)
	return tf, tf.Valid()
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
