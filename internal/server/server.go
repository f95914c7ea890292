// Package server provides the HTTP API and event streaming surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/cache"
	"github.com/aristath/tradewinds/internal/config"
	"github.com/aristath/tradewinds/internal/database"
	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/executor"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
)

// Config holds everything the server needs.
type Config struct {
	Log      zerolog.Logger
	Cfg      *config.Config
	DB       *database.DB
	Cache    *cache.Cache
	Bus      *events.Bus
	Queue    *queue.Manager
	Data     *dataplane.Service
	Pipes    *pipeline.Repository
	Execs    *pipeline.ExecutionRepository
	Executor *executor.Executor
}

// Server is the HTTP front of the platform.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	cfg      *config.Config
	db       *database.DB
	cache    *cache.Cache
	bus      *events.Bus
	queue    *queue.Manager
	data     *dataplane.Service
	pipes    *pipeline.Repository
	execs    *pipeline.ExecutionRepository
	executor *executor.Executor
	system   *SystemHandlers
	stream   *EventsStreamHandler
	ws       *WebsocketHandler
}

// New creates the HTTP server.
func New(c Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      c.Log.With().Str("component", "server").Logger(),
		cfg:      c.Cfg,
		db:       c.DB,
		cache:    c.Cache,
		bus:      c.Bus,
		queue:    c.Queue,
		data:     c.Data,
		pipes:    c.Pipes,
		execs:    c.Execs,
		executor: c.Executor,
	}
	s.system = NewSystemHandlers(c.DB, c.Cache, c.Queue, c.Log)
	s.stream = NewEventsStreamHandler(c.Bus, c.Log)
	s.ws = NewWebsocketHandler(c.Bus, c.Log)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.cfg.DevMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.system.HandleStatus)

		r.Get("/events/stream", s.stream.ServeHTTP)
		r.Get("/events/ws", s.ws.ServeHTTP)

		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", s.handleListPipelines)
			r.Get("/{id}", s.handleGetPipeline)
			r.Get("/{id}/executions", s.handlePipelineExecutions)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/{id}", s.handleGetExecution)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
		})

		r.Get("/users/{id}/executions", s.handleUserExecutions)

		r.Route("/market", func(r chi.Router) {
			r.Get("/quote/{ticker}", s.handleQuote)
			r.Get("/candles/{ticker}", s.handleCandles)
			r.Get("/indicators/{ticker}", s.handleIndicators)
		})
	})
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own lifetime
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
