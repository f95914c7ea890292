// Package main is the entry point for the Tradewinds trading platform. It
// wires the data plane, signal generation, dispatch, execution and
// monitoring together and serves the HTTP API.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/bus"
	"github.com/aristath/tradewinds/internal/cache"
	"github.com/aristath/tradewinds/internal/config"
	"github.com/aristath/tradewinds/internal/database"
	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/dispatcher"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/executor"
	"github.com/aristath/tradewinds/internal/notify"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
	"github.com/aristath/tradewinds/internal/reliability"
	"github.com/aristath/tradewinds/internal/server"
	"github.com/aristath/tradewinds/internal/signalgen"
	"github.com/aristath/tradewinds/internal/tasks"
	"github.com/aristath/tradewinds/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Storage.
	db, err := database.New(ctx, database.Config{URL: cfg.DatabaseURL}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	rdb, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr, DB: cfg.RedisDB}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories.
	pipes := pipeline.NewRepository(db, log)
	execs := pipeline.NewExecutionRepository(db, log)
	users := pipeline.NewUserRepository(db, log)
	candles := database.NewCandleRepository(db, log)

	// Data plane.
	tiingo := dataplane.NewTiingoClient(cfg.TiingoAPIKey, log)
	alphavantage := dataplane.NewAlphaVantageClient(cfg.AlphaVantageAPIKey, log)
	data := dataplane.NewService(tiingo, alphavantage, rdb, candles, cfg.WorkerCount, log)
	prefetcher := dataplane.NewPrefetcher(data, rdb, candles, pipes, cfg.Prefetch, log)

	// Event surface.
	eventBus := events.NewBus(log)
	eventManager := events.NewManager(eventBus, log)
	telegram := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)

	// Signal pipeline: detectors publish to the log, the dispatcher
	// consumes and fans out to execution jobs.
	producer, err := bus.NewProducer(cfg.KafkaBrokers, cfg.SignalsTopic, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create signal producer")
	}
	defer producer.Close()
	generator := signalgen.NewGenerator(signalgen.DefaultDetectors(), data, rdb, producer, log)

	jobs := queue.NewManager(log)
	pipeCache := dispatcher.NewPipelineCache(pipes, log)
	disp := dispatcher.NewDispatcher(pipeCache, rdb, jobs, log)

	consumer, err := bus.NewConsumer(cfg.KafkaBrokers, "tradewinds-dispatcher", cfg.SignalsTopic, disp.HandleSignal, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create signal consumer")
	}

	// Execution.
	brokers := broker.NewFactory(broker.Credentials{
		AlpacaAPIKey:    cfg.AlpacaAPIKey,
		AlpacaAPISecret: cfg.AlpacaAPISecret,
		OandaAPIKey:     cfg.OandaAPIKey,
		TradierAPIKey:   cfg.TradierAPIKey,
	}, log)
	hours := broker.NewMarketHoursChecker()

	exec := executor.New(pipes, execs, users, data, brokers, hours, eventManager, telegram, log)
	monitor := tasks.NewMonitorTask(execs, pipes, brokers, hours, jobs, eventManager, telegram, log)
	reconcile := tasks.NewReconcileTask(execs, pipes, users, brokers, jobs, eventManager, log)

	var archiver *reliability.Archiver
	if cfg.ArchiveEnabled {
		client, err := reliability.NewArchiveClient(ctx,
			cfg.ArchiveEndpoint, cfg.ArchiveRegion,
			cfg.ArchiveAccessKey, cfg.ArchiveSecretKey,
			cfg.ArchiveBucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive client")
		}
		archiver = reliability.NewArchiver(client, execs, log)
	}
	maintenance := reliability.NewMaintenanceJob(db, candles, log)
	scheduler := tasks.NewScheduler(pipes, execs, users, jobs, reconcile, prefetcher, archiver, maintenance, log)

	jobs.RegisterHandler(queue.JobTypePipelineExecution, exec.HandleJob)
	jobs.RegisterHandler(queue.JobTypeMonitorCheck, monitor.HandleJob)
	scheduler.Register()

	// Start order: workers first so nothing enqueues into a dead queue,
	// then the loops that produce work.
	jobs.Start(ctx, cfg.WorkerCount)
	pipeCache.Start(ctx)
	prefetcher.Start(ctx)
	generator.Start(ctx)
	consumer.Start(ctx)
	monitor.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	srv := server.New(server.Config{
		Log:      log,
		Cfg:      cfg,
		DB:       db,
		Cache:    rdb,
		Bus:      eventBus,
		Queue:    jobs,
		Data:     data,
		Pipes:    pipes,
		Execs:    execs,
		Executor: exec,
	})

	log.Info().Msg("Tradewinds started")
	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
	}

	// Shutdown: stop producing new work, then drain.
	log.Info().Msg("Shutting down")
	scheduler.Stop()
	monitor.Stop()
	consumer.Stop()
	generator.Stop()
	prefetcher.Stop()
	pipeCache.Stop()
	disp.Stop()
	jobs.Stop()
	log.Info().Msg("Shutdown complete")
}
