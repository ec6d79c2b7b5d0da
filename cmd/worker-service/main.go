package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/media-pipeline/internal/bootstrap"
	"github.com/cuongbtq/media-pipeline/internal/config"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/processing"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/sweeper"
	"github.com/cuongbtq/media-pipeline/internal/worker"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	dbClient, store, err := bootstrap.OpenStore(context.Background(), &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	processingClient := processing.NewClient(processing.Config{
		BaseURL: cfg.Processing.BaseURL,
		APIKey:  cfg.Processing.APIKey,
		Timeout: cfg.Processing.Timeout,
	}, appLogger.Logger)
	defer processingClient.Close()

	jobQueue := queue.New(store, rabbitClient, appLogger.Logger, queue.WithDedupe(cfg.Pipeline.DedupeEnabled()))

	deps := pipeline.Deps{
		Queue:    jobQueue,
		Store:    store,
		Service:  processingClient,
		Retry:    bootstrap.RetryPolicy(&cfg.Pipeline.Retry),
		WorkerID: workerID,
		Logger:   appLogger.Logger,
	}

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:   appLogger.Logger,
		Consumer: rabbitClient,
		Queue:    jobQueue,
		Processors: []pipeline.Processor{
			pipeline.NewTranscriptionProcessor(deps),
			pipeline.NewDubbingProcessor(deps, cfg.Pipeline.DisclosureLabel),
		},
		WorkerID:          workerID,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		RequeueDelay:      cfg.Worker.RequeueDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	var sweep *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		sweep, err = sweeper.New(jobQueue, bootstrap.SweeperConfig(&cfg.Sweeper), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to create sweeper: %w", err)
		}
		sweep.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if sweep != nil {
		sweep.Stop(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}
