package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"file-processing-pipeline/internal/analysis"
	"file-processing-pipeline/internal/blob"
	"file-processing-pipeline/internal/config"
	"file-processing-pipeline/internal/events"
	"file-processing-pipeline/internal/queue"
	"file-processing-pipeline/internal/records"
	"file-processing-pipeline/internal/telemetry"
	"file-processing-pipeline/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := initLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	recs, err := records.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer recs.Close()

	if err := recs.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	q := queue.NewRedisQueue(client, queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout,
		Retention:         cfg.JobRetention,
	})

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init blob store")
	}

	var analyzer analysis.Analyzer
	if cfg.AnalysisAPIURL != "" {
		analyzer = analysis.NewVisionClient(cfg.AnalysisAPIURL, 30*time.Second)
	}

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, lifecycle events disabled")
		} else {
			defer publisher.Close()
		}
	}

	handlers := worker.Handlers{
		Thumbnail: worker.NewThumbnailHandler(blobs, recs, logger),
		Metadata:  worker.NewMetadataHandler(blobs, recs, analysis.MediaExtractor{}, logger),
		Analysis:  worker.NewAnalysisHandler(blobs, recs, analyzer, logger),
	}

	pool := worker.New(q, handlers, worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
	}, logger, publisher)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Dur("visibility", cfg.VisibilityTimeout).
		Str("blob_backend", cfg.BlobBackend).
		Msg("worker started")

	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("worker stopped")
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.BlobBackend == "s3" {
		return blob.NewS3Store(ctx, blob.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	}
	return blob.NewLocalStore(cfg.BlobLocalDir)
}

func initLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log.With().Str("service", "pipeline-worker").Logger()
}
