package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/maintkg/backend/internal/config"
	"github.com/OFFIS-RIT/maintkg/backend/internal/metrics"
	"github.com/OFFIS-RIT/maintkg/backend/internal/queue"
	"github.com/OFFIS-RIT/maintkg/backend/internal/storage"
	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"
	s3loader "github.com/OFFIS-RIT/maintkg/backend/pkg/loader/s3"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Level:  util.GetEnv("LOG_LEVEL"),
		Format: util.GetEnv("LOG_FORMAT"),
	})
	logger.Init(consoleLogger)

	// engine
	cfg, err := config.FromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to configure engine", "err", err)
	}
	eng := engine.New(cfg)
	defer eng.Close()
	if err := eng.Restore(ctx); err != nil {
		logger.Fatal("Failed to restore graph", "err", err)
	}
	metrics.SetVersion(eng.Version())

	// Init s3 client
	client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create s3 client", "err", err)
	}
	bucket := storage.Bucket()

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	processor := &queue.Processor{
		Engine:    eng,
		Source:    s3loader.NewObjectSourceWithClient(bucket, client),
		MaxTokens: int(util.GetEnvNumeric("SEGMENT_MAX_TOKENS", 0)),
		OnRemoved: func(ctx context.Context, documentID string) error {
			return storage.DeleteFolder(ctx, client, bucket, storage.DocumentPrefix(documentID))
		},
	}

	logger.Info("Listening for messages", "queues", queue.Queues)
	err = queue.Consume(ctx, conn, queue.Queues, func(ctx context.Context, queueName string, body []byte) error {
		err := processor.Handle(ctx, queueName, body)
		metrics.SetVersion(eng.Version())
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
