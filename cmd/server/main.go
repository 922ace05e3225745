package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/internal/config"
	"github.com/OFFIS-RIT/maintkg/backend/internal/metrics"
	"github.com/OFFIS-RIT/maintkg/backend/internal/queue"
	"github.com/OFFIS-RIT/maintkg/backend/internal/server"
	"github.com/OFFIS-RIT/maintkg/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/maintkg/backend/internal/storage"
	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Level:  util.GetEnv("LOG_LEVEL"),
		Format: util.GetEnv("LOG_FORMAT"),
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	app := &middleware.App{
		Engine: eng,
		Async:  util.GetEnvBool("INGEST_ASYNC", false),
	}

	if app.Async {
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

		s3, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create s3 client", "err", err)
		}
		app.Queue = ch
		app.S3 = s3
		app.Bucket = storage.Bucket()

		// the worker commits, the server follows the shared journal
		go eng.Follow(ctx, util.GetEnvDuration("SYNC_INTERVAL", 2*time.Second), metrics.SetVersion)
	}

	if err := server.Run(ctx, app); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
