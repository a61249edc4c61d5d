package main

import (
	"context"
	"log"
	"os"

	"school-copilot/internal/app"
	"school-copilot/internal/config"
	"school-copilot/internal/logger"
	"school-copilot/internal/queue"

	"github.com/hibiken/asynq"
)

const concurrency = 4

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		logger.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueIndexing: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	queue.NewTaskProcessor(a.Indexer).Register(mux)

	logger.Info("Starting indexing worker", "concurrency", concurrency, "queue", queue.QueueIndexing)

	// Run blocks until SIGTERM or SIGINT
	if err := server.Run(mux); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}
