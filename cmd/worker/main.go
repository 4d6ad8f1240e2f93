package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"aihub/internal/ai"
	"aihub/internal/config"
	"aihub/internal/database"
	"aihub/internal/metrics"
	"aihub/internal/storage"
	"aihub/internal/tasks"
	"aihub/internal/worker"
)

// 每天早上 6 点（UTC）跑一轮全量习惯分析。
const habitAnalyzeCron = "0 6 * * *"

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}

	asynqClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	gateway := ai.NewClient(cfg.AI)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"default": 6,
			"pdf":     4,
		},
	})

	insightHandler := worker.NewInsightTaskHandler(db, gateway, redisClient, logger)
	coverLetterHandler := worker.NewCoverLetterTaskHandler(db, storageClient, redisClient, logger)
	dispatchHandler := worker.NewDispatchHandler(db, asynqClient, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeHabitAnalyze, insightHandler)
	mux.Handle(tasks.TypeHabitAnalyzeAll, dispatchHandler)
	mux.Handle(tasks.TypeCoverLetterPDF, coverLetterHandler)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register(habitAnalyzeCron, tasks.NewHabitAnalyzeAllTask()); err != nil {
		log.Fatalf("register habit analysis schedule: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
