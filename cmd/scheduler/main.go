package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/cache"
	"feed-curator/internal/infra/config"
	applog "feed-curator/internal/infra/log"
	"feed-curator/internal/infra/queue"
)

const dailyJobName = "daily"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	var syncQueue domain.SyncQueue
	if cfg.Queues.Driver == "rabbitmq" {
		rabbit, err := queue.NewRabbitSyncQueue(cfg.Queues.RabbitURL, cfg.Queues.Sync)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось подключиться к RabbitMQ")
		}
		defer rabbit.Close()
		syncQueue = rabbit
	} else {
		syncQueue = queue.NewRedisSyncQueue(redisClient, cfg.Queues.Sync)
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	logger.Info().Msg("scheduler: запущен")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановлен")
			return
		case <-ticker.C:
		}

		// Одна постановка задачи на календарный день, дубликаты гасятся ключом.
		day := time.Now().UTC().Format("2006-01-02")
		acquired, err := redisCache.TryLock(ctx, "sync_schedule:"+day, 48*time.Hour)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка захвата расписания")
			continue
		}
		if !acquired {
			continue
		}

		job := domain.SyncJob{
			ID:           uuid.NewString(),
			JobName:      dailyJobName,
			LookbackDays: cfg.Sync.LookbackDays,
			MaxItems:     cfg.Sync.MaxItems,
			RequestedAt:  time.Now().UTC(),
			Cause:        domain.SyncCauseScheduled,
		}
		if err := syncQueue.Enqueue(ctx, job); err != nil {
			logger.Error().Err(err).Str("job", job.JobName).Msg("scheduler: не удалось поставить задачу")
			// Снимаем ключ, чтобы следующий тик повторил постановку.
			_ = redisCache.Unlock(ctx, "sync_schedule:"+day)
			continue
		}
		logger.Info().Str("job_id", job.ID).Str("day", day).Msg("scheduler: задача синхронизации поставлена")
	}
}
