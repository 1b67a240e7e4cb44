package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feed-curator/internal/adapters/repo"
	"feed-curator/internal/adapters/source"
	"feed-curator/internal/domain"
	"feed-curator/internal/infra/cache"
	"feed-curator/internal/infra/config"
	"feed-curator/internal/infra/db"
	applog "feed-curator/internal/infra/log"
	"feed-curator/internal/infra/metrics"
	"feed-curator/internal/infra/queue"
	"feed-curator/internal/usecase/budget"
	"feed-curator/internal/usecase/enrich"
	"feed-curator/internal/usecase/ingest"
	syncusecase "feed-curator/internal/usecase/sync"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	repoAdapter := repo.NewPostgres(pool)
	tracker := budget.NewTracker(cfg.Budget.DailyCeiling)

	sourceClient := source.NewClient(source.Config{
		BaseURL:  cfg.Source.BaseURL,
		Token:    cfg.Source.Token,
		StreamID: cfg.Source.StreamID,
		PageSize: cfg.Source.PageSize,
		Timeout:  cfg.Source.Timeout,
		Retries:  cfg.Source.Retries,
	}, logger.With().Str("component", "source").Logger())

	normalizer := ingest.NewNormalizer(logger.With().Str("component", "normalize").Logger())
	categorizer := ingest.NewCategorizer(ingest.DefaultFolderMap(), domain.CategoryTechArticles)
	syncService := syncusecase.NewService(
		sourceClient, repoAdapter, repoAdapter, tracker, normalizer, categorizer,
		redisCache, cfg.Sync.LockTTL,
		domain.SyncOptions{LookbackDays: cfg.Sync.LookbackDays, MaxItems: cfg.Sync.MaxItems},
		logger.With().Str("component", "sync").Logger(),
	)

	enrichPool := enrich.NewPool(
		repoAdapter,
		cfg.Enrich.Workers,
		cfg.Enrich.DomainInterval,
		cfg.Enrich.BatchLimit,
		cfg.Enrich.Timeout,
		logger.With().Str("component", "enrich").Logger(),
	)

	var syncQueue domain.SyncQueue
	if cfg.Queues.Driver == "rabbitmq" {
		rabbit, err := queue.NewRabbitSyncQueue(cfg.Queues.RabbitURL, cfg.Queues.Sync)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось подключиться к RabbitMQ")
		}
		defer rabbit.Close()
		syncQueue = rabbit
	} else {
		syncQueue = queue.NewRedisSyncQueue(redisClient, cfg.Queues.Sync)
	}

	worker := &jobWorker{
		log:     logger.With().Str("component", "worker").Logger(),
		queue:   syncQueue,
		service: syncService,
		enrich:  enrichPool,
	}

	logger.Info().Msg("worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type jobWorker struct {
	log     zerolog.Logger
	queue   domain.SyncQueue
	service *syncusecase.Service
	enrich  *enrich.Pool
}

// Run последовательно обрабатывает задачи очереди до отмены контекста.
func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			continue
		}

		opts := domain.SyncOptions{LookbackDays: job.LookbackDays, MaxItems: job.MaxItems}
		result, err := w.service.RunSync(ctx, job.JobName, opts)
		switch {
		case errors.Is(err, syncusecase.ErrSyncAlreadyRunning):
			w.log.Warn().Str("job", job.JobName).Msg("worker: задача уже выполняется, пропуск")
			continue
		case err != nil:
			w.log.Error().Err(err).Str("job", job.JobName).Msg("worker: синхронизация завершилась ошибкой")
			continue
		}
		w.log.Info().
			Str("job", job.JobName).
			Str("cause", string(job.Cause)).
			Int("items_added", result.ItemsAdded).
			Int("calls_used", result.CallsUsed).
			Bool("paused", result.Paused).
			Msg("worker: синхронизация обработана")

		enriched, err := w.enrich.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Msg("worker: ошибка обогащения")
			continue
		}
		if enriched > 0 {
			w.log.Info().Int("enriched", enriched).Msg("worker: записи обогащены полным текстом")
		}
	}
}
