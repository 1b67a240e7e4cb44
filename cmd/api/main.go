package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feed-curator/internal/adapters/judge"
	"feed-curator/internal/adapters/repo"
	"feed-curator/internal/adapters/source"
	"feed-curator/internal/domain"
	"feed-curator/internal/infra/cache"
	"feed-curator/internal/infra/config"
	"feed-curator/internal/infra/db"
	httpinfra "feed-curator/internal/infra/http"
	applog "feed-curator/internal/infra/log"
	"feed-curator/internal/infra/metrics"
	"feed-curator/internal/infra/openai"
	"feed-curator/internal/infra/queue"
	"feed-curator/internal/usecase/budget"
	"feed-curator/internal/usecase/curate"
	"feed-curator/internal/usecase/ingest"
	"feed-curator/internal/usecase/rank"
	syncusecase "feed-curator/internal/usecase/sync"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
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

	judgeAdapter := buildJudge(cfg, redisCache, logger)
	scorer := rank.NewScorer(
		judgeAdapter,
		rank.Weights{Lexical: cfg.Score.WeightLexical, LLM: cfg.Score.WeightLLM, Recency: cfg.Score.WeightRecency},
		cfg.Score.HalfLifeHours,
		cfg.Score.LLMScaleMax,
		splitKeywords(cfg.Score.QueryKeywords),
		logger.With().Str("component", "scorer").Logger(),
	)
	curateService := curate.NewService(repoAdapter, scorer, cfg.Select.MaxPerSource, logger.With().Str("component", "curate").Logger())

	normalizer := ingest.NewNormalizer(logger.With().Str("component", "normalize").Logger())
	categorizer := ingest.NewCategorizer(ingest.DefaultFolderMap(), domain.CategoryTechArticles)
	syncService := syncusecase.NewService(
		sourceClient, repoAdapter, repoAdapter, tracker, normalizer, categorizer,
		redisCache, cfg.Sync.LockTTL,
		domain.SyncOptions{LookbackDays: cfg.Sync.LookbackDays, MaxItems: cfg.Sync.MaxItems},
		logger.With().Str("component", "sync").Logger(),
	)

	syncQueue, err := buildQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь")
	}

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())

	server.Router.Post("/api/v1/sync/{job}", func(w http.ResponseWriter, r *http.Request) {
		jobName := chi.URLParam(r, "job")
		job := domain.SyncJob{
			ID:           uuid.NewString(),
			JobName:      jobName,
			LookbackDays: queryInt(r, "lookback_days"),
			MaxItems:     queryInt(r, "max_items"),
			RequestedAt:  time.Now().UTC(),
			Cause:        domain.SyncCauseManual,
		}
		if err := syncQueue.Enqueue(r.Context(), job); err != nil {
			logger.Error().Err(err).Str("job", jobName).Msg("api: постановка задачи")
			writeError(w, http.StatusInternalServerError, "failed to enqueue sync job")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": "queued"})
	})

	server.Router.Post("/api/v1/sync/{job}/run", func(w http.ResponseWriter, r *http.Request) {
		jobName := chi.URLParam(r, "job")
		opts := domain.SyncOptions{
			LookbackDays: queryInt(r, "lookback_days"),
			MaxItems:     queryInt(r, "max_items"),
		}
		result, err := syncService.RunSync(r.Context(), jobName, opts)
		if errors.Is(err, syncusecase.ErrSyncAlreadyRunning) {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("job", jobName).Msg("api: синхронизация завершилась ошибкой")
			writeJSON(w, http.StatusInternalServerError, result)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	server.Router.Get("/api/v1/sync/{job}", func(w http.ResponseWriter, r *http.Request) {
		cp, err := syncService.GetSyncStatus(r.Context(), chi.URLParam(r, "job"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load sync status")
			return
		}
		writeJSON(w, http.StatusOK, checkpointResponse(cp))
	})

	server.Router.Get("/api/v1/selection", func(w http.ResponseWriter, r *http.Request) {
		category, err := domain.ParseCategory(r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		windowDays := queryInt(r, "window_days")
		if windowDays <= 0 {
			windowDays = cfg.Select.WindowDays
		}
		count := queryInt(r, "count")
		if count <= 0 {
			count = cfg.Select.TargetCount
		}
		selection, err := curateService.BuildSelection(r.Context(), category, windowDays, count)
		if err != nil {
			logger.Error().Err(err).Str("category", string(category)).Msg("api: построение выборки")
			writeError(w, http.StatusInternalServerError, "failed to build selection")
			return
		}
		writeJSON(w, http.StatusOK, selectionResponse(selection))
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: сервер остановился с ошибкой")
	}
}

func buildJudge(cfg config.AppConfig, redisCache domain.Cache, logger zerolog.Logger) domain.Judge {
	if cfg.OpenAI.APIKey == "" {
		logger.Warn().Msg("ключ OpenAI не задан, используется эвристический оракул")
		return judge.NewSimple(cfg.Score.LLMScaleMax)
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	return judge.NewLLM(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout, cfg.Score.LLMScaleMax, redisCache, cfg.Score.JudgeCacheTTL, logger.With().Str("component", "judge").Logger())
}

func buildQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.SyncQueue, error) {
	if cfg.Queues.Driver == "rabbitmq" {
		return queue.NewRabbitSyncQueue(cfg.Queues.RabbitURL, cfg.Queues.Sync)
	}
	return queue.NewRedisSyncQueue(redisClient, cfg.Queues.Sync), nil
}

func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func checkpointResponse(cp domain.SyncCheckpoint) map[string]any {
	resp := map[string]any{
		"job_name":        cp.JobName,
		"status":          string(cp.Status),
		"items_processed": cp.ItemsProcessed,
		"calls_used":      cp.CallsUsed,
		"last_updated_at": cp.UpdatedAt,
	}
	if cp.Cursor != nil {
		resp["continuation_token"] = *cp.Cursor
	}
	if cp.LastError != nil {
		resp["error"] = *cp.LastError
	}
	return resp
}

func selectionResponse(selection domain.DiversitySelection) map[string]any {
	items := make([]map[string]any, 0, len(selection.Items))
	for _, si := range selection.Items {
		items = append(items, map[string]any{
			"id":           si.Item.ID,
			"title":        si.Item.Title,
			"url":          si.Item.URL,
			"source":       si.Item.Source,
			"category":     string(si.Item.Category),
			"published_at": si.Item.PublishedAt,
			"final_score":  si.Score.Final,
			"tags":         si.Score.Tags,
			"reasoning":    si.Score.Reasoning,
		})
	}
	return map[string]any{"items": items, "reasons": selection.Reasons}
}
