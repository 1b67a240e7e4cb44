package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SyncPagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_pages_fetched_total",
		Help: "Количество выгруженных страниц источника",
	}, []string{"job"})

	SyncItemsAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_added_total",
		Help: "Количество новых записей после дедупликации",
	}, []string{"job"})

	SyncItemsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_items_skipped_total",
		Help: "Записи, пропущенные при нормализации",
	})

	SyncRunsPaused = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_paused_total",
		Help: "Количество приостановленных запусков синхронизации",
	}, []string{"job", "reason"})

	BudgetCallsUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "budget_calls_used",
		Help: "Использованные вызовы квоты за текущий период",
	})

	SelectionBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "selection_build_seconds",
		Help:    "Время построения ранжированной выборки",
		Buckets: prometheus.DefBuckets,
	})

	EnrichFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrich_failures_total",
		Help: "Ошибки обогащения полного текста",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMJudgeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_judge_duration_seconds",
		Help:    "Длительность оценки записи оракулом",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMJudgeFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "llm_judge_fallbacks_total",
		Help: "Количество оценок, заменённых нейтральным значением",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncPagesFetched,
		SyncItemsAdded,
		SyncItemsSkipped,
		SyncRunsPaused,
		BudgetCallsUsed,
		SelectionBuildSeconds,
		EnrichFailures,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMJudgeDuration,
		LLMJudgeFallbacks,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
