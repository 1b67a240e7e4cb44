package config

import (
	"log"
	"math"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Source struct {
		BaseURL  string        `envconfig:"SOURCE_BASE_URL"`
		Token    string        `envconfig:"SOURCE_TOKEN"`
		StreamID string        `envconfig:"SOURCE_STREAM_ID"`
		PageSize int           `envconfig:"SOURCE_PAGE_SIZE" default:"250"`
		Timeout  time.Duration `envconfig:"SOURCE_TIMEOUT" default:"30s"`
		Retries  int           `envconfig:"SOURCE_RETRIES" default:"3"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"45s"`
	} `envconfig:""`

	Budget struct {
		DailyCeiling int `envconfig:"BUDGET_DAILY_CEILING" default:"95"`
	} `envconfig:""`

	Score struct {
		WeightLexical float64       `envconfig:"SCORE_WEIGHT_LEXICAL" default:"0.3"`
		WeightLLM     float64       `envconfig:"SCORE_WEIGHT_LLM" default:"0.45"`
		WeightRecency float64       `envconfig:"SCORE_WEIGHT_RECENCY" default:"0.25"`
		HalfLifeHours float64       `envconfig:"RECENCY_HALF_LIFE_HOURS" default:"48"`
		LLMScaleMax   int           `envconfig:"LLM_SCALE_MAX" default:"10"`
		QueryKeywords string        `envconfig:"SCORE_QUERY_KEYWORDS" default:"engineering,architecture,llm,infrastructure,performance"`
		JudgeCacheTTL time.Duration `envconfig:"JUDGE_CACHE_TTL" default:"168h"`
	} `envconfig:""`

	Select struct {
		TargetCount  int `envconfig:"SELECT_TARGET_COUNT" default:"15"`
		MaxPerSource int `envconfig:"SELECT_MAX_PER_SOURCE" default:"2"`
		WindowDays   int `envconfig:"SELECT_WINDOW_DAYS" default:"7"`
	} `envconfig:""`

	Sync struct {
		LookbackDays int           `envconfig:"SYNC_LOOKBACK_DAYS" default:"2"`
		MaxItems     int           `envconfig:"SYNC_MAX_ITEMS" default:"5000"`
		LockTTL      time.Duration `envconfig:"SYNC_LOCK_TTL" default:"30m"`
	} `envconfig:""`

	Enrich struct {
		Workers        int           `envconfig:"ENRICH_WORKERS" default:"4"`
		DomainInterval time.Duration `envconfig:"ENRICH_DOMAIN_INTERVAL" default:"2s"`
		BatchLimit     int           `envconfig:"ENRICH_BATCH_LIMIT" default:"100"`
		Timeout        time.Duration `envconfig:"ENRICH_TIMEOUT" default:"20s"`
	} `envconfig:""`

	Queues struct {
		Driver    string `envconfig:"QUEUE_DRIVER" default:"redis"`
		Sync      string `envconfig:"SYNC_QUEUE_KEY" default:"sync_jobs"`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	sum := cfg.Score.WeightLexical + cfg.Score.WeightLLM + cfg.Score.WeightRecency
	if math.Abs(sum-1) > 1e-6 {
		log.Fatalf("веса скоринга должны давать в сумме 1, получили %.4f", sum)
	}
	return cfg
}
