package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownCategory возвращается при разборе строки вне закрытого набора рубрик.
var ErrUnknownCategory = errors.New("неизвестная рубрика")

// Category задаёт закрытый набор рубрик контента.
type Category string

const (
	CategoryNewsletters  Category = "newsletters"
	CategoryPodcasts     Category = "podcasts"
	CategoryTechArticles Category = "tech_articles"
	CategoryAINews       Category = "ai_news"
	CategoryProductNews  Category = "product_news"
	CategoryCommunity    Category = "community"
	CategoryResearch     Category = "research"
)

// AllCategories возвращает все рубрики в каноническом порядке.
func AllCategories() []Category {
	return []Category{
		CategoryNewsletters,
		CategoryPodcasts,
		CategoryTechArticles,
		CategoryAINews,
		CategoryProductNews,
		CategoryCommunity,
		CategoryResearch,
	}
}

// ParseCategory проверяет, что строка принадлежит закрытому набору рубрик.
func ParseCategory(raw string) (Category, error) {
	for _, c := range AllCategories() {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
}

// RawItem представляет запись источника до нормализации.
type RawItem struct {
	NativeID    string
	Title       string
	URL         string
	Origin      string
	Author      string
	PublishedAt time.Time
	Summary     string
	Folders     []string
	RawJSON     []byte
}

// FeedItem представляет нормализованную запись ленты.
type FeedItem struct {
	ID          string
	Title       string
	URL         string
	Source      string
	Author      string
	PublishedAt time.Time
	Summary     string
	Category    Category
	// Folders содержит метки источника, используется при категоризации
	// и не хранится отдельно от RawJSON.
	Folders   []string
	FullText  string
	RawJSON   []byte
	CreatedAt time.Time
}

// ItemScore содержит оценки записи за один прогон скоринга.
type ItemScore struct {
	ItemID     string
	Lexical    float64
	Relevance  int
	Usefulness int
	Recency    float64
	Final      float64
	Reasoning  string
	Tags       []string
	ScoredAt   time.Time
}

// Judgment содержит ответ оракула оценки.
type Judgment struct {
	Relevance  int
	Usefulness int
	Tags       []string
}

// SyncStatus описывает состояние задачи синхронизации.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncRunning   SyncStatus = "running"
	SyncPaused    SyncStatus = "paused"
	SyncCompleted SyncStatus = "completed"
)

// SyncCheckpoint хранит прогресс именованной задачи синхронизации.
type SyncCheckpoint struct {
	JobName        string
	Status         SyncStatus
	Cursor         *string
	ItemsProcessed int
	CallsUsed      int
	LastError      *string
	UpdatedAt      time.Time
}

// SyncOptions задаёт параметры одного запуска синхронизации.
type SyncOptions struct {
	LookbackDays int
	MaxItems     int
}

// SyncResult возвращается вызывающему по завершении запуска.
type SyncResult struct {
	Success             bool       `json:"success"`
	ItemsAdded          int        `json:"items_added"`
	CallsUsed           int        `json:"calls_used"`
	CategoriesProcessed []Category `json:"categories_processed"`
	Paused              bool       `json:"paused"`
	Error               string     `json:"error,omitempty"`
}

// ScoredItem объединяет запись и её оценку.
type ScoredItem struct {
	Item  FeedItem
	Score ItemScore
}

// DiversitySelection содержит итоговую выборку и причины решений.
type DiversitySelection struct {
	Items   []ScoredItem
	Reasons map[string]string
}
