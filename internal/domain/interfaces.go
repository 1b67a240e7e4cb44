package domain

import (
	"context"
	"time"
)

// Source выгружает страницы записей внешнего агрегатора.
// nextCursor равен nil, когда страниц больше нет.
type Source interface {
	FetchPage(ctx context.Context, cursor *string, since time.Time) (items []RawItem, nextCursor *string, err error)
}

// Judge оценивает релевантность и полезность текста записи.
type Judge interface {
	Judge(ctx context.Context, text string) (Judgment, error)
}

// BudgetTracker ограничивает количество внешних вызовов за период.
type BudgetTracker interface {
	// TryReserve возвращает, сколько из n слотов доступно прямо сейчас.
	// Ноль означает исчерпанную квоту, это не ошибка.
	TryReserve(n int) int
	// RecordUsed фиксирует фактическое использование слотов.
	RecordUsed(n int)
}

// ItemRepo управляет записями ленты и их оценками.
type ItemRepo interface {
	// UpsertItems сохраняет записи по стабильному идентификатору
	// и возвращает число действительно новых строк.
	UpsertItems(ctx context.Context, items []FeedItem) (int, error)
	ListByCategory(ctx context.Context, category Category, since time.Time) ([]FeedItem, error)
	SaveScores(ctx context.Context, scores []ItemScore) error
	LoadScores(ctx context.Context, itemIDs []string) (map[string]ItemScore, error)
	ListMissingFullText(ctx context.Context, limit int) ([]FeedItem, error)
	SaveFullText(ctx context.Context, itemID, fullText string) error
}

// CheckpointRepo хранит прогресс именованных задач синхронизации.
type CheckpointRepo interface {
	// GetCheckpoint возвращает чекпоинт и признак его существования.
	GetCheckpoint(ctx context.Context, jobName string) (SyncCheckpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp SyncCheckpoint) error
}

// Locker обеспечивает дисциплину одного писателя на имя задачи.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
