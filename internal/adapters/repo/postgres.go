package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.ItemRepo = (*Postgres)(nil)
var _ domain.CheckpointRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertItems сохраняет записи по стабильному идентификатору.
// Возвращает количество действительно новых строк: конфликт по id
// обновляет изменяемые поля, но не считается добавлением.
func (p *Postgres) UpsertItems(ctx context.Context, items []domain.FeedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "feed_items", start, err)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	added := 0
	for _, item := range items {
		var inserted bool
		start = time.Now()
		err := tx.QueryRow(ctx, `
INSERT INTO feed_items (id, title, url, source, author, published_at, summary, category, raw_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, url = EXCLUDED.url, author = EXCLUDED.author, summary = EXCLUDED.summary, category = EXCLUDED.category, raw_json = EXCLUDED.raw_json
RETURNING (xmax = 0) AS inserted
`, item.ID, item.Title, item.URL, item.Source, item.Author, item.PublishedAt, item.Summary, string(item.Category), item.RawJSON).Scan(&inserted)
		metrics.ObserveNetworkRequest("postgres", "feed_items_upsert", "feed_items", start, err)
		if err != nil {
			return 0, fmt.Errorf("upsert записи %s: %w", item.ID, err)
		}
		if inserted {
			added++
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "feed_items", start, err)
	if err != nil {
		return 0, err
	}
	return added, nil
}

// ListByCategory возвращает записи рубрики, опубликованные не раньше since.
func (p *Postgres) ListByCategory(ctx context.Context, category domain.Category, since time.Time) ([]domain.FeedItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, url, source, author, published_at, summary, category, COALESCE(full_text, ''), raw_json, created_at
FROM feed_items
WHERE category = $1 AND published_at >= $2
ORDER BY published_at DESC
`, string(category), since)
	metrics.ObserveNetworkRequest("postgres", "feed_items_by_category", "feed_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListMissingFullText возвращает записи без полного текста для обогащения.
func (p *Postgres) ListMissingFullText(ctx context.Context, limit int) ([]domain.FeedItem, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, url, source, author, published_at, summary, category, COALESCE(full_text, ''), raw_json, created_at
FROM feed_items
WHERE full_text IS NULL AND url <> ''
ORDER BY published_at DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "feed_items_missing_full_text", "feed_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// SaveFullText записывает обогащённый полный текст записи.
func (p *Postgres) SaveFullText(ctx context.Context, itemID, fullText string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE feed_items SET full_text = $2 WHERE id = $1`, itemID, fullText)
	metrics.ObserveNetworkRequest("postgres", "feed_items_save_full_text", "feed_items", start, err)
	return err
}

func scanItems(rows pgx.Rows) ([]domain.FeedItem, error) {
	var items []domain.FeedItem
	for rows.Next() {
		var (
			item     domain.FeedItem
			category string
			author   sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &item.Source, &author, &item.PublishedAt, &item.Summary, &category, &item.FullText, &item.RawJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		if author.Valid {
			item.Author = author.String
		}
		parsed, err := domain.ParseCategory(category)
		if err != nil {
			return nil, fmt.Errorf("запись %s: %w", item.ID, err)
		}
		item.Category = parsed
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveScores сохраняет оценки записей, последний прогон перезаписывает предыдущий.
func (p *Postgres) SaveScores(ctx context.Context, scores []domain.ItemScore) error {
	if len(scores) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "item_scores", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, score := range scores {
		tags, err := json.Marshal(score.Tags)
		if err != nil {
			return fmt.Errorf("оценка %s: сериализация тегов: %w", score.ItemID, err)
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO item_scores (item_id, lexical, relevance, usefulness, recency, final, reasoning, tags, scored_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (item_id) DO UPDATE SET lexical = EXCLUDED.lexical, relevance = EXCLUDED.relevance, usefulness = EXCLUDED.usefulness, recency = EXCLUDED.recency, final = EXCLUDED.final, reasoning = EXCLUDED.reasoning, tags = EXCLUDED.tags, scored_at = EXCLUDED.scored_at
`, score.ItemID, score.Lexical, score.Relevance, score.Usefulness, score.Recency, score.Final, score.Reasoning, tags, score.ScoredAt)
		metrics.ObserveNetworkRequest("postgres", "item_scores_upsert", "item_scores", start, err)
		if err != nil {
			return fmt.Errorf("сохранение оценки %s: %w", score.ItemID, err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "item_scores", start, err)
	return err
}

// LoadScores возвращает оценки по идентификаторам записей.
func (p *Postgres) LoadScores(ctx context.Context, itemIDs []string) (map[string]domain.ItemScore, error) {
	result := make(map[string]domain.ItemScore, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT item_id, lexical, relevance, usefulness, recency, final, reasoning, tags, scored_at
FROM item_scores
WHERE item_id = ANY($1)
`, itemIDs)
	metrics.ObserveNetworkRequest("postgres", "item_scores_load", "item_scores", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			score domain.ItemScore
			tags  []byte
		)
		if err := rows.Scan(&score.ItemID, &score.Lexical, &score.Relevance, &score.Usefulness, &score.Recency, &score.Final, &score.Reasoning, &tags, &score.ScoredAt); err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &score.Tags); err != nil {
				return nil, fmt.Errorf("оценка %s: распаковка тегов: %w", score.ItemID, err)
			}
		}
		result[score.ItemID] = score
	}
	return result, rows.Err()
}

// GetCheckpoint возвращает чекпоинт задачи и признак его существования.
func (p *Postgres) GetCheckpoint(ctx context.Context, jobName string) (domain.SyncCheckpoint, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		cp      domain.SyncCheckpoint
		status  string
		cursor  sql.NullString
		lastErr sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, status, continuation_token, items_processed, calls_used, error, last_updated_at
FROM sync_checkpoints WHERE id = $1
`, jobName).Scan(&cp.JobName, &status, &cursor, &cp.ItemsProcessed, &cp.CallsUsed, &lastErr, &cp.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "checkpoint_get", "sync_checkpoints", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncCheckpoint{}, false, nil
	}
	if err != nil {
		return domain.SyncCheckpoint{}, false, err
	}
	cp.Status = domain.SyncStatus(status)
	if cursor.Valid {
		value := cursor.String
		cp.Cursor = &value
	}
	if lastErr.Valid {
		value := lastErr.String
		cp.LastError = &value
	}
	return cp, true, nil
}

// SaveCheckpoint перезаписывает чекпоинт задачи целиком.
func (p *Postgres) SaveCheckpoint(ctx context.Context, cp domain.SyncCheckpoint) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var cursor, lastErr any
	if cp.Cursor != nil {
		cursor = *cp.Cursor
	}
	if cp.LastError != nil {
		lastErr = *cp.LastError
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO sync_checkpoints (id, status, continuation_token, items_processed, calls_used, error, last_updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, continuation_token = EXCLUDED.continuation_token, items_processed = EXCLUDED.items_processed, calls_used = EXCLUDED.calls_used, error = EXCLUDED.error, last_updated_at = now()
`, cp.JobName, string(cp.Status), cursor, cp.ItemsProcessed, cp.CallsUsed, lastErr)
	metrics.ObserveNetworkRequest("postgres", "checkpoint_save", "sync_checkpoints", start, err)
	return err
}
