package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
)

// Normalizer приводит записи источника к каноническому виду.
type Normalizer struct {
	log zerolog.Logger
}

// NewNormalizer создаёт нормализатор.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{log: logger}
}

// ItemID детерминированно выводит стабильный идентификатор записи
// из имени источника и нативного идентификатора. Одна и та же запись
// источника всегда даёт один и тот же идентификатор.
func ItemID(source, nativeID string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + nativeID))
	return hex.EncodeToString(sum[:16])
}

// Normalize преобразует пакет сырых записей. Записи без нативного
// идентификатора пропускаются с записью в лог; отсутствие необязательных
// полей не является ошибкой. Дубликаты в пакете отбрасываются, первая
// встреченная запись выигрывает.
func (n *Normalizer) Normalize(rawItems []domain.RawItem) []domain.FeedItem {
	seen := make(map[string]struct{}, len(rawItems))
	out := make([]domain.FeedItem, 0, len(rawItems))
	for _, raw := range rawItems {
		nativeID := strings.TrimSpace(raw.NativeID)
		if nativeID == "" {
			metrics.SyncItemsSkipped.Inc()
			n.log.Warn().Str("title", raw.Title).Msg("normalize: запись без идентификатора пропущена")
			continue
		}
		source := strings.TrimSpace(raw.Origin)
		if source == "" {
			source = "unknown"
		}
		id := ItemID(source, nativeID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		published := raw.PublishedAt
		if published.IsZero() {
			published = time.Now().UTC()
		}
		out = append(out, domain.FeedItem{
			ID:          id,
			Title:       strings.TrimSpace(raw.Title),
			URL:         strings.TrimSpace(raw.URL),
			Source:      source,
			Author:      strings.TrimSpace(raw.Author),
			PublishedAt: published,
			Summary:     strings.TrimSpace(stripHTML(raw.Summary)),
			Folders:     raw.Folders,
			RawJSON:     raw.RawJSON,
		})
	}
	return out
}

// stripHTML грубо вырезает теги из сниппета источника.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
