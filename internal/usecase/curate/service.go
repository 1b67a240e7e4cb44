package curate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
	"feed-curator/internal/usecase/rank"
)

// Service строит разнообразную выборку верхних записей рубрики:
// загружает окно из хранилища, оценивает пакет, сохраняет оценки
// и применяет ограничение на источник.
type Service struct {
	items        domain.ItemRepo
	scorer       *rank.Scorer
	maxPerSource int
	log          zerolog.Logger
}

// NewService создаёт сервис курирования.
func NewService(items domain.ItemRepo, scorer *rank.Scorer, maxPerSource int, logger zerolog.Logger) *Service {
	if maxPerSource <= 0 {
		maxPerSource = 2
	}
	return &Service{items: items, scorer: scorer, maxPerSource: maxPerSource, log: logger}
}

// BuildSelection оценивает записи рубрики за окно и возвращает
// ранжированную выборку с ограничением на источник.
func (s *Service) BuildSelection(ctx context.Context, category domain.Category, windowDays, targetCount int) (domain.DiversitySelection, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	start := time.Now()
	defer func() {
		metrics.SelectionBuildSeconds.Observe(time.Since(start).Seconds())
	}()

	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	items, err := s.items.ListByCategory(ctx, category, since)
	if err != nil {
		return domain.DiversitySelection{}, fmt.Errorf("записи рубрики %s: %w", category, err)
	}
	if len(items) == 0 {
		return domain.DiversitySelection{Reasons: map[string]string{}}, nil
	}

	scores := s.scorer.ScoreBatch(ctx, items)
	if err := s.items.SaveScores(ctx, scores); err != nil {
		return domain.DiversitySelection{}, fmt.Errorf("сохранение оценок: %w", err)
	}

	ranked := make([]domain.ScoredItem, 0, len(items))
	for i, item := range items {
		ranked = append(ranked, domain.ScoredItem{Item: item, Score: scores[i]})
	}

	selection := rank.Select(ranked, s.maxPerSource, targetCount)
	s.log.Info().
		Str("category", string(category)).
		Int("candidates", len(ranked)).
		Int("selected", len(selection.Items)).
		Msg("curate: выборка построена")
	return selection, nil
}
