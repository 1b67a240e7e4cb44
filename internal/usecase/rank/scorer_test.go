package rank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
)

type fakeJudge struct {
	judgment domain.Judgment
	err      error
	calls    int
}

func (f *fakeJudge) Judge(context.Context, string) (domain.Judgment, error) {
	f.calls++
	if f.err != nil {
		return domain.Judgment{}, f.err
	}
	return f.judgment, nil
}

func newTestScorer(j domain.Judge) *Scorer {
	return NewScorer(
		j,
		Weights{Lexical: 0.3, LLM: 0.45, Recency: 0.25},
		48, 10,
		[]string{"kubernetes", "latency"},
		zerolog.Nop(),
	)
}

func TestScoreBatchBounds(t *testing.T) {
	scorer := newTestScorer(&fakeJudge{judgment: domain.Judgment{Relevance: 8, Usefulness: 7, Tags: []string{"infra"}}})
	now := time.Now().UTC()
	items := []domain.FeedItem{
		{ID: "1", Title: "Kubernetes latency tuning", Summary: "о задержках", PublishedAt: now.Add(-time.Hour), Source: "a"},
		{ID: "2", Title: "Совсем другое", Summary: "без ключевых слов", PublishedAt: now.Add(-100 * time.Hour), Source: "b"},
	}

	scores := scorer.ScoreBatch(context.Background(), items)
	if len(scores) != 2 {
		t.Fatalf("ожидали 2 оценки, получили %d", len(scores))
	}
	for _, s := range scores {
		if s.Lexical < 0 || s.Lexical > 1 {
			t.Fatalf("лексическая оценка вне [0,1]: %f", s.Lexical)
		}
		if s.Recency < 0 || s.Recency > 1 {
			t.Fatalf("оценка свежести вне [0,1]: %f", s.Recency)
		}
		if s.Final < 0 || s.Final > 1 {
			t.Fatalf("итоговая оценка вне [0,1]: %f", s.Final)
		}
		if s.Relevance < 0 || s.Relevance > 10 || s.Usefulness < 0 || s.Usefulness > 10 {
			t.Fatalf("оценки оракула вне шкалы: %d/%d", s.Relevance, s.Usefulness)
		}
		if s.Reasoning == "" {
			t.Fatalf("строка обоснования пустая")
		}
	}
	if scores[0].Lexical <= scores[1].Lexical {
		t.Fatalf("запись с ключевыми словами должна иметь большую лексическую оценку")
	}
}

func TestScoreBatchDegenerateCorpus(t *testing.T) {
	scorer := newTestScorer(&fakeJudge{judgment: domain.Judgment{Relevance: 5, Usefulness: 5}})
	items := []domain.FeedItem{
		{ID: "only", Title: "Единственная запись", PublishedAt: time.Now().UTC()},
	}
	scores := scorer.ScoreBatch(context.Background(), items)
	// Корпус из одной записи: min == max, нормализация даёт константу.
	if scores[0].Lexical != 0.5 {
		t.Fatalf("при вырожденном корпусе ожидали 0.5, получили %f", scores[0].Lexical)
	}
}

func TestScoreBatchAllEqualLexical(t *testing.T) {
	scorer := newTestScorer(&fakeJudge{judgment: domain.Judgment{Relevance: 5, Usefulness: 5}})
	items := []domain.FeedItem{
		{ID: "1", Title: "одинаковый текст", PublishedAt: time.Now().UTC()},
		{ID: "2", Title: "одинаковый текст", PublishedAt: time.Now().UTC()},
	}
	scores := scorer.ScoreBatch(context.Background(), items)
	for _, s := range scores {
		if s.Lexical != 0.5 {
			t.Fatalf("равные лексические оценки должны нормализоваться в 0.5, получили %f", s.Lexical)
		}
	}
}

func TestScoreBatchJudgeFallback(t *testing.T) {
	j := &fakeJudge{err: errors.New("oracle down")}
	scorer := newTestScorer(j)
	items := []domain.FeedItem{{ID: "1", Title: "запись", PublishedAt: time.Now().UTC()}}

	scores := scorer.ScoreBatch(context.Background(), items)
	if scores[0].Relevance != 5 || scores[0].Usefulness != 5 {
		t.Fatalf("при отказе оракула ожидали нейтральные 5/5, получили %d/%d",
			scores[0].Relevance, scores[0].Usefulness)
	}
	if j.calls < 2 {
		t.Fatalf("ожидали повтор перед фолбэком, вызовов было %d", j.calls)
	}
}

func TestRecencyDecayMonotonic(t *testing.T) {
	scorer := newTestScorer(&fakeJudge{judgment: domain.Judgment{Relevance: 5, Usefulness: 5}})
	now := time.Now().UTC()

	fresh := scorer.recency(now.Add(-time.Hour))
	day := scorer.recency(now.Add(-24 * time.Hour))
	week := scorer.recency(now.Add(-7 * 24 * time.Hour))
	if !(fresh > day && day > week) {
		t.Fatalf("спад должен быть монотонным: %f, %f, %f", fresh, day, week)
	}
	halfLife := scorer.recency(now.Add(-48 * time.Hour))
	if halfLife < 0.45 || halfLife > 0.55 {
		t.Fatalf("на периоде полураспада ожидали ~0.5, получили %f", halfLife)
	}
}

func TestMinMaxNormalize(t *testing.T) {
	out := minMaxNormalize([]float64{2, 4, 6})
	if out[0] != 0 || out[1] != 0.5 || out[2] != 1 {
		t.Fatalf("неверная нормализация: %v", out)
	}
}
