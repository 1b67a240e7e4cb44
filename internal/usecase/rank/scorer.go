package rank

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
	"feed-curator/internal/infra/retry"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Weights задаёт коэффициенты смешивания сигналов, сумма равна 1.
type Weights struct {
	Lexical float64
	LLM     float64
	Recency float64
}

// Scorer вычисляет составную оценку записи из трёх независимых сигналов:
// лексического совпадения, оценки оракула и спада свежести.
type Scorer struct {
	judge         domain.Judge
	weights       Weights
	halfLifeHours float64
	scaleMax      int
	query         []string
	now           func() time.Time
	log           zerolog.Logger
}

// NewScorer создаёт скорер. query — ключевые слова интереса для BM25.
func NewScorer(judge domain.Judge, weights Weights, halfLifeHours float64, scaleMax int, query []string, logger zerolog.Logger) *Scorer {
	if halfLifeHours <= 0 {
		halfLifeHours = 48
	}
	if scaleMax <= 0 {
		scaleMax = 10
	}
	return &Scorer{
		judge:         judge,
		weights:       weights,
		halfLifeHours: halfLifeHours,
		scaleMax:      scaleMax,
		query:         tokenize(strings.Join(query, " ")),
		now:           time.Now,
		log:           logger,
	}
}

// corpusStats содержит статистику корпуса окна скоринга для BM25.
type corpusStats struct {
	docs      []map[string]int
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int
}

func buildCorpus(items []domain.FeedItem) corpusStats {
	stats := corpusStats{
		docs:    make([]map[string]int, len(items)),
		docLens: make([]int, len(items)),
		docFreq: make(map[string]int),
	}
	total := 0
	for i, item := range items {
		tokens := tokenize(item.Title + " " + item.Summary)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		stats.docs[i] = tf
		stats.docLens[i] = len(tokens)
		total += len(tokens)
		for tok := range tf {
			stats.docFreq[tok]++
		}
	}
	if len(items) > 0 {
		stats.avgDocLen = float64(total) / float64(len(items))
	}
	return stats
}

// bm25 считает сырую BM25-оценку документа i по запросу скорера.
func (s *Scorer) bm25(stats corpusStats, i int) float64 {
	if stats.avgDocLen == 0 {
		return 0
	}
	n := float64(len(stats.docs))
	score := 0.0
	for _, term := range s.query {
		tf := float64(stats.docs[i][term])
		if tf == 0 {
			continue
		}
		df := float64(stats.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(stats.docLens[i])/stats.avgDocLen))
		score += idf * norm
	}
	return score
}

// recency возвращает экспоненциальный спад свежести в [0,1]
// с периодом полураспада halfLifeHours.
func (s *Scorer) recency(published time.Time) float64 {
	if published.IsZero() {
		return 0
	}
	hours := s.now().UTC().Sub(published).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(math.Ln2 / s.halfLifeHours * -hours)
}

// judgeWithFallback опрашивает оракула с одним повтором; при отказе
// возвращает нейтральную середину шкалы, чтобы одна неудачная оценка
// не блокировала пакет.
func (s *Scorer) judgeWithFallback(ctx context.Context, item domain.FeedItem) domain.Judgment {
	text := item.Title + "\n\n" + item.Summary
	if item.FullText != "" {
		text = item.Title + "\n\n" + item.FullText
	}
	var judgment domain.Judgment
	err := retry.Do(ctx, 2, time.Second, func() error {
		var jerr error
		judgment, jerr = s.judge.Judge(ctx, text)
		return jerr
	})
	if err != nil {
		metrics.LLMJudgeFallbacks.Inc()
		s.log.Warn().Err(err).Str("item", item.ID).Msg("scorer: оракул недоступен, нейтральная оценка")
		mid := s.scaleMax / 2
		return domain.Judgment{Relevance: mid, Usefulness: mid}
	}
	return judgment
}

// ScoreBatch оценивает пакет записей одного окна.
// Лексические оценки нормализуются min-max внутри пакета; при
// вырожденном пакете (max == min) все получают константу 0.5.
func (s *Scorer) ScoreBatch(ctx context.Context, items []domain.FeedItem) []domain.ItemScore {
	if len(items) == 0 {
		return nil
	}
	stats := buildCorpus(items)

	rawLex := make([]float64, len(items))
	for i := range items {
		rawLex[i] = s.bm25(stats, i)
	}
	lex := minMaxNormalize(rawLex)

	scoredAt := s.now().UTC()
	scores := make([]domain.ItemScore, 0, len(items))
	for i, item := range items {
		judgment := s.judgeWithFallback(ctx, item)
		rec := s.recency(item.PublishedAt)
		llm := float64(judgment.Relevance+judgment.Usefulness) / float64(2*s.scaleMax)
		final := s.weights.Lexical*lex[i] + s.weights.LLM*llm + s.weights.Recency*rec

		scores = append(scores, domain.ItemScore{
			ItemID:     item.ID,
			Lexical:    lex[i],
			Relevance:  judgment.Relevance,
			Usefulness: judgment.Usefulness,
			Recency:    rec,
			Final:      clamp01(final),
			Reasoning: fmt.Sprintf("lexical %.2f, llm %d/%d, recency %.2f",
				lex[i], judgment.Relevance, judgment.Usefulness, rec),
			Tags:     judgment.Tags,
			ScoredAt: scoredAt,
		})
	}
	return scores
}

// minMaxNormalize приводит значения к [0,1]; при max == min все
// значения равны 0.5, деления на ноль не происходит.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || 'а' <= r && r <= 'я')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}
