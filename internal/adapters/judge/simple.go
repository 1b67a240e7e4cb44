package judge

import (
	"context"
	"sort"
	"strings"

	"feed-curator/internal/domain"
)

// SimpleJudge применяет эвристическую оценку без внешних вызовов.
// Используется, когда ключ OpenAI не настроен.
type SimpleJudge struct {
	scaleMax int
}

// NewSimple создаёт эвристического оракула.
func NewSimple(scaleMax int) *SimpleJudge {
	if scaleMax <= 0 {
		scaleMax = 10
	}
	return &SimpleJudge{scaleMax: scaleMax}
}

var _ domain.Judge = (*SimpleJudge)(nil)

var signalTerms = map[string]string{
	"architecture": "architecture",
	"performance":  "performance",
	"latency":      "performance",
	"scaling":      "scalability",
	"distributed":  "distributed-systems",
	"kubernetes":   "infrastructure",
	"postgres":     "databases",
	"llm":          "ai",
	"gpt":          "ai",
	"model":        "ai",
	"security":     "security",
	"release":      "release",
	"benchmark":    "benchmarks",
	"incident":     "reliability",
	"postmortem":   "reliability",
}

// Judge оценивает текст по длине и плотности сигнальных терминов.
func (j *SimpleJudge) Judge(_ context.Context, text string) (domain.Judgment, error) {
	fields := strings.Fields(strings.ToLower(text))
	tagSet := make(map[string]struct{})
	hits := 0
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]\"'")
		if tag, ok := signalTerms[f]; ok {
			hits++
			tagSet[tag] = struct{}{}
		}
	}

	mid := j.scaleMax / 2
	relevance := mid
	if hits > 0 {
		relevance = mid + hits
		if relevance > j.scaleMax {
			relevance = j.scaleMax
		}
	}

	usefulness := mid
	switch {
	case len(fields) >= 150:
		usefulness = mid + j.scaleMax/4 + 1
	case len(fields) < 20:
		usefulness = mid - 2
	}
	if usefulness > j.scaleMax {
		usefulness = j.scaleMax
	}
	if usefulness < 0 {
		usefulness = 0
	}

	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return domain.Judgment{Relevance: relevance, Usefulness: usefulness, Tags: tags}, nil
}
