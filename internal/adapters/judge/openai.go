package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
	openai "feed-curator/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMJudge оценивает записи через Chat Completions.
type LLMJudge struct {
	client   chatCompletionClient
	model    string
	timeout  time.Duration
	scaleMax int
	cache    domain.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewLLM создаёт оракула оценки на базе OpenAI.
// cache может быть nil, тогда ответы не кэшируются.
func NewLLM(client chatCompletionClient, model string, timeout time.Duration, scaleMax int, cache domain.Cache, cacheTTL time.Duration, logger zerolog.Logger) *LLMJudge {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if scaleMax <= 0 {
		scaleMax = 10
	}
	return &LLMJudge{client: client, model: model, timeout: timeout, scaleMax: scaleMax, cache: cache, cacheTTL: cacheTTL, log: logger}
}

var _ domain.Judge = (*LLMJudge)(nil)

type llmJudgeResponse struct {
	Relevance  int      `json:"relevance"`
	Usefulness int      `json:"usefulness"`
	Tags       []string `json:"tags"`
}

// Judge возвращает релевантность, полезность и тематические теги текста.
func (j *LLMJudge) Judge(ctx context.Context, text string) (domain.Judgment, error) {
	text = truncate(strings.TrimSpace(text), 6000)
	if text == "" {
		return domain.Judgment{}, fmt.Errorf("judge: пустой текст")
	}

	cacheKey := "judge:" + hashText(text)
	if j.cache != nil {
		if data, err := j.cache.Get(ctx, cacheKey); err == nil && len(data) > 0 {
			var cached domain.Judgment
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Оцени запись контентной ленты для инженерного дайджеста.
1. "relevance" — насколько запись релевантна практикующему инженеру, целое число от 0 до %d.
2. "usefulness" — насколько запись полезна на практике, целое число от 0 до %d.
3. "tags" — до пяти коротких тематических тегов на английском.
Ответ верни строго в формате JSON: {"relevance": 0, "usefulness": 0, "tags": ["..."]}.

Текст записи:
%s`, j.scaleMax, j.scaleMax, text)

	req := openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты оцениваешь контент для технического дайджеста. Оценивай только по содержанию текста, без домыслов.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := j.client.CreateChatCompletion(ctx, req)
	metrics.LLMJudgeDuration.WithLabelValues(j.model).Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Judgment{}, fmt.Errorf("judge: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Judgment{}, fmt.Errorf("judge: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed llmJudgeResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Judgment{}, fmt.Errorf("judge: распаковка ответа: %w", err)
	}

	result := domain.Judgment{
		Relevance:  clampScale(parsed.Relevance, j.scaleMax),
		Usefulness: clampScale(parsed.Usefulness, j.scaleMax),
		Tags:       filterNonEmpty(parsed.Tags),
	}

	if j.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := j.cache.Set(ctx, cacheKey, data, j.cacheTTL); err != nil {
				j.log.Debug().Err(err).Msg("judge: не удалось закэшировать ответ")
			}
		}
	}
	return result, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clampScale(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func filterNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
