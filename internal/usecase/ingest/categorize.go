package ingest

import (
	"strings"

	"feed-curator/internal/domain"
)

// Categorizer присваивает каждой записи ровно одну рубрику.
// Порядок правил: явная таблица меток источника, затем эвристики
// по домену и ключевым словам, затем рубрика по умолчанию.
type Categorizer struct {
	folderMap map[string]domain.Category
	fallback  domain.Category
}

// NewCategorizer создаёт категоризатор. folderMap может быть nil,
// тогда действует только эвристика.
func NewCategorizer(folderMap map[string]domain.Category, fallback domain.Category) *Categorizer {
	normalized := make(map[string]domain.Category, len(folderMap))
	for label, cat := range folderMap {
		normalized[strings.ToLower(strings.TrimSpace(label))] = cat
	}
	return &Categorizer{folderMap: normalized, fallback: fallback}
}

// DefaultFolderMap возвращает стандартное соответствие меток агрегатора рубрикам.
func DefaultFolderMap() map[string]domain.Category {
	return map[string]domain.Category{
		"newsletters": domain.CategoryNewsletters,
		"podcasts":    domain.CategoryPodcasts,
		"ai":          domain.CategoryAINews,
		"ai news":     domain.CategoryAINews,
		"product":     domain.CategoryProductNews,
		"community":   domain.CategoryCommunity,
		"research":    domain.CategoryResearch,
		"tech":        domain.CategoryTechArticles,
	}
}

type domainRule struct {
	category  domain.Category
	fragments []string
}

type keywordRule struct {
	category domain.Category
	keywords []string
}

// Порядок правил определяет приоритет: первое совпадение выигрывает.
var domainRules = []domainRule{
	{domain.CategoryResearch, []string{"arxiv.org", "aclanthology.org", "openreview.net"}},
	{domain.CategoryPodcasts, []string{"podcast", "transistor.fm", "simplecast.com", "libsyn.com", "buzzsprout.com"}},
	{domain.CategoryNewsletters, []string{"substack.com", "buttondown.email", "ghost.io", "beehiiv.com"}},
	{domain.CategoryCommunity, []string{"news.ycombinator.com", "reddit.com", "lobste.rs", "dev.to"}},
}

var keywordRules = []keywordRule{
	{domain.CategoryAINews, []string{"llm", "gpt", "claude", "gemini", "openai", "anthropic", "neural", "machine learning", "deep learning", "transformer", "inference", "embedding", "diffusion"}},
	{domain.CategoryProductNews, []string{"announcing", "introducing", "launch", "general availability", "now available", "changelog", "release notes", "new release"}},
	{domain.CategoryResearch, []string{"paper", "study", "benchmark", "preprint", "abstract"}},
	{domain.CategoryPodcasts, []string{"episode", "podcast"}},
	{domain.CategoryNewsletters, []string{"newsletter", "weekly digest", "issue #"}},
}

// Categorize присваивает рубрики пакету записей. Ни одна запись
// не остаётся без рубрики.
func (c *Categorizer) Categorize(items []domain.FeedItem) []domain.FeedItem {
	out := make([]domain.FeedItem, len(items))
	for i, item := range items {
		item.Category = c.categorizeOne(item)
		out[i] = item
	}
	return out
}

func (c *Categorizer) categorizeOne(item domain.FeedItem) domain.Category {
	for _, folder := range item.Folders {
		if cat, ok := c.folderMap[strings.ToLower(strings.TrimSpace(folder))]; ok {
			return cat
		}
	}

	url := strings.ToLower(item.URL)
	for _, rule := range domainRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(url, fragment) {
				return rule.category
			}
		}
	}

	text := strings.ToLower(item.Title + " " + item.Summary)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}

	return c.fallback
}
