package ingest

import (
	"testing"

	"feed-curator/internal/domain"
)

func TestCategorizeFolderMappingWinsOverHeuristics(t *testing.T) {
	c := NewCategorizer(DefaultFolderMap(), domain.CategoryTechArticles)
	items := c.Categorize([]domain.FeedItem{{
		ID:      "1",
		Title:   "Новый LLM побил бенчмарки",
		URL:     "https://example.substack.com/p/post",
		Folders: []string{"Research"},
	}})
	if items[0].Category != domain.CategoryResearch {
		t.Fatalf("метка источника должна иметь приоритет, получили %s", items[0].Category)
	}
}

func TestCategorizeDomainHeuristics(t *testing.T) {
	c := NewCategorizer(nil, domain.CategoryTechArticles)
	cases := map[string]domain.Category{
		"https://arxiv.org/abs/2501.01234":         domain.CategoryResearch,
		"https://example.substack.com/p/issue-42":  domain.CategoryNewsletters,
		"https://news.ycombinator.com/item?id=123": domain.CategoryCommunity,
		"https://show.transistor.fm/episodes/1":    domain.CategoryPodcasts,
	}
	for url, want := range cases {
		items := c.Categorize([]domain.FeedItem{{ID: "1", URL: url}})
		if items[0].Category != want {
			t.Fatalf("url %s: ожидали %s, получили %s", url, want, items[0].Category)
		}
	}
}

func TestCategorizeKeywordHeuristics(t *testing.T) {
	c := NewCategorizer(nil, domain.CategoryTechArticles)
	items := c.Categorize([]domain.FeedItem{{
		ID:    "1",
		Title: "Introducing our new inference engine for LLM workloads",
		URL:   "https://example.com/blog/post",
	}})
	if items[0].Category != domain.CategoryAINews {
		t.Fatalf("ожидали ai_news по ключевым словам, получили %s", items[0].Category)
	}
}

func TestCategorizeFallback(t *testing.T) {
	c := NewCategorizer(nil, domain.CategoryTechArticles)
	items := c.Categorize([]domain.FeedItem{{ID: "1", Title: "Просто пост", URL: "https://example.com/a"}})
	if items[0].Category != domain.CategoryTechArticles {
		t.Fatalf("ожидали рубрику по умолчанию, получили %s", items[0].Category)
	}
}

func TestEveryItemGetsExactlyOneCategory(t *testing.T) {
	c := NewCategorizer(DefaultFolderMap(), domain.CategoryTechArticles)
	batch := []domain.FeedItem{
		{ID: "1"},
		{ID: "2", URL: "https://arxiv.org/abs/1"},
		{ID: "3", Title: "podcast episode 12"},
	}
	for _, item := range c.Categorize(batch) {
		if _, err := domain.ParseCategory(string(item.Category)); err != nil {
			t.Fatalf("запись %s получила недопустимую рубрику %q", item.ID, item.Category)
		}
	}
}
