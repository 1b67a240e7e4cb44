package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
)

const maxBodyBytes = 4 << 20

// Pool обогащает записи полным текстом статьи ограниченным числом
// воркеров. Запросы к одному домену разделены минимальным интервалом,
// ошибка одной записи не прерывает остальных.
type Pool struct {
	items          domain.ItemRepo
	http           *http.Client
	workers        int
	domainInterval time.Duration
	batchLimit     int
	log            zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewPool создаёт пул обогащения.
func NewPool(items domain.ItemRepo, workers int, domainInterval time.Duration, batchLimit int, timeout time.Duration, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Pool{
		items:          items,
		http:           &http.Client{Timeout: timeout},
		workers:        workers,
		domainInterval: domainInterval,
		batchLimit:     batchLimit,
		log:            logger,
		lastSeen:       make(map[string]time.Time),
	}
}

// Run обогащает одну партию записей без полного текста.
// Возвращает количество успешно обогащённых записей.
func (p *Pool) Run(ctx context.Context) (int, error) {
	items, err := p.items.ListMissingFullText(ctx, p.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("выборка записей для обогащения: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	queue := make(chan domain.FeedItem)
	var wg sync.WaitGroup
	var mu sync.Mutex
	enriched := 0

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if err := p.enrichOne(ctx, item); err != nil {
					metrics.EnrichFailures.Inc()
					p.log.Warn().Err(err).Str("item", item.ID).Str("url", item.URL).Msg("enrich: запись пропущена")
					continue
				}
				mu.Lock()
				enriched++
				mu.Unlock()
			}
		}()
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return enriched, ctx.Err()
		case queue <- item:
		}
	}
	close(queue)
	wg.Wait()
	return enriched, nil
}

func (p *Pool) enrichOne(ctx context.Context, item domain.FeedItem) error {
	parsed, err := url.Parse(item.URL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("некорректный url: %q", item.URL)
	}
	p.waitDomain(ctx, parsed.Host)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "feed-curator/1.0")

	start := time.Now()
	resp, err := p.http.Do(req)
	metrics.ObserveNetworkRequest("enrich", "fetch_article", parsed.Host, start, err)
	if err != nil {
		return fmt.Errorf("загрузка статьи: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("загрузка статьи: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("чтение ответа: %w", err)
	}

	text := extractText(body, parsed)
	if text == "" {
		return fmt.Errorf("извлечь текст не удалось")
	}
	if err := p.items.SaveFullText(ctx, item.ID, text); err != nil {
		return fmt.Errorf("сохранение текста: %w", err)
	}
	return nil
}

// waitDomain выдерживает минимальный интервал между запросами к домену.
func (p *Pool) waitDomain(ctx context.Context, host string) {
	if p.domainInterval <= 0 {
		return
	}
	for {
		p.mu.Lock()
		last, ok := p.lastSeen[host]
		now := time.Now()
		if !ok || now.Sub(last) >= p.domainInterval {
			p.lastSeen[host] = now
			p.mu.Unlock()
			return
		}
		wait := p.domainInterval - now.Sub(last)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// extractText достаёт читаемый текст статьи; если readability не
// справился, берётся og:description из метатегов.
func extractText(body []byte, pageURL *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(string(body)), pageURL)
	if err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return strings.Join(strings.Fields(text), " ")
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	return ""
}
