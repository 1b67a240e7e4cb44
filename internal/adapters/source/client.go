package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
	"feed-curator/internal/infra/retry"
)

const defaultRetryDelay = 2 * time.Second

// Client выгружает страницы записей из HTTP API агрегатора.
// Каждый вызов FetchPage стоит ровно один внешний запрос из квоты.
type Client struct {
	http     *http.Client
	baseURL  string
	token    string
	streamID string
	pageSize int
	retries  int
	log      zerolog.Logger
}

// Config задаёт параметры клиента источника.
type Config struct {
	BaseURL  string
	Token    string
	StreamID string
	PageSize int
	Timeout  time.Duration
	Retries  int
}

// NewClient создаёт клиента агрегатора.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		streamID: cfg.StreamID,
		pageSize: cfg.PageSize,
		retries:  cfg.Retries,
		log:      logger,
	}
}

var _ domain.Source = (*Client)(nil)

type streamResponse struct {
	ID           string       `json:"id"`
	Continuation string       `json:"continuation,omitempty"`
	Items        []streamItem `json:"items"`
}

type streamItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Origin struct {
		Title string `json:"title"`
	} `json:"origin"`
	Alternate []struct {
		Href string `json:"href"`
	} `json:"alternate"`
	Summary struct {
		Content string `json:"content"`
	} `json:"summary"`
	Published  int64 `json:"published"`
	Categories []struct {
		Label string `json:"label"`
	} `json:"categories"`
}

// FetchPage выгружает одну страницу записей. nextCursor равен nil на последней странице.
// Транзиентные ошибки повторяются с экспоненциальным бэкоффом, 4xx не повторяются.
func (c *Client) FetchPage(ctx context.Context, cursor *string, since time.Time) ([]domain.RawItem, *string, error) {
	endpoint, err := c.buildURL(cursor, since)
	if err != nil {
		return nil, nil, err
	}

	var parsed streamResponse
	err = retry.Do(ctx, c.retries, defaultRetryDelay, func() error {
		return c.fetchOnce(ctx, endpoint, &parsed)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("источник: выгрузка страницы: %w", err)
	}

	items := make([]domain.RawItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		raw, merr := json.Marshal(it)
		if merr != nil {
			raw = nil
		}
		item := domain.RawItem{
			NativeID: it.ID,
			Title:    it.Title,
			Author:   it.Author,
			Origin:   it.Origin.Title,
			Summary:  it.Summary.Content,
			RawJSON:  raw,
		}
		if len(it.Alternate) > 0 {
			item.URL = it.Alternate[0].Href
		}
		if it.Published > 0 {
			item.PublishedAt = time.UnixMilli(it.Published).UTC()
		}
		for _, cat := range it.Categories {
			if cat.Label != "" {
				item.Folders = append(item.Folders, cat.Label)
			}
		}
		items = append(items, item)
	}

	var next *string
	if parsed.Continuation != "" {
		cont := parsed.Continuation
		next = &cont
	}
	return items, next, nil
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string, out *streamResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("source", "stream_contents", c.streamID, start, err)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return retry.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	*out = streamResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) buildURL(cursor *string, since time.Time) (string, error) {
	base, err := url.Parse(c.baseURL + "/v3/streams/contents")
	if err != nil {
		return "", fmt.Errorf("источник: некорректный base url: %w", err)
	}
	q := base.Query()
	q.Set("streamId", c.streamID)
	q.Set("count", strconv.Itoa(c.pageSize))
	if !since.IsZero() {
		q.Set("newerThan", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if cursor != nil && *cursor != "" {
		q.Set("continuation", *cursor)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}
