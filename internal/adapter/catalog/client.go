package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"podcasts/internal/config"
	"podcasts/internal/domain"
	"podcasts/internal/metrics"
)

const (
	opCreate  = "create"
	opPoll    = "poll"
	opGet     = "get"
	opRefresh = "refresh"
)

// StatusError ответ каталога с кодом вне диапазона 2xx.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog %s: unexpected status code %d", e.Op, e.StatusCode)
}

// Client реализует обращения к удаленному каталогу подкастов по HTTP/JSON.
// Перед каждым запросом ждет разрешения rate.Limiter, чтобы не перегружать каталог.
type Client struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       *slog.Logger
}

// NewClient создает клиента каталога по конфигурации.
func NewClient(cfg config.CatalogConfig, log *slog.Logger) (*Client, error) {
	base, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid catalog base url %q", cfg.BaseURL)
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: cfg.RequestTimeout()},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent: cfg.UserAgent,
		log:       log.With(slog.String("component", "catalog")),
	}, nil
}

type podcastDTO struct {
	ID           domain.PodcastID `json:"id"`
	Title        string           `json:"title"`
	Author       string           `json:"author"`
	FeedURL      string           `json:"feed_url"`
	ImageURL     string           `json:"image_url"`
	EpisodeCount int              `json:"episode_count"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

func (d podcastDTO) toDomain() domain.Podcast {
	p := domain.Podcast{
		ID:           d.ID,
		Title:        d.Title,
		Author:       d.Author,
		FeedURL:      d.FeedURL,
		ImageURL:     d.ImageURL,
		EpisodeCount: d.EpisodeCount,
	}
	if d.UpdatedAt != nil {
		p.UpdatedAt = *d.UpdatedAt
	}
	return p
}

type createRequest struct {
	FeedURLs []string `json:"feed_urls"`
}

type pollRequest struct {
	PollTokens []domain.PollToken `json:"poll_tokens"`
}

type createResponse struct {
	PodcastIDs []domain.PodcastID `json:"podcast_ids"`
	PollTokens []domain.PollToken `json:"poll_tokens"`
	Failed     int                `json:"failed"`
}

func (r createResponse) toDomain() *domain.CreateResult {
	return &domain.CreateResult{
		ResolvedIDs: r.PodcastIDs,
		PollTokens:  r.PollTokens,
		FailedCount: r.Failed,
	}
}

type refreshRequest struct {
	PodcastIDs []domain.PodcastID `json:"podcast_ids"`
}

type refreshResponse struct {
	Podcasts []podcastDTO `json:"podcasts"`
}

// CreatePodcasts просит каталог создать подкасты для адресов лент.
func (c *Client) CreatePodcasts(ctx context.Context, feedURLs []string) (*domain.CreateResult, error) {
	var resp createResponse
	if err := c.do(ctx, opCreate, http.MethodPost, "/api/v1/podcasts/create", createRequest{FeedURLs: feedURLs}, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// PollPodcasts спрашивает каталог о подкастах, которые еще создаются.
func (c *Client) PollPodcasts(ctx context.Context, tokens []domain.PollToken) (*domain.CreateResult, error) {
	var resp createResponse
	if err := c.do(ctx, opPoll, http.MethodPost, "/api/v1/podcasts/poll", pollRequest{PollTokens: tokens}, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// GetPodcast возвращает метаданные одного подкаста.
func (c *Client) GetPodcast(ctx context.Context, id domain.PodcastID) (*domain.Podcast, error) {
	var resp podcastDTO
	path := "/api/v1/podcasts/" + strconv.FormatInt(int64(id), 10)
	if err := c.do(ctx, opGet, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	p := resp.toDomain()
	return &p, nil
}

// RefreshPodcasts просит каталог обновить подкасты и вернуть актуальные метаданные.
func (c *Client) RefreshPodcasts(ctx context.Context, ids []domain.PodcastID) (*domain.RefreshResult, error) {
	var resp refreshResponse
	if err := c.do(ctx, opRefresh, http.MethodPost, "/api/v1/podcasts/refresh", refreshRequest{PodcastIDs: ids}, &resp); err != nil {
		return nil, err
	}
	result := &domain.RefreshResult{Podcasts: make([]domain.Podcast, 0, len(resp.Podcasts))}
	for _, p := range resp.Podcasts {
		result.Podcasts = append(result.Podcasts, p.toDomain())
	}
	return result, nil
}

// do выполняет один JSON-запрос. Любая ошибка оборачивается в domain.ErrTransport.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	log := c.log.With(slog.String("op", "catalog."+op), slog.String("path", path))
	start := time.Now()
	defer func() {
		metrics.RecordCatalogRequest(op, err)
		if err != nil {
			log.Error("Catalog request failed", slog.Any("error", err))
			err = fmt.Errorf("%w: %s: %w", domain.ErrTransport, op, err)
			return
		}
		log.Debug("Catalog request completed", slog.Duration("duration", time.Since(start)))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
