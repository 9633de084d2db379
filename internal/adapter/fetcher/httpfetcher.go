package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"podcasts/internal/domain"
)

// MaxDocumentSize ограничивает размер загружаемого OPML-документа.
const MaxDocumentSize = 16 << 20

// HTTPFetcher загружает OPML-документы подписок по HTTP.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// NewHTTPFetcher создает новый экземпляр HTTPFetcher с таймаутом на весь запрос.
func NewHTTPFetcher(log *slog.Logger, timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		log:       log.With(slog.String("component", "fetcher")),
	}
}

// Fetch выполняет GET-запрос и возвращает тело ответа, ограниченное MaxDocumentSize.
// Возвращенный io.ReadCloser должен быть закрыт вызывающей стороной.
// Адреса, отличные от абсолютных http/https, отклоняются с domain.ErrInvalidURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	log := f.log.With(slog.String("url", rawURL))
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		log.Warn("Rejected document url")
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURL, rawURL)
	}
	log.Info("Fetching OPML document")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		log.Error("Failed to create HTTP request", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create request for url %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "text/x-opml, application/xml, text/xml, */*")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		log.Error("HTTP request failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to fetch url %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		log.Error("Unexpected status code", slog.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("unexpected status code: %d for url %s", resp.StatusCode, rawURL)
	}
	log.Info("Successfully fetched OPML document")
	return limitedBody{Reader: io.LimitReader(resp.Body, MaxDocumentSize), Closer: resp.Body}, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}
