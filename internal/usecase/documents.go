package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podcasts/internal/opml"
)

// DocumentFetcher загружает документ по URL.
// Возвращает io.ReadCloser, который должен быть закрыт после использования.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// DocumentLoader получает OPML-документ из файла или по URL и готовит его к импорту.
// При включенной санитизации документ проходит через opml.Sanitize во временный файл.
type DocumentLoader struct {
	fetcher  DocumentFetcher
	sanitize bool
	log      *slog.Logger
}

func NewDocumentLoader(fetcher DocumentFetcher, sanitize bool, log *slog.Logger) *DocumentLoader {
	return &DocumentLoader{
		fetcher:  fetcher,
		sanitize: sanitize,
		log:      log.With(slog.String("component", "document-loader")),
	}
}

// Load читает документ целиком. Источник с префиксом http:// или https:// загружается
// через fetcher, остальное считается путем к файлу.
func (l *DocumentLoader) Load(ctx context.Context, source string) ([]byte, error) {
	start := time.Now()
	log := l.log.With(slog.String("document", documentName(source)))
	var (
		data []byte
		err  error
	)
	if isRemote(source) {
		data, err = l.fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		log.Error("Document load failed", slog.String("stage", "load"), slog.Any("error", err))
		return nil, fmt.Errorf("load %s: %w", documentName(source), err)
	}
	log.Info("Document loaded", slog.Int("bytes", len(data)), slog.Duration("duration", time.Since(start)))
	return data, nil
}

func (l *DocumentLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	reader, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Open возвращает поток документа для импорта. Вызывающий обязан закрыть его:
// для санитизированного документа Close удаляет временный файл.
func (l *DocumentLoader) Open(doc []byte) (io.ReadCloser, error) {
	if !l.sanitize {
		return io.NopCloser(bytes.NewReader(doc)), nil
	}
	tmp, err := opml.Sanitize(bytes.NewReader(doc))
	if err != nil {
		l.log.Error("Document sanitize failed", slog.String("stage", "sanitize"), slog.Any("error", err))
		return nil, fmt.Errorf("sanitize document: %w", err)
	}
	l.log.Debug("Document sanitized", slog.String("stage", "sanitize"), slog.String("path", tmp.Name()))
	return tmp, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// documentName дает короткое имя источника для логов: хост для URL, имя файла для пути.
func documentName(source string) string {
	if isRemote(source) {
		parts := strings.Split(source, "/")
		if len(parts) >= 3 && parts[2] != "" {
			return strings.TrimPrefix(parts[2], "www.")
		}
		return "unknown"
	}
	return filepath.Base(source)
}
