package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"podcasts/internal/batch"
	"podcasts/internal/domain"
	"podcasts/internal/metrics"
)

// RefreshStorage операции хранилища, нужные обновлению подкастов.
type RefreshStorage interface {
	SubscribedIDs(ctx context.Context) ([]domain.PodcastID, error)
	UpdatePodcasts(ctx context.Context, podcasts []domain.Podcast) (int, error)
}

// RefreshUseCase обновляет метаданные подписанных подкастов пакетными запросами к каталогу.
type RefreshUseCase struct {
	catalog   PodcastRefresher
	storage   RefreshStorage
	chunkSize int
	log       *slog.Logger
}

func NewRefreshUseCase(catalog PodcastRefresher, storage RefreshStorage, chunkSize int, log *slog.Logger) *RefreshUseCase {
	return &RefreshUseCase{
		catalog:   catalog,
		storage:   storage,
		chunkSize: chunkSize,
		log:       log.With(slog.String("component", "refresher")),
	}
}

// Refresh запрашивает у каталога свежие данные для ids чанками параллельно
// и записывает их в хранилище. Возвращает число обновленных подписок.
// Ошибка любого чанка отменяет весь вызов, хранилище при этом не меняется.
func (uc *RefreshUseCase) Refresh(ctx context.Context, ids []domain.PodcastID) (int, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()
	log := uc.log.With(slog.Int("requested", len(ids)))
	metrics.RecordDispatch("refresh", len(ids), uc.chunkSize)
	res, err := batch.Dispatch[domain.PodcastID, domain.RefreshResult](
		ctx, ids, uc.chunkSize, uc.catalog.RefreshPodcasts, domain.MergeRefreshResults,
	)
	if err != nil {
		log.Error("Refresh failed", slog.String("stage", "catalog"), slog.Any("error", err))
		return 0, fmt.Errorf("refresh podcasts: %w", err)
	}
	updated, err := uc.storage.UpdatePodcasts(ctx, res.Podcasts)
	if err != nil {
		log.Error("Refresh failed", slog.String("stage", "save"), slog.Any("error", err))
		return 0, fmt.Errorf("save refreshed podcasts: %w", err)
	}
	metrics.RefreshedPodcastsTotal.Add(float64(updated))
	log.Info("Refresh completed",
		slog.Int("received", len(res.Podcasts)),
		slog.Int("updated", updated),
		slog.Duration("duration", time.Since(start)),
	)
	return updated, nil
}

// RefreshAll обновляет все подписки из хранилища.
func (uc *RefreshUseCase) RefreshAll(ctx context.Context) (int, error) {
	ids, err := uc.storage.SubscribedIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribed ids: %w", err)
	}
	return uc.Refresh(ctx, ids)
}

func uniqueIDs(ids []domain.PodcastID) []domain.PodcastID {
	seen := make(map[domain.PodcastID]struct{}, len(ids))
	out := make([]domain.PodcastID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
