package storage

import (
	"context"

	"podcasts/internal/domain"
)

// Storage определяет общий интерфейс локального хранилища подписок.
// Импорт использует только CountSubscriptions как эвристику прогресса, запись идет через подписчика.
type Storage interface {
	SaveSubscription(ctx context.Context, podcast domain.Podcast) error
	CountSubscriptions(ctx context.Context) (int, error)
	ListSubscriptions(ctx context.Context, limit int) ([]domain.Subscription, error)
	SubscribedIDs(ctx context.Context) ([]domain.PodcastID, error)
	UpdatePodcasts(ctx context.Context, podcasts []domain.Podcast) (int, error)
	Close()
}
