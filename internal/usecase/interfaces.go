package usecase

import (
	"context"

	"podcasts/internal/domain"
)

// PodcastCreator определяет удаленные операции каталога, которые использует импорт.
// Create и Poll возвращают ответ одной формы: готовые id, токены ожидания и число отказов.
type PodcastCreator interface {
	CreatePodcasts(ctx context.Context, feedURLs []string) (*domain.CreateResult, error)
	PollPodcasts(ctx context.Context, tokens []domain.PollToken) (*domain.CreateResult, error)
}

// PodcastRefresher определяет пакетное обновление подкастов в каталоге.
type PodcastRefresher interface {
	RefreshPodcasts(ctx context.Context, ids []domain.PodcastID) (*domain.RefreshResult, error)
}

// SubscriptionQueue асинхронный подписчик: Subscribe не ждет результата.
type SubscriptionQueue interface {
	Subscribe(id domain.PodcastID)
	IsSubscribing() bool
}

// SubscriptionCounter дает число подписок в локальном хранилище.
// Для импорта это только эвристика прогресса.
type SubscriptionCounter interface {
	CountSubscriptions(ctx context.Context) (int, error)
}

// SubscriptionStorage определяет операции хранилища для чтения и обновления подписок.
type SubscriptionStorage interface {
	SubscriptionCounter
	ListSubscriptions(ctx context.Context, limit int) ([]domain.Subscription, error)
	SubscribedIDs(ctx context.Context) ([]domain.PodcastID, error)
	UpdatePodcasts(ctx context.Context, podcasts []domain.Podcast) (int, error)
}

// ImportObserver получает состояние и прогресс прогона импорта.
// Значения прогресса могут повторяться и не обязаны строго расти.
type ImportObserver interface {
	OnState(state domain.ImportState)
	OnProgress(done, total int)
}

type nopObserver struct{}

func (nopObserver) OnState(domain.ImportState) {}
func (nopObserver) OnProgress(int, int)        {}
