package usecase

import (
	"context"
	"fmt"
	"io"

	"podcasts/internal/domain"
	"podcasts/internal/opml"
)

// SubscriptionLister определяет чтение подписок из хранилища.
type SubscriptionLister interface {
	CountSubscriptions(ctx context.Context) (int, error)
	ListSubscriptions(ctx context.Context, limit int) ([]domain.Subscription, error)
}

// SubscriptionsUseCase отдает подписки для API и экспорта.
type SubscriptionsUseCase struct {
	storage SubscriptionLister
}

func NewSubscriptionsUseCase(s SubscriptionLister) *SubscriptionsUseCase {
	return &SubscriptionsUseCase{storage: s}
}

// List возвращает последние подписки; limit <= 0 означает лимит хранилища по умолчанию.
func (uc *SubscriptionsUseCase) List(ctx context.Context, limit int) ([]domain.Subscription, error) {
	return uc.storage.ListSubscriptions(ctx, limit)
}

// Export пишет все подписки в w как OPML-документ.
func (uc *SubscriptionsUseCase) Export(ctx context.Context, w io.Writer, title string) error {
	n, err := uc.storage.CountSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("count subscriptions: %w", err)
	}
	subs := []domain.Subscription{}
	if n > 0 {
		subs, err = uc.storage.ListSubscriptions(ctx, n)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
	}
	return opml.Write(w, title, subs)
}
