package domain

import "time"

// PodcastID идентификатор подкаста в удаленном каталоге.
type PodcastID int64

// PollToken непрозрачный токен подкаста, который каталог еще создает.
// Повторно отправляется в poll-запросах, пока не превратится в PodcastID.
type PollToken string

// Podcast представляет метаданные подкаста, полученные из каталога.
type Podcast struct {
	ID           PodcastID
	Title        string
	Author       string
	FeedURL      string
	ImageURL     string
	EpisodeCount int
	UpdatedAt    time.Time
}

// Subscription представляет подписку пользователя, сохраненную в локальном хранилище.
type Subscription struct {
	Podcast
	SubscribedAt time.Time
	RefreshedAt  *time.Time
}

// CreateResult ответ каталога на create- и poll-запросы.
// Подкасты, созданные сразу, приходят в ResolvedIDs, остальные в PollTokens.
type CreateResult struct {
	ResolvedIDs []PodcastID
	PollTokens  []PollToken
	FailedCount int
}

// MergeCreateResults объединяет два ответа каталога, сохраняя порядок: сначала a, затем b.
func MergeCreateResults(a, b CreateResult) CreateResult {
	return CreateResult{
		ResolvedIDs: append(append([]PodcastID(nil), a.ResolvedIDs...), b.ResolvedIDs...),
		PollTokens:  append(append([]PollToken(nil), a.PollTokens...), b.PollTokens...),
		FailedCount: a.FailedCount + b.FailedCount,
	}
}

// RefreshResult ответ каталога на запрос массового обновления подкастов.
type RefreshResult struct {
	Podcasts []Podcast
}

// MergeRefreshResults объединяет результаты обновления в порядке чанков.
func MergeRefreshResults(a, b RefreshResult) RefreshResult {
	return RefreshResult{
		Podcasts: append(append([]Podcast(nil), a.Podcasts...), b.Podcasts...),
	}
}
