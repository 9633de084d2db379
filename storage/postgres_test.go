package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcasts/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewPostgresStore(mock, 50, slog.New(slog.NewTextHandler(io.Discard, nil)))
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func TestPostgresStore_SaveSubscription(t *testing.T) {
	store, mock := newMockStore(t)
	p := domain.Podcast{ID: 7, Title: "Go Time", Author: "Changelog", FeedURL: "https://changelog.com/gotime/feed", EpisodeCount: 300}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs(int64(7), "Go Time", "Changelog", "https://changelog.com/gotime/feed", "", 300, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSubscription(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSubscription_Error(t *testing.T) {
	store, mock := newMockStore(t)
	connErr := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs(int64(1), "", "", "", "", 0, fixedNow).
		WillReturnError(connErr)

	err := store.SaveSubscription(context.Background(), domain.Podcast{ID: 1})

	require.ErrorIs(t, err, connErr)
	assert.Contains(t, err.Error(), "storage.postgres.SaveSubscription")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountSubscriptions(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subscriptions")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountSubscriptions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSubscriptions_DefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	refreshed := fixedNow.Add(time.Hour)
	rows := pgxmock.NewRows([]string{"podcast_id", "title", "author", "feed_url", "image_url", "episode_count", "subscribed_at", "refreshed_at"}).
		AddRow(int64(2), "two", "b", "https://b.example/rss", "", 5, fixedNow, &refreshed).
		AddRow(int64(1), "one", "a", "https://a.example/rss", "", 9, fixedNow, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs(50).
		WillReturnRows(rows)

	subs, err := store.ListSubscriptions(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, domain.PodcastID(2), subs[0].ID)
	assert.Equal(t, "two", subs[0].Title)
	require.NotNil(t, subs[0].RefreshedAt)
	assert.True(t, subs[0].RefreshedAt.Equal(refreshed))
	assert.Nil(t, subs[1].RefreshedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSubscriptions_QueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs(10).
		WillReturnError(errors.New("boom"))

	subs, err := store.ListSubscriptions(context.Background(), 10)

	require.Error(t, err)
	assert.Nil(t, subs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SubscribedIDs(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT podcast_id FROM subscriptions")).
		WillReturnRows(pgxmock.NewRows([]string{"podcast_id"}).AddRow(int64(1)).AddRow(int64(4)))

	ids, err := store.SubscribedIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []domain.PodcastID{1, 4}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePodcasts_Empty(t *testing.T) {
	store, mock := newMockStore(t)

	n, err := store.UpdatePodcasts(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePodcasts_BeginError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	n, err := store.UpdatePodcasts(context.Background(), []domain.Podcast{{ID: 1}})

	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}
