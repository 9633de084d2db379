package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"podcasts/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    podcast_id    INTEGER PRIMARY KEY,
    title         TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    feed_url      TEXT NOT NULL DEFAULT '',
    image_url     TEXT NOT NULL DEFAULT '',
    episode_count INTEGER NOT NULL DEFAULT 0,
    subscribed_at DATETIME NOT NULL,
    refreshed_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_subscribed_at ON subscriptions(subscribed_at);
`

// SQLiteStore хранит подписки во встроенной базе SQLite.
// Подходит для CLI и однопользовательского запуска без PostgreSQL.
type SQLiteStore struct {
	db           *sql.DB
	log          *slog.Logger
	defaultLimit int
	now          func() time.Time
}

// NewSQLiteStore открывает базу по пути dbPath и создает схему при необходимости.
func NewSQLiteStore(dbPath string, defaultLimit int, log *slog.Logger) (*SQLiteStore, error) {
	const op = "storage.sqlite.New"
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("%s: failed to create directory: %w", op, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// SQLite допускает одного писателя.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: failed to init schema: %w", op, err)
	}
	log = log.With(slog.String("component", "storage.sqlite"))
	log.Info("Initialized SQLite subscription storage", slog.String("path", dbPath))
	return &SQLiteStore{
		db:           db,
		log:          log,
		defaultLimit: defaultLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) Close() {
	s.log.Info("Closing SQLite database")
	if err := s.db.Close(); err != nil {
		s.log.Error("Failed to close database", slog.Any("error", err))
	}
}

func (s *SQLiteStore) SaveSubscription(ctx context.Context, p domain.Podcast) error {
	const op = "storage.sqlite.SaveSubscription"
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (podcast_id, title, author, feed_url, image_url, episode_count, subscribed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (podcast_id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			feed_url = excluded.feed_url,
			image_url = excluded.image_url,
			episode_count = excluded.episode_count`,
		int64(p.ID), p.Title, p.Author, p.FeedURL, p.ImageURL, p.EpisodeCount, s.now(),
	)
	if err != nil {
		s.log.Error("Failed to save subscription",
			slog.String("op", op),
			slog.Int64("podcast_id", int64(p.ID)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) CountSubscriptions(ctx context.Context) (int, error) {
	const op = "storage.sqlite.CountSubscriptions"
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	const op = "storage.sqlite.ListSubscriptions"
	rows, err := s.db.QueryContext(ctx, `
		SELECT podcast_id, title, author, feed_url, image_url, episode_count, subscribed_at, refreshed_at
		FROM subscriptions
		ORDER BY subscribed_at DESC, podcast_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		var sub domain.Subscription
		var id int64
		var refreshed sql.NullTime
		if err := rows.Scan(&id, &sub.Title, &sub.Author, &sub.FeedURL, &sub.ImageURL,
			&sub.EpisodeCount, &sub.SubscribedAt, &refreshed); err != nil {
			return nil, fmt.Errorf("%s: failed to scan row: %w", op, err)
		}
		sub.ID = domain.PodcastID(id)
		if refreshed.Valid {
			t := refreshed.Time
			sub.RefreshedAt = &t
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

func (s *SQLiteStore) SubscribedIDs(ctx context.Context) ([]domain.PodcastID, error) {
	const op = "storage.sqlite.SubscribedIDs"
	rows, err := s.db.QueryContext(ctx, `SELECT podcast_id FROM subscriptions ORDER BY podcast_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}
	defer rows.Close()

	ids := make([]domain.PodcastID, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: failed to scan row: %w", op, err)
		}
		ids = append(ids, domain.PodcastID(id))
	}
	return ids, rows.Err()
}

// UpdatePodcasts обновляет метаданные подписок в одной транзакции через подготовленный запрос.
func (s *SQLiteStore) UpdatePodcasts(ctx context.Context, podcasts []domain.Podcast) (n int, err error) {
	if len(podcasts) == 0 {
		return 0, nil
	}
	const op = "storage.sqlite.UpdatePodcasts"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				s.log.Error("Failed to rollback transaction", slog.Any("error", rollbackErr))
			}
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE subscriptions
		SET title = ?, author = ?, feed_url = ?, image_url = ?, episode_count = ?, refreshed_at = ?
		WHERE podcast_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to prepare statement: %w", op, err)
	}
	defer stmt.Close()

	now := s.now()
	for _, p := range podcasts {
		res, err := stmt.ExecContext(ctx, p.Title, p.Author, p.FeedURL, p.ImageURL, p.EpisodeCount, now, int64(p.ID))
		if err != nil {
			return 0, fmt.Errorf("%s: podcast %d: %w", op, p.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		n += int(affected)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	s.log.Info("Updated podcasts", slog.Int("requested", len(podcasts)), slog.Int("updated", n))
	return n, nil
}
