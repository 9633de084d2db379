package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"podcasts/internal/domain"
)

// Pool подмножество методов pgxpool.Pool, которое использует хранилище.
// Позволяет подменять пул в тестах через pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore хранит подписки в PostgreSQL.
type PostgresStore struct {
	pool         Pool
	log          *slog.Logger
	defaultLimit int
	now          func() time.Time
}

func NewPostgresStore(pool Pool, defaultLimit int, log *slog.Logger) *PostgresStore {
	log = log.With(slog.String("component", "storage.postgres"))
	log.Info("Initializing Postgres subscription storage")
	return &PostgresStore{
		pool:         pool,
		log:          log,
		defaultLimit: defaultLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (db *PostgresStore) Close() {
	db.log.Info("Closing database connection pool")
	db.pool.Close()
}

// SaveSubscription добавляет подписку или обновляет метаданные уже существующей.
// Время подписки при повторном вызове не меняется.
func (db *PostgresStore) SaveSubscription(ctx context.Context, p domain.Podcast) error {
	const op = "storage.postgres.SaveSubscription"
	query := `
	INSERT INTO subscriptions (podcast_id, title, author, feed_url, image_url, episode_count, subscribed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (podcast_id) DO UPDATE SET
		title = EXCLUDED.title,
		author = EXCLUDED.author,
		feed_url = EXCLUDED.feed_url,
		image_url = EXCLUDED.image_url,
		episode_count = EXCLUDED.episode_count;
	`
	_, err := db.pool.Exec(ctx, query,
		int64(p.ID),
		p.Title,
		p.Author,
		p.FeedURL,
		p.ImageURL,
		p.EpisodeCount,
		db.now(),
	)
	if err != nil {
		db.log.Error("Failed to save subscription",
			slog.String("op", op),
			slog.Int64("podcast_id", int64(p.ID)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (db *PostgresStore) CountSubscriptions(ctx context.Context) (int, error) {
	const op = "storage.postgres.CountSubscriptions"
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ListSubscriptions возвращает последние подписки, не больше limit.
// При limit <= 0 используется лимит по умолчанию.
func (db *PostgresStore) ListSubscriptions(ctx context.Context, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = db.defaultLimit
	}
	const op = "storage.postgres.ListSubscriptions"
	log := db.log.With(slog.String("op", op), slog.Int("limit", limit))
	query := `
	SELECT podcast_id, title, author, feed_url, image_url, episode_count, subscribed_at, refreshed_at
	FROM subscriptions
	ORDER BY subscribed_at DESC, podcast_id
	LIMIT $1;
	`
	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		log.Error("Database query failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}
	defer rows.Close()
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subscription, error) {
		var s domain.Subscription
		var id int64
		err := row.Scan(
			&id,
			&s.Title,
			&s.Author,
			&s.FeedURL,
			&s.ImageURL,
			&s.EpisodeCount,
			&s.SubscribedAt,
			&s.RefreshedAt,
		)
		s.ID = domain.PodcastID(id)
		return s, err
	})
	if err != nil {
		log.Error("Failed to collect rows", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to scan row: %w", op, err)
	}
	log.Debug("Retrieved subscriptions", slog.Int("count", len(subs)))
	return subs, nil
}

func (db *PostgresStore) SubscribedIDs(ctx context.Context) ([]domain.PodcastID, error) {
	const op = "storage.postgres.SubscribedIDs"
	rows, err := db.pool.Query(ctx, `SELECT podcast_id FROM subscriptions ORDER BY podcast_id;`)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}
	defer rows.Close()
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PodcastID, error) {
		var id int64
		err := row.Scan(&id)
		return domain.PodcastID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to scan row: %w", op, err)
	}
	return ids, nil
}

// UpdatePodcasts обновляет метаданные подписанных подкастов одним пакетом в транзакции.
// Возвращает число обновленных строк; подкасты без подписки пропускаются.
func (db *PostgresStore) UpdatePodcasts(ctx context.Context, podcasts []domain.Podcast) (n int, err error) {
	if len(podcasts) == 0 {
		return 0, nil
	}
	const op = "storage.postgres.UpdatePodcasts"
	log := db.log.With(slog.String("op", op))
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", slog.Any("error", err))
		return 0, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(context.Background()); rollbackErr != nil {
				log.Error("Failed to rollback transaction", slog.Any("error", rollbackErr))
			}
		}
	}()
	query := `
	UPDATE subscriptions
	SET title = $2, author = $3, feed_url = $4, image_url = $5, episode_count = $6, refreshed_at = $7
	WHERE podcast_id = $1;
	`
	now := db.now()
	batch := &pgx.Batch{}
	for _, p := range podcasts {
		batch.Queue(query, int64(p.ID), p.Title, p.Author, p.FeedURL, p.ImageURL, p.EpisodeCount, now)
	}
	results := tx.SendBatch(ctx, batch)
	for range podcasts {
		tag, execErr := results.Exec()
		if execErr != nil {
			results.Close()
			log.Error("Failed to execute batch", slog.Any("error", execErr))
			return 0, fmt.Errorf("%s: failed to execute batch: %w", op, execErr)
		}
		n += int(tag.RowsAffected())
	}
	if err = results.Close(); err != nil {
		log.Error("Failed to close batch", slog.Any("error", err))
		return 0, fmt.Errorf("%s: failed to close batch: %w", op, err)
	}
	if err = tx.Commit(ctx); err != nil {
		log.Error("Failed to commit transaction", slog.Any("error", err))
		return 0, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	log.Info("Updated podcasts", slog.Int("requested", len(podcasts)), slog.Int("updated", n))
	return n, nil
}
