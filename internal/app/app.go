package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"podcasts/internal/adapter/catalog"
	"podcasts/internal/adapter/fetcher"
	"podcasts/internal/config"
	"podcasts/internal/domain"
	"podcasts/internal/logger"
	"podcasts/internal/migrations"
	"podcasts/internal/runs"
	"podcasts/internal/subscriber"
	server "podcasts/internal/transport/http"
	"podcasts/internal/usecase"
	"podcasts/internal/worker"
	"podcasts/storage"
)

// App представляет основное приложение импорта подкастов.
// Координирует работу всех компонентов: HTTP-сервера, подписчика, реестра импортов,
// воркера обновления, хранилища и системы логирования.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         storage.Storage
	subscriber    *subscriber.Subscriber
	importer      *usecase.ImportUseCase
	refresher     *usecase.RefreshUseCase
	subscriptions *usecase.SubscriptionsUseCase
	loader        *usecase.DocumentLoader
	registry      *runs.Registry
	worker        *worker.Worker
	server        *http.Server
	stopChan      chan os.Signal
	wg            sync.WaitGroup
}

// New создает и инициализирует приложение: логгер, хранилище (с миграциями для PostgreSQL),
// клиент каталога и все сценарии. Фоновые компоненты не запускаются до Run или Import.
func New(cfg *config.Config) (*App, error) {
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	slog.SetDefault(appLogger)

	store, err := openStorage(context.Background(), cfg, appLogger)
	if err != nil {
		return nil, err
	}
	catalogClient, err := catalog.NewClient(cfg.Catalog, appLogger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create catalog client: %w", err)
	}
	httpFetcher := fetcher.NewHTTPFetcher(appLogger, cfg.Catalog.RequestTimeout(), cfg.Catalog.UserAgent)

	sub := subscriber.New(catalogClient, store, cfg.App.SubscribeWorkers, appLogger)
	importer := usecase.NewImportUseCase(catalogClient, sub, store, usecase.ImportOptionsFromConfig(cfg.App), appLogger)
	refresher := usecase.NewRefreshUseCase(catalogClient, store, cfg.App.RefreshChunkSize, appLogger)
	subscriptions := usecase.NewSubscriptionsUseCase(store)
	loader := usecase.NewDocumentLoader(httpFetcher, cfg.App.Sanitize, appLogger)
	registry := runs.NewRegistry(importer, loader, cfg.App.TTL(), appLogger)

	handler := server.NewHandler(appLogger, registry, loader, subscriptions, refresher)
	router := server.NewServer(appLogger, handler)

	return &App{
		config:        cfg,
		logger:        appLogger,
		store:         store,
		subscriber:    sub,
		importer:      importer,
		refresher:     refresher,
		subscriptions: subscriptions,
		loader:        loader,
		registry:      registry,
		worker:        worker.New(refresher, cfg.App.Refresh(), appLogger),
		server: &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		stopChan: make(chan os.Signal, 1),
	}, nil
}

// openStorage открывает хранилище по драйверу из конфигурации.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.App.DefaultListLimit, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := migrations.Apply(ctx, log, dbPool); err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return storage.NewPostgresStore(dbPool, cfg.App.DefaultListLimit, log), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// Run запускает сервис: подписчика, воркер обновления и HTTP-сервер.
// Метод блокируется до получения сигнала завершения.
func (a *App) Run() error {
	a.logger.Info("Starting podcast importer",
		slog.String("component", "app"),
		slog.String("database", a.config.Database.Driver),
		slog.String("refresh_interval", a.worker.GetInterval().String()),
	)
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to create listener: %w", err)
	}
	a.subscriber.Start()
	a.worker.Start()
	a.logger.Info("HTTP server ready",
		slog.String("component", "server"),
		slog.String("address", listener.Addr().String()),
	)
	serverErr := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			serverErr <- err
		}
	}()
	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)
	select {
	case sig := <-a.stopChan:
		a.logger.Info("Shutdown signal received",
			slog.String("component", "app"),
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		a.Shutdown()
		return fmt.Errorf("http server: %w", err)
	}
	return a.Shutdown()
}

// Shutdown выполняет graceful shutdown сервиса: останавливает прием запросов,
// отменяет идущие импорты, останавливает воркер и подписчика и закрывает хранилище.
func (a *App) Shutdown() error {
	a.logger.Info("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", slog.Any("error", err))
	}
	a.registry.Shutdown()
	a.worker.Stop()
	a.wg.Wait()
	a.Close()
	a.logger.Info("Application stopped gracefully")
	return nil
}

// Close останавливает подписчика и закрывает хранилище.
func (a *App) Close() {
	a.subscriber.Stop()
	a.store.Close()
}

// Import выполняет импорт документа из файла или по URL в текущем процессе.
// После прогона ждет записи уже поставленных подписок, в том числе при ошибке.
func (a *App) Import(ctx context.Context, source string, obs usecase.ImportObserver) (*domain.ImportReport, error) {
	doc, err := a.loader.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	reader, err := a.loader.Open(doc)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	a.subscriber.Start()
	report, importErr := a.importer.Import(ctx, reader, obs)
	a.waitSubscriptions(ctx)
	return report, importErr
}

func (a *App) waitSubscriptions(ctx context.Context) {
	ticker := time.NewTicker(a.config.App.Drain())
	defer ticker.Stop()
	for a.subscriber.IsSubscribing() {
		select {
		case <-ctx.Done():
			a.logger.Warn("Stopped waiting for subscriptions",
				slog.Int("pending", a.subscriber.Pending()),
				slog.Any("error", ctx.Err()),
			)
			return
		case <-ticker.C:
		}
	}
}

// Refresh обновляет указанные подкасты или, при пустом списке, все подписки.
func (a *App) Refresh(ctx context.Context, ids []domain.PodcastID) (int, error) {
	if len(ids) == 0 {
		return a.refresher.RefreshAll(ctx)
	}
	return a.refresher.Refresh(ctx, ids)
}

// Export пишет все подписки в w как OPML.
func (a *App) Export(ctx context.Context, w io.Writer) error {
	return a.subscriptions.Export(ctx, w, "Podcast subscriptions")
}
