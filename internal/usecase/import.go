package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"podcasts/internal/batch"
	"podcasts/internal/config"
	"podcasts/internal/domain"
	"podcasts/internal/metrics"
	"podcasts/internal/opml"
)

// ImportOptions параметры прогона импорта.
type ImportOptions struct {
	CreateChunkSize int
	PollChunkSize   int
	MaxPollRounds   int
	// PollBaseDelay задержка перед раундом r+1 равна r * PollBaseDelay.
	PollBaseDelay time.Duration
	DrainInterval time.Duration
}

// ImportOptionsFromConfig собирает параметры импорта из конфигурации приложения.
func ImportOptionsFromConfig(cfg config.AppConfig) ImportOptions {
	return ImportOptions{
		CreateChunkSize: cfg.CreateChunkSize,
		PollChunkSize:   cfg.PollChunkSize,
		MaxPollRounds:   cfg.MaxPollRounds,
		PollBaseDelay:   cfg.PollDelay(),
		DrainInterval:   cfg.Drain(),
	}
}

// ImportUseCase проводит импорт подписок: извлечение адресов, создание подкастов
// в каталоге, опрос незавершенных, подписка и ожидание записи подписок.
// Состояние каждого прогона живет только внутри вызова Import.
type ImportUseCase struct {
	catalog PodcastCreator
	subs    SubscriptionQueue
	counter SubscriptionCounter
	opts    ImportOptions
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewImportUseCase(
	catalog PodcastCreator,
	subs SubscriptionQueue,
	counter SubscriptionCounter,
	opts ImportOptions,
	log *slog.Logger,
) *ImportUseCase {
	return &ImportUseCase{
		catalog: catalog,
		subs:    subs,
		counter: counter,
		opts:    opts,
		log:     log.With(slog.String("component", "importer")),
		sleep:   sleepContext,
	}
}

// Import выполняет один прогон импорта для документа r.
// Отчет возвращается всегда; при сбое он в состоянии StateFailed, а ошибка
// оборачивает причину (для сбоев каталога это domain.ErrTransport).
// Отмена ctx прерывает прогон, уже поставленные подписки не откатываются.
func (uc *ImportUseCase) Import(ctx context.Context, r io.Reader, obs ImportObserver) (*domain.ImportReport, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	s := &importSession{
		uc:       uc,
		obs:      obs,
		log:      uc.log,
		report:   &domain.ImportReport{},
		resolved: make(map[domain.PodcastID]struct{}),
		start:    time.Now(),
	}
	err := s.run(ctx, r)
	s.report.Duration = time.Since(s.start)
	metrics.RecordImport(string(s.report.State), s.report.PollRounds)
	if err != nil {
		s.log.Error("Import failed",
			slog.Int("requested", s.report.Requested),
			slog.Int("resolved", s.report.Resolved),
			slog.Int("poll_rounds", s.report.PollRounds),
			slog.Any("error", err),
		)
		return s.report, err
	}
	s.log.Info("Import completed",
		slog.Int("requested", s.report.Requested),
		slog.Int("resolved", s.report.Resolved),
		slog.Int("failed", s.report.Failed),
		slog.Int("abandoned_tokens", s.report.AbandonedTokens),
		slog.Int("poll_rounds", s.report.PollRounds),
		slog.Int("progress", s.report.Progress),
		slog.Duration("duration", s.report.Duration),
	)
	return s.report, nil
}

// importSession состояние одного прогона.
type importSession struct {
	uc     *ImportUseCase
	obs    ImportObserver
	log    *slog.Logger
	report *domain.ImportReport

	initialCount int
	tokens       []domain.PollToken
	resolved     map[domain.PodcastID]struct{}
	start        time.Time
}

func (s *importSession) run(ctx context.Context, r io.Reader) error {
	s.setState(domain.StateExtractingURLs)
	urls, err := opml.ExtractFeedURLs(ctx, r)
	if err != nil {
		return s.fail(err)
	}
	s.report.Requested = len(urls)
	s.log.Info("Extracted feed urls", slog.Int("count", len(urls)))
	if len(urls) == 0 {
		s.obs.OnProgress(0, 0)
		s.setState(domain.StateDone)
		return nil
	}
	s.initialCount = s.count(ctx, 0)

	s.setState(domain.StateSubmittingChunks)
	if err := s.submit(ctx, urls); err != nil {
		return s.fail(err)
	}

	s.setState(domain.StatePolling)
	if err := s.poll(ctx); err != nil {
		return s.fail(err)
	}

	s.setState(domain.StateDrainingSubscriptions)
	if err := s.drain(ctx); err != nil {
		return s.fail(err)
	}
	s.setState(domain.StateDone)
	return nil
}

// submit отправляет чанки create строго последовательно.
func (s *importSession) submit(ctx context.Context, urls []string) error {
	chunks, err := batch.Split(urls, s.uc.opts.CreateChunkSize)
	if err != nil {
		return err
	}
	metrics.RecordDispatch("create", len(urls), s.uc.opts.CreateChunkSize)
	for i, chunk := range chunks {
		res, err := s.uc.catalog.CreatePodcasts(ctx, chunk)
		if err != nil {
			return fmt.Errorf("create chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if res != nil {
			s.absorb(*res)
		}
		s.log.Debug("Create chunk submitted",
			slog.Int("chunk", i+1),
			slog.Int("chunks", len(chunks)),
			slog.Int("pending_tokens", len(s.tokens)),
		)
		s.reportProgress(ctx)
	}
	return nil
}

// poll опрашивает каталог, пока есть токены и не исчерпан лимит раундов.
// Ошибка раунда завершает прогон: оставшиеся токены не переспрашиваются.
func (s *importSession) poll(ctx context.Context) error {
	opts := s.uc.opts
	for len(s.tokens) > 0 && s.report.PollRounds < opts.MaxPollRounds {
		tokens := s.tokens
		metrics.RecordDispatch("poll", len(tokens), opts.PollChunkSize)
		res, err := batch.Dispatch[domain.PollToken, domain.CreateResult](
			ctx, tokens, opts.PollChunkSize, s.uc.catalog.PollPodcasts, domain.MergeCreateResults,
		)
		if err != nil {
			return fmt.Errorf("poll round %d: %w", s.report.PollRounds+1, err)
		}
		s.report.PollRounds++
		s.tokens = nil
		s.absorb(res)
		s.log.Debug("Poll round finished",
			slog.Int("round", s.report.PollRounds),
			slog.Int("sent_tokens", len(tokens)),
			slog.Int("pending_tokens", len(s.tokens)),
		)
		s.reportProgress(ctx)

		if len(s.tokens) > 0 && s.report.PollRounds < opts.MaxPollRounds {
			delay := time.Duration(s.report.PollRounds) * opts.PollBaseDelay
			if err := s.uc.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	if len(s.tokens) > 0 {
		s.report.AbandonedTokens = len(s.tokens)
		s.log.Warn("Poll round limit reached, abandoning tokens",
			slog.Int("rounds", s.report.PollRounds),
			slog.Int("abandoned", len(s.tokens)),
		)
	}
	return nil
}

// drain ждет, пока подписчик не обработает все поставленные подписки.
func (s *importSession) drain(ctx context.Context) error {
	s.reportProgress(ctx)
	for s.uc.subs.IsSubscribing() {
		if err := s.uc.sleep(ctx, s.uc.opts.DrainInterval); err != nil {
			return err
		}
		s.reportProgress(ctx)
	}
	return nil
}

// absorb ставит в очередь подписки на новые id и запоминает токены для следующего раунда.
func (s *importSession) absorb(res domain.CreateResult) {
	for _, id := range res.ResolvedIDs {
		if _, dup := s.resolved[id]; dup {
			continue
		}
		s.resolved[id] = struct{}{}
		s.report.Resolved++
		s.uc.subs.Subscribe(id)
	}
	s.report.Failed += res.FailedCount
	seen := make(map[domain.PollToken]struct{}, len(s.tokens)+len(res.PollTokens))
	for _, t := range s.tokens {
		seen[t] = struct{}{}
	}
	for _, t := range res.PollTokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		s.tokens = append(s.tokens, t)
	}
}

func (s *importSession) reportProgress(ctx context.Context) {
	current := s.count(ctx, s.initialCount+s.report.Progress)
	s.report.Progress = domain.ClampProgress(current-s.initialCount, s.report.Requested)
	s.obs.OnProgress(s.report.Progress, s.report.Requested)
}

// count читает число подписок; при ошибке возвращает fallback.
func (s *importSession) count(ctx context.Context, fallback int) int {
	n, err := s.uc.counter.CountSubscriptions(ctx)
	if err != nil {
		s.log.Warn("Failed to count subscriptions", slog.Any("error", err))
		return fallback
	}
	return n
}

func (s *importSession) setState(state domain.ImportState) {
	s.report.State = state
	s.log.Debug("Import state changed", slog.String("state", string(state)))
	s.obs.OnState(state)
}

func (s *importSession) fail(err error) error {
	failedIn := s.report.State
	s.report.AbandonedTokens = len(s.tokens)
	s.setState(domain.StateFailed)
	return fmt.Errorf("import failed while %s: %w", failedIn, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
