package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"podcasts/internal/domain"
	"podcasts/internal/metrics"
)

// DefaultTimeout ограничивает обработку одного подкаста: запрос в каталог и запись в хранилище.
const DefaultTimeout = 30 * time.Second

// PodcastLookup получает метаданные подкаста из каталога.
type PodcastLookup interface {
	GetPodcast(ctx context.Context, id domain.PodcastID) (*domain.Podcast, error)
}

// SubscriptionSaver сохраняет подписку в локальное хранилище.
type SubscriptionSaver interface {
	SaveSubscription(ctx context.Context, podcast domain.Podcast) error
}

// Subscriber асинхронно оформляет подписки на подкасты.
// Subscribe только ставит id в неограниченную FIFO-очередь, обработку выполняют воркеры.
// IsSubscribing сообщает, есть ли еще поставленная в очередь или выполняемая работа.
type Subscriber struct {
	lookup  PodcastLookup
	saver   SubscriptionSaver
	workers int
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	queue   []domain.PodcastID
	stopped bool
	signal  chan struct{}
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создает подписчика с заданным числом воркеров (минимум один).
func New(lookup PodcastLookup, saver SubscriptionSaver, workers int, log *slog.Logger) *Subscriber {
	if workers < 1 {
		workers = 1
	}
	return &Subscriber{
		lookup:  lookup,
		saver:   saver,
		workers: workers,
		timeout: DefaultTimeout,
		log:     log.With(slog.String("component", "subscriber")),
		signal:  make(chan struct{}, 1),
	}
}

// Start запускает воркеров. Подписки, поставленные до Start, будут обработаны после запуска.
func (s *Subscriber) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.run(i)
	}
	s.wakeUp()
	s.log.Info("Subscriber started", slog.Int("workers", s.workers))
}

// Stop останавливает воркеров и ждет их завершения.
// Необработанные id отбрасываются: подписка идемпотентна и может быть повторена новым импортом.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	dropped := len(s.queue)
	s.queue = nil
	s.pending.Add(-int64(dropped))
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if dropped > 0 {
		s.log.Warn("Subscriber stopped with queued subscriptions", slog.Int("dropped", dropped))
	}
	s.log.Info("Subscriber stopped")
}

// Subscribe ставит подкаст в очередь на подписку и сразу возвращает управление.
func (s *Subscriber) Subscribe(id domain.PodcastID) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Warn("Subscribe called after stop, dropping", slog.Int64("podcast_id", int64(id)))
		return
	}
	s.queue = append(s.queue, id)
	s.pending.Add(1)
	s.mu.Unlock()
	s.wakeUp()
}

// IsSubscribing возвращает true, пока в очереди или в обработке есть подписки.
func (s *Subscriber) IsSubscribing() bool {
	return s.pending.Load() > 0
}

// Pending возвращает число необработанных подписок.
func (s *Subscriber) Pending() int {
	return int(s.pending.Load())
}

func (s *Subscriber) wakeUp() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscriber) pop() (domain.PodcastID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	if len(s.queue) > 0 {
		s.wakeUp()
	}
	return id, true
}

func (s *Subscriber) run(n int) {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		id, ok := s.pop()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		s.process(id, n)
		s.pending.Add(-1)
	}
}

func (s *Subscriber) process(id domain.PodcastID, worker int) {
	log := s.log.With(slog.Int64("podcast_id", int64(id)), slog.Int("worker", worker))
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	err := s.subscribe(ctx, id)
	metrics.RecordSubscription(err)
	if err != nil {
		log.Error("Subscription failed", slog.Any("error", err))
		return
	}
	log.Debug("Subscribed")
}

func (s *Subscriber) subscribe(ctx context.Context, id domain.PodcastID) error {
	podcast, err := s.lookup.GetPodcast(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup podcast %d: %w", id, err)
	}
	podcast.ID = id
	if err := s.saver.SaveSubscription(ctx, *podcast); err != nil {
		return fmt.Errorf("save subscription %d: %w", id, err)
	}
	return nil
}
