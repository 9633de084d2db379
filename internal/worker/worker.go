package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher обновляет все подписки. Реализуется usecase.RefreshUseCase.
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Worker периодически обновляет метаданные подписанных подкастов.
// Первый цикл выполняется сразу после Start, следующие по расписанию.
type Worker struct {
	refresher Refresher
	interval  time.Duration
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New создает воркера обновления с заданным интервалом.
func New(refresher Refresher, interval time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		refresher: refresher,
		interval:  interval,
		log:       log.With(slog.String("component", "worker")),
	}
}

// Start запускает воркер в отдельной горутине.
func (w *Worker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.run()
}

// Stop отменяет текущий цикл и ждет выхода горутины воркера.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// run выполняет основной цикл работы воркера.
func (w *Worker) run() {
	defer w.wg.Done()
	w.log.Info("Refresh worker started", slog.String("interval", w.interval.String()))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.refreshAll()
	for {
		select {
		case <-ticker.C:
			w.refreshAll()
		case <-w.ctx.Done():
			w.log.Info("Worker stopping")
			return
		}
	}
}

// refreshAll выполняет один цикл обновления, ограниченный интервалом воркера.
func (w *Worker) refreshAll() {
	if w.ctx.Err() != nil {
		return
	}
	start := time.Now()
	w.log.Info("Refresh cycle started")
	opCtx, opCancel := context.WithTimeout(w.ctx, w.interval)
	defer opCancel()
	updated, err := w.refresher.RefreshAll(opCtx)
	if err != nil {
		w.log.Error("Refresh cycle failed",
			slog.Any("error", err),
			slog.Duration("duration", time.Since(start)),
		)
		return
	}
	w.log.Info("Refresh cycle completed",
		slog.Int("updated", updated),
		slog.Duration("duration", time.Since(start)),
	)
}

// GetInterval возвращает интервал обновления.
func (w *Worker) GetInterval() time.Duration { return w.interval }
