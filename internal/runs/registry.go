// Package runs хранит в памяти фоновые прогоны импорта, запущенные через HTTP API.
package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"podcasts/internal/domain"
	"podcasts/internal/usecase"
)

// ErrShutdown возвращается Start после остановки реестра.
var ErrShutdown = errors.New("run registry is shut down")

// Importer выполняет один прогон импорта.
type Importer interface {
	Import(ctx context.Context, r io.Reader, obs usecase.ImportObserver) (*domain.ImportReport, error)
}

// DocumentOpener готовит документ к импорту (например, санитизирует его).
type DocumentOpener interface {
	Open(doc []byte) (io.ReadCloser, error)
}

// Run снимок состояния прогона импорта.
type Run struct {
	ID         string               `json:"id"`
	State      domain.ImportState   `json:"state"`
	Done       int                  `json:"done"`
	Total      int                  `json:"total"`
	Error      string               `json:"error,omitempty"`
	Report     *domain.ImportReport `json:"report,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

// entry изменяемое состояние прогона; реализует usecase.ImportObserver.
type entry struct {
	mu  sync.Mutex
	run Run
}

func (e *entry) OnState(state domain.ImportState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.State = state
}

func (e *entry) OnProgress(done, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.Done = done
	e.run.Total = total
}

func (e *entry) finish(report *domain.ImportReport, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	e.run.FinishedAt = &now
	e.run.Report = report
	if report != nil {
		e.run.State = report.State
	}
	if err != nil {
		e.run.State = domain.StateFailed
		e.run.Error = err.Error()
	}
}

func (e *entry) snapshot() Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.run
	if run.Report != nil {
		report := *run.Report
		run.Report = &report
	}
	return run
}

// Registry запускает прогоны импорта в фоне и хранит их состояние.
// Идущие прогоны не истекают; завершенные удаляются через ttl.
type Registry struct {
	importer Importer
	opener   DocumentOpener
	runs     *cache.Cache
	ttl      time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(importer Importer, opener DocumentOpener, ttl time.Duration, log *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		importer: importer,
		opener:   opener,
		runs:     cache.New(ttl, 2*ttl),
		ttl:      ttl,
		log:      log.With(slog.String("component", "runs")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start запускает импорт документа в фоне и возвращает id прогона.
func (r *Registry) Start(doc []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrShutdown
	}
	reader, err := r.opener.Open(doc)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	id := uuid.NewString()
	e := &entry{run: Run{
		ID:        id,
		State:     domain.StateExtractingURLs,
		StartedAt: time.Now().UTC(),
	}}
	r.runs.Set(id, e, cache.NoExpiration)
	r.wg.Add(1)
	go r.execute(id, e, reader)
	r.log.Info("Import run started", slog.String("run_id", id), slog.Int("bytes", len(doc)))
	return id, nil
}

func (r *Registry) execute(id string, e *entry, reader io.ReadCloser) {
	defer r.wg.Done()
	defer reader.Close()
	log := r.log.With(slog.String("run_id", id))

	report, err := r.importer.Import(r.ctx, reader, e)
	e.finish(report, err)
	r.runs.Set(id, e, r.ttl)
	if err != nil {
		log.Error("Import run failed", slog.Any("error", err))
		return
	}
	log.Info("Import run finished", slog.String("state", string(report.State)))
}

// Get возвращает снимок прогона или domain.ErrRunNotFound.
func (r *Registry) Get(id string) (Run, error) {
	v, ok := r.runs.Get(id)
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return v.(*entry).snapshot(), nil
}

// Count возвращает число известных прогонов, включая еще не очищенные истекшие.
func (r *Registry) Count() int {
	return r.runs.ItemCount()
}

// Shutdown отменяет идущие прогоны и ждет их завершения.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.log.Info("Cancelling import runs")
	r.cancel()
	r.wg.Wait()
}
