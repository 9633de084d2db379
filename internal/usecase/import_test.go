package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcasts/internal/domain"
)

type fakeCreator struct {
	mu          sync.Mutex
	createCalls [][]string
	pollCalls   [][]domain.PollToken
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	create func(call int, chunk []string) (*domain.CreateResult, error)
	poll   func(call int, tokens []domain.PollToken) (*domain.CreateResult, error)
}

func (f *fakeCreator) CreatePodcasts(ctx context.Context, feedURLs []string) (*domain.CreateResult, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	if cur > f.maxInFlight.Load() {
		f.maxInFlight.Store(cur)
	}
	f.mu.Lock()
	f.createCalls = append(f.createCalls, feedURLs)
	call := len(f.createCalls)
	f.mu.Unlock()
	if f.create == nil {
		return &domain.CreateResult{}, nil
	}
	return f.create(call, feedURLs)
}

func (f *fakeCreator) PollPodcasts(ctx context.Context, tokens []domain.PollToken) (*domain.CreateResult, error) {
	f.mu.Lock()
	f.pollCalls = append(f.pollCalls, tokens)
	call := len(f.pollCalls)
	f.mu.Unlock()
	if f.poll == nil {
		return &domain.CreateResult{}, nil
	}
	return f.poll(call, tokens)
}

type fakeQueue struct {
	mu          sync.Mutex
	ids         []domain.PodcastID
	busyChecks  int
	checksSoFar int
}

func (f *fakeQueue) Subscribe(id domain.PodcastID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeQueue) IsSubscribing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksSoFar++
	return f.checksSoFar <= f.busyChecks
}

func (f *fakeQueue) subscribed() []domain.PodcastID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PodcastID(nil), f.ids...)
}

// fakeCounter считает подписки как base + число поставленных в очередь + drift*вызов.
type fakeCounter struct {
	mu    sync.Mutex
	base  int
	drift int
	calls int
	queue *fakeQueue
	err   error
}

func (f *fakeCounter) CountSubscriptions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.calls++
	return f.base + len(f.queue.subscribed()) + f.drift*f.calls, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []domain.ImportState
	progress [][2]int
}

func (o *recordingObserver) OnState(state domain.ImportState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) OnProgress(done, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, [2]int{done, total})
}

type importFixture struct {
	creator  *fakeCreator
	queue    *fakeQueue
	counter  *fakeCounter
	observer *recordingObserver
	delays   []time.Duration
	uc       *ImportUseCase
}

func newImportFixture(opts ImportOptions) *importFixture {
	f := &importFixture{
		creator:  &fakeCreator{},
		queue:    &fakeQueue{},
		observer: &recordingObserver{},
	}
	f.counter = &fakeCounter{base: 10, queue: f.queue}
	f.uc = NewImportUseCase(f.creator, f.queue, f.counter, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.uc.sleep = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return ctx.Err()
	}
	return f
}

func (f *importFixture) run(ctx context.Context, doc string) (*domain.ImportReport, error) {
	return f.uc.Import(ctx, strings.NewReader(doc), f.observer)
}

func defaultImportOptions() ImportOptions {
	return ImportOptions{
		CreateChunkSize: 100,
		PollChunkSize:   100,
		MaxPollRounds:   20,
		PollBaseDelay:   time.Second,
		DrainInterval:   500 * time.Millisecond,
	}
}

func opmlDocument(n int) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?>\n<opml version=\"2.0\"><body>\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<outline type=\"rss\" text=\"Show %d\" xmlUrl=\"https://feeds.example.com/%d\" />\n", i, i)
	}
	b.WriteString("</body></opml>\n")
	return b.String()
}

// resolveAll возвращает по id на каждый URL чанка: id = номер в адресе + 1.
func resolveAll(_ int, chunk []string) (*domain.CreateResult, error) {
	res := &domain.CreateResult{}
	for _, u := range chunk {
		var n int
		fmt.Sscanf(u[strings.LastIndex(u, "/")+1:], "%d", &n)
		res.ResolvedIDs = append(res.ResolvedIDs, domain.PodcastID(n+1))
	}
	return res, nil
}

func TestImport_ZeroURLs(t *testing.T) {
	f := newImportFixture(defaultImportOptions())

	report, err := f.run(context.Background(), "<opml><body><outline text=\"folder\"/></body></opml>")

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Zero(t, report.Requested)
	assert.Empty(t, f.creator.createCalls)
	assert.Empty(t, f.creator.pollCalls)
	assert.Empty(t, f.queue.subscribed())
	assert.Equal(t, []domain.ImportState{domain.StateExtractingURLs, domain.StateDone}, f.observer.states)
}

func TestImport_SubmitsCreateChunksSequentially(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		time.Sleep(time.Millisecond)
		return resolveAll(call, chunk)
	}

	report, err := f.run(context.Background(), opmlDocument(250))

	require.NoError(t, err)
	require.Len(t, f.creator.createCalls, 3)
	assert.Len(t, f.creator.createCalls[0], 100)
	assert.Len(t, f.creator.createCalls[1], 100)
	assert.Len(t, f.creator.createCalls[2], 50)
	assert.Equal(t, "https://feeds.example.com/0", f.creator.createCalls[0][0])
	assert.Equal(t, "https://feeds.example.com/249", f.creator.createCalls[2][49])
	assert.Equal(t, int32(1), f.creator.maxInFlight.Load())
	assert.Empty(t, f.creator.pollCalls)

	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 250, report.Requested)
	assert.Equal(t, 250, report.Resolved)
	assert.Equal(t, 250, report.Progress)
	subs := f.queue.subscribed()
	require.Len(t, subs, 250)
	assert.Equal(t, domain.PodcastID(1), subs[0])
	assert.Equal(t, domain.PodcastID(250), subs[249])
}

func TestImport_StateProgression(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{PollTokens: []domain.PollToken{"t1"}}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		return &domain.CreateResult{ResolvedIDs: []domain.PodcastID{1}}, nil
	}

	_, err := f.run(context.Background(), opmlDocument(1))

	require.NoError(t, err)
	assert.Equal(t, []domain.ImportState{
		domain.StateExtractingURLs,
		domain.StateSubmittingChunks,
		domain.StatePolling,
		domain.StateDrainingSubscriptions,
		domain.StateDone,
	}, f.observer.states)
}

func TestImport_PollResolvesAcrossRounds(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{
			ResolvedIDs: []domain.PodcastID{1, 2},
			PollTokens:  []domain.PollToken{"a", "b"},
		}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		switch call {
		case 1:
			return &domain.CreateResult{ResolvedIDs: []domain.PodcastID{3}, PollTokens: []domain.PollToken{"b"}}, nil
		default:
			return &domain.CreateResult{ResolvedIDs: []domain.PodcastID{4}, FailedCount: 0}, nil
		}
	}

	report, err := f.run(context.Background(), opmlDocument(4))

	require.NoError(t, err)
	assert.Equal(t, []domain.PodcastID{1, 2, 3, 4}, f.queue.subscribed())
	assert.Equal(t, 2, report.PollRounds)
	assert.Zero(t, report.AbandonedTokens)
	require.Len(t, f.creator.pollCalls, 2)
	assert.Equal(t, []domain.PollToken{"a", "b"}, f.creator.pollCalls[0])
	assert.Equal(t, []domain.PollToken{"b"}, f.creator.pollCalls[1])
	assert.Equal(t, []time.Duration{time.Second}, f.delays)
}

func TestImport_PollCeilingAbandonsTokens(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{PollTokens: []domain.PollToken{"slow-1", "slow-2"}}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		return &domain.CreateResult{PollTokens: tokens}, nil
	}

	report, err := f.run(context.Background(), opmlDocument(2))

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 20, report.PollRounds)
	assert.Len(t, f.creator.pollCalls, 20)
	assert.Equal(t, 2, report.AbandonedTokens)
	require.Len(t, f.delays, 19)
	for i, d := range f.delays {
		assert.Equal(t, time.Duration(i+1)*time.Second, d)
	}
}

func TestImport_PollChunksDispatchedPerRound(t *testing.T) {
	opts := defaultImportOptions()
	opts.PollChunkSize = 2
	f := newImportFixture(opts)
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{PollTokens: []domain.PollToken{"a", "b", "c", "d", "e"}}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		res := &domain.CreateResult{}
		for _, tok := range tokens {
			res.ResolvedIDs = append(res.ResolvedIDs, domain.PodcastID(tok[0]))
		}
		return res, nil
	}

	report, err := f.run(context.Background(), opmlDocument(5))

	require.NoError(t, err)
	assert.Equal(t, 1, report.PollRounds)
	assert.Len(t, f.creator.pollCalls, 3)
	assert.Equal(t, []domain.PodcastID{'a', 'b', 'c', 'd', 'e'}, f.queue.subscribed())
	assert.Empty(t, f.delays)
}

func TestImport_PollErrorFailsWithoutFurtherRounds(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{ResolvedIDs: []domain.PodcastID{1}, PollTokens: []domain.PollToken{"t"}}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		if call == 3 {
			return nil, fmt.Errorf("%w: poll: connection refused", domain.ErrTransport)
		}
		return &domain.CreateResult{PollTokens: tokens}, nil
	}

	report, err := f.run(context.Background(), opmlDocument(2))

	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Len(t, f.creator.pollCalls, 3)
	assert.Equal(t, 2, report.PollRounds)
	assert.Equal(t, 1, report.AbandonedTokens)
	assert.Equal(t, []domain.PodcastID{1}, f.queue.subscribed())
	assert.Equal(t, domain.StateFailed, f.observer.states[len(f.observer.states)-1])
	assert.NotContains(t, f.observer.states, domain.StateDrainingSubscriptions)
}

func TestImport_CreateErrorFails(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		if call == 2 {
			return nil, fmt.Errorf("%w: create: 502", domain.ErrTransport)
		}
		return resolveAll(call, chunk)
	}

	report, err := f.run(context.Background(), opmlDocument(250))

	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
	assert.Contains(t, err.Error(), "create chunk 2/3")
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Len(t, f.creator.createCalls, 2)
	assert.Empty(t, f.creator.pollCalls)
	assert.Len(t, f.queue.subscribed(), 100)
}

func TestImport_ProgressClamped(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.counter.drift = 7
	f.creator.create = resolveAll

	report, err := f.run(context.Background(), opmlDocument(3))

	require.NoError(t, err)
	assert.Equal(t, 3, report.Progress)
	require.NotEmpty(t, f.observer.progress)
	for _, p := range f.observer.progress {
		assert.GreaterOrEqual(t, p[0], 0)
		assert.LessOrEqual(t, p[0], 3)
		assert.Equal(t, 3, p[1])
	}
}

func TestImport_ProgressNeverNegative(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.counter.drift = -5
	f.creator.create = resolveAll

	report, err := f.run(context.Background(), opmlDocument(2))

	require.NoError(t, err)
	assert.Zero(t, report.Progress)
	for _, p := range f.observer.progress {
		assert.Zero(t, p[0])
	}
}

func TestImport_CounterErrorDoesNotFail(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.counter.err = errors.New("db down")
	f.creator.create = resolveAll

	report, err := f.run(context.Background(), opmlDocument(2))

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 2, report.Resolved)
}

func TestImport_DrainWaitsForSubscriber(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.queue.busyChecks = 3
	f.creator.create = resolveAll

	report, err := f.run(context.Background(), opmlDocument(1))

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, f.delays)
}

func TestImport_DuplicateResolvedIDsSubscribedOnce(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{ResolvedIDs: []domain.PodcastID{5, 5}, PollTokens: []domain.PollToken{"t", "t"}}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		return &domain.CreateResult{ResolvedIDs: []domain.PodcastID{5}}, nil
	}

	report, err := f.run(context.Background(), opmlDocument(2))

	require.NoError(t, err)
	assert.Equal(t, []domain.PodcastID{5}, f.queue.subscribed())
	assert.Equal(t, 1, report.Resolved)
	require.Len(t, f.creator.pollCalls, 1)
	assert.Equal(t, []domain.PollToken{"t"}, f.creator.pollCalls[0])
}

func TestImport_CancelledDuringDelay(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.creator.create = func(call int, chunk []string) (*domain.CreateResult, error) {
		return &domain.CreateResult{PollTokens: []domain.PollToken{"t"}}, nil
	}
	f.creator.poll = func(call int, tokens []domain.PollToken) (*domain.CreateResult, error) {
		cancel()
		return &domain.CreateResult{PollTokens: tokens}, nil
	}

	report, err := f.run(ctx, opmlDocument(1))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Len(t, f.creator.pollCalls, 1)
}

func TestImport_InvalidChunkSize(t *testing.T) {
	opts := defaultImportOptions()
	opts.CreateChunkSize = 0
	f := newImportFixture(opts)

	report, err := f.run(context.Background(), opmlDocument(1))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidChunkSize)
	assert.Equal(t, domain.StateFailed, report.State)
	assert.Empty(t, f.creator.createCalls)
}

func TestImport_NilObserver(t *testing.T) {
	f := newImportFixture(defaultImportOptions())
	f.creator.create = resolveAll

	report, err := f.uc.Import(context.Background(), strings.NewReader(opmlDocument(1)), nil)

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
