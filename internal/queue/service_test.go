package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/queue/event"
)

type stubFetcher struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	calls   int
	gate    chan struct{}
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, beatmapsetID int64, progress func(int)) (*FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		progress(100)
	}
	return &FetchResult{
		Data:     []byte("archive"),
		Filename: fmt.Sprintf("beatmapset-%d.osz", beatmapsetID),
	}, nil
}

type recordingSaver struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newRecordingSaver() *recordingSaver {
	return &recordingSaver{saved: make(map[string][]byte)}
}

func (s *recordingSaver) Save(filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[filename] = data
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startService(t *testing.T, cfg *Config, fetcher Fetcher, saver Saver) *Service {
	t.Helper()
	svc := New(cfg, fetcher, saver, event.NewNullDispatcher(), zap.NewNop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func countByStatus(jobs []Job, status string) int {
	n := 0
	for _, j := range jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}

func TestConcurrencyBound(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	svc := startService(t, &Config{MaxConcurrent: 3, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, nil)

	for i := int64(1); i <= 5; i++ {
		svc.Enqueue(i, fmt.Sprintf("set %d", i))
	}

	waitFor(t, "three active downloads", func() bool {
		return countByStatus(svc.Jobs(), StatusDownloading) == 3
	})

	jobs := svc.Jobs()
	if got := countByStatus(jobs, StatusQueued); got != 2 {
		t.Errorf("queued = %d, want 2", got)
	}

	// Finishing one transfer frees a slot for the oldest queued job.
	fetcher.gate <- struct{}{}
	waitFor(t, "fourth job promoted", func() bool {
		jobs := svc.Jobs()
		return countByStatus(jobs, StatusCompleted) == 1 &&
			countByStatus(jobs, StatusDownloading) == 3
	})

	for i := 0; i < 4; i++ {
		fetcher.gate <- struct{}{}
	}
	waitFor(t, "all jobs completed", func() bool {
		return countByStatus(svc.Jobs(), StatusCompleted) == 5
	})

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if fetcher.maxSeen > 3 {
		t.Errorf("max concurrent transfers = %d, want at most 3", fetcher.maxSeen)
	}
}

func TestJobsArrivalOrder(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	svc := startService(t, &Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, nil)

	var ids []string
	for i := int64(1); i <= 3; i++ {
		job := svc.Enqueue(i, "")
		ids = append(ids, job.ID)
	}

	jobs := svc.Jobs()
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}
	for i, job := range jobs {
		if job.ID != ids[i] {
			t.Errorf("jobs[%d].ID = %s, want %s", i, job.ID, ids[i])
		}
	}
	close(fetcher.gate)
}

func TestRetryBudgetExhausted(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("mirror returned status 503")}
	saver := newRecordingSaver()
	svc := startService(t, &Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, saver)

	job := svc.Enqueue(42, "")

	waitFor(t, "job to fail terminally", func() bool {
		got, ok := svc.Job(job.ID)
		return ok && got.Status == StatusFailed
	})

	got, _ := svc.Job(job.ID)
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}
	if got.ErrorMessage == "" {
		t.Error("expected an error message on the failed job")
	}

	// Initial attempt plus the full retry budget.
	fetcher.mu.Lock()
	calls := fetcher.calls
	fetcher.mu.Unlock()
	if calls != 4 {
		t.Errorf("fetch attempts = %d, want 4", calls)
	}
	if saver.count() != 0 {
		t.Errorf("saved %d files from a failed job, want 0", saver.count())
	}
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	fetcher := &flakyFetcher{failures: 2}
	saver := newRecordingSaver()
	svc := startService(t, &Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, saver)

	job := svc.Enqueue(42, "")

	waitFor(t, "job to complete", func() bool {
		got, ok := svc.Job(job.ID)
		return ok && got.Status == StatusCompleted
	})

	got, _ := svc.Job(job.ID)
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", got.RetryCount)
	}
	if got.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", got.ProgressPercent)
	}
	if saver.count() != 1 {
		t.Errorf("saved files = %d, want 1", saver.count())
	}
}

func TestLastRetrySucceeds(t *testing.T) {
	// Three failures exhaust the retry budget exactly; the fourth
	// attempt still runs and wins.
	fetcher := &flakyFetcher{failures: 3}
	svc := startService(t, &Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, newRecordingSaver())

	job := svc.Enqueue(42, "")

	waitFor(t, "job to complete", func() bool {
		got, ok := svc.Job(job.ID)
		return ok && got.Status == StatusCompleted
	})

	got, _ := svc.Job(job.ID)
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}
}

type flakyFetcher struct {
	mu       sync.Mutex
	failures int
}

func (f *flakyFetcher) Fetch(ctx context.Context, beatmapsetID int64, progress func(int)) (*FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	return &FetchResult{Data: []byte("archive"), Filename: "x.osz"}, nil
}

func TestRemoveCancelsInFlightTransfer(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	saver := newRecordingSaver()
	svc := startService(t, &Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, saver)

	job := svc.Enqueue(42, "")
	waitFor(t, "job downloading", func() bool {
		got, ok := svc.Job(job.ID)
		return ok && got.Status == StatusDownloading
	})

	if !svc.Remove(job.ID) {
		t.Fatal("Remove returned false for a live job")
	}
	if _, ok := svc.Job(job.ID); ok {
		t.Error("removed job still visible")
	}

	waitFor(t, "transfer goroutine to stop", func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.active == 0
	})
	if saver.count() != 0 {
		t.Errorf("saved %d files from a cancelled transfer, want 0", saver.count())
	}
}

func TestRemoveUnknownJob(t *testing.T) {
	svc := startService(t, nil, &stubFetcher{}, nil)
	if svc.Remove("no-such-id") {
		t.Error("Remove returned true for an unknown job")
	}
}

func TestClearAll(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	svc := startService(t, &Config{MaxConcurrent: 2, MaxRetries: 3, RetryBackoff: time.Millisecond}, fetcher, nil)

	for i := int64(1); i <= 4; i++ {
		svc.Enqueue(i, "")
	}
	waitFor(t, "two active downloads", func() bool {
		return countByStatus(svc.Jobs(), StatusDownloading) == 2
	})

	svc.ClearAll()
	if got := len(svc.Jobs()); got != 0 {
		t.Errorf("jobs after clear = %d, want 0", got)
	}
	waitFor(t, "transfers cancelled", func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.active == 0
	})
}

func TestCompletionEventCarriesFilename(t *testing.T) {
	dispatcher := event.NewInMemoryDispatcher(false)
	collected := &collectingHandler{}
	dispatcher.Subscribe(collected)

	svc := New(&Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Millisecond},
		&stubFetcher{}, newRecordingSaver(), dispatcher, zap.NewNop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	defer svc.Stop()

	job := svc.Enqueue(42, "")
	waitFor(t, "job to complete", func() bool {
		got, ok := svc.Job(job.ID)
		return ok && got.Status == StatusCompleted
	})

	collected.mu.Lock()
	defer collected.mu.Unlock()
	var done *event.JobCompleted
	for _, e := range collected.events {
		if c, ok := e.(event.JobCompleted); ok {
			done = &c
		}
	}
	if done == nil {
		t.Fatal("no JobCompleted event dispatched")
	}
	if done.Filename != "beatmapset-42.osz" {
		t.Errorf("event filename = %q, want %q", done.Filename, "beatmapset-42.osz")
	}
}

type collectingHandler struct {
	mu     sync.Mutex
	events []event.QueueEvent
}

func (h *collectingHandler) Handle(e event.QueueEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return nil
}

func (h *collectingHandler) HandledEvents() []string {
	return []string{"*"}
}
