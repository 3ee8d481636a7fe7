package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/queue/event"
)

// Config contains transfer queue configuration
type Config struct {
	MaxConcurrent int
	MaxRetries    int
	RetryBackoff  time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: 3,
		MaxRetries:    3,
		RetryBackoff:  2 * time.Second,
	}
}

// Service runs the transfer queue. Jobs start in arrival order, at most
// MaxConcurrent download at a time, and a failing job retries in its
// slot instead of rejoining the line.
type Service struct {
	config     *Config
	fetcher    Fetcher
	saver      Saver
	dispatcher event.Dispatcher
	logger     *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	cancels map[string]context.CancelFunc
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
}

// New creates a new transfer queue service
func New(cfg *Config, fetcher Fetcher, saver Saver, dispatcher event.Dispatcher, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	return &Service{
		config:     cfg,
		fetcher:    fetcher,
		saver:      saver,
		dispatcher: dispatcher,
		logger:     logger,
		jobs:       make(map[string]*Job),
		cancels:    make(map[string]context.CancelFunc),
		wake:       make(chan struct{}, 1),
	}
}

// Start starts the queue scheduler
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.scheduler(ctx)

	s.logger.Info("transfer queue started",
		zap.Int("max_concurrent", s.config.MaxConcurrent),
		zap.Int("max_retries", s.config.MaxRetries))
	return nil
}

// Stop stops the scheduler and cancels in-flight transfers
func (s *Service) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("transfer queue stopped")
}

// Enqueue adds a beatmapset to the back of the queue
func (s *Service) Enqueue(beatmapsetID int64, title string) Job {
	job := NewJob(beatmapsetID, title)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.mu.Unlock()

	s.dispatcher.Dispatch(event.NewJobEnqueued(job.ID, beatmapsetID, title))
	s.kick()
	return job.snapshot()
}

// Remove deletes a job from the queue, cancelling it if it is
// downloading. Nothing of a cancelled transfer is saved.
func (s *Service) Remove(jobID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if cancel, inflight := s.cancels[jobID]; inflight {
		cancel()
	}
	delete(s.jobs, jobID)
	s.removeFromOrder(jobID)
	s.mu.Unlock()

	s.logger.Debug("job removed",
		zap.String("job_id", jobID),
		zap.Int64("beatmapset_id", job.BeatmapsetID))
	s.kick()
	return true
}

// ClearAll empties the queue and cancels every in-flight transfer
func (s *Service) ClearAll() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.jobs = make(map[string]*Job)
	s.order = nil
	s.mu.Unlock()

	s.logger.Debug("queue cleared")
}

// Jobs returns a snapshot of all jobs in arrival order
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok {
			out = append(out, job.snapshot())
		}
	}
	return out
}

// Job returns a snapshot of one job
func (s *Service) Job(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// kick nudges the scheduler without blocking
func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) scheduler(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.promote(ctx)
	}
}

// promote starts the oldest queued jobs while download slots remain
func (s *Service) promote(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	downloading := 0
	for _, job := range s.jobs {
		if job.Status == StatusDownloading {
			downloading++
		}
	}

	for _, id := range s.order {
		if downloading >= s.config.MaxConcurrent {
			return
		}
		job, ok := s.jobs[id]
		if !ok || job.Status != StatusQueued {
			continue
		}

		job.markDownloading()
		jobCtx, cancel := context.WithCancel(ctx)
		s.cancels[id] = cancel
		downloading++

		s.wg.Add(1)
		go s.run(jobCtx, id)
	}
}

// run drives one job to a terminal state, retrying in place on failure
func (s *Service) run(ctx context.Context, jobID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[jobID]; ok {
			cancel()
			delete(s.cancels, jobID)
		}
		s.mu.Unlock()
		s.kick()
	}()

	beatmapsetID, started, ok := s.jobInfo(jobID)
	if !ok {
		return
	}
	s.dispatcher.Dispatch(event.NewJobUpdated(jobID, beatmapsetID, StatusDownloading, 0, 0))

	for {
		result, err := s.fetcher.Fetch(ctx, beatmapsetID, func(percent int) {
			s.reportProgress(jobID, beatmapsetID, percent)
		})
		if err == nil {
			if saveErr := s.save(result); saveErr != nil {
				err = saveErr
			} else {
				s.complete(jobID, beatmapsetID, result, time.Since(started))
				return
			}
		}

		if ctx.Err() != nil {
			s.fail(jobID, beatmapsetID, "transfer cancelled", true)
			return
		}

		retryCount, canRetry := s.recordAttempt(jobID, err)
		if !canRetry {
			s.fail(jobID, beatmapsetID, err.Error(), false)
			return
		}

		s.logger.Warn("transfer attempt failed, retrying",
			zap.String("job_id", jobID),
			zap.Int64("beatmapset_id", beatmapsetID),
			zap.Int("retry_count", retryCount),
			zap.Error(err))
		s.dispatcher.Dispatch(event.NewJobUpdated(jobID, beatmapsetID, StatusDownloading, 0, retryCount))

		select {
		case <-ctx.Done():
			s.fail(jobID, beatmapsetID, "transfer cancelled", true)
			return
		case <-time.After(s.config.RetryBackoff):
		}
	}
}

func (s *Service) jobInfo(jobID string) (beatmapsetID int64, started time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, time.Time{}, false
	}
	started = time.Now()
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	return job.BeatmapsetID, started, true
}

func (s *Service) save(result *FetchResult) error {
	if s.saver == nil {
		return nil
	}
	if err := s.saver.Save(result.Filename, result.Data); err != nil {
		return fmt.Errorf("failed to save %s: %w", result.Filename, err)
	}
	return nil
}

func (s *Service) reportProgress(jobID string, beatmapsetID int64, percent int) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var retryCount int
	if ok {
		job.ProgressPercent = percent
		retryCount = job.RetryCount
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.dispatcher.Dispatch(event.NewJobUpdated(jobID, beatmapsetID, StatusDownloading, percent, retryCount))
}

// recordAttempt notes a failed attempt and reports whether a retry is
// allowed. The retry counter counts retries, not attempts: a job may
// fail the initial attempt plus MaxRetries retries before going
// terminal.
func (s *Service) recordAttempt(jobID string, err error) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, false
	}
	job.ErrorMessage = err.Error()
	if job.RetryCount >= s.config.MaxRetries {
		return job.RetryCount, false
	}
	job.RetryCount++
	return job.RetryCount, true
}

func (s *Service) complete(jobID string, beatmapsetID int64, result *FetchResult, duration time.Duration) {
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		job.markCompleted()
	}
	s.mu.Unlock()

	s.logger.Info("transfer completed",
		zap.String("job_id", jobID),
		zap.Int64("beatmapset_id", beatmapsetID),
		zap.String("filename", result.Filename),
		zap.Int("size_bytes", len(result.Data)))
	s.dispatcher.Dispatch(event.NewJobCompleted(jobID, beatmapsetID, result.Filename, int64(len(result.Data)), duration))
}

func (s *Service) fail(jobID string, beatmapsetID int64, errMsg string, cancelled bool) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var retryCount int
	if ok {
		job.markFailed(errMsg)
		retryCount = job.RetryCount
	}
	s.mu.Unlock()

	// A job removed mid-transfer is gone; nobody is listening for it.
	if !ok {
		return
	}
	s.dispatcher.Dispatch(event.NewJobFailed(jobID, beatmapsetID, errMsg, retryCount, cancelled))
}

// removeFromOrder drops jobID from the arrival order. Caller holds the
// lock.
func (s *Service) removeFromOrder(jobID string) {
	for i, id := range s.order {
		if id == jobID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
