package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
)

// JobProcessor executes a single claimed sync job. The processor records the
// outcome on the job itself; the scheduler never inspects results.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *accounting.SyncJob)
}

// SyncSchedulerConfig holds worker pool tuning for the background sync loop.
type SyncSchedulerConfig struct {
	// Workers is the number of concurrent job executors
	Workers int
	// PollInterval is how often the dispatcher asks the queue for work
	PollInterval time.Duration
	// BatchSize caps how many jobs one poll may claim
	BatchSize int
	// LeaseTTL is the claim duration; a crashed worker's jobs become
	// eligible again once it elapses
	LeaseTTL time.Duration
	// JobTimeout is the wall-clock budget per job
	JobTimeout time.Duration
}

// DefaultSyncSchedulerConfig returns production-ready defaults.
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Workers:      4,
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		LeaseTTL:     5 * time.Minute,
		JobTimeout:   2 * time.Minute,
	}
}

// Validate checks the configuration for correctness.
func (c *SyncSchedulerConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease ttl must be positive, got %v", c.LeaseTTL)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive, got %v", c.JobTimeout)
	}
	if c.JobTimeout >= c.LeaseTTL {
		return fmt.Errorf("job timeout %v must be shorter than lease ttl %v", c.JobTimeout, c.LeaseTTL)
	}
	return nil
}

// SyncScheduler polls the durable job queue and fans claimed jobs out to a
// fixed pool of workers. One scheduler instance runs per process; the lease
// mechanism keeps multiple instances from processing the same job.
type SyncScheduler struct {
	config    SyncSchedulerConfig
	queue     accounting.SyncJobRepository
	processor JobProcessor
	logger    *zap.Logger

	ownerID string
	jobs    chan *accounting.SyncJob
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// NewSyncScheduler creates a scheduler with the given configuration.
func NewSyncScheduler(
	config SyncSchedulerConfig,
	queue accounting.SyncJobRepository,
	processor JobProcessor,
	logger *zap.Logger,
) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &SyncScheduler{
		config:    config,
		queue:     queue,
		processor: processor,
		logger:    logger,
		ownerID:   fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		jobs:      make(chan *accounting.SyncJob, config.BatchSize),
	}, nil
}

// Start launches the dispatcher and worker goroutines. It returns immediately;
// processing continues until Stop is called or ctx is cancelled.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.isRunning = true

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, i)
	}

	s.wg.Add(1)
	go s.dispatch(runCtx)

	s.logger.Info("sync scheduler started",
		zap.String("owner_id", s.ownerID),
		zap.Int("workers", s.config.Workers),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("batch_size", s.config.BatchSize))

	return nil
}

// Stop shuts the scheduler down, waiting up to timeout for in-flight jobs.
func (s *SyncScheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sync scheduler stopped", zap.String("owner_id", s.ownerID))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out after %v", timeout)
	}
}

// dispatch polls the queue on a fixed interval and feeds claimed jobs to the
// worker pool. Claimed jobs are always handed off: the channel buffer matches
// the batch size, so a full poll never blocks past one batch.
func (s *SyncScheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.jobs)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *SyncScheduler) poll(ctx context.Context) {
	claimed, err := s.queue.DequeueBatch(ctx, s.ownerID, s.config.BatchSize, s.config.LeaseTTL)
	if err != nil {
		s.logger.Error("failed to dequeue sync jobs", zap.Error(err))
		return
	}
	if len(claimed) == 0 {
		return
	}

	s.logger.Debug("claimed sync jobs", zap.Int("count", len(claimed)))

	for _, job := range claimed {
		select {
		case <-ctx.Done():
			// Unhanded jobs stay in_progress until the lease expires,
			// then become eligible again.
			return
		case s.jobs <- job:
		}
	}
}

func (s *SyncScheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for job := range s.jobs {
		s.runJob(ctx, id, job)
	}
}

func (s *SyncScheduler) runJob(ctx context.Context, workerID int, job *accounting.SyncJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync job panicked",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r))
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	s.processor.ProcessJob(jobCtx, job)
}
