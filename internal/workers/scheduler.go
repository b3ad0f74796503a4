package workers

import (
	"context"
	"sync"
	"time"

	"github.com/emirks/tercihify-chat/internal/metrics"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

const defaultStopTimeout = 30 * time.Second

// Scheduler runs every registered worker on its own goroutine and ticker
type Scheduler struct {
	workers     []Worker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	log         *logger.Logger
	started     bool
	stopTimeout time.Duration
}

// NewScheduler creates a new worker scheduler
func NewScheduler(log *logger.Logger) *Scheduler {
	return &Scheduler{
		workers:     make([]Worker, 0),
		log:         log.With("component", "scheduler"),
		stopTimeout: defaultStopTimeout,
	}
}

// RegisterWorker adds a worker to the scheduler
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start begins running all registered workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler already started")
	}

	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	workers := make([]Worker, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	s.log.Infow("Starting worker scheduler", "workers", len(workers))

	for _, worker := range workers {
		if !worker.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}

		s.wg.Add(1)
		go s.runWorker(worker)
	}

	return nil
}

// Stop cancels all workers and waits for the current iterations to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	s.log.Info("Stopping worker scheduler...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Info("All workers stopped gracefully")
	case <-time.After(s.stopTimeout):
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
		shutdownErr = errors.Wrapf(errors.ErrInternal, "shutdown timeout after %s", s.stopTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return shutdownErr
}

func (s *Scheduler) runWorker(worker Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// Run immediately on start
	s.executeWorker(worker)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debugw("Worker stopping", "worker", worker.Name())
			return

		case <-ticker.C:
			s.executeWorker(worker)
		}
	}
}

// executeWorker runs one iteration; a panic is recorded as a failed run
func (s *Scheduler) executeWorker(worker Worker) {
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("worker panicked: %v", r)
		}

		duration := time.Since(start)
		metrics.RecordWorkerExecution(worker.Name(), duration, err)
		if h, ok := worker.(WorkerWithHealth); ok {
			if err != nil {
				h.RecordError(err, duration)
			} else {
				h.RecordRun(duration)
			}
		}

		if err != nil {
			s.log.Errorw("Worker execution failed",
				"worker", worker.Name(),
				"error", err,
				"duration", duration,
			)
			return
		}
		s.log.Debugw("Worker execution completed",
			"worker", worker.Name(),
			"duration", duration,
		)
	}()

	err = worker.Run(s.ctx)
}

// GetWorkers returns a list of all registered workers
func (s *Scheduler) GetWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make([]Worker, len(s.workers))
	copy(workers, s.workers)
	return workers
}

// Health reports per-worker health for workers that track it
func (s *Scheduler) Health() map[string]WorkerHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := make(map[string]WorkerHealth, len(s.workers))
	for _, w := range s.workers {
		if h, ok := w.(WorkerWithHealth); ok {
			health[w.Name()] = h.Health()
		}
	}
	return health
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
