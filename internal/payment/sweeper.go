package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/shop-orders/internal"
)

// Ensurer is the part of Service the sweeper drives.
type Ensurer interface {
	Ensure(ctx context.Context, req EnsureRequest) (*Result, error)
}

type EnsureJob struct {
	IntentID        string
	ProviderOrderID string

	done *sync.WaitGroup
}

func (j EnsureJob) finish() {
	if j.done != nil {
		j.done.Done()
	}
}

type Worker struct {
	ID         int
	WorkerPool chan chan EnsureJob
	JobChannel chan EnsureJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan EnsureJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan EnsureJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, EnsureJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "provider_order_id", job.ProviderOrderID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// Sweeper is the server-side safety net for payments nobody came back for: it periodically runs
// Ensure on created intents older than the grace period. An intent checked less than a grace
// period ago waits for the next round, so unpaid rows cannot hold the batch.
type Sweeper struct {
	repo    Repository
	ensurer Ensurer
	cfg     internal.ReconciliationConfig
	logger  *slog.Logger
	now     func() time.Time

	jobQueue   chan EnsureJob
	workerPool chan chan EnsureJob
	maxWorkers int
	wg         sync.WaitGroup
	once       sync.Once

	materialized atomic.Int64
}

func NewSweeper(repo Repository, ensurer Ensurer, cfg internal.ReconciliationConfig, logger *slog.Logger) *Sweeper {
	if cfg.SweepWorkers <= 0 {
		cfg.SweepWorkers = 4
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 50
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = 2 * time.Minute
	}

	return &Sweeper{
		repo:       repo,
		ensurer:    ensurer,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		maxWorkers: cfg.SweepWorkers,
		jobQueue:   make(chan EnsureJob, cfg.SweepBatchSize),
		workerPool: make(chan chan EnsureJob, cfg.SweepWorkers),
	}
}

// Run sweeps until ctx is cancelled and waits for the workers to stop.
func (s *Sweeper) Run(ctx context.Context) error {
	s.start(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("ensure sweeper started",
		"interval", s.cfg.SweepInterval,
		"grace", s.cfg.SweepGrace,
		"workers", s.maxWorkers)

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("ensure sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("ensure sweeper stopped", "materialized", s.materialized.Load())
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs Ensure for one batch of stale intents and returns how many were examined.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	s.start(ctx)

	now := s.now()
	intents, err := s.repo.ListStale(ctx, now.Add(-s.cfg.SweepGrace), now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(intents) == 0 {
		return 0, nil
	}

	var batch sync.WaitGroup
	for _, intent := range intents {
		batch.Add(1)
		job := EnsureJob{IntentID: intent.ID, ProviderOrderID: intent.ProviderOrderID, done: &batch}

		select {
		case s.jobQueue <- job:
		case <-ctx.Done():
			batch.Done()
			return 0, ctx.Err()
		}
	}

	finished := make(chan struct{})
	go func() {
		batch.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return len(intents), ctx.Err()
	}

	s.logger.Info("ensure sweep finished", "examined", len(intents))
	return len(intents), nil
}

func (s *Sweeper) Materialized() int64 {
	return s.materialized.Load()
}

func (s *Sweeper) start(ctx context.Context) {
	s.once.Do(func() {
		for i := 0; i < s.maxWorkers; i++ {
			worker := NewWorker(i, s.workerPool, s.logger)
			worker.Start(ctx, &s.wg, s.process)
		}

		s.wg.Add(1)
		go s.dispatch(ctx)
	})
}

func (s *Sweeper) dispatch(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-ctx.Done():
					job.finish()
					s.drain()
					return
				}
			case <-ctx.Done():
				job.finish()
				s.drain()
				return
			}
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// drain releases jobs that were queued but will never run.
func (s *Sweeper) drain() {
	for {
		select {
		case job := <-s.jobQueue:
			job.finish()
		default:
			s.logger.Info("ensure dispatcher shutting down")
			return
		}
	}
}

func (s *Sweeper) process(ctx context.Context, job EnsureJob) {
	defer job.finish()

	jctx, cancel := internal.WithTimeout(ctx, s.cfg.LeaseTTL)
	defer cancel()

	res, err := s.ensurer.Ensure(jctx, EnsureRequest{ProviderOrderID: job.ProviderOrderID, SkipCache: true})
	if errors.Is(err, internal.ErrPaymentFailed) {
		s.logger.Info("sweeper closed declined payment",
			"intent_id", job.IntentID,
			"provider_order_id", job.ProviderOrderID)
		return
	}
	if err != nil {
		s.logger.Warn("sweeper ensure failed",
			"error", err,
			"intent_id", job.IntentID,
			"provider_order_id", job.ProviderOrderID)
		return
	}

	if res.Outcome == OutcomeCreated {
		s.materialized.Add(1)
	}
	s.logger.Info("sweeper ensure done",
		"intent_id", job.IntentID,
		"provider_order_id", job.ProviderOrderID,
		"outcome", res.Outcome,
		"order_id", res.OrderID)
}
