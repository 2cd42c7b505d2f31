package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/pkg/distlock"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/metrics"
	"github.com/ignite/broadcast-engine/internal/schedule"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// LoopConfig tunes one queue loop.
type LoopConfig struct {
	Queue        domain.QueueType
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	StuckAfter   time.Duration
	Backoff      schedule.BackoffPolicy
}

// LoopConfigFrom converts the per-queue settings.
func LoopConfigFrom(queue domain.QueueType, c config.QueueConfig) LoopConfig {
	return LoopConfig{
		Queue:        queue,
		PollInterval: c.PollInterval(),
		BatchSize:    c.BatchSize,
		Concurrency:  c.Concurrency,
		StuckAfter:   c.StuckAfter(),
		Backoff: schedule.BackoffPolicy{
			Base:        c.BackoffBase(),
			Multiplier:  c.BackoffMultiplier,
			Max:         c.BackoffMax(),
			MaxAttempts: c.MaxAttempts,
		},
	}
}

// CycleStats summarizes one RunCycle.
type CycleStats struct {
	Acquired bool
	Reset    int
	Claimed  int
	Batches  int
}

// Loop drains one queue. At most one loop per queue and lock scope runs a
// cycle at a time; contenders skip the cycle.
type Loop struct {
	cfg        LoopConfig
	queue      broadcast.QueueRepository
	dispatcher JobDispatcher
	recorder   *Recorder
	pacer      *Pacer
	lock       distlock.Lock
	log        *logger.Logger
}

// NewLoop creates a queue loop.
func NewLoop(cfg LoopConfig, queue broadcast.QueueRepository, dispatcher JobDispatcher, pacer *Pacer, lock distlock.Lock, log *logger.Logger) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = schedule.DefaultBackoff
	}
	log = log.With("queue", string(cfg.Queue))
	return &Loop{
		cfg:        cfg,
		queue:      queue,
		dispatcher: dispatcher,
		recorder:   NewRecorder(cfg.Queue, cfg.Backoff, log),
		pacer:      pacer,
		lock:       lock,
		log:        log,
	}
}

// Run executes a cycle immediately and then once per poll interval until
// ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("queue loop started",
		"poll_interval", l.cfg.PollInterval,
		"batch_size", l.cfg.BatchSize,
		"concurrency", l.cfg.Concurrency,
	)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := l.RunCycle(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("dispatch cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			l.log.Info("queue loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle takes the queue lock, recovers stuck jobs and drains due jobs
// batch by batch until a short batch shows the queue is empty. The lock is
// renewed before every batch; the cycle stops as soon as it is lost.
func (l *Loop) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	queue := string(l.cfg.Queue)

	ok, err := l.lock.Acquire(ctx)
	if err != nil {
		return stats, fmt.Errorf("acquire %s lock: %w", queue, err)
	}
	if !ok {
		metrics.LockContended.WithLabelValues(queue).Inc()
		l.log.Debug("queue lock held elsewhere, skipping cycle")
		return stats, nil
	}
	stats.Acquired = true
	start := time.Now()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.lock.Release(releaseCtx); err != nil {
			l.log.Warn("release queue lock", "error", err)
		}
		metrics.RecordCycle(queue, time.Since(start))
	}()

	n, err := l.queue.ResetStuckJobs(ctx, l.cfg.Queue, l.cfg.StuckAfter, l.cfg.Backoff.MaxAttempts)
	if err != nil {
		return stats, fmt.Errorf("reset stuck jobs: %w", err)
	}
	if n > 0 {
		stats.Reset = n
		metrics.StuckJobsReset.WithLabelValues(queue).Add(float64(n))
		l.log.Warn("recovered stuck jobs", "count", n, "stuck_after", l.cfg.StuckAfter)
	}

	for ctx.Err() == nil {
		if err := l.lock.Extend(ctx); err != nil {
			return stats, fmt.Errorf("extend %s lock: %w", queue, err)
		}
		jobs, err := l.queue.DequeueDueBatch(ctx, l.cfg.Queue, l.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("dequeue: %w", err)
		}
		if len(jobs) == 0 {
			break
		}
		stats.Claimed += len(jobs)
		stats.Batches++

		if err := l.processBatch(ctx, jobs); err != nil {
			return stats, err
		}
		if len(jobs) < l.cfg.BatchSize {
			break
		}
	}
	return stats, nil
}

// processBatch dispatches jobs in sub-batches of Concurrency and records all
// results in one transaction. When recording fails the transaction is rolled
// back, the offending job is marked as error on its own, and the rest stay
// processing until stuck-job recovery picks them up.
func (l *Loop) processBatch(ctx context.Context, jobs []domain.QueueJob) error {
	results := make([]Result, 0, len(jobs))
	conc := l.cfg.Concurrency

	for start := 0; start < len(jobs); start += conc {
		end := start + conc
		if end > len(jobs) {
			end = len(jobs)
		}
		sub := jobs[start:end]

		if start > 0 {
			if err := l.pacer.Between(ctx); err != nil {
				break
			}
		}
		if err := l.pacer.Wait(ctx); err != nil {
			break
		}
		if err := l.pacer.Reserve(ctx, sub); err != nil {
			break
		}

		out := make([]Result, len(sub))
		var g errgroup.Group
		g.SetLimit(conc)
		for i, job := range sub {
			g.Go(func() error {
				out[i] = l.dispatcher.Dispatch(ctx, job)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range out {
			if r.Kind == ResultRateLimited {
				l.pacer.Pause(r.RetryAfter)
			}
		}
		results = append(results, out...)
	}

	return l.record(context.WithoutCancel(ctx), results)
}

func (l *Loop) record(ctx context.Context, results []Result) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := l.queue.BeginBatch(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := l.recorder.Apply(ctx, tx, r); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				l.log.Error("rollback batch", "error", rbErr)
			}
			if derr := l.queue.MarkErrorDetached(ctx, r.Job.ID, err.Error()); derr != nil {
				l.log.Error("mark job error after rollback", "job_id", r.Job.ID, "error", derr)
			}
			return fmt.Errorf("record job %s: %w", r.Job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
