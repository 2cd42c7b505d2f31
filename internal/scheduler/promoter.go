// Package scheduler runs the scheduled-shot promoter on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
)

// DueScheduleRunner is implemented by broadcast.Service.
type DueScheduleRunner interface {
	RunDueSchedules(ctx context.Context, now time.Time) (broadcast.PromoteResult, error)
}

// Promoter periodically moves due scheduled shots into the queue.
type Promoter struct {
	runner DueScheduleRunner
	spec   string
	log    *logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPromoter creates a promoter firing on spec ("@every 1m", "*/5 * * * *").
func NewPromoter(runner DueScheduleRunner, spec string, log *logger.Logger) *Promoter {
	return &Promoter{runner: runner, spec: spec, log: log, now: time.Now}
}

// Start parses the cron expression and begins firing. Overlapping runs are skipped.
func (p *Promoter) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}

	cl := cronLogger{log: p.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	p.ctx, p.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(p.spec, func() { p.RunOnce(p.ctx) }); err != nil {
		p.cancel()
		return fmt.Errorf("schedule promoter %q: %w", p.spec, err)
	}
	c.Start()
	p.c = c
	p.log.Info("promoter started", "spec", p.spec)
	return nil
}

// Stop halts the schedule and waits for a running promotion to finish.
func (p *Promoter) Stop() {
	p.mu.Lock()
	c, cancel := p.c, p.cancel
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
}

// RunOnce performs a single promotion pass.
func (p *Promoter) RunOnce(ctx context.Context) {
	res, err := p.runner.RunDueSchedules(ctx, p.now())
	if err != nil {
		p.log.Error("promote scheduled shots", "error", err, "promoted", res.Promoted)
		return
	}
	if res.Promoted > 0 || res.Completed > 0 {
		p.log.Info("scheduled shots promoted",
			"promoted", res.Promoted,
			"completed", res.Completed,
			"inserted", res.Stats.Inserted,
		)
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}
