// Package scheduler runs the periodic upstream keepalive.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"qxGateway/internal/ports"
)

// Pinger is anything that can probe and repair the upstream connection.
type Pinger interface {
	KeepAlive(ctx context.Context) error
}

// Scheduler wraps a cron runner with the keepalive job.
type Scheduler struct {
	cron    *cron.Cron
	pinger  Pinger
	logger  ports.Logger
	timeout time.Duration
	ctx     context.Context
}

// NewScheduler creates a Scheduler whose jobs run under ctx. Expressions use
// six fields, seconds first.
func NewScheduler(ctx context.Context, pinger Pinger, logger ports.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		pinger:  pinger,
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
	}
}

// Register adds the keepalive job on the cron expression expr.
func (s *Scheduler) Register(expr string) error {
	if _, err := s.cron.AddFunc(expr, s.keepAlive); err != nil {
		return fmt.Errorf("register keepalive %q: %w", expr, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(s.ctx, "Keepalive scheduler started", map[string]interface{}{"jobs": len(s.cron.Entries())})
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info(context.Background(), "Keepalive scheduler stopped")
}

// RunNow executes the keepalive immediately.
func (s *Scheduler) RunNow() {
	s.keepAlive()
}

func (s *Scheduler) keepAlive() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	// Errors are logged by the pinger; the next tick tries again.
	_ = s.pinger.KeepAlive(ctx)
}
