package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the retrain job on a cron schedule.
type Scheduler struct {
	cron        *cron.Cron
	spec        string
	ctx         context.Context
	cancel      context.CancelFunc
	retrainFunc func(ctx context.Context) error
}

// New creates a scheduler for the given cron expression, evaluated in UTC.
func New(spec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetRetrainFunction sets what runs on every tick.
func (s *Scheduler) SetRetrainFunction(f func(ctx context.Context) error) {
	s.retrainFunc = f
}

// Start registers the job and starts the cron loop. An empty schedule or a
// missing function leaves the scheduler idle.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		slog.Info("scheduler: no retrain schedule configured")
		return nil
	}
	if s.retrainFunc == nil {
		return errors.New("scheduler: retrain function not set")
	}

	_, err := s.cron.AddFunc(s.spec, s.run)
	if err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("scheduler: started", "schedule", s.spec)
	return nil
}

func (s *Scheduler) run() {
	slog.Info("scheduler: triggered scheduled retrain", "schedule", s.spec)
	if err := s.retrainFunc(s.ctx); err != nil {
		slog.Error("scheduler: scheduled retrain failed", "err", err)
	}
}

// Stop cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	slog.Info("scheduler: stopped")
}

// IsRunning reports whether a job is registered.
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
