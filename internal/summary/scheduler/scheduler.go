package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crmsync-backend/internal/summary/usecase"
)

type Config struct {
	SubmitInterval time.Duration
	CheckInterval  time.Duration
	InitialDelay   time.Duration
}

// Scheduler drives one summarization backend on two cadences: submitting
// pending threads and reconciling outstanding jobs.
type Scheduler struct {
	backend usecase.Backend
	cfg     Config
	logger  *slog.Logger

	submitMu sync.Mutex
	checkMu  sync.Mutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(backend usecase.Backend, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = 5 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	return &Scheduler{
		backend:  backend,
		cfg:      cfg,
		logger:   logger.With("component", "summary_scheduler"),
		stopChan: make(chan struct{}),
	}
}

// Start begins both loops. Each runs once after InitialDelay, then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting summary scheduler",
		"submit_interval", s.cfg.SubmitInterval,
		"check_interval", s.cfg.CheckInterval,
		"initial_delay", s.cfg.InitialDelay)

	s.loop(ctx, "submit", s.cfg.SubmitInterval, func(ctx context.Context) { s.SubmitNow(ctx) })
	s.loop(ctx, "check", s.cfg.CheckInterval, func(ctx context.Context) { s.CheckNow(ctx) })
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		delay := time.NewTimer(s.cfg.InitialDelay)
		select {
		case <-delay.C:
		case <-s.stopChan:
			delay.Stop()
			return
		case <-ctx.Done():
			delay.Stop()
			return
		}
		run(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-s.stopChan:
				s.logger.Info("loop stopped", "loop", name)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends both loops and waits for a running pass.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// SubmitNow submits one batch of pending threads. Calls are serialized with
// the scheduled submit pass.
func (s *Scheduler) SubmitNow(ctx context.Context) (usecase.SubmitReport, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	report, err := s.backend.SubmitPending(ctx)
	if err != nil {
		s.logger.Error("submit pass failed", "error", err, "submitted", report.Submitted)
		return report, err
	}
	if report.Selected > 0 {
		s.logger.Info("submit pass done", "selected", report.Selected, "submitted", report.Submitted, "failed", report.Failed)
	}
	return report, nil
}

// CheckNow reconciles outstanding jobs once.
func (s *Scheduler) CheckNow(ctx context.Context) (usecase.ReconcileReport, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	report, err := s.backend.ReconcileBatch(ctx)
	if err != nil {
		s.logger.Error("check pass failed", "error", err, "checked", report.Checked)
		return report, err
	}
	return report, nil
}
