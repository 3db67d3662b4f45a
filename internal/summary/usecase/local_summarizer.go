package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crmsync-backend/internal/summary/domain"
	"crmsync-backend/internal/summary/repository"
	"crmsync-backend/pkg/ai"

	"github.com/google/uuid"
)

type LocalConfig struct {
	Workers           int
	BatchSize         int
	MaxSubmitAttempts int
}

type localJob struct {
	Key           domain.ThreadKey
	ExternalJobID string
}

// LocalSummarizer summarizes threads in-process with a worker pool. It writes
// the same thread_summaries rows as the Broker, with "local:" job ids.
type LocalSummarizer struct {
	jobs       repository.SummaryRepository
	threads    ThreadSource
	summarizer ai.Summarizer
	notifier   SummaryNotifier
	cfg        LocalConfig
	logger     *slog.Logger
	now        func() time.Time

	jobQueue chan localJob
	workerWg sync.WaitGroup
	mu       sync.Mutex
	started  bool
	stopped  bool
	inflight map[string]struct{}
}

func NewLocalSummarizer(jobs repository.SummaryRepository, threads ThreadSource, summarizer ai.Summarizer, cfg LocalConfig, logger *slog.Logger) *LocalSummarizer {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxSubmitAttempts <= 0 {
		cfg.MaxSubmitAttempts = 3
	}
	return &LocalSummarizer{
		jobs:       jobs,
		threads:    threads,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger.With("component", "local_summarizer"),
		now:        time.Now,
		jobQueue:   make(chan localJob, 500),
		inflight:   make(map[string]struct{}),
	}
}

func (s *LocalSummarizer) SetNotifier(n SummaryNotifier) {
	s.notifier = n
}

// Start launches the workers. Jobs run with ctx.
func (s *LocalSummarizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWg.Add(1)
		go s.worker(ctx, i)
	}
	s.started = true
	s.logger.Info("started workers", "count", s.cfg.Workers)
}

// Stop closes the queue and waits for running jobs. Queued rows stay queued
// and are picked up again by ReconcileBatch after a restart.
func (s *LocalSummarizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.jobQueue)
	s.mu.Unlock()

	s.workerWg.Wait()
	s.logger.Info("all workers stopped")
}

func (s *LocalSummarizer) worker(ctx context.Context, id int) {
	defer s.workerWg.Done()
	for job := range s.jobQueue {
		s.processJob(ctx, job)
		s.mu.Lock()
		delete(s.inflight, job.ExternalJobID)
		s.mu.Unlock()
	}
	s.logger.Debug("worker stopped", "worker", id)
}

// enqueue hands job to the workers without blocking. It reports false when
// the queue is full, stopped, or already holds the job.
func (s *LocalSummarizer) enqueue(job localJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.inflight[job.ExternalJobID]; ok {
		return false
	}
	select {
	case s.jobQueue <- job:
		s.inflight[job.ExternalJobID] = struct{}{}
		return true
	default:
		return false
	}
}

// Submit stores a queued local job for the mailbox thread and hands it to the workers.
func (s *LocalSummarizer) Submit(ctx context.Context, key domain.ThreadKey) (*domain.ThreadSummary, error) {
	existing, err := s.jobs.FindByThread(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary for thread %s: %w", key, err)
	}
	if existing != nil && existing.Status != domain.StatusFailed && existing.Status != domain.StatusCancelled {
		return existing, nil
	}

	emails, err := s.threads.FindByThreadID(ctx, key.AccountID, key.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", key, err)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("thread %s: %w", key, domain.ErrEmptyThread)
	}

	job := newSubmission(key, domain.LocalJobPrefix+uuid.New().String(), emails, existing, s.now())
	saved, err := s.jobs.SaveSubmission(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to store local job for thread %s: %w", key, err)
	}
	if !saved {
		return s.jobs.FindByThread(ctx, key)
	}

	if !s.enqueue(localJob{Key: key, ExternalJobID: job.ExternalJobID}) {
		s.logger.Warn("worker queue unavailable, job left for reconciliation", "account_id", key.AccountID, "thread_id", key.ThreadID)
	}
	return job, nil
}

func (s *LocalSummarizer) SubmitPending(ctx context.Context) (SubmitReport, error) {
	var report SubmitReport

	keys, err := s.jobs.ThreadsPendingSummary(ctx, s.cfg.BatchSize, s.cfg.MaxSubmitAttempts)
	if err != nil {
		return report, fmt.Errorf("failed to select threads: %w", err)
	}
	report.Selected = len(keys)

	for _, key := range keys {
		if _, err := s.Submit(ctx, key); err != nil {
			report.Failed++
			s.logger.Warn("failed to submit thread", "account_id", key.AccountID, "thread_id", key.ThreadID, "error", err)
			continue
		}
		report.Submitted++
	}
	return report, nil
}

// ReconcileBatch re-queues local jobs that are not held by a worker, such as
// the rows left queued by a previous process.
func (s *LocalSummarizer) ReconcileBatch(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	jobs, err := s.jobs.FindNonTerminal(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, job := range jobs {
		if !job.IsLocal() {
			continue
		}
		report.Checked++
		if job.Status == domain.StatusInProgress {
			report.InProgress++
		}
		if s.enqueue(localJob{Key: job.Key(), ExternalJobID: job.ExternalJobID}) {
			s.logger.Info("re-queued local job", "account_id", job.AccountID, "thread_id", job.ThreadID, "external_job_id", job.ExternalJobID)
		}
	}
	return report, nil
}

func (s *LocalSummarizer) processJob(ctx context.Context, job localJob) {
	log := s.logger.With("account_id", job.Key.AccountID, "thread_id", job.Key.ThreadID, "external_job_id", job.ExternalJobID)

	current, err := s.jobs.FindByThread(ctx, job.Key)
	if err != nil {
		log.Error("failed to load job", "error", err)
		return
	}
	if current == nil || current.ExternalJobID != job.ExternalJobID || current.Status.Terminal() {
		return
	}
	if current.Status == domain.StatusQueued {
		if _, err := s.jobs.Transition(ctx, job.Key, job.ExternalJobID, domain.StatusInProgress, nil); err != nil {
			log.Error("failed to mark job in progress", "error", err)
			return
		}
	}

	emails, err := s.threads.FindByThreadID(ctx, job.Key.AccountID, job.Key.ThreadID)
	if err != nil {
		log.Error("failed to load thread", "error", err)
		return
	}
	if len(emails) == 0 {
		s.finish(ctx, job, domain.StatusFailed, failureFields(domain.ErrEmptyThread.Error(), s.now()))
		return
	}

	text, err := s.summarizer.SummarizeEmail(ctx, FormatThread(emails))
	if err != nil {
		log.Warn("summarizer failed", "error", err)
		s.finish(ctx, job, domain.StatusFailed, failureFields(err.Error(), s.now()))
		return
	}

	s.finish(ctx, job, domain.StatusCompleted, completionFields(parseModelOutput(text), s.now()))
	log.Info("generated summary")
}

func (s *LocalSummarizer) finish(ctx context.Context, job localJob, status domain.JobStatus, fields map[string]interface{}) {
	changed, err := s.jobs.Transition(ctx, job.Key, job.ExternalJobID, status, fields)
	if err != nil {
		s.logger.Error("failed to store job result", "account_id", job.Key.AccountID, "thread_id", job.Key.ThreadID, "status", status, "error", err)
		return
	}
	if !changed || s.notifier == nil {
		return
	}
	if updated, err := s.jobs.FindByThread(ctx, job.Key); err == nil && updated != nil {
		s.notifier.NotifySummary(ctx, updated)
	}
}

// parseModelOutput reads the JSON object the prompt asks for, falling back to
// the raw text as the summary.
func parseModelOutput(text string) *domain.Result {
	text = strings.TrimSpace(text)
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if res, err := domain.ParseOutput(json.RawMessage(text[start : end+1])); err == nil {
			return res
		}
	}
	return &domain.Result{Summary: text}
}
