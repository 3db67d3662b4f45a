package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crmsync-backend/internal/summary/domain"
	"crmsync-backend/internal/summary/repository"
)

type BrokerConfig struct {
	PollInterval      time.Duration
	MaxPollAttempts   int
	BatchSize         int
	MaxSubmitAttempts int
}

// Outcome tags the result of AwaitCompletion.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

type AwaitResult struct {
	Outcome Outcome
	Job     *domain.ThreadSummary
	Reason  string
	Polls   int
}

// PollResult is a single status observation of an external job.
type PollResult struct {
	Status domain.JobStatus
	Result *domain.Result
	Reason string
}

// Broker drives summarization jobs on the external job API.
type Broker struct {
	jobs     repository.SummaryRepository
	threads  ThreadSource
	api      JobAPI
	notifier SummaryNotifier
	cfg      BrokerConfig
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBroker(jobs repository.SummaryRepository, threads ThreadSource, api JobAPI, cfg BrokerConfig, logger *slog.Logger) *Broker {
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxSubmitAttempts <= 0 {
		cfg.MaxSubmitAttempts = 3
	}
	return &Broker{
		jobs:    jobs,
		threads: threads,
		api:     api,
		cfg:     cfg,
		logger:  logger.With("component", "summary_broker"),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func (b *Broker) SetNotifier(n SummaryNotifier) {
	b.notifier = n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit posts the mailbox thread to the job API and stores the returned id as
// queued. A thread with a live or completed job is returned as is; a failed one
// is resubmitted.
func (b *Broker) Submit(ctx context.Context, key domain.ThreadKey) (*domain.ThreadSummary, error) {
	existing, err := b.jobs.FindByThread(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary for thread %s: %w", key, err)
	}
	if existing != nil && existing.Status != domain.StatusFailed && existing.Status != domain.StatusCancelled {
		return existing, nil
	}

	emails, err := b.threads.FindByThreadID(ctx, key.AccountID, key.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", key, err)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("thread %s: %w", key, domain.ErrEmptyThread)
	}

	externalID, err := b.api.Run(ctx, FormatThread(emails))
	if err != nil {
		return nil, fmt.Errorf("failed to submit thread %s: %w", key, err)
	}

	job := newSubmission(key, externalID, emails, existing, b.now())
	saved, err := b.jobs.SaveSubmission(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to store job %s for thread %s: %w", externalID, key, err)
	}
	if !saved {
		// Another submitter stored a live job first.
		b.logger.Warn("thread already has a live job, discarding submission",
			"account_id", key.AccountID, "thread_id", key.ThreadID, "external_job_id", externalID)
		return b.jobs.FindByThread(ctx, key)
	}

	b.logger.Info("submitted thread", "account_id", key.AccountID, "thread_id", key.ThreadID,
		"external_job_id", externalID, "attempt", job.Attempts, "messages", len(emails))
	return job, nil
}

// PollOnce reads the status of one external job without touching the store.
func (b *Broker) PollOnce(ctx context.Context, externalJobID string) (*PollResult, error) {
	st, err := b.api.Status(ctx, externalJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll job %s: %w", externalJobID, err)
	}
	status, err := domain.ParseExternalStatus(st.Status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", externalJobID, err)
	}

	poll := &PollResult{Status: status, Reason: st.Error}
	if status == domain.StatusCompleted {
		res, err := domain.ParseOutput(st.Output)
		if err != nil {
			poll.Status = domain.StatusFailed
			poll.Reason = err.Error()
			return poll, nil
		}
		poll.Result = res
	}
	return poll, nil
}

// apply persists the transition observed by poll. It reports whether the row changed.
func (b *Broker) apply(ctx context.Context, job *domain.ThreadSummary, poll *PollResult) (bool, error) {
	var fields map[string]interface{}
	switch poll.Status {
	case domain.StatusInProgress:
	case domain.StatusCompleted:
		fields = completionFields(poll.Result, b.now())
	case domain.StatusFailed:
		fields = failureFields(poll.Reason, b.now())
	default:
		return false, nil
	}

	changed, err := b.jobs.Transition(ctx, job.Key(), job.ExternalJobID, poll.Status, fields)
	if err != nil {
		return false, fmt.Errorf("failed to store %s for thread %s: %w", poll.Status, job.Key(), err)
	}
	if changed && poll.Status.Terminal() && b.notifier != nil {
		if updated, err := b.jobs.FindByThread(ctx, job.Key()); err == nil && updated != nil {
			b.notifier.NotifySummary(ctx, updated)
		}
	}
	return changed, nil
}

// AwaitCompletion submits the thread and polls until a terminal state or
// MaxPollAttempts polls. On timeout the job keeps its last status and the
// error wraps domain.ErrJobTimeout.
func (b *Broker) AwaitCompletion(ctx context.Context, key domain.ThreadKey) (AwaitResult, error) {
	job, err := b.Submit(ctx, key)
	if err != nil {
		return AwaitResult{}, err
	}
	if job.Status == domain.StatusCompleted {
		return AwaitResult{Outcome: OutcomeCompleted, Job: job}, nil
	}
	if job.IsLocal() {
		return AwaitResult{}, fmt.Errorf("thread %s is being summarized locally (%s)", key, job.ExternalJobID)
	}

	log := b.logger.With("account_id", key.AccountID, "thread_id", key.ThreadID, "external_job_id", job.ExternalJobID)
	for polls := 1; polls <= b.cfg.MaxPollAttempts; polls++ {
		if err := b.sleep(ctx, b.cfg.PollInterval); err != nil {
			return AwaitResult{Job: job, Polls: polls - 1}, err
		}

		poll, err := b.PollOnce(ctx, job.ExternalJobID)
		if err != nil {
			if errors.Is(err, domain.ErrJobAPIUnauthorized) {
				return AwaitResult{Job: job, Polls: polls}, err
			}
			log.Warn("poll failed", "poll", polls, "error", err)
			continue
		}
		if _, err := b.apply(ctx, job, poll); err != nil {
			return AwaitResult{Job: job, Polls: polls}, err
		}

		switch poll.Status {
		case domain.StatusCompleted, domain.StatusFailed:
			updated, err := b.jobs.FindByThread(ctx, key)
			if err != nil {
				return AwaitResult{Job: job, Polls: polls}, err
			}
			if updated != nil {
				job = updated
			}
			if poll.Status == domain.StatusCompleted {
				return AwaitResult{Outcome: OutcomeCompleted, Job: job, Polls: polls}, nil
			}
			return AwaitResult{Outcome: OutcomeFailed, Job: job, Reason: job.Error, Polls: polls}, nil
		}
	}

	log.Warn("job still running after poll limit", "polls", b.cfg.MaxPollAttempts)
	return AwaitResult{Outcome: OutcomeTimeout, Job: job, Polls: b.cfg.MaxPollAttempts},
		fmt.Errorf("thread %s after %d polls: %w", key, b.cfg.MaxPollAttempts, domain.ErrJobTimeout)
}

// ReconcileBatch polls every non-terminal external job once and stores any
// transition. Rows of the local summarizer are left alone.
func (b *Broker) ReconcileBatch(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	jobs, err := b.jobs.FindNonTerminal(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, job := range jobs {
		if job.IsLocal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		log := b.logger.With("account_id", job.AccountID, "thread_id", job.ThreadID, "external_job_id", job.ExternalJobID)
		poll, err := b.PollOnce(ctx, job.ExternalJobID)
		if err != nil {
			if errors.Is(err, domain.ErrJobAPIUnauthorized) {
				log.Error("job api rejected credentials, stopping reconciliation", "error", err)
				report.Errors++
				return report, err
			}
			log.Warn("failed to poll job", "error", err)
			report.Errors++
			continue
		}

		changed, err := b.apply(ctx, job, poll)
		if err != nil {
			log.Error("failed to store job status", "error", err)
			report.Errors++
			continue
		}
		switch {
		case poll.Status == domain.StatusInProgress:
			report.InProgress++
		case changed && poll.Status == domain.StatusCompleted:
			report.Completed++
		case changed && poll.Status == domain.StatusFailed:
			report.Failed++
			log.Warn("job failed", "reason", poll.Reason)
		}
	}

	if report.Checked > 0 {
		b.logger.Info("reconciled jobs", "checked", report.Checked, "completed", report.Completed, "failed", report.Failed, "errors", report.Errors)
	}
	return report, nil
}

// SubmitPending submits up to BatchSize threads that have no summary yet or
// whose last attempt failed with attempts to spare.
func (b *Broker) SubmitPending(ctx context.Context) (SubmitReport, error) {
	var report SubmitReport

	keys, err := b.jobs.ThreadsPendingSummary(ctx, b.cfg.BatchSize, b.cfg.MaxSubmitAttempts)
	if err != nil {
		return report, fmt.Errorf("failed to select threads: %w", err)
	}
	report.Selected = len(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := b.Submit(ctx, key); err != nil {
			report.Failed++
			if errors.Is(err, domain.ErrJobAPIUnauthorized) {
				b.logger.Error("job api rejected credentials, stopping submission", "error", err)
				return report, err
			}
			b.logger.Warn("failed to submit thread", "account_id", key.AccountID, "thread_id", key.ThreadID, "error", err)
			continue
		}
		report.Submitted++
	}
	return report, nil
}
