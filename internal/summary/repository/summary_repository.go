package repository

import (
	"context"
	"errors"
	"time"

	"crmsync-backend/internal/summary/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SummaryRepository stores one summarization job row per mailbox thread.
type SummaryRepository interface {
	FindByThread(ctx context.Context, key domain.ThreadKey) (*domain.ThreadSummary, error)
	// FindForUser returns the user's most recently updated row for threadID
	// across all of their mailboxes.
	FindForUser(ctx context.Context, userID, threadID string) (*domain.ThreadSummary, error)
	// SaveSubmission inserts a queued row for the thread or replaces a failed one.
	// It reports false when the thread already has a live or completed row.
	SaveSubmission(ctx context.Context, job *domain.ThreadSummary) (bool, error)
	// Transition moves the row for (key, externalJobID) to next, writing
	// fields with it, only if the current status is one of next's predecessors.
	Transition(ctx context.Context, key domain.ThreadKey, externalJobID string, next domain.JobStatus, fields map[string]interface{}) (bool, error)
	// FindNonTerminal returns queued and in-progress jobs, oldest submission first.
	FindNonTerminal(ctx context.Context) ([]*domain.ThreadSummary, error)
	// ThreadsPendingSummary returns up to limit mailbox threads with no summary
	// row, or with a failed row that has fewer than maxAttempts submissions.
	ThreadsPendingSummary(ctx context.Context, limit, maxAttempts int) ([]domain.ThreadKey, error)
}

type summaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) SummaryRepository {
	return &summaryRepository{db: db}
}

func (r *summaryRepository) FindByThread(ctx context.Context, key domain.ThreadKey) (*domain.ThreadSummary, error) {
	return r.first(r.db.WithContext(ctx).Where("account_id = ? AND thread_id = ?", key.AccountID, key.ThreadID))
}

func (r *summaryRepository) FindForUser(ctx context.Context, userID, threadID string) (*domain.ThreadSummary, error) {
	return r.first(r.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("updated_at DESC"))
}

func (r *summaryRepository) first(q *gorm.DB) (*domain.ThreadSummary, error) {
	var job domain.ThreadSummary
	if err := q.First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *summaryRepository) SaveSubmission(ctx context.Context, job *domain.ThreadSummary) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	// INSERT ... ON CONFLICT (account_id, thread_id) DO UPDATE ... WHERE status = 'failed'
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "company_id", "external_job_id", "status", "attempts",
			"submitted_at", "completed_at", "summary", "key_points", "action_items",
			"sentiment", "participants", "error", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: domain.ThreadSummary{}.TableName(), Name: "status"}, Value: domain.StatusFailed},
		}},
	}).Create(job)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *summaryRepository) Transition(ctx context.Context, key domain.ThreadKey, externalJobID string, next domain.JobStatus, fields map[string]interface{}) (bool, error) {
	allowed := next.Predecessors()
	if len(allowed) == 0 {
		return false, nil
	}

	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = next
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&domain.ThreadSummary{}).
		Where("account_id = ? AND thread_id = ? AND external_job_id = ? AND status IN ?", key.AccountID, key.ThreadID, externalJobID, allowed).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *summaryRepository) FindNonTerminal(ctx context.Context) ([]*domain.ThreadSummary, error) {
	var jobs []*domain.ThreadSummary
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.StatusQueued, domain.StatusInProgress}).
		Order("submitted_at ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *summaryRepository) ThreadsPendingSummary(ctx context.Context, limit, maxAttempts int) ([]domain.ThreadKey, error) {
	var keys []domain.ThreadKey
	err := r.db.WithContext(ctx).Table("emails").
		Select("emails.account_id AS account_id, emails.thread_id AS thread_id").
		Joins("LEFT JOIN thread_summaries ON thread_summaries.account_id = emails.account_id AND thread_summaries.thread_id = emails.thread_id").
		Where("emails.thread_id <> ''").
		Where("(thread_summaries.id IS NULL OR (thread_summaries.status = ? AND thread_summaries.attempts < ?))", domain.StatusFailed, maxAttempts).
		Group("emails.account_id, emails.thread_id").
		Order("MAX(emails.received_at) DESC").
		Limit(limit).
		Scan(&keys).Error
	return keys, err
}
