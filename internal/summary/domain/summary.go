package domain

import (
	"errors"
	"strings"
	"time"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
)

var (
	ErrEmptyThread        = errors.New("thread has no messages")
	ErrJobTimeout         = errors.New("summarization job did not finish in time")
	ErrJobAPIUnauthorized = errors.New("job api rejected credentials")
)

// LocalJobPrefix marks external ids issued by the in-process summarizer.
const LocalJobPrefix = "local:"

// ThreadKey names a thread within one mailbox. Provider thread ids are shared
// by every participant of a conversation, so they are only unique per account.
type ThreadKey struct {
	AccountID string `json:"account_id"`
	ThreadID  string `json:"thread_id"`
}

func (k ThreadKey) String() string {
	return k.AccountID + "/" + k.ThreadID
}

// ThreadSummary is the summarization job handle and its result, one row per
// mailbox thread.
type ThreadSummary struct {
	ID            string                    `json:"id" gorm:"primaryKey"`
	AccountID     string                    `json:"account_id" gorm:"uniqueIndex:idx_thread_summaries_account_thread;not null"`
	ThreadID      string                    `json:"thread_id" gorm:"uniqueIndex:idx_thread_summaries_account_thread;not null"`
	UserID        string                    `json:"user_id" gorm:"index"`
	CompanyID     string                    `json:"company_id" gorm:"index"`
	ExternalJobID string                    `json:"external_job_id" gorm:"index"`
	Status        JobStatus                 `json:"status" gorm:"index;not null"`
	Attempts      int                       `json:"attempts"`
	SubmittedAt   *time.Time                `json:"submitted_at"`
	CompletedAt   *time.Time                `json:"completed_at"`
	Summary       string                    `json:"summary" gorm:"type:text"`
	KeyPoints     mailboxdomain.StringArray `json:"key_points" gorm:"type:text"`
	ActionItems   mailboxdomain.StringArray `json:"action_items" gorm:"type:text"`
	Sentiment     string                    `json:"sentiment"`
	Participants  mailboxdomain.StringArray `json:"participants" gorm:"type:text"`
	Error         string                    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func (ThreadSummary) TableName() string {
	return "thread_summaries"
}

// Key returns the mailbox thread the row summarizes.
func (s *ThreadSummary) Key() ThreadKey {
	return ThreadKey{AccountID: s.AccountID, ThreadID: s.ThreadID}
}

// IsLocal reports whether the row belongs to the in-process summarizer.
func (s *ThreadSummary) IsLocal() bool {
	return strings.HasPrefix(s.ExternalJobID, LocalJobPrefix)
}

// Result is the parsed output of a finished summarization.
type Result struct {
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"key_points"`
	ActionItems  []string `json:"action_items"`
	Sentiment    string   `json:"sentiment"`
	Participants []string `json:"participants"`
}
