package usecase

import (
	"context"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/summary/domain"
	"crmsync-backend/pkg/jobapi"
)

// ThreadSource loads the messages of one mailbox thread, oldest first.
type ThreadSource interface {
	FindByThreadID(ctx context.Context, accountID, threadID string) ([]*mailboxdomain.Email, error)
}

// JobAPI is the external asynchronous summarization service.
type JobAPI interface {
	Run(ctx context.Context, emailContent string) (string, error)
	Status(ctx context.Context, id string) (*jobapi.StatusResponse, error)
}

// SummaryNotifier is told when a thread summary reaches a terminal state.
type SummaryNotifier interface {
	NotifySummary(ctx context.Context, job *domain.ThreadSummary)
}

// Backend is a summarization implementation driven by the scheduler.
type Backend interface {
	SubmitPending(ctx context.Context) (SubmitReport, error)
	ReconcileBatch(ctx context.Context) (ReconcileReport, error)
}

type SubmitReport struct {
	Selected  int `json:"selected"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

type ReconcileReport struct {
	Checked    int `json:"checked"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Errors     int `json:"errors"`
}
