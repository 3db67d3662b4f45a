package delivery

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crmsync-backend/internal/summary/domain"
	"crmsync-backend/internal/summary/usecase"

	"github.com/gin-gonic/gin"
)

// Trigger runs one scheduler cadence on demand.
type Trigger interface {
	SubmitNow(ctx context.Context) (usecase.SubmitReport, error)
	CheckNow(ctx context.Context) (usecase.ReconcileReport, error)
}

type SummaryStore interface {
	FindByThread(ctx context.Context, key domain.ThreadKey) (*domain.ThreadSummary, error)
	FindForUser(ctx context.Context, userID, threadID string) (*domain.ThreadSummary, error)
}

type SummaryHandler struct {
	trigger Trigger
	store   SummaryStore
}

func NewSummaryHandler(trigger Trigger, store SummaryStore) *SummaryHandler {
	return &SummaryHandler{trigger: trigger, store: store}
}

type SummaryResponse struct {
	AccountID    string              `json:"account_id"`
	ThreadID     string              `json:"thread_id"`
	Status       domain.PublicStatus `json:"status"`
	Attempts     int                 `json:"attempts"`
	Summary      string              `json:"summary,omitempty"`
	KeyPoints    []string            `json:"key_points"`
	ActionItems  []string            `json:"action_items"`
	Sentiment    string              `json:"sentiment,omitempty"`
	Participants []string            `json:"participants"`
	Error        string              `json:"error,omitempty"`
	SubmittedAt  *time.Time          `json:"submitted_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// POST /api/summaries/submit
func (h *SummaryHandler) Submit(c *gin.Context) {
	report, err := h.trigger.SubmitNow(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// POST /api/summaries/check
func (h *SummaryHandler) Check(c *gin.Context) {
	report, err := h.trigger.CheckNow(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/summaries/:threadId?account_id=
func (h *SummaryHandler) Get(c *gin.Context) {
	userID := c.GetString("userID")
	threadID := c.Param("threadId")

	var (
		job *domain.ThreadSummary
		err error
	)
	if accountID := c.Query("account_id"); accountID != "" {
		job, err = h.store.FindByThread(c.Request.Context(), domain.ThreadKey{AccountID: accountID, ThreadID: threadID})
	} else {
		job, err = h.store.FindForUser(c.Request.Context(), userID, threadID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load summary"})
		return
	}
	if job == nil || job.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "summary not found"})
		return
	}

	resp := SummaryResponse{
		AccountID:    job.AccountID,
		ThreadID:     job.ThreadID,
		Status:       job.Status.Public(),
		Attempts:     job.Attempts,
		KeyPoints:    nonNil(job.KeyPoints),
		ActionItems:  nonNil(job.ActionItems),
		Participants: nonNil(job.Participants),
		Error:        job.Error,
		SubmittedAt:  job.SubmittedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Status == domain.StatusCompleted {
		resp.Summary = job.Summary
		resp.Sentiment = job.Sentiment
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrJobAPIUnauthorized) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
