package domain

import (
	"fmt"
	"strings"
)

// JobStatus is the stored state of a summarization job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Predecessors lists the states a job may move to s from.
func (s JobStatus) Predecessors() []JobStatus {
	switch s {
	case StatusInProgress:
		return []JobStatus{StatusQueued}
	case StatusCompleted, StatusFailed, StatusCancelled:
		return []JobStatus{StatusQueued, StatusInProgress}
	}
	return nil
}

// CanTransition reports whether moving from s to next goes forward.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

// ParseExternalStatus maps the job API vocabulary onto JobStatus.
// A cancelled external job is recorded as failed.
func ParseExternalStatus(s string) (JobStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_QUEUE":
		return StatusQueued, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// PublicStatus is the reduced vocabulary shown to API callers.
type PublicStatus string

const (
	PublicPending    PublicStatus = "pending"
	PublicProcessing PublicStatus = "processing"
	PublicCompleted  PublicStatus = "completed"
	PublicFailed     PublicStatus = "failed"
)

// Public maps a stored status onto the caller vocabulary.
func (s JobStatus) Public() PublicStatus {
	return PublicStatusOf(string(s))
}

// PublicStatusOf accepts stored, external API and local worker vocabularies.
// Anything unrecognised is reported as pending.
func PublicStatusOf(s string) PublicStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_progress", "active", "processing":
		return PublicProcessing
	case "completed", "done":
		return PublicCompleted
	case "failed", "cancelled", "timed_out", "error":
		return PublicFailed
	}
	return PublicPending
}
