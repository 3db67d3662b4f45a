package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"crmsync-backend/internal/summary/usecase"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingBackend struct {
	mu        sync.Mutex
	submits   int
	checks    int
	submitErr error
}

func (b *countingBackend) SubmitPending(ctx context.Context) (usecase.SubmitReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	return usecase.SubmitReport{Selected: 1, Submitted: 1}, b.submitErr
}

func (b *countingBackend) ReconcileBatch(ctx context.Context) (usecase.ReconcileReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checks++
	return usecase.ReconcileReport{Checked: 2}, nil
}

func (b *countingBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits, b.checks
}

func TestStartWaitsForInitialDelay(t *testing.T) {
	backend := &countingBackend{}
	s := NewScheduler(backend, Config{SubmitInterval: time.Hour, CheckInterval: time.Hour, InitialDelay: 50 * time.Millisecond}, discard)

	s.Start(context.Background())
	defer s.Stop()

	if submits, checks := backend.counts(); submits != 0 || checks != 0 {
		t.Fatalf("ran before the initial delay: submits=%d checks=%d", submits, checks)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if submits, checks := backend.counts(); submits == 1 && checks == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	submits, checks := backend.counts()
	t.Fatalf("after initial delay submits=%d checks=%d, want 1 and 1", submits, checks)
}

func TestTicksRepeat(t *testing.T) {
	backend := &countingBackend{}
	s := NewScheduler(backend, Config{SubmitInterval: time.Hour, CheckInterval: 20 * time.Millisecond}, discard)

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, checks := backend.counts(); checks >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	submits, checks := backend.counts()
	if checks < 3 {
		t.Errorf("checks = %d, want at least 3", checks)
	}
	if submits != 1 {
		t.Errorf("submits = %d, want 1 with an hour interval", submits)
	}
}

func TestStopBeforeDelayRunsNothing(t *testing.T) {
	backend := &countingBackend{}
	s := NewScheduler(backend, Config{InitialDelay: time.Hour}, discard)

	s.Start(context.Background())
	s.Stop()

	if submits, checks := backend.counts(); submits != 0 || checks != 0 {
		t.Errorf("submits=%d checks=%d, want none", submits, checks)
	}
}

func TestManualTriggers(t *testing.T) {
	backend := &countingBackend{}
	s := NewScheduler(backend, Config{}, discard)

	report, err := s.SubmitNow(context.Background())
	if err != nil || report.Submitted != 1 {
		t.Errorf("SubmitNow() = %+v, %v", report, err)
	}
	check, err := s.CheckNow(context.Background())
	if err != nil || check.Checked != 2 {
		t.Errorf("CheckNow() = %+v, %v", check, err)
	}

	backend.submitErr = errors.New("job api down")
	if _, err := s.SubmitNow(context.Background()); err == nil {
		t.Error("SubmitNow() swallowed the backend error")
	}
}
