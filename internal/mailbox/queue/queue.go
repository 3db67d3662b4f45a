// Package queue holds the in-process sync and send work queues and their drain loop.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/usecase"

	"github.com/google/uuid"
)

// Priority orders sync jobs. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

var priorityNames = [...]string{"low", "normal", "high"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityHigh {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority accepts "low", "normal" or "high"; empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// SyncJob asks for new mail of one account. At most one is queued per account.
type SyncJob struct {
	AccountID  string
	UserID     string
	Priority   Priority
	Attempts   int
	EnqueuedAt time.Time
}

// SendJob carries one outbound message. Send jobs are never merged.
type SendJob struct {
	ID         string
	AccountID  string
	Message    *domain.OutboundMessage
	EnqueuedAt time.Time
}

type Syncer interface {
	SyncAccount(ctx context.Context, accountID string) (usecase.IngestResult, error)
}

type Sender interface {
	SendMessage(ctx context.Context, accountID string, msg *domain.OutboundMessage) (string, error)
}

// AccountSource lists accounts whose watermark is older than a cutoff.
type AccountSource interface {
	FindDueForSync(ctx context.Context, before time.Time) ([]*domain.EmailAccount, error)
}

type Config struct {
	TickInterval    time.Duration
	ResyncThreshold time.Duration
	MaxRetries      int
}

// Service is the sync/send queue. One instance is shared by every producer.
type Service struct {
	mu        sync.Mutex
	syncLists [PriorityHigh + 1][]*SyncJob
	syncIndex map[string]*SyncJob
	sendQueue []*SendJob

	processing atomic.Bool

	syncer   Syncer
	sender   Sender
	accounts AccountSource
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(syncer Syncer, sender Sender, accounts AccountSource, cfg Config, logger *slog.Logger) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.ResyncThreshold <= 0 {
		cfg.ResyncThreshold = 15 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Service{
		syncIndex: make(map[string]*SyncJob),
		syncer:    syncer,
		sender:    sender,
		accounts:  accounts,
		cfg:       cfg,
		logger:    logger.With("component", "sync_queue"),
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// EnqueueSync queues a sync for accountID. If one is already queued its
// priority is raised when p is higher; it reports whether a new entry was added.
func (s *Service) EnqueueSync(accountID, userID string, p Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueSyncLocked(&SyncJob{AccountID: accountID, UserID: userID, Priority: p, EnqueuedAt: s.now()})
}

func (s *Service) enqueueSyncLocked(job *SyncJob) bool {
	if existing, ok := s.syncIndex[job.AccountID]; ok {
		if job.Priority > existing.Priority {
			s.removeLocked(existing)
			existing.Priority = job.Priority
			s.syncLists[existing.Priority] = append(s.syncLists[existing.Priority], existing)
		}
		return false
	}
	s.syncIndex[job.AccountID] = job
	s.syncLists[job.Priority] = append(s.syncLists[job.Priority], job)
	return true
}

func (s *Service) removeLocked(job *SyncJob) {
	list := s.syncLists[job.Priority]
	for i, j := range list {
		if j == job {
			s.syncLists[job.Priority] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// EnqueueSend appends msg to the send queue and returns the job id.
func (s *Service) EnqueueSend(accountID string, msg *domain.OutboundMessage) string {
	job := &SendJob{ID: uuid.New().String(), AccountID: accountID, Message: msg, EnqueuedAt: s.now()}
	s.mu.Lock()
	s.sendQueue = append(s.sendQueue, job)
	s.mu.Unlock()
	return job.ID
}

func (s *Service) popSync() *SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := PriorityHigh; p >= PriorityLow; p-- {
		if list := s.syncLists[p]; len(list) > 0 {
			job := list[0]
			s.syncLists[p] = list[1:]
			delete(s.syncIndex, job.AccountID)
			return job
		}
	}
	return nil
}

func (s *Service) popSend() *SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendQueue) == 0 {
		return nil
	}
	job := s.sendQueue[0]
	s.sendQueue = s.sendQueue[1:]
	return job
}

// Stats is a snapshot of queue depth.
type Stats struct {
	Sync       map[string]int `json:"sync"`
	Send       int            `json:"send"`
	Processing bool           `json:"processing"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Sync: make(map[string]int, len(s.syncLists)), Send: len(s.sendQueue), Processing: s.processing.Load()}
	for p := range s.syncLists {
		st.Sync[Priority(p).String()] = len(s.syncLists[p])
	}
	return st
}

// Start runs a drain immediately and then on every tick until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("starting sync queue", "interval", s.cfg.TickInterval, "resync_threshold", s.cfg.ResyncThreshold)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTick(ctx)

		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runTick(ctx)
			case <-s.stopChan:
				s.logger.Info("sync queue stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runTick drains in the background so a slow drain never delays the ticker.
func (s *Service) runTick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Tick(ctx)
	}()
}

// Stop ends the tick loop and waits for an in-flight drain.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// Tick pops at most one sync job and one send job. It returns false without
// doing anything when another drain is still running.
func (s *Service) Tick(ctx context.Context) bool {
	if !s.processing.CompareAndSwap(false, true) {
		s.logger.Debug("drain already running, tick skipped")
		return false
	}
	defer s.processing.Store(false)

	job := s.popSync()
	if job == nil {
		s.repopulate(ctx)
		job = s.popSync()
	}
	if job != nil {
		s.processSync(ctx, job)
	}

	if send := s.popSend(); send != nil {
		s.processSend(ctx, send)
	}
	return true
}

func (s *Service) repopulate(ctx context.Context) {
	if s.accounts == nil {
		return
	}
	due, err := s.accounts.FindDueForSync(ctx, s.now().Add(-s.cfg.ResyncThreshold))
	if err != nil {
		s.logger.Error("failed to list accounts due for sync", "error", err)
		return
	}
	added := 0
	for _, a := range due {
		if s.EnqueueSync(a.ID, a.UserID, PriorityNormal) {
			added++
		}
	}
	if added > 0 {
		s.logger.Info("queued stale accounts", "count", added)
	}
}

func (s *Service) processSync(ctx context.Context, job *SyncJob) {
	log := s.logger.With("account_id", job.AccountID, "priority", job.Priority.String(), "attempt", job.Attempts+1)

	result, err := s.syncer.SyncAccount(ctx, job.AccountID)
	if err == nil {
		if result.Backlog {
			requeued := s.EnqueueSync(job.AccountID, job.UserID, PriorityNormal)
			log.Info("backlog remains, sync requeued", "requeued", requeued)
		}
		return
	}

	kind := domain.Classify(err)
	if kind.Permanent() {
		log.Error("sync failed permanently, dropping job", "error", err, "error_kind", kind)
		return
	}

	job.Attempts++
	if job.Attempts >= s.cfg.MaxRetries {
		log.Error("sync retry limit reached, dropping job", "error", err, "error_kind", kind, "max_retries", s.cfg.MaxRetries)
		return
	}

	job.Priority = PriorityLow
	s.mu.Lock()
	requeued := s.enqueueSyncLocked(job)
	s.mu.Unlock()
	log.Warn("sync failed, requeued at low priority", "error", err, "error_kind", kind, "requeued", requeued)
}

func (s *Service) processSend(ctx context.Context, job *SendJob) {
	log := s.logger.With("account_id", job.AccountID, "send_job_id", job.ID)

	messageID, err := s.sender.SendMessage(ctx, job.AccountID, job.Message)
	if err != nil {
		log.Error("send failed", "error", err, "error_kind", domain.Classify(err))
		return
	}
	log.Info("message sent", "message_id", messageID)
}
