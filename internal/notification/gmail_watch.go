package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/queue"

	"cloud.google.com/go/pubsub"
)

// GmailNotification is the payload Gmail publishes for users.watch.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// AccountFinder resolves a watched mailbox address to connected accounts.
type AccountFinder interface {
	FindByEmailAddress(ctx context.Context, provider mailboxdomain.Provider, address string) ([]*mailboxdomain.EmailAccount, error)
}

// SyncEnqueuer schedules an account sync.
type SyncEnqueuer interface {
	EnqueueSync(accountID, userID string, p queue.Priority) bool
}

// GmailWatcher turns Gmail push notifications into high priority syncs.
type GmailWatcher struct {
	client   *pubsub.Client
	subName  string
	accounts AccountFinder
	queue    SyncEnqueuer
	logger   *slog.Logger

	mu          sync.Mutex
	lastHistory map[string]uint64
}

func NewGmailWatcher(ctx context.Context, projectID, subscription, credentialsFile string, accounts AccountFinder, q SyncEnqueuer, logger *slog.Logger) (*GmailWatcher, error) {
	client, err := newPubSubClient(ctx, projectID, credentialsFile)
	if err != nil {
		return nil, err
	}
	w := newGmailWatcher(accounts, q, logger)
	w.client = client
	w.subName = subscription
	return w, nil
}

func newGmailWatcher(accounts AccountFinder, q SyncEnqueuer, logger *slog.Logger) *GmailWatcher {
	return &GmailWatcher{
		accounts:    accounts,
		queue:       q,
		logger:      logger.With("component", "gmail_watch"),
		lastHistory: make(map[string]uint64),
	}
}

// Run receives notifications until ctx is cancelled.
func (w *GmailWatcher) Run(ctx context.Context) error {
	sub := w.client.Subscription(w.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription %s: %w", w.subName, err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", w.subName)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 100

	w.logger.Info("listening for gmail notifications", "subscription", w.subName)
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		w.handle(ctx, msg.Data)
		msg.Ack()
	})
}

func (w *GmailWatcher) Close() error {
	return w.client.Close()
}

// handle returns the number of syncs enqueued.
func (w *GmailWatcher) handle(ctx context.Context, data []byte) int {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		w.logger.Warn("malformed gmail notification", "error", err)
		return 0
	}
	address := strings.ToLower(strings.TrimSpace(n.EmailAddress))
	if address == "" {
		return 0
	}

	if !w.advance(address, n.HistoryID) {
		w.logger.Debug("duplicate gmail notification", "email", address, "history_id", n.HistoryID)
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	accounts, err := w.accounts.FindByEmailAddress(ctx, mailboxdomain.ProviderGmail, address)
	if err != nil {
		w.logger.Error("failed to resolve gmail account", "email", address, "error", err)
		return 0
	}

	enqueued := 0
	for _, account := range accounts {
		w.queue.EnqueueSync(account.ID, account.UserID, queue.PriorityHigh)
		enqueued++
	}
	if enqueued == 0 {
		w.logger.Debug("no account for gmail notification", "email", address)
	}
	return enqueued
}

// advance records historyID for address and reports whether it is new.
func (w *GmailWatcher) advance(address string, historyID uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastHistory[address]; ok && historyID <= last {
		return false
	}
	w.lastHistory[address] = historyID
	return true
}
