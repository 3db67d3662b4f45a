package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/normalizer"
	"crmsync-backend/internal/mailbox/repository"
)

// IngestionService runs the per-account pipeline:
// fetch, normalize, dedup, match, persist, notify.
type IngestionService struct {
	accounts   repository.AccountRepository
	emails     repository.EmailRepository
	connector  domain.Connector
	matcher    Matcher
	notifier   Notifier
	indexer    Indexer
	fetchLimit int
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestionService(
	accounts repository.AccountRepository,
	emails repository.EmailRepository,
	connector domain.Connector,
	matcher Matcher,
	notifier Notifier,
	fetchLimit int,
	logger *slog.Logger,
) *IngestionService {
	if fetchLimit <= 0 {
		fetchLimit = 50
	}
	return &IngestionService{
		accounts:   accounts,
		emails:     emails,
		connector:  connector,
		matcher:    matcher,
		notifier:   notifier,
		fetchLimit: fetchLimit,
		logger:     logger.With("component", "ingestion"),
		now:        time.Now,
	}
}

// SetIndexer enables semantic indexing of newly stored emails.
func (s *IngestionService) SetIndexer(indexer Indexer) {
	s.indexer = indexer
}

// SyncAccount loads accountID and ingests its new mail.
func (s *IngestionService) SyncAccount(ctx context.Context, accountID string) (IngestResult, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return IngestResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
	}
	if !account.IsActive {
		s.logger.Info("skipping inactive account", "account_id", accountID)
		return IngestResult{}, nil
	}
	return s.ProcessIncomingEmails(ctx, account)
}

// ProcessIncomingEmails ingests mail newer than the account's watermark.
// Per-message failures are counted, not returned. A fetch failure leaves the
// watermark untouched. When a resumed fetch is cut at the limit the watermark
// moves only to the newest message fetched and the result reports a backlog.
func (s *IngestionService) ProcessIncomingEmails(ctx context.Context, account *domain.EmailAccount) (IngestResult, error) {
	var result IngestResult
	log := s.logger.With("account_id", account.ID, "provider", account.Provider)

	startedAt := s.now()
	raws, err := s.connector.Fetch(ctx, account, account.LastSyncAt, s.fetchLimit)
	if err != nil {
		return result, fmt.Errorf("fetch failed: %w", err)
	}
	result.Fetched = len(raws)

	for _, raw := range raws {
		stored, err := s.ingestOne(ctx, account, raw)
		switch {
		case err != nil:
			result.Errors++
			log.Warn("failed to ingest message", "error", err, "error_kind", domain.Classify(err))
		case stored:
			result.Processed++
		default:
			result.Skipped++
		}
	}

	watermark := startedAt
	if account.LastSyncAt != nil && len(raws) >= s.fetchLimit {
		if newest := newestTimestamp(raws); newest.After(*account.LastSyncAt) {
			watermark = newest
			result.Backlog = true
		} else {
			log.Warn("full batch without a newer timestamp, advancing to sync start", "limit", s.fetchLimit)
		}
	}

	if err := s.accounts.UpdateLastSyncAt(ctx, account.ID, watermark); err != nil {
		return result, fmt.Errorf("failed to update last sync time: %w", err)
	}
	account.LastSyncAt = &watermark

	log.Info("account synced",
		"fetched", result.Fetched,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"backlog", result.Backlog,
	)
	return result, nil
}

func newestTimestamp(raws []domain.RawMessage) time.Time {
	var newest time.Time
	for _, raw := range raws {
		if ts := raw.Timestamp(); ts.After(newest) {
			newest = ts
		}
	}
	return newest
}

func (s *IngestionService) ingestOne(ctx context.Context, account *domain.EmailAccount, raw domain.RawMessage) (bool, error) {
	email, err := normalizer.Normalize(raw, account)
	if err != nil {
		return false, err
	}

	exists, err := s.emails.ExistsByMessageID(ctx, account.ID, email.MessageID)
	if err != nil {
		return false, fmt.Errorf("dedup check for %s: %w", email.MessageID, err)
	}
	if exists {
		return false, nil
	}

	s.attachMatches(ctx, account, email)

	// A concurrent sync may have stored the same message since the check above.
	inserted, err := s.emails.Create(ctx, email)
	if err != nil {
		return false, fmt.Errorf("persist %s: %w", email.MessageID, err)
	}
	if !inserted {
		return false, nil
	}

	if s.notifier != nil {
		s.notifier.NotifyNewEmail(ctx, account, email)
	}
	if s.indexer != nil {
		if err := s.indexer.IndexEmail(ctx, email); err != nil {
			s.logger.Warn("failed to index email", "email_id", email.ID, "error", err)
		}
	}
	return true, nil
}

// attachMatches links email to CRM entities. Lookup failures leave it unlinked.
func (s *IngestionService) attachMatches(ctx context.Context, account *domain.EmailAccount, email *domain.Email) {
	email.ContactIDs = domain.StringArray{}
	email.DealIDs = domain.StringArray{}
	if s.matcher == nil {
		return
	}

	match, err := s.matcher.Match(ctx, account.CompanyID, email.Participants())
	if err != nil {
		s.logger.Warn("crm match failed", "account_id", account.ID, "message_id", email.MessageID, "error", err)
		return
	}
	if len(match.ContactIDs) > 0 {
		email.ContactIDs = match.ContactIDs
	}
	if len(match.DealIDs) > 0 {
		email.DealIDs = match.DealIDs
	}
}
