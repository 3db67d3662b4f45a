// Package chroma embeds stored emails into a Chroma collection for semantic search.
package chroma

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

const (
	collectionName = "email"
	embeddingModel = "text-embedding-004"
	maxDocumentLen = 10000
)

// Settings selects the Chroma Cloud tenant. Embeddings read GEMINI_API_KEY from the environment.
type Settings struct {
	APIKey   string
	Tenant   string
	Database string
}

// HistoryStore remembers which emails were already embedded.
type HistoryStore interface {
	EnsureIndexed(ctx context.Context, accountID, emailID string) (bool, error)
	Delete(ctx context.Context, accountID, emailID string) error
}

type documentWriter interface {
	Upsert(ctx context.Context, id, text string, metadata map[string]interface{}) error
}

// collectionWriter upserts into a Chroma collection.
type collectionWriter struct {
	collection chroma.Collection
}

func (w collectionWriter) Upsert(ctx context.Context, id, text string, metadata map[string]interface{}) error {
	meta, err := chroma.NewDocumentMetadataFromMap(metadata)
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	return w.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(id)),
		chroma.WithMetadatas(meta),
		chroma.WithTexts(text),
	)
}

// Indexer upserts emails into the collection at most once each.
type Indexer struct {
	client     chroma.Client
	collection documentWriter
	history    HistoryStore
	logger     *slog.Logger
}

func NewIndexer(ctx context.Context, s Settings, history HistoryStore, logger *slog.Logger) (*Indexer, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel(embeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	var client chroma.Client
	switch {
	case s.Database != "" && s.Tenant != "":
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(s.APIKey),
			chroma.WithDatabaseAndTenant(s.Database, s.Tenant),
		)
	case s.Tenant != "":
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(s.APIKey),
			chroma.WithTenant(s.Tenant),
		)
	default:
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(s.APIKey),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(ctx, collectionName, chroma.WithEmbeddingFunctionCreate(embedFunc))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	idx := newIndexer(collectionWriter{collection: collection}, history, logger)
	idx.client = client
	return idx, nil
}

func newIndexer(collection documentWriter, history HistoryStore, logger *slog.Logger) *Indexer {
	return &Indexer{
		collection: collection,
		history:    history,
		logger:     logger.With("component", "chroma"),
	}
}

// IndexEmail embeds email unless it was indexed before. A failed upsert
// clears the history row so a later sync can retry.
func (i *Indexer) IndexEmail(ctx context.Context, email *mailboxdomain.Email) error {
	already, err := i.history.EnsureIndexed(ctx, email.AccountID, email.ID)
	if err != nil {
		return fmt.Errorf("index history: %w", err)
	}
	if already {
		return nil
	}

	metadata := map[string]interface{}{
		"user_id":    email.UserID,
		"company_id": email.CompanyID,
		"email_id":   email.ID,
		"thread_id":  email.ThreadID,
		"subject":    email.Subject,
	}
	err = i.collection.Upsert(ctx, email.ID, documentText(email), metadata)
	if err != nil {
		if delErr := i.history.Delete(ctx, email.AccountID, email.ID); delErr != nil {
			i.logger.Warn("failed to roll back index history", "email_id", email.ID, "error", delErr)
		}
		return fmt.Errorf("failed to upsert email embedding: %w", err)
	}
	return nil
}

func (i *Indexer) Close() error {
	if i.client == nil {
		return nil
	}
	return i.client.Close()
}

func documentText(email *mailboxdomain.Email) string {
	text := fmt.Sprintf("Subject: %s\n\nBody: %s", email.Subject, email.Body)
	if len(text) <= maxDocumentLen {
		return text
	}
	text = text[:maxDocumentLen]
	for !utf8.ValidString(text) {
		text = text[:len(text)-1]
	}
	return text
}
