package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"host=localhost user=postgres password=postgres dbname=crmsync port=5432 sslmode=disable"`
	JWTSecret   string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`

	// Stored IMAP/SMTP passwords are encrypted with a key derived from this value
	EncryptionKey string `env:"ENCRYPTION_KEY,required,notEmpty"`

	// OAuth clients used to refresh mailbox tokens
	GoogleClientID        string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET"`
	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET"`
	MicrosoftTenant       string `env:"MICROSOFT_TENANT" envDefault:"common"`

	// Sync/send queue
	SyncTickInterval    time.Duration `env:"SYNC_TICK_INTERVAL" envDefault:"30s"`
	SyncResyncThreshold time.Duration `env:"SYNC_RESYNC_THRESHOLD" envDefault:"15m"`
	SyncMaxRetries      int           `env:"SYNC_MAX_RETRIES" envDefault:"5"`
	SyncFetchLimit      int           `env:"SYNC_FETCH_LIMIT" envDefault:"50"`
	IMAPDialTimeout     time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Summarization scheduler and broker
	SummarySubmitInterval    time.Duration `env:"SUMMARY_SUBMIT_INTERVAL" envDefault:"5m"`
	SummaryCheckInterval     time.Duration `env:"SUMMARY_CHECK_INTERVAL" envDefault:"1m"`
	SummaryInitialDelay      time.Duration `env:"SUMMARY_INITIAL_DELAY" envDefault:"15s"`
	SummaryBatchSize         int           `env:"SUMMARY_BATCH_SIZE" envDefault:"10"`
	SummaryPollInterval      time.Duration `env:"SUMMARY_POLL_INTERVAL" envDefault:"5s"`
	SummaryMaxPollAttempts   int           `env:"SUMMARY_MAX_POLL_ATTEMPTS" envDefault:"60"`
	SummaryMaxSubmitAttempts int           `env:"SUMMARY_MAX_SUBMIT_ATTEMPTS" envDefault:"3"`
	JobAPIBaseURL            string        `env:"JOB_API_BASE_URL"`
	JobAPIKey                string        `env:"JOB_API_KEY"`

	// Local summarizer, used when no job API is configured
	AIProvider    string `env:"AI_PROVIDER" envDefault:"auto"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	OllamaBaseURL string `env:"OLLAMA_BASE_URL"`
	OllamaModel   string `env:"OLLAMA_MODEL"`
	LocalWorkers  int    `env:"SUMMARY_LOCAL_WORKERS" envDefault:"3"`

	// Semantic index (optional)
	ChromaAPIKey   string `env:"CHROMA_API_KEY"`
	ChromaTenant   string `env:"CHROMA_TENANT"`
	ChromaDatabase string `env:"CHROMA_DATABASE"`

	// Notification fan-out (optional)
	GoogleProjectID     string `env:"GOOGLE_PROJECT_ID"`
	PubSubTopic         string `env:"PUBSUB_TOPIC" envDefault:"crm-new-email"`
	GoogleCredentials   string `env:"GOOGLE_CREDENTIALS"`
	FirebaseCredentials string `env:"FIREBASE_CREDENTIALS"`
	// Gmail users.watch push subscription; empty disables the listener
	GmailWatchSubscription string `env:"GMAIL_WATCH_SUBSCRIPTION"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// JobAPIEnabled reports whether the external summarization service is configured.
func (c *Config) JobAPIEnabled() bool {
	return c.JobAPIBaseURL != ""
}

// ChromaEnabled reports whether semantic indexing is configured.
func (c *Config) ChromaEnabled() bool {
	return c.ChromaAPIKey != ""
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	durations := map[string]time.Duration{
		"SYNC_TICK_INTERVAL":      c.SyncTickInterval,
		"SYNC_RESYNC_THRESHOLD":   c.SyncResyncThreshold,
		"SUMMARY_SUBMIT_INTERVAL": c.SummarySubmitInterval,
		"SUMMARY_CHECK_INTERVAL":  c.SummaryCheckInterval,
		"SUMMARY_POLL_INTERVAL":   c.SummaryPollInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.SummaryInitialDelay < 0 {
		return fmt.Errorf("SUMMARY_INITIAL_DELAY must not be negative, got %s", c.SummaryInitialDelay)
	}

	counts := map[string]int{
		"SYNC_MAX_RETRIES":            c.SyncMaxRetries,
		"SYNC_FETCH_LIMIT":            c.SyncFetchLimit,
		"SUMMARY_BATCH_SIZE":          c.SummaryBatchSize,
		"SUMMARY_MAX_POLL_ATTEMPTS":   c.SummaryMaxPollAttempts,
		"SUMMARY_MAX_SUBMIT_ATTEMPTS": c.SummaryMaxSubmitAttempts,
		"SUMMARY_LOCAL_WORKERS":       c.LocalWorkers,
	}
	for key, n := range counts {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, n)
		}
	}
	return nil
}
