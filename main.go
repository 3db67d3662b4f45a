package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "crmsync-backend/cmd/api"
	authDelivery "crmsync-backend/internal/auth/delivery"
	authdomain "crmsync-backend/internal/auth/domain"
	authRepo "crmsync-backend/internal/auth/repository"
	authUsecase "crmsync-backend/internal/auth/usecase"
	crmdomain "crmsync-backend/internal/crm/domain"
	crmRepo "crmsync-backend/internal/crm/repository"
	crmUsecase "crmsync-backend/internal/crm/usecase"
	"crmsync-backend/internal/mailbox/connector"
	mailboxDelivery "crmsync-backend/internal/mailbox/delivery"
	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/queue"
	mailboxRepo "crmsync-backend/internal/mailbox/repository"
	mailboxUsecase "crmsync-backend/internal/mailbox/usecase"
	"crmsync-backend/internal/notification"
	summaryDelivery "crmsync-backend/internal/summary/delivery"
	summarydomain "crmsync-backend/internal/summary/domain"
	summaryRepo "crmsync-backend/internal/summary/repository"
	"crmsync-backend/internal/summary/scheduler"
	summaryUsecase "crmsync-backend/internal/summary/usecase"
	"crmsync-backend/pkg/ai"
	"crmsync-backend/pkg/chroma"
	"crmsync-backend/pkg/config"
	"crmsync-backend/pkg/database"
	"crmsync-backend/pkg/fcm"
	"crmsync-backend/pkg/gmail"
	"crmsync-backend/pkg/imap"
	"crmsync-backend/pkg/jobapi"
	"crmsync-backend/pkg/outlook"
	"crmsync-backend/pkg/sse"

	"github.com/lmittmann/tint"
	"golang.org/x/oauth2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(
		&mailboxdomain.EmailAccount{},
		&mailboxdomain.Email{},
		&mailboxdomain.IndexHistory{},
		&crmdomain.Contact{},
		&crmdomain.Deal{},
		&crmdomain.DealContact{},
		&summarydomain.ThreadSummary{},
		&authdomain.DeviceToken{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Repositories
	accountRepo := mailboxRepo.NewAccountRepository(db)
	emailRepo := mailboxRepo.NewEmailRepository(db)
	indexHistoryRepo := mailboxRepo.NewIndexHistoryRepository(db)
	deviceTokenRepo := authRepo.NewDeviceTokenRepository(db)
	summaryRepository := summaryRepo.NewSummaryRepository(db)

	// Mailbox connectors
	saveToken := func(ctx context.Context, account *mailboxdomain.EmailAccount, token *oauth2.Token) error {
		return accountRepo.UpdateTokens(ctx, account.ID, token)
	}
	registry := connector.NewRegistry()
	registry.Register(mailboxdomain.ProviderGmail, gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, saveToken))
	registry.Register(mailboxdomain.ProviderOutlook, outlook.NewService(cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenant, saveToken))
	registry.Register(mailboxdomain.ProviderIMAP, imap.NewService(cfg.EncryptionKey, cfg.IMAPDialTimeout))

	// Notification fan-out
	sseManager := sse.NewManager(logger)
	go sseManager.Run()
	defer sseManager.Close()

	var pusher notification.Pusher
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials, logger)
		if err != nil {
			logger.Warn("push notifications disabled", "error", err)
		} else {
			pusher = fcmClient
		}
	}

	var publisher notification.Publisher
	if cfg.GoogleProjectID != "" {
		pub, err := notification.NewPubSubPublisher(ctx, cfg.GoogleProjectID, topicID(cfg.PubSubTopic), cfg.GoogleCredentials)
		if err != nil {
			logger.Warn("pub/sub publishing disabled", "error", err)
		} else {
			publisher = pub
			defer pub.Close()
		}
	}
	notifier := notification.NewService(sseManager, pusher, deviceTokenRepo, publisher, logger)
	defer notifier.Wait()

	// Ingestion and send
	matcher := crmUsecase.NewMatcher(crmRepo.NewLookupRepository(db))
	ingestion := mailboxUsecase.NewIngestionService(accountRepo, emailRepo, registry, matcher, notifier, cfg.SyncFetchLimit, logger)
	if cfg.ChromaEnabled() {
		indexer, err := chroma.NewIndexer(ctx, chroma.Settings{
			APIKey:   cfg.ChromaAPIKey,
			Tenant:   cfg.ChromaTenant,
			Database: cfg.ChromaDatabase,
		}, indexHistoryRepo, logger)
		if err != nil {
			logger.Warn("semantic indexing disabled", "error", err)
		} else {
			ingestion.SetIndexer(indexer)
			defer indexer.Close()
		}
	}
	sender := mailboxUsecase.NewSendService(accountRepo, emailRepo, registry, matcher, logger)
	serverConfigs := mailboxUsecase.NewServerConfigService(accountRepo, cfg.EncryptionKey, logger)

	syncQueue := queue.NewService(ingestion, sender, accountRepo, queue.Config{
		TickInterval:    cfg.SyncTickInterval,
		ResyncThreshold: cfg.SyncResyncThreshold,
		MaxRetries:      cfg.SyncMaxRetries,
	}, logger)
	syncQueue.Start(ctx)
	defer syncQueue.Stop()

	if cfg.GoogleProjectID != "" && cfg.GmailWatchSubscription != "" {
		watcher, err := notification.NewGmailWatcher(ctx, cfg.GoogleProjectID, cfg.GmailWatchSubscription, cfg.GoogleCredentials, accountRepo, syncQueue, logger)
		if err != nil {
			logger.Warn("gmail push listener disabled", "error", err)
		} else {
			defer watcher.Close()
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("gmail push listener stopped", "error", err)
				}
			}()
		}
	}

	// Summarization
	backend, stopBackend, err := newSummaryBackend(ctx, cfg, summaryRepository, emailRepo, notifier, logger)
	if err != nil {
		return err
	}
	defer stopBackend()

	summaryScheduler := scheduler.NewScheduler(backend, scheduler.Config{
		SubmitInterval: cfg.SummarySubmitInterval,
		CheckInterval:  cfg.SummaryCheckInterval,
		InitialDelay:   cfg.SummaryInitialDelay,
	}, logger)
	summaryScheduler.Start(ctx)
	defer summaryScheduler.Stop()

	// HTTP
	tokens := authUsecase.NewTokenUsecase(cfg.JWTSecret)
	srv := api.NewServer(":"+cfg.Port, api.Handlers{
		Tokens:   tokens,
		Events:   sseManager,
		Accounts: mailboxDelivery.NewAccountHandler(accountRepo, syncQueue, sender, serverConfigs),
		Summary:  summaryDelivery.NewSummaryHandler(summaryScheduler, summaryRepository),
		Devices:  authDelivery.NewDeviceHandler(deviceTokenRepo),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	summaryScheduler.Stop()
	stopBackend()
	syncQueue.Stop()
	// Open SSE streams would otherwise hold Shutdown until its deadline.
	sseManager.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSummaryBackend returns the job API broker when configured, otherwise the
// in-process summarizer.
func newSummaryBackend(
	ctx context.Context,
	cfg *config.Config,
	jobs summaryRepo.SummaryRepository,
	threads summaryUsecase.ThreadSource,
	notifier summaryUsecase.SummaryNotifier,
	logger *slog.Logger,
) (summaryUsecase.Backend, func(), error) {
	if cfg.JobAPIEnabled() {
		broker := summaryUsecase.NewBroker(jobs, threads, jobapi.NewClient(cfg.JobAPIBaseURL, cfg.JobAPIKey), summaryUsecase.BrokerConfig{
			PollInterval:      cfg.SummaryPollInterval,
			MaxPollAttempts:   cfg.SummaryMaxPollAttempts,
			BatchSize:         cfg.SummaryBatchSize,
			MaxSubmitAttempts: cfg.SummaryMaxSubmitAttempts,
		}, logger)
		broker.SetNotifier(notifier)
		logger.Info("summarization backend", "backend", "job_api", "base_url", cfg.JobAPIBaseURL)
		return broker, func() {}, nil
	}

	summarizer, err := ai.NewSummarizer(ctx, ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize local summarizer: %w", err)
	}
	local := summaryUsecase.NewLocalSummarizer(jobs, threads, summarizer, summaryUsecase.LocalConfig{
		Workers:           cfg.LocalWorkers,
		BatchSize:         cfg.SummaryBatchSize,
		MaxSubmitAttempts: cfg.SummaryMaxSubmitAttempts,
	}, logger)
	local.SetNotifier(notifier)
	local.Start(ctx)
	logger.Info("summarization backend", "backend", "local", "provider", cfg.AIProvider)
	return local, local.Stop, nil
}

// topicID accepts either a short topic name or projects/<p>/topics/<name>.
func topicID(name string) string {
	if parts := strings.Split(name, "/"); len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return name
}
