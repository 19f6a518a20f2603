package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"gallery/internal/adapter/repo"
	"gallery/internal/billing"
	"gallery/internal/credits"
	"gallery/internal/http/handlers"
	"gallery/internal/http/httpapi"
	"gallery/internal/infra"
	"gallery/internal/infra/credentials"
	"gallery/internal/pipeline"
	"gallery/internal/providers/image"
	"gallery/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}
	artifacts := storage.NewArtifactStore(fileStore)

	creds := credentials.NewStore(runner)
	registry := buildRegistry(ctx, cfg, creds, logger)
	if len(registry.Keys()) == 0 {
		logger.Fatal().Msg("api: no image providers configured")
	}

	renders := repo.NewRenderRepository(pool)
	users := repo.NewUserRepository(pool)
	events := repo.NewWebhookEventRepository(pool)

	balanceClient := credits.NewStripeBalanceClient(cfg.StripeSecretKey, users, logger)
	ledger := credits.NewLedger(credits.Options{
		Client:       balanceClient,
		Logger:       logger,
		StalenessTTL: cfg.BalanceStalenessTTL,
		SyncTimeout:  cfg.BalanceSyncTimeout,
	})
	go ledger.Run(ctx)

	processor := pipeline.NewRenderProcessor(registry, artifacts, renders, cfg.ProviderTimeout, logger)
	scheduler := pipeline.NewScheduler(pipeline.SchedulerOptions{
		Workers:       cfg.WorkerCount,
		QueueCapacity: cfg.QueueCapacity,
		PerUserCap:    cfg.PerUserCap,
		Policy: pipeline.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Processor: processor,
		Ledger:    ledger,
		Renders:   renders,
		Logger:    logger,
	})
	scheduler.Start(ctx)

	reconciler := billing.NewReconciler(cfg.StripeWebhookSecret, events, ledger, logger)
	checkout := billing.NewCheckoutClient(cfg.StripeSecretKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, logger)

	app := &handlers.App{
		SQL:        runner,
		Logger:     logger,
		Config:     cfg,
		Scheduler:  scheduler,
		Registry:   registry,
		Ledger:     ledger,
		Reconciler: reconciler,
		Checkout:   checkout,
		Renders:    renders,
		Users:      users,
		Artifacts:  artifacts,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	scheduler.Wait()
	logger.Info().Msg("api: stopped")
}

// buildRegistry registers every provider with a usable credential.
// Environment variables win; the database credential store is the fallback.
func buildRegistry(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger infra.Logger) *image.Registry {
	registry := image.NewRegistry()

	replicateToken := cfg.ReplicateAPIToken
	if replicateToken == "" {
		if tok, err := creds.Token(ctx, credentials.ProviderReplicate); err == nil {
			replicateToken = tok
		}
	}
	if replicateToken != "" {
		registry.Register("replicate:sdxl", image.NewReplicateGenerator(image.ReplicateOptions{
			APIToken: replicateToken,
			BaseURL:  cfg.ReplicateBaseURL,
			Timeout:  cfg.ProviderTimeout,
			Logger:   &logger,
		}))
	}

	openaiKey := cfg.OpenAIAPIKey
	if openaiKey == "" {
		if tok, err := creds.Token(ctx, credentials.ProviderOpenAI); err == nil {
			openaiKey = tok
		}
	}
	if openaiKey != "" {
		registry.Register("openai:dall-e-3", image.NewOpenAIGenerator(image.OpenAIOptions{
			APIKey:  openaiKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIImageModel,
			Timeout: cfg.ProviderTimeout,
		}))
	}

	logger.Info().Strs("models", registry.Keys()).Msg("api: providers registered")
	return registry
}
