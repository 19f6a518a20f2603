package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gallery/internal/adapter/repo"
	"gallery/internal/domain"
	"gallery/internal/infra"
	"gallery/internal/infra/credentials"
	"gallery/internal/pipeline"
	"gallery/internal/providers/image"
	"gallery/internal/storage"
)

const pollInterval = 2 * time.Second

// noopLedger satisfies the scheduler's ledger dependency. Seeded renders
// cost zero credits, so no debit ever fires.
type noopLedger struct{}

func (noopLedger) CheckAndDebit(ctx context.Context, userID string, amount int64) error { return nil }
func (noopLedger) Refund(ctx context.Context, userID string, amount int64)              {}

func main() {
	var (
		stylesFlag = flag.String("styles", "watercolor,oil painting,pixel art,cyberpunk", "comma-separated style phrases")
		promptFlag = flag.String("prompt", "a serene mountain lake at dawn", "base prompt for every seeded render")
	)
	flag.Parse()

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
		logger.Fatal().Err(err).Msg("seed: db connection failed")
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
		logger.Fatal().Err(err).Msg("seed: failed to configure storage")
	}
	artifacts := storage.NewArtifactStore(fileStore)

	creds := credentials.NewStore(runner)
	registry := image.NewRegistry()
	replicateToken := cfg.ReplicateAPIToken
	if replicateToken == "" {
		if tok, terr := creds.Token(ctx, credentials.ProviderReplicate); terr == nil {
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
		if tok, terr := creds.Token(ctx, credentials.ProviderOpenAI); terr == nil {
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
	models := registry.Keys()
	if len(models) == 0 {
		logger.Fatal().Msg("seed: no image providers configured")
	}

	renders := repo.NewRenderRepository(pool)
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
		Ledger:    noopLedger{},
		Renders:   renders,
		Logger:    logger,
	})
	scheduler.Start(ctx)

	var styles []string
	for _, s := range strings.Split(*stylesFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			styles = append(styles, s)
		}
	}

	submitted := 0
	for _, style := range styles {
		for _, model := range models {
			render := domain.NewRender("", style, *promptFlag, model, "", 0)
			if err := scheduler.Submit(ctx, render); err != nil {
				logger.Error().Err(err).Str("style", style).Str("model", model).Msg("seed: submit failed")
				continue
			}
			submitted++
		}
	}
	logger.Info().Int("submitted", submitted).Msg("seed: matrix queued")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for scheduler.Outstanding() > 0 {
		select {
		case <-ctx.Done():
			logger.Warn().Int("outstanding", scheduler.Outstanding()).Msg("seed: interrupted")
			return
		case <-ticker.C:
		}
	}
	logger.Info().Msg("seed: complete")
}
