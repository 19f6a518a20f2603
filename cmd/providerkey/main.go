package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"gallery/internal/infra"
	"gallery/internal/infra/credentials"
)

// providerkey stores or shows a provider API token in the credential store.
func main() {
	var (
		provider = flag.String("provider", "", "provider name (replicate or openai)")
		token    = flag.String("token", "", "API token to store; omit to print the current one")
	)
	flag.Parse()

	if *provider != credentials.ProviderReplicate && *provider != credentials.ProviderOpenAI {
		fmt.Fprintln(os.Stderr, "providerkey: -provider must be replicate or openai")
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "providerkey: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("providerkey: db connection failed")
	}
	defer pool.Close()

	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if *token == "" {
		current, err := store.Token(ctx, *provider)
		if err != nil {
			logger.Fatal().Err(err).Msg("providerkey: lookup failed")
		}
		if current == "" {
			fmt.Printf("no token stored for %s\n", *provider)
			return
		}
		fmt.Printf("%s token: %s...%s\n", *provider, current[:min(4, len(current))], current[max(0, len(current)-4):])
		return
	}

	if err := store.SetToken(ctx, *provider, *token); err != nil {
		logger.Fatal().Err(err).Msg("providerkey: store failed")
	}
	fmt.Printf("stored token for %s\n", *provider)
}
