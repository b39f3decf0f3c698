package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/gitscribe/gitscribe/engine"
	"github.com/gitscribe/gitscribe/httpapi"
	"github.com/gitscribe/gitscribe/internal/activity"
	"github.com/gitscribe/gitscribe/internal/augment"
	"github.com/gitscribe/gitscribe/internal/config"
	"github.com/gitscribe/gitscribe/internal/credstore"
	"github.com/gitscribe/gitscribe/internal/enrich"
	"github.com/gitscribe/gitscribe/internal/llm"
	"github.com/gitscribe/gitscribe/internal/notify"
	"github.com/gitscribe/gitscribe/internal/prompt"
	"github.com/gitscribe/gitscribe/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GitScribe server",
	Long:  "Start the GitScribe API server that generates and serves posts.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	gh, err := activity.NewGitHubClient(cfg.GitHubToken, cfg.GitHubBaseURL)
	if err != nil {
		return fmt.Errorf("creating github client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.GitHubRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GitHubRatePerSecond), int(cfg.GitHubRatePerSecond)+1)
	}
	fetcher := activity.New(gh, limiter)
	enricher := enrich.New(gh, limiter)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	var augmenter engine.Augmenter
	if cfg.AugmentationEnabled() {
		embedder, err := augment.NewEmbedder(cfg.VoyageAPIKey, cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		index, err := augment.NewIndex(store.DB())
		if err != nil {
			return fmt.Errorf("creating snippet index: %w", err)
		}
		augmenter = augment.New(index, embedder, 3)
		fmt.Println("Retrieval augmentation enabled")
	}

	generator, err := llm.New(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey, cfg.GenerationModel)
	if err != nil {
		return err
	}

	var notifiers notify.Multi
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel))
		fmt.Println("Slack notifications enabled")
	}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			fmt.Printf("Warning: failed to initialize Telegram notifier: %v\n", err)
		} else {
			notifiers = append(notifiers, tg)
			fmt.Println("Telegram notifications enabled")
		}
	}
	var notifier engine.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	eng := engine.New(engine.Config{}, fetcher, enricher, augmenter, prompt.New(), generator, store, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds := credstore.New(cfg.SweepInterval)
	creds.Start(ctx)
	defer creds.Stop()

	handler := httpapi.New(eng, creds, fetcher, httpapi.AuthConfig{
		Subject:  cfg.SessionSubject,
		Password: cfg.SessionPassword,
		TTL:      cfg.CredentialTTL,
	})

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handler.Router(),
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		cancel()
	}()

	fmt.Printf("GitScribe listening on %s\n", cfg.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
