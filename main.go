// Command ebay-scanner polls configured eBay stores and saved searches,
// detects newly listed items against a persisted dedup cache, and pushes
// one webhook message per new item.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"ebay-scanner/config"
	"ebay-scanner/poll"
	"ebay-scanner/seen"
	"ebay-scanner/source"
	"ebay-scanner/stats"
	"ebay-scanner/storage"
	"ebay-scanner/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings()
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(settings.LogLevel),
	}))
	slog.SetDefault(logger)

	localStorage := settings.LocalStorage
	bucket := settings.StorageBucket

	// Default to local development mode if no bucket specified
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local storage", "storage_path", localStorage)
	}

	var gcsClient *gcs.Client
	if localStorage != "" {
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		var opts []option.ClientOption
		if creds := os.Getenv("GOOGLE_CREDENTIALS_JSON"); creds != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		}
		gcsClient, err = gcs.NewClient(ctx, opts...)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	store := storage.New(gcsClient, bucket, localStorage, logger)

	// The configuration document is the one thing we refuse to start
	// without.
	doc, err := config.Load(ctx, store)
	if err != nil {
		logger.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	targets := doc.EnabledTargets()
	if len(targets) == 0 {
		logger.Error("Configuration has no enabled stores or searches")
		os.Exit(1)
	}

	seenStore, err := buildSeenStore(ctx, settings, store, logger)
	if err != nil {
		logger.Error("Failed to open seen-item store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := seenStore.Close(); err != nil {
			logger.Warn("Failed to close seen-item store", "error", err)
		}
	}()

	recorder := stats.New(ctx, store, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var src poll.Source
	if settings.Source == "api" {
		if settings.EbayClientID == "" || settings.EbayClientSecret == "" {
			logger.Error("SOURCE=api requires EBAY_CLIENT_ID and EBAY_CLIENT_SECRET")
			os.Exit(1)
		}
		src = source.NewAPIClient(httpClient, settings.EbayClientID, settings.EbayClientSecret, logger)
	} else {
		src = source.NewScraper(httpClient, logger)
	}

	var provider webhook.Provider
	if settings.MockWebhook {
		logger.Info("Mock webhook mode enabled")
		provider = webhook.NewMockProvider(logger)
	} else {
		provider = webhook.NewDiscordProvider(httpClient, logger)
	}
	sender := webhook.New(provider, settings.NotifyPacing, logger)

	runner := poll.NewRunner(src, seenStore, sender, recorder, doc, logger)
	scheduler := poll.NewScheduler(runner, settings.AlertAfterFailures, logger)

	logger.Info("Scanner starting",
		"targets", len(targets),
		"source", settings.Source,
		"seen_backend", settings.SeenBackend)
	scheduler.Start(ctx, targets)

	if settings.MaxCacheAgeHours > 0 {
		go evictionLoop(ctx, seenStore, time.Duration(settings.MaxCacheAgeHours)*time.Hour, logger)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for in-flight scans")
	scheduler.Wait()
	logger.Info("Scanner stopped")
}

// buildSeenStore picks the dedup cache backend from settings.
func buildSeenStore(ctx context.Context, settings *config.Settings, store *storage.Store, logger *slog.Logger) (seen.Store, error) {
	if settings.SeenBackend == "sqlite" {
		return seen.NewSQLiteStore(settings.SeenDBPath, logger)
	}
	return seen.NewCache(ctx, store, logger), nil
}

// evictionLoop ages out old identifiers once a day for the life of the
// process.
func evictionLoop(ctx context.Context, store seen.Store, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.EvictOlderThan(ctx, maxAge); err != nil {
				logger.Warn("Cache eviction pass failed", "error", err)
			}
		}
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
