package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halpline/halpline/internal/api"
	"github.com/halpline/halpline/internal/calllog"
	"github.com/halpline/halpline/internal/conference"
	"github.com/halpline/halpline/internal/config"
	"github.com/halpline/halpline/internal/kv"
	"github.com/halpline/halpline/internal/media"
	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
	"github.com/halpline/halpline/internal/script"
	"github.com/halpline/halpline/internal/story"
	"github.com/halpline/halpline/internal/tasks"
	"github.com/halpline/halpline/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting halpline",
		"http_port", cfg.HTTPPort,
		"redis_addr", cfg.RedisAddr,
		"base_url", cfg.BaseURL,
	)

	creds, err := config.LoadCreds(cfg.CredsPath)
	if err != nil {
		slog.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	library, err := phone.LoadLibrary(cfg.NumbersPath)
	if err != nil {
		slog.Error("failed to load numbers manifest", "error", err)
		os.Exit(1)
	}
	slog.Info("numbers manifest loaded", "count", library.Len())

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	store, err := kv.NewRedisStore(appCtx, cfg.RedisAddr)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Open the call log database and run migrations.
	log, err := calllog.Open(cfg.DataDir, logger)
	if err != nil {
		slog.Error("failed to open call log", "error", err)
		os.Exit(1)
	}
	defer log.Close()

	gateway := voice.NewTwilioGateway(creds.Twilio.SID, creds.Twilio.Token, logger)
	catalog := media.NewCMSCatalog(creds.MediaCMS.BaseURL, creds.MediaCMS.User, creds.MediaCMS.Secret)

	reporter := voice.NewErrorReporter(gateway, library, creds.ErrorReports.NumbersToText, logger)
	runner := tasks.NewRunner(logger, reporter)
	go runner.Run(appCtx)

	conferences := conference.NewRegistry(store, gateway, catalog, cfg.WebhookURL, story.HoldMusicAssetID(), logger)
	if err := conferences.Load(appCtx); err != nil {
		slog.Error("failed to restore conferences", "error", err)
		os.Exit(1)
	}

	players := player.NewStore(store, logger)
	manager := script.NewManager(store, story.ScriptName, story.StateShape, logger)

	narrative, err := story.New(story.Deps{
		Manager:     manager,
		Players:     players,
		Library:     library,
		Catalog:     catalog,
		Gateway:     gateway,
		Queue:       runner,
		Conferences: conferences,
		WebhookURL:  cfg.WebhookURL,
		Timings:     story.DefaultTimings(),
		Reporter:    reporter,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("failed to build narrative", "error", err)
		os.Exit(1)
	}

	if err := catalog.Warm(appCtx, narrative.AssetIDs()...); err != nil {
		slog.Error("failed to warm media catalog", "error", err)
		os.Exit(1)
	}

	scripts := script.NewRegistry(logger, narrative.Script())
	if err := scripts.Load(appCtx); err != nil {
		slog.Error("failed to load scripts", "error", err)
		os.Exit(1)
	}

	// Repair shared state left over from the previous process before the
	// webhooks start mutating it.
	if err := runner.Submit(appCtx, narrative.Reconciliation()); err != nil {
		slog.Error("failed to submit reconciliation", "error", err)
		os.Exit(1)
	}

	handler := api.NewServer(cfg, scripts, manager, players, conferences, narrative, log, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	// Stop dispatching and let in-flight tasks drain.
	appCancel()
	runner.Wait()

	slog.Info("halpline stopped")
}
