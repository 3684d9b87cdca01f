package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/engine"
	"github.com/brandon/mailsync/internal/imapx"
	"github.com/brandon/mailsync/internal/notify"
	"github.com/brandon/mailsync/internal/realtime"
	"github.com/brandon/mailsync/internal/store"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsyncd version %s\n", version)
		os.Exit(0)
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mail sync daemon")

	// Open the durable store
	st, err := store.NewStore(cfg.DBPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	// Seed env-configured accounts into the store
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for i := range cfg.Accounts {
		if _, err := st.UpsertAccount(ctx, &cfg.Accounts[i]); err != nil {
			logger.WithError(err).WithField("account", cfg.Accounts[i].Name).Warn("Failed to seed account")
		}
	}

	// Wire the engine
	classifier := engine.NewClassifier(
		cfg.AuthPatterns, cfg.ThrottlePatterns, cfg.NotFoundPatterns, cfg.TransientPatterns)

	dialer := imapx.NewIMAPDialer(logger)
	pool := imapx.NewPool(dialer, logger)
	defer pool.Close()
	manager := imapx.NewManager(pool, dialer, logger)

	executor := engine.NewExecutor(engine.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
	}, classifier, manager, logger)

	var notifier engine.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	folders := engine.NewFolderSyncer(
		st, executor, classifier, notifier, logger,
		cfg.BatchSize, cfg.BatchDelay, cfg.ThrottlePause)

	orchestrator := engine.NewOrchestrator(
		st, manager, folders, classifier, realtime.NewRegistry(), logger, cfg.DefaultFolder)

	driver := engine.NewDriver(orchestrator, cfg.SyncInterval, logger)
	driver.Start()

	<-ctx.Done()

	logger.Info("Shutting down mail sync daemon")
	stopped := make(chan struct{})
	go func() {
		driver.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		logger.Warn("Timed out waiting for in-flight cycle")
	}
}
