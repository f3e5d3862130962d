package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bowerhall/meshtale/internal/backup"
	"github.com/bowerhall/meshtale/internal/bot"
	"github.com/bowerhall/meshtale/internal/broadcast"
	"github.com/bowerhall/meshtale/internal/config"
	"github.com/bowerhall/meshtale/internal/engine"
	"github.com/bowerhall/meshtale/internal/gateway"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/maintenance"
	"github.com/bowerhall/meshtale/internal/metrics"
	"github.com/bowerhall/meshtale/internal/narrator"
	"github.com/bowerhall/meshtale/internal/session"
)

// version is stamped by the build.
var version = "dev"

const (
	readTimeout = 15 * time.Second
	// Message handling walks the narrator chain synchronously, so the
	// write window has to cover every backend attempt.
	writeTimeout    = 2 * time.Minute
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	store, err := session.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open session store", "error", err)
	}
	defer store.Close()

	dispatcher, err := narrator.New(cfg.NarratorConfigs(), cfg.Narrator.Timeout(), cfg.Narrator.OfflineFallback)
	if err != nil {
		logger.Fatal("failed to build narrator chain", "error", err)
	}

	eng := engine.New(store, dispatcher, engine.Options{
		LockWait:       cfg.Engine.LockWait(),
		MaxContext:     cfg.Engine.ContextMaxBeats,
		SharedChannels: cfg.Engine.SharedChannels,
		RateLimit:      cfg.Guard.RateLimit,
		RateWindow:     cfg.Guard.RateWindow(),
	})

	queue := broadcast.NewQueue(0)

	// minio backups (optional)
	var backupClient *backup.Client
	if cfg.Backup.Enabled {
		backupClient, err = backup.NewClient(backup.Config{
			Endpoint:  cfg.Backup.Endpoint,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
			UseSSL:    cfg.Backup.UseSSL,
			Bucket:    cfg.Backup.Bucket,
			Prefix:    cfg.Backup.Prefix,
			Keep:      cfg.Backup.Keep,
		}, store)
		if err != nil {
			logger.Error("failed to create backup client", "error", err)
			backupClient = nil
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := backupClient.Init(initCtx); err != nil {
				logger.Error("failed to init backup bucket", "error", err)
				backupClient = nil
			} else {
				logger.Info("backups enabled", "endpoint", cfg.Backup.Endpoint, "bucket", cfg.Backup.Bucket)
			}
			cancel()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bots []bot.Bot
	var enabledBots []string

	if cfg.Bots.Telegram.Enabled {
		b, err := bot.New(bot.Config{Provider: "telegram", Token: cfg.Bots.Telegram.Token}, eng)
		if err != nil {
			logger.Fatal("failed to create telegram bot", "error", err)
		}

		bots = append(bots, b)
		enabledBots = append(enabledBots, "telegram")

		go b.Start(ctx)
	}

	if cfg.Bots.Discord.Enabled {
		b, err := bot.New(bot.Config{Provider: "discord", Token: cfg.Bots.Discord.Token}, eng)
		if err != nil {
			logger.Fatal("failed to create discord bot", "error", err)
		}

		bots = append(bots, b)
		enabledBots = append(enabledBots, "discord")

		go b.Start(ctx)
	}

	backupSchedule := cfg.Maintenance.BackupSchedule
	if backupSchedule != "" && backupClient == nil {
		logger.Warn("backup schedule ignored, no backup client", "schedule", backupSchedule)
		backupSchedule = ""
	}

	notifiers := make([]maintenance.Notifier, 0, len(bots))
	for _, b := range bots {
		notifiers = append(notifiers, b)
	}

	runner := maintenance.New(store, maintenance.Options{
		SweepSchedule:  cfg.Maintenance.SweepSchedule,
		SessionTTL:     cfg.Engine.SessionTTL(),
		ResetSchedule:  cfg.Maintenance.ResetSchedule,
		ResetChannel:   cfg.Maintenance.ResetChannel,
		BackupSchedule: backupSchedule,
		Backup:         backupClient,
		Queue:          queue,
		Notifiers:      notifiers,
	})
	if err := runner.Start(); err != nil {
		logger.Fatal("failed to start maintenance", "error", err)
	}

	if counts, err := store.Counts(); err == nil {
		metrics.SetSessionCounts(counts, session.States())
	}

	if cfg.Announce.Message != "" {
		queue.Push(cfg.Announce.Message, cfg.Announce.ChannelIdx)
		metrics.BroadcastsQueued.Inc()
		logger.Info("startup announcement queued", "channel", cfg.Announce.ChannelIdx)
	}

	srv := gateway.New(eng, queue, gateway.Options{
		Version:        version,
		FrameLen:       cfg.Radio.MaxFrameLen,
		MetricsEnabled: cfg.Metrics.Enabled,
		Backup:         backupClient,
	})

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", "error", err)
		}
	}()

	providers := make([]string, 0, len(cfg.Narrator.Providers))
	for _, p := range cfg.Narrator.Providers {
		providers = append(providers, p.Provider)
	}

	logger.Info("meshtale started",
		"version", version,
		"addr", cfg.Server.Addr(),
		"narrators", providers,
		"offline_fallback", cfg.Narrator.OfflineFallback,
		"bots", enabledBots,
		"db", cfg.DBPath,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	select {
	case <-runner.Stop().Done():
	case <-time.After(shutdownTimeout):
		logger.Warn("maintenance jobs still running at shutdown")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("meshtale stopped")
}
