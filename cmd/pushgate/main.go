package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pushgate-labs/pushgate/internal/config"
	"github.com/pushgate-labs/pushgate/internal/gateway"
	"github.com/pushgate-labs/pushgate/internal/gateway/push"
	"github.com/pushgate-labs/pushgate/internal/server"
	"github.com/pushgate-labs/pushgate/internal/service"
	"github.com/pushgate-labs/pushgate/internal/storage/bolt"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	// credentials absence degrades to queue-but-never-send
	var gw gateway.Client
	if cfg.GatewayConfigured() {
		client, err := push.New(cfg.Gateway.BaseURL, cfg.Gateway.CredentialsPath, cfg.Gateway.RequestTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("init gateway client")
		}
		gw = client
	} else {
		log.Warn().Msg("no gateway credentials, notifications will queue unsent")
	}

	store, err := bolt.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	authSvc := service.NewAuthService(cfg)
	topicSvc := service.NewTopicService(store, gw)
	deviceSvc := service.NewDeviceService(store, topicSvc)
	prefSvc := service.NewPreferenceService(store)
	notifSvc := service.NewNotificationService(store)
	inboxSvc := service.NewInboxService(store)
	reportSvc := service.NewReportService(store, gw != nil)
	dispatcher := service.NewDispatcher(store, prefSvc, gw, service.DispatcherOptions{
		Workers:        cfg.Dispatch.Workers,
		TargetTimeout:  cfg.Dispatch.TargetTimeout,
		MulticastLimit: cfg.Gateway.MulticastLimit,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Dispatch.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.BatchTimeout)
		defer cancel()
		result, err := dispatcher.ProcessPending(ctx, cfg.Dispatch.BatchSize)
		if err != nil {
			log.Error().Err(err).Msg("dispatch run failed")
			return
		}
		if result.Processed > 0 {
			log.Info().
				Int("processed", result.Processed).
				Int("sent", result.Sent).
				Int("failed", result.Failed).
				Msg("dispatch run complete")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule dispatch job")
	}
	if _, err := scheduler.AddFunc(cfg.Retention.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().UTC().Add(-cfg.Retention.Window)
		purged, err := store.PurgeNotifications(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("notification purge failed")
		} else if purged > 0 {
			log.Info().Int("purged", purged).Msg("purged old notifications")
		}
		stale, err := store.PurgeExpiredDevices(ctx, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("device purge failed")
		} else if stale > 0 {
			log.Info().Int("purged", stale).Msg("purged expired devices")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule retention job")
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cfg, deviceSvc, prefSvc, notifSvc, inboxSvc, reportSvc, authSvc, dispatcher, gw)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
