package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/config"
	"zapdesk/internal/automation"
	"zapdesk/internal/db"
	"zapdesk/internal/dispatch"
	"zapdesk/internal/fanout"
	"zapdesk/internal/gateway"
	"zapdesk/internal/media"
	"zapdesk/internal/server"
	"zapdesk/internal/storage"
	"zapdesk/pkg/logger"
)

func main() {
	logger.InitLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	store, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.HTTPTimeout)

	blobs, err := storage.NewS3Store(storage.Config{
		Enabled:   cfg.S3Enabled,
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PathStyle: cfg.S3PathStyle,
		PublicURL: cfg.S3PublicURL,
		Folder:    cfg.S3Folder,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize media storage")
	}

	var materializer dispatch.Materializer
	if blobs != nil {
		materializer = media.New(gw, blobs)
	} else {
		log.Info().Msg("Media storage disabled, messages will be persisted without attachments")
	}

	mirror, err := automation.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer mirror.Close()

	forwarder := automation.NewForwarder(cfg.AutomationWebhookURL, cfg.HTTPTimeout, store, mirror)
	flood := dispatch.NewFloodAggregator(cfg.FloodWindow, forwarder.ForwardBatch)
	debounce := dispatch.NewDebounce(cfg.DebounceWindow)
	broadcaster := fanout.NewBroadcaster()

	reconciler := dispatch.NewReconciler(store, gw, materializer, debounce)
	dispatchHandler := dispatch.NewHandler(store, reconciler, flood, forwarder, broadcaster, cfg.GatewayWebhookSecret)
	sseHandler := fanout.NewSSEHandler(broadcaster, store, cfg.HeartbeatInterval)

	srv := server.New(cfg.Port, store, gw, broadcaster, dispatchHandler, sseHandler)

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	flood.FlushAll()
}
