package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"push-relay-backend/config"
	"push-relay-backend/internal/analytics"
	"push-relay-backend/internal/api"
	"push-relay-backend/internal/db"
	"push-relay-backend/internal/metrics"
	"push-relay-backend/internal/prefs"
	"push-relay-backend/internal/push"
	"push-relay-backend/internal/registry"
	"push-relay-backend/internal/scheduler"
	"push-relay-backend/internal/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "pushrelayd").Logger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	if level, parseErr := zerolog.ParseLevel(cfg.Log.Level); parseErr == nil && cfg.Log.Level != "" {
		logger = logger.Level(level)
	}
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatal().Msg("VAPID keys must be configured; generate them and add them to the config file")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	logger.Info().Msg("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	promRegistry := prometheus.NewRegistry()
	appMetrics := metrics.New(promRegistry)

	prefService := prefs.NewService(appStore, time.Duration(cfg.Push.PrefCacheTTLSeconds)*time.Second, logger)
	regService := registry.NewService(appStore, logger)
	dispatcher := push.NewDispatcher(appStore, prefService, &push.WebPushSender{}, webpushOptions, cfg.Push.SendTimeout, appMetrics, logger)
	recorder := analytics.NewRecorder(appStore, logger)

	sweepLock := scheduler.NoopLock()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock, lockErr := scheduler.NewRedisLock(redisClient, cfg.Redis.LockKey, time.Duration(cfg.Redis.LockTTLSeconds)*time.Second)
		if lockErr != nil {
			logger.Fatal().Err(lockErr).Msg("failed to configure sweep lock")
		}
		sweepLock = lock
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis sweep lock enabled")
	}

	sched := scheduler.New(appStore, dispatcher, sweepLock, cfg.Scheduler.SweepInterval, cfg.Scheduler.BatchSize, appMetrics, logger)
	go sched.Run(ctx)

	cleanup := scheduler.NewCleanup(appStore, cfg.Cleanup.Interval, time.Duration(cfg.Cleanup.MaxAgeDays)*24*time.Hour, logger)
	go cleanup.Run(ctx)

	handler := api.NewHandler(appStore, regService, prefService, dispatcher, sched, recorder, &webpushOptions, logger)
	router := api.NewRouter(handler, &cfg.Server, cfg.Auth.JWTSecret, promRegistry)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("server gracefully stopped")
}
