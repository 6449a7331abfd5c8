package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telecrm/backend/internal/auth"
	"github.com/telecrm/backend/internal/config"
	"github.com/telecrm/backend/internal/db"
	"github.com/telecrm/backend/internal/events"
	httpapi "github.com/telecrm/backend/internal/http"
	"github.com/telecrm/backend/internal/service"
)

// @title Telecaller CRM Backend
// @version 1.0
// @description Lead management and telecaller assignment API
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "telecrm-backend").Logger()
	if cfg.JWTSecret == "change-me" && cfg.Env != "dev" {
		logger.Warn().Msg("JWT_SECRET is the default value")
	}

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	var revoker auth.Revoker
	if cfg.RedisURL == "" {
		revoker = auth.NewMemoryRevoker()
		logger.Info().Msg("using in-memory session revocation")
	} else {
		client, err := auth.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer client.Close()
		revoker = auth.NewRedisRevoker(client)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		rmq, err := events.NewRabbitMQ(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		publisher = rmq
	} else {
		logger.Info().Msg("assignment events disabled")
	}
	defer publisher.Close()

	engine := service.NewEngine(store, store, publisher, logger, cfg.StoreTimeout)
	authSvc := auth.NewService(store, auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL), revoker, cfg.AllowRegistration, logger)

	router := httpapi.Router(cfg, store, engine, authSvc, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
