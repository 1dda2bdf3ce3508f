package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lmatoussi/ey-expense-manager/internal/config"
	"github.com/lmatoussi/ey-expense-manager/internal/handler"
	"github.com/lmatoussi/ey-expense-manager/internal/identity"
	"github.com/lmatoussi/ey-expense-manager/internal/mailer"
	"github.com/lmatoussi/ey-expense-manager/internal/repository"
	"github.com/lmatoussi/ey-expense-manager/internal/service"
	"github.com/lmatoussi/ey-expense-manager/internal/storage"
	jwtpkg "github.com/lmatoussi/ey-expense-manager/pkg/jwt"
	"github.com/lmatoussi/ey-expense-manager/pkg/password"
)

const sessionTokenTTL = 7 * 24 * time.Hour

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("service", "expense-manager").
		Logger()

	ctx := context.Background()

	if err := repository.RunMigrations(ctx, cfg.DatabaseDSN); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	repo := repository.NewPostgresRepository(dbPool)
	hasher := password.NewHasher(nil)
	sessions := jwtpkg.NewManager(cfg.JWTSecret, sessionTokenTTL)

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	} else {
		log.Warn().Msg("SMTP_HOST not set, emails will only be logged")
		mail = mailer.NewLogMailer(log)
	}

	images, err := storage.NewS3Store(ctx, storage.S3Config{
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		BaseEndpoint: cfg.S3Endpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize image store")
	}

	validator := identity.NewGoogleValidator(cfg.GoogleClientID, "")

	accounts := service.NewAccountService(repo, hasher, mail, images, cfg.BaseURL, log)
	verify := service.NewVerificationService(repo, hasher, mail, cfg.BaseURL, log)
	auth := service.NewAuthService(repo, hasher, sessions, validator, log)

	h := handler.New(accounts, verify, auth, sessions, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
