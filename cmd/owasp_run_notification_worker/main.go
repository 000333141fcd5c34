// Package main is the entry point for the notification worker.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/owasp/nest-notifications/internal/config"
	"github.com/owasp/nest-notifications/internal/consumer"
	"github.com/owasp/nest-notifications/internal/logging"
	"github.com/owasp/nest-notifications/internal/notification"
	"github.com/owasp/nest-notifications/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})

	streams, err := stream.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer streams.Close()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	store := notification.NewPGEntityStore(db)
	directory := notification.NewPGDirectory(db)
	ledger := notification.NewPGLedger(db)
	mailer := notification.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)

	deliverer := notification.NewDeliverer(mailer, ledger, logger)
	router := notification.NewRouter(store, directory, deliverer, streams, cfg.SiteURL, logger)
	worker := consumer.New(streams, router, logger, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker stopped: %v", err)
	}

	logger.Info("Notification worker stopped")
}
