// Package main is the daily deadline-reminder scan, run by the scheduler.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/owasp/nest-notifications/internal/config"
	"github.com/owasp/nest-notifications/internal/deadline"
	"github.com/owasp/nest-notifications/internal/events"
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

	store := notification.NewPGEntityStore(db)
	publisher := events.NewPublisher(streams, logger)
	scanner := deadline.NewScanner(store, publisher, logger, os.Stdout)

	queued, err := scanner.Run(context.Background(), time.Now())
	if err != nil {
		log.Fatalf("Deadline scan failed: %v", err)
	}

	fmt.Printf("Queued %d deadline reminders\n", queued)
}
