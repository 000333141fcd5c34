// Package main is the operator CLI for the notification dead-letter queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/owasp/nest-notifications/internal/config"
	"github.com/owasp/nest-notifications/internal/dlq"
	"github.com/owasp/nest-notifications/internal/logging"
	"github.com/owasp/nest-notifications/internal/notification"
	"github.com/owasp/nest-notifications/internal/stream"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: owasp_notification_dlq <list|retry|remove> [--id <stream-id> | --all]")
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	id := fs.String("id", "", "stream ID of a single DLQ entry")
	all := fs.Bool("all", false, "apply to every DLQ entry")
	if err := fs.Parse(os.Args[2:]); err != nil {
		usage()
	}

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

	mailer := notification.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	admin := dlq.NewAdmin(streams, mailer, logger, os.Stdout)

	ctx := context.Background()

	switch command {
	case "list":
		err = admin.List(ctx)
	case "retry":
		switch {
		case *all && *id == "":
			err = admin.RetryAll(ctx)
		case *id != "" && !*all:
			err = admin.Retry(ctx, *id)
		default:
			usage()
		}
	case "remove":
		switch {
		case *all && *id == "":
			err = admin.RemoveAll(ctx)
		case *id != "" && !*all:
			err = admin.Remove(ctx, *id)
		default:
			usage()
		}
	default:
		usage()
	}

	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}
