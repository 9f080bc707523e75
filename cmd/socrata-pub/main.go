package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"atd/signal-comms/internal/config"
	"atd/signal-comms/internal/domain"
	"atd/signal-comms/internal/lib/logger"
	"atd/signal-comms/internal/lib/logger/sl"
	"atd/signal-comms/internal/repository/s3"
	"atd/signal-comms/internal/service"
	"atd/signal-comms/internal/socrata"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	flags := pflag.NewFlagSet("socrata-pub", pflag.ContinueOnError)
	flags.String("config", "", "path to a YAML config file")
	flags.StringP("env", "e", "", "environment: local, dev or prod")
	date := flags.StringP("date", "d", "", "UTC day to publish as YYYY-MM-DD (default today)")
	verbose := flags.BoolP("verbose", "v", false, "log at debug level")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: socrata-pub [flags] <device_type>\n\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	if flags.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "expected one device type, one of: %s\n", strings.Join(cfg.SupportedDeviceTypes(), ", "))
		flags.Usage()
		return 2
	}
	cfg.DeviceType = flags.Arg(0)
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid config: %v", err)
		return 2
	}

	day, err := parseDay(*date, time.Now())
	if err != nil {
		log.Printf("Invalid date: %v", err)
		return 2
	}

	log := logger.Setup(os.Stdout, cfg.Env, *verbose)

	secrets, err := config.LoadSecrets()
	if err != nil {
		log.Error("failed to load secrets", sl.Err(err))
		return 1
	}
	if err := secrets.CheckForPublish(); err != nil {
		log.Error("missing secrets", sl.Err(err))
		return 1
	}

	env := cfg.DataEnv()
	resourceID, ok := cfg.Socrata.ResourceIDs[env]
	if !ok {
		log.Error("no portal resource configured", "env", env)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := s3.NewClient(ctx, s3.ClientOptions{
		Region:          cfg.Sinks.S3.Region,
		Endpoint:        cfg.Sinks.S3.Endpoint,
		UsePathStyle:    cfg.Sinks.S3.UsePathStyle,
		AccessKeyID:     secrets.AWSAccessKeyID,
		SecretAccessKey: secrets.AWSSecretAccessKey,
	})
	if err != nil {
		log.Error("failed to initialize s3 client", sl.Err(err))
		return 1
	}

	portal, err := socrata.NewClient(cfg.Socrata.Domain, secrets.SocrataToken, secrets.SocrataUser, secrets.SocrataPassword, cfg.Socrata.Timeout)
	if err != nil {
		log.Error("failed to initialize portal client", sl.Err(err))
		return 1
	}

	publisher := service.NewPublisher(s3.NewResultRepository(client, secrets.Bucket, log), portal, log)

	log.Info("publishing comm status",
		"device_type", cfg.DeviceType,
		"env", env,
		"day", day.Format(time.DateOnly),
		"resource", resourceID,
	)

	report, err := publisher.PublishDay(ctx, env, domain.DeviceType(cfg.DeviceType), day, resourceID)
	if err != nil {
		log.Error("publish failed", sl.Err(err))
		return 1
	}

	log.Info("publish complete",
		"objects", report.Objects,
		"rows", report.Rows,
		"created", report.Result.Created,
		"updated", report.Result.Updated,
		"errors", report.Result.Errors,
	)
	return 0
}

// parseDay reads a YYYY-MM-DD date as a UTC day; empty means the UTC day of now.
func parseDay(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse %q as YYYY-MM-DD", raw)
	}
	return day, nil
}
