package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	apihttp "atd/signal-comms/internal/api/http"
	"atd/signal-comms/internal/checks"
	"atd/signal-comms/internal/config"
	"atd/signal-comms/internal/domain"
	"atd/signal-comms/internal/lib/logger"
	"atd/signal-comms/internal/lib/logger/sl"
	"atd/signal-comms/internal/repository"
	"atd/signal-comms/internal/repository/file"
	"atd/signal-comms/internal/repository/kafka"
	"atd/signal-comms/internal/repository/postgrest"
	"atd/signal-comms/internal/repository/s3"
	"atd/signal-comms/internal/repository/sqlite"
	"atd/signal-comms/internal/service"
	"atd/signal-comms/internal/validate"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	flags := pflag.NewFlagSet("commcheck", pflag.ContinueOnError)
	flags.String("config", "", "path to a YAML config file")
	flags.StringP("env", "e", "", "environment: local, dev or prod")
	flags.IntP("workers", "w", 0, "number of concurrent probes")
	flags.Duration("timeout", 0, "timeout of a single probe attempt")
	flags.Int("attempts", 0, "probe attempts per device")
	flags.String("method", "", "probe method: icmp or tcp")
	flags.String("registry", "", "device registry: postgrest or file")
	flags.String("devices", "", "YAML device list used by the file registry")
	flags.StringSlice("sinks", nil, "sinks to persist to: s3, kafka, sqlite")
	flags.Duration("interval", 0, "re-run on this interval and serve the health API; 0 runs once")
	flags.String("health-port", "", "health API port in loop mode")
	verbose := flags.BoolP("verbose", "v", false, "log at debug level")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: commcheck [flags] <device_type>\n\n")
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

	log := logger.Setup(os.Stdout, cfg.Env, *verbose)

	log.Info("starting commcheck",
		"env", cfg.Env,
		"device_type", cfg.DeviceType,
		"method", cfg.Probe.Method,
		"workers", cfg.Probe.Workers,
	)

	if err := validate.CommStatusSchema().Check(); err != nil {
		log.Error("invalid record schema", sl.Err(err))
		return 1
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		log.Error("failed to load secrets", sl.Err(err))
		return 1
	}
	if err := secrets.CheckFor(cfg); err != nil {
		log.Error("missing secrets", sl.Err(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(cfg, secrets, log)
	if err != nil {
		log.Error("failed to initialize device registry", sl.Err(err))
		return 1
	}

	checker, err := checks.NewChecker(checks.Method(cfg.Probe.Method), cfg.Probe.Privileged, cfg.Probe.TCPPort)
	if err != nil {
		log.Error("failed to initialize checker", sl.Err(err))
		return 1
	}

	sinks, spool, closers, err := buildSinks(ctx, cfg, secrets, log)
	defer closeAll(closers, log)
	if err != nil {
		log.Error("failed to initialize sinks", sl.Err(err))
		return 1
	}

	svc := service.NewCommService(
		registry,
		checks.NewProber(checker, log),
		sinks,
		spool,
		service.Config{
			DeviceType: domain.DeviceType(cfg.DeviceType),
			Env:        cfg.DataEnv(),
			Workers:    cfg.Probe.Workers,
			Probe: service.ProberConfig{
				Timeout:     cfg.Probe.Timeout,
				MaxAttempts: cfg.Probe.MaxAttempts,
			},
			Interval: cfg.Schedule.Interval,
		},
		log,
	)

	if cfg.Schedule.Interval > 0 {
		return serve(ctx, svc, cfg, log)
	}

	if _, err := svc.Run(ctx); err != nil {
		log.Error("run failed", sl.Err(err))
		return 1
	}
	return 0
}

// serve runs the service loop next to the health API until a signal arrives.
func serve(ctx context.Context, svc *service.CommService, cfg *config.Config, log *slog.Logger) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := apihttp.NewRouter(apihttp.NewHealthController(svc), log)
	httpServer := &nethttp.Server{
		Addr:              ":" + cfg.Server.HealthPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Start(ctx); err != nil {
			log.Error("comm service failed", sl.Err(err))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("starting health server", "port", cfg.Server.HealthPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Error("HTTP server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down commcheck...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", sl.Err(err))
	}

	wg.Wait()
	log.Info("commcheck stopped gracefully")
	return 0
}

func buildRegistry(cfg *config.Config, secrets *config.Secrets, log *slog.Logger) (repository.DeviceRepository, error) {
	if cfg.Registry.Source == config.RegistryFile {
		log.Debug("using file registry", "path", cfg.Registry.File)
		return file.NewDeviceRepository(cfg.Registry.File), nil
	}

	client, err := postgrest.NewClient(secrets.PostgrestEndpoint, secrets.PostgrestJWT, cfg.Registry.Postgrest.Timeout)
	if err != nil {
		return nil, err
	}
	return postgrest.NewDeviceRepository(client, secrets.KnackAppID, cfg.DeviceTypes, log), nil
}

// buildSinks returns the enabled sinks and, when configured, the spool. The
// sqlite sink and the spool share one store when they point at the same file.
func buildSinks(ctx context.Context, cfg *config.Config, secrets *config.Secrets, log *slog.Logger) ([]repository.ResultRepository, service.Spool, []io.Closer, error) {
	var (
		sinks   []repository.ResultRepository
		closers []io.Closer
		stores  = make(map[string]*sqlite.Store)
	)

	openStore := func(path string) (*sqlite.Store, error) {
		if store, ok := stores[path]; ok {
			return store, nil
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		stores[path] = store
		closers = append(closers, store)
		return store, nil
	}

	for _, name := range cfg.Sinks.Enabled {
		switch name {
		case config.SinkS3:
			client, err := s3.NewClient(ctx, s3.ClientOptions{
				Region:          cfg.Sinks.S3.Region,
				Endpoint:        cfg.Sinks.S3.Endpoint,
				UsePathStyle:    cfg.Sinks.S3.UsePathStyle,
				AccessKeyID:     secrets.AWSAccessKeyID,
				SecretAccessKey: secrets.AWSSecretAccessKey,
			})
			if err != nil {
				return nil, nil, closers, err
			}
			sinks = append(sinks, s3.NewResultRepository(client, secrets.Bucket, log))
		case config.SinkKafka:
			producer := kafka.NewProducer(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic)
			closers = append(closers, producer)
			sinks = append(sinks, repository.NewKafkaResultRepository(producer, log))
		case config.SinkSQLite:
			store, err := openStore(cfg.Sinks.SQLite.Path)
			if err != nil {
				return nil, nil, closers, err
			}
			sinks = append(sinks, store)
		}
		log.Debug("sink enabled", "sink", name)
	}

	if len(sinks) == 0 {
		return nil, nil, closers, errors.New("no sinks enabled")
	}

	var spool service.Spool
	if cfg.Spool.Path != "" {
		store, err := openStore(cfg.Spool.Path)
		if err != nil {
			return nil, nil, closers, err
		}
		spool = store
		log.Debug("spool enabled", "path", cfg.Spool.Path)
	}

	return sinks, spool, closers, nil
}

func closeAll(closers []io.Closer, log *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Error("failed to close", sl.Err(err))
		}
	}
}
