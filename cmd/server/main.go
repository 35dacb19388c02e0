/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the work-time engine: REST API, maintenance
  scheduler and inbound message consumer. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, .env, WORKTIME_* environment)
  2. Build the logger
  3. Open the store (SQLite or in-memory)
  4. Build payroll sinks (S3 and SFTP; in-memory only when allowed)
  5. Create services, scheduler and bus subscriptions
  6. Start the HTTP server, scheduler and bus consumer

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the bus consumer and wait for running jobs
  4. Close the store and Redis connections

EXAMPLES:
  # Run locally (./worktime.db, no Redis, in-memory payroll sinks)
  WORKTIME_EXPORT_ALLOW_MEMORY_SINKS=true ./server

  # Run against Redis with an in-memory store
  WORKTIME_DATABASE_DRIVER=memory WORKTIME_REDIS_ENABLED=true ./server

SEE ALSO:
  - config/config.go: All settings and their defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/api"
	"github.com/warp/worktime-engine/config"
	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/jobs"
	"github.com/warp/worktime-engine/logging"
	"github.com/warp/worktime-engine/messaging"
	"github.com/warp/worktime-engine/payroll"
	"github.com/warp/worktime-engine/payroll/sink"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
	"github.com/warp/worktime-engine/worktime/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := cfg.WorkPolicy()
	if err != nil {
		return err
	}

	// Store
	st, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// Payroll sinks
	sinks, err := openSinks(ctx, cfg.Export, logger)
	if err != nil {
		return err
	}

	// Services
	dir := directory.NewMemory()
	svc := tracking.NewService(st, policy, logger)
	exporter := payroll.NewExporter(st, dir, policy, sinks, logger)

	// Redis, when enabled, carries the bus and the job locks
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = messaging.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// Scheduler
	schedOpts := []jobs.Option{jobs.WithTimeout(cfg.Jobs.Timeout)}
	if rdb != nil {
		schedOpts = append(schedOpts, jobs.WithLocker(jobs.NewRedisLocker(rdb, cfg.Redis.Stream+":", logger)))
	}
	scheduler := jobs.NewScheduler(logger, schedOpts...)
	for _, j := range []jobs.Job{
		jobs.RemoveDuplicatesJob(cfg.Jobs.RemoveDuplicates, tracking.NewCleaner(svc)),
		jobs.ResolveShiftsJob(cfg.Jobs.ResolveShifts, svc),
	} {
		if err := scheduler.Register(j); err != nil {
			return err
		}
	}

	// Bus
	var bus messaging.Bus
	var consumer *messaging.RedisBus
	if rdb != nil {
		name := cfg.Redis.Consumer
		if name == "" {
			host, _ := os.Hostname()
			name = host + "-" + uuid.NewString()[:8]
		}
		consumer = messaging.NewRedisBus(rdb, messaging.StreamConfig{
			Stream:   cfg.Redis.Stream,
			Group:    cfg.Redis.Group,
			Consumer: name,
		}, logger)
		bus = consumer
	} else {
		logger.Warn("redis disabled, inbound events are accepted over HTTP only")
		bus = messaging.NewLocal(logger)
	}
	messaging.Subscribe(bus, svc, scheduler, logger)

	// HTTP
	handler := api.NewHandler(svc, exporter, dir, scheduler, bus, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	consumerDone := make(chan struct{})
	if consumer != nil {
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error("bus consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	stop()
	<-consumerDone

	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.DatabaseConfig) (worktime.TxStore, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	db, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return db, func() { db.Close() }, nil
}

// openSinks builds both payroll destinations. A missing one becomes an
// in-memory sink when allowed, otherwise a sink that refuses uploads so
// no export reaches only part of payroll.
func openSinks(ctx context.Context, cfg config.ExportConfig, logger *zap.Logger) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.S3.Bucket != "" {
		s3, err := sink.NewS3(ctx, sink.S3Config{
			Bucket:    cfg.S3.Bucket,
			Folder:    cfg.S3.Folder,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 sink: %w", err)
		}
		sinks = append(sinks, s3)
	}
	if cfg.SFTP.Host != "" {
		sftp, err := sink.NewSFTP(sink.SFTPConfig{
			Host:     cfg.SFTP.Host,
			Port:     cfg.SFTP.Port,
			User:     cfg.SFTP.User,
			Password: cfg.SFTP.Password,
			Folder:   cfg.SFTP.Folder,
			HostKey:  cfg.SFTP.HostKey,
			Timeout:  cfg.SFTP.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sftp sink: %w", err)
		}
		sinks = append(sinks, sftp)
	}
	for _, name := range cfg.MissingSinks() {
		if cfg.AllowMemorySinks {
			logger.Warn("payroll sink not configured, files are kept in memory", zap.String("sink", name))
			sinks = append(sinks, sink.NewMemory(name))
			continue
		}
		logger.Error("payroll sink not configured, exports are refused", zap.String("sink", name))
		sinks = append(sinks, sink.NewUnconfigured(name))
	}
	return sinks, nil
}
