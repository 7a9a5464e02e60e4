package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kilnworks/tilemetry/internal/broadcast"
	"github.com/kilnworks/tilemetry/internal/cache"
	corecfg "github.com/kilnworks/tilemetry/internal/core/config"
	"github.com/kilnworks/tilemetry/internal/core/storage/postgres"
	"github.com/kilnworks/tilemetry/internal/gate"
	"github.com/kilnworks/tilemetry/internal/ingestion"
	"github.com/kilnworks/tilemetry/internal/migrations"
	"github.com/kilnworks/tilemetry/internal/partition"
	"github.com/kilnworks/tilemetry/internal/server"
	"github.com/kilnworks/tilemetry/internal/summary"
)

func main() {
	configPath := flag.String("config", "tilemetry.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Run Database Migrations
	// Must happen before the adapters come up: they validate the schema
	// and prepare statements against it.
	if err := migrations.RunMigrationsDSN(cfg.Database.DSN, cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 2.1. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	deviceAdapter, err := postgres.NewDeviceAdapter(dbAdapter.DB())
	if err != nil {
		slog.Error("Failed to initialize device directory", "error", err)
		os.Exit(1)
	}
	defer deviceAdapter.Close()

	summaryAdapter, err := postgres.NewSummaryAdapter(dbAdapter.DB())
	if err != nil {
		slog.Error("Failed to initialize summary store", "error", err)
		os.Exit(1)
	}
	defer summaryAdapter.Close()

	// 3. Initialize Redis (locks, ordering memory, live broadcast)
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	gateStore := gate.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := gateStore.Ping(pingCtx); err != nil {
		pingCancel()
		slog.Error("Failed to reach redis", "error", err)
		os.Exit(1)
	}
	pingCancel()

	deviceGate := gate.New(gateStore, gate.Options{
		LockTTL:       corecfg.Duration(cfg.Gate.LockTTL),
		OrderingTTL:   corecfg.Duration(cfg.Gate.OrderingTTL),
		MaxRetries:    cfg.Gate.MaxRetries,
		RetryDelay:    corecfg.Duration(cfg.Gate.RetryDelay),
		SlowThreshold: corecfg.Duration(cfg.Gate.SlowThreshold),
	})

	// Factory civil time zone: shift attribution at ingest and shift
	// closure must agree on it.
	loc, err := time.LoadLocation(cfg.Summary.Timezone)
	if err != nil {
		slog.Error("Invalid summary timezone", "timezone", cfg.Summary.Timezone, "error", err)
		os.Exit(1)
	}

	// 4. Initialize Ingestion (gate + sample cache + rate-limited broadcast)
	var sink broadcast.Sink = broadcast.NopSink{}
	if cfg.Broadcast.Enabled {
		sink = broadcast.NewRedisSink(redisClient, cfg.Redis.KeyPrefix)
	} else {
		slog.Info("Live broadcast disabled by config")
	}

	samples := cache.New[ingestion.Sample](cfg.Cache.Capacity, corecfg.Duration(cfg.Cache.TTL))
	limiter := cache.NewRateLimiter(corecfg.Duration(cfg.Broadcast.MinInterval))

	ingestionSvc := ingestion.NewService(
		deviceAdapter,
		dbAdapter,
		deviceGate,
		samples,
		limiter,
		sink,
		cfg.Server.MaxBodySizeMB,
		loc,
	)

	// 5. Initialize Partition Lifecycle Manager
	partitionMgr := partition.NewManager(
		postgres.NewPartitionAdapter(dbAdapter.DB()),
		partition.Options{
			Granularity: corecfg.Duration(cfg.Partition.Granularity),
			Ahead:       cfg.Partition.Ahead,
		},
	)

	// 6. Initialize Summary Closures (scheduler + manual API)
	closer := summary.NewCloser(dbAdapter, summaryAdapter, deviceAdapter, loc)
	scheduler := summary.NewScheduler(closer, dbAdapter, summary.Options{
		WorkerCount: cfg.Summary.WorkerCount,
		GraceDelay:  corecfg.Duration(cfg.Summary.GraceDelay),
		Location:    loc,
	})
	summarySvc := summary.NewService(closer, scheduler, summaryAdapter)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), gateStore, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	summarySvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Partition.Enabled {
		go func() {
			if err := partitionMgr.Start(ctx); err != nil {
				slog.Error("Partition manager stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Partition management disabled by config")
	}

	if cfg.Summary.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Summary scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Summary scheduler disabled by config")
	}

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
