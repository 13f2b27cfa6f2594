// Command mongosyncdb replicates one logical database from a source
// MongoDB deployment to a target MongoDB deployment: a parallel initial
// snapshot followed by an indefinite change-stream tail, resumable from a
// persisted checkpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.mongosyncdb.dev/internal/applier"
	"go.mongosyncdb.dev/internal/checkpoint"
	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/common/health"
	"go.mongosyncdb.dev/internal/common/lifecycle"
	"go.mongosyncdb.dev/internal/common/metrics"
	"go.mongosyncdb.dev/internal/config"
	"go.mongosyncdb.dev/internal/cutover"
	"go.mongosyncdb.dev/internal/dblog"
	"go.mongosyncdb.dev/internal/mongostore"
	"go.mongosyncdb.dev/internal/runctx"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config-file", "", "path to the TOML configuration file (required)")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "mongosyncdb: -config-file is required")
		os.Exit(1)
	}

	ctx := context.Background()

	cfg, err := config.LoadFromFile(ctx, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mongosyncdb: %v\n", err)
		os.Exit(1)
	}

	level := parseLevel(cfg.LogLevel)

	logHandler, err := dblog.Open(cfg.Database, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mongosyncdb: open log file: %v\n", err)
		os.Exit(1)
	}
	defer logHandler.Close()

	runID := uuid.NewString()
	logger := slog.New(logHandler).With("runId", runID, "database", cfg.Database)
	slog.SetDefault(logger)

	logger.Info("mongosyncdb starting", "version", version, "buildTime", buildTime)

	source, err := mongostore.Connect(ctx, mongostore.ConnectConfig{
		Hostname: cfg.Source.Hostname,
		Port:     cfg.Source.Port,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Database: cfg.Database,
	})
	if err != nil {
		logger.Error("connect to source", "error", err)
		os.Exit(1)
	}

	target, err := mongostore.Connect(ctx, mongostore.ConnectConfig{
		Hostname: cfg.Target.Hostname,
		Port:     cfg.Target.Port,
		Username: cfg.Target.Username,
		Password: cfg.Target.Password,
		Database: cfg.Database,
	})
	if err != nil {
		logger.Error("connect to target", "error", err)
		_ = source.Disconnect(ctx)
		os.Exit(1)
	}

	checkpoints := checkpoint.New(target.Client, config.WriteConcernSelector(cfg.ChangeStream.WriteConcern))
	if err := checkpoints.EnsureIndexes(ctx); err != nil {
		logger.Error("ensure checkpoint indexes", "error", err)
		closeEndpoints(ctx, source, target)
		os.Exit(1)
	}

	rc := runctx.New(source, target, checkpoints, cfg, runID)

	result, err := cutover.Run(ctx, rc)
	if err != nil {
		if errors.Is(err, cutover.ErrTargetAlreadyPopulated) {
			logger.Info("nothing to do, exiting cleanly")
			rc.Close(ctx)
			return
		}
		logger.Error("cutover failed", "error", err)
		rc.Close(ctx)
		os.Exit(1)
	}

	runApplier := applier.New(rc)

	checker := health.NewChecker()
	checker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return source.Client.Ping(ctx, nil)
	}))
	checker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return target.Client.Ping(ctx, nil)
	}))
	checker.AddReadinessCheck(health.ApplierCheck(func() health.ApplierStatus {
		lag := checkpointLagSeconds(runApplier.LastApplied(), rc.ResumeTimestamp())
		metrics.ApplierCheckpointLagSeconds.Set(lag)
		return health.ApplierStatus{
			Running:       runApplier.IsRunning(),
			FatalError:    runApplier.FatalError(),
			CheckpointLag: lag,
		}
	}))

	applierService := lifecycle.NewServiceFunc(
		"applier",
		func(ctx context.Context) error {
			metrics.ApplierRunning.Set(1)
			defer metrics.ApplierRunning.Set(0)
			return runApplier.Run(ctx, result.StartAt)
		},
		func(ctx context.Context) error { return nil },
	).WithHealth(func() error {
		if err := runApplier.FatalError(); err != nil {
			return err
		}
		return nil
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      newRouter(checker),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	httpService := lifecycle.NewHTTPService("http", httpServer)

	logger.Info("starting replication", "startAt", result.StartAt, "httpPort", cfg.HTTPPort)

	if err := lifecycle.Run(ctx, applierService, httpService); err != nil {
		logger.Error("service run failed", "error", err)
		rc.Close(ctx)
		os.Exit(1)
	}

	rc.Close(ctx)
	logger.Info("mongosyncdb stopped")
}

func newRouter(checker *health.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/q/health", checker.HandleHealth)
	r.Get("/q/health/live", checker.HandleLive)
	r.Get("/q/health/ready", checker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	return r
}

func closeEndpoints(ctx context.Context, source, target *mongostore.Endpoint) {
	_ = source.Disconnect(ctx)
	_ = target.Disconnect(ctx)
}

// checkpointLagSeconds is the cluster-time distance, in seconds, between the
// last-applied event and the last persisted checkpoint.
func checkpointLagSeconds(last, checkpointed clustertime.T) float64 {
	if last.Seconds == 0 || !checkpointed.Before(last) {
		return 0
	}
	return float64(last.Seconds - checkpointed.Seconds)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
