package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/water-quality-etl/internal/adapter/cache"
	geojsonadapter "github.com/couchcryptid/water-quality-etl/internal/adapter/geojson"
	httpadapter "github.com/couchcryptid/water-quality-etl/internal/adapter/http"
	"github.com/couchcryptid/water-quality-etl/internal/adapter/hubeau"
	kafkaadapter "github.com/couchcryptid/water-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/water-quality-etl/internal/adapter/refdata"
	"github.com/couchcryptid/water-quality-etl/internal/config"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
	"github.com/couchcryptid/water-quality-etl/internal/observability"
	"github.com/couchcryptid/water-quality-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load() // optional .env file

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	runID := uuid.NewString()
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("run_id", runID)
	metrics := observability.NewMetrics()

	codes, err := refdata.LoadPesticideCodes(cfg.PesticideCodesFile)
	if err != nil {
		logger.Error("failed to load pesticide codes", "error", err)
		return 1
	}
	if len(codes) == 0 {
		logger.Warn("no pesticide code list, parameters are not filtered", "file", cfg.PesticideCodesFile)
	} else {
		logger.Info("pesticide codes loaded", "count", len(codes))
	}
	thresholds, err := refdata.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		logger.Error("failed to load thresholds", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		return 1
	}
	defer closeStore()

	client := hubeau.NewClient(hubeau.Options{
		BaseURL:    cfg.HubEauBaseURL,
		PageSize:   cfg.PageSize,
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
		RetryWait:  cfg.RetryWait,
	}, logger, metrics)

	var publisher pipeline.FeaturePublisher
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = writer
		logger.Info("feature publishing enabled", "topic", cfg.KafkaSinkTopic)
	}

	p := pipeline.New(
		client,
		store,
		pipeline.NewTransformer(cfg.Department, thresholds, logger),
		geojsonadapter.NewExporter(logger),
		publisher,
		pipelineOptions(cfg, runID, codes),
		logger,
		metrics,
	)

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	code := 0
	if _, err := p.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		code = 1
	}

	if srv != nil {
		if code == 0 {
			// Keep serving metrics and the run report until asked to stop.
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return code
}

func pipelineOptions(cfg *config.Config, runID string, codes []string) pipeline.Options {
	opts := pipeline.Options{
		RunID:                 runID,
		Department:            cfg.Department,
		StationsMaxPages:      cfg.StationsMaxPages,
		ForceRefresh:          cfg.ForceRefresh,
		Offline:               cfg.Offline,
		OutputGeoJSON:         cfg.OutputGeoJSON,
		OutputSummaryCSV:      cfg.OutputSummaryCSV,
		OutputTop10GeoJSON:    cfg.OutputTop10,
		OutputHotspotsGeoJSON: cfg.OutputHotspots,
	}
	for _, src := range domain.SourceOrder {
		sc, ok := cfg.Sources[src]
		if !ok || !sc.Enabled {
			continue
		}
		opts.Sources = append(opts.Sources, pipeline.SourceSettings{
			Source:   src,
			MaxPages: sc.MaxPages,
			Filter:   domain.NewFilterSpec(sc.DateStart, sc.DateEnd, codes),
		})
	}
	return opts
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, func(), error) {
	if cfg.CacheRedisURL == "" {
		logger.Info("file cache", "dir", cfg.CacheDir)
		return cache.NewFileStore(cfg.CacheDir), func() {}, nil
	}

	rs, err := cache.NewRedisStore(cfg.CacheRedisURL, cfg.CacheRedisTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := pingRedis(ctx, rs, logger); err != nil {
		_ = rs.Close()
		return nil, nil, err
	}
	logger.Info("redis cache", "ttl", cfg.CacheRedisTTL)
	return rs, func() {
		if err := rs.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}, nil
}

// redisPingAttempts bounds how long startup waits for the cache to come up.
const redisPingAttempts = 4

func pingRedis(ctx context.Context, rs *cache.RedisStore, logger *slog.Logger) error {
	backoff := 500 * time.Millisecond
	var err error
	for attempt := 1; attempt <= redisPingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rs.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == redisPingAttempts {
			break
		}
		logger.Warn("redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, 4*time.Second)
	}
	return fmt.Errorf("redis ping: %w", err)
}
