package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	jobapi "github.com/aliskhannn/segment-recolor/internal/api/handlers/job"
	"github.com/aliskhannn/segment-recolor/internal/api/router"
	"github.com/aliskhannn/segment-recolor/internal/api/server"
	"github.com/aliskhannn/segment-recolor/internal/callback"
	"github.com/aliskhannn/segment-recolor/internal/config"
	"github.com/aliskhannn/segment-recolor/internal/infra/kafka/consumer"
	"github.com/aliskhannn/segment-recolor/internal/infra/kafka/producer"
	jobmsg "github.com/aliskhannn/segment-recolor/internal/kafka/handlers/job"
	"github.com/aliskhannn/segment-recolor/internal/metrics"
	"github.com/aliskhannn/segment-recolor/internal/pipeline"
	"github.com/aliskhannn/segment-recolor/internal/processor"
	"github.com/aliskhannn/segment-recolor/internal/segmentation"
	"github.com/aliskhannn/segment-recolor/internal/segmentation/remote"
	"github.com/aliskhannn/segment-recolor/internal/segmentation/static"
	"github.com/aliskhannn/segment-recolor/internal/storage/file"
	"github.com/aliskhannn/segment-recolor/internal/storage/local"
)

// objectStorage is satisfied by every storage backend.
type objectStorage interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()

	// A missing .env is fine: the environment may already carry the secrets.
	if err := godotenv.Load(); err != nil {
		zlog.Logger.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := config.MustLoad("./config/config.yml")

	// Retry strategy for Kafka I/O.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	storage := mustStorage(ctx, cfg.Storage)
	engines := mustEngines(cfg.Segmentation)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	p := pipeline.New(
		storage,
		engines,
		callback.New(cfg.Callback),
		processor.New(cfg.Pipeline.PreviewMaxSide, cfg.Pipeline.PreviewQuality),
		cfg.Pipeline,
		m,
	)

	if cfg.Callback.Secret == "" {
		zlog.Logger.Warn().Msg("callback secret is not set, callbacks are sent unauthenticated")
	}

	// Kafka intake runs next to the HTTP intake when enabled.
	var (
		wg   sync.WaitGroup
		prod *producer.Producer
		cons *consumer.Consumer
	)
	if cfg.Kafka.Enabled {
		prod = producer.New(&cfg.Kafka, strategy)
		cons = consumer.New(&cfg.Kafka, strategy, jobmsg.NewHandler(p, prod))

		wg.Add(1)
		go cons.Consume(ctx, &wg)
	}

	r := router.Setup(jobapi.NewHandler(p), metrics.Handler(reg))
	s := server.New(cfg.Server.HTTPPort, r, cfg.Server.WriteTimeout)
	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting http server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Let the running Kafka job finish its started items.
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if prod != nil {
		if err := prod.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if cons != nil {
		if err := cons.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}

func mustStorage(ctx context.Context, cfg config.Storage) objectStorage {
	switch cfg.Backend {
	case "local":
		zlog.Logger.Info().Str("base_dir", cfg.BaseDir).Msg("using local storage")
		return local.NewStorage(cfg.BaseDir)
	case "s3", "":
		s, err := file.NewStorage(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.UseSSL)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
		}
		zlog.Logger.Info().Str("bucket", cfg.BucketName).Msg("using s3 storage")
		return s
	default:
		zlog.Logger.Fatal().Str("backend", cfg.Backend).Msg("unknown storage backend")
		return nil
	}
}

func mustEngines(cfg config.Segmentation) segmentation.Factory {
	switch cfg.Engine {
	case "static":
		zlog.Logger.Info().Int("regions", len(cfg.Regions)).Msg("using static segmentation engine")
		return static.NewFactory(static.FromConfig(cfg.Regions))
	case "remote", "":
		if cfg.Endpoint == "" {
			zlog.Logger.Warn().Msg("segmentation endpoint is not set, every job will fail")
		}
		return remote.NewFactory(cfg)
	default:
		zlog.Logger.Fatal().Str("engine", cfg.Engine).Msg("unknown segmentation engine")
		return nil
	}
}
