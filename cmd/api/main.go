package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/recstream/backend/internal/config"
	"github.com/zhouzirui/recstream/backend/internal/handler"
	"github.com/zhouzirui/recstream/backend/internal/logging"
	"github.com/zhouzirui/recstream/backend/internal/metrics"
	"github.com/zhouzirui/recstream/backend/internal/model/recording"
	"github.com/zhouzirui/recstream/backend/internal/service/archive"
	"github.com/zhouzirui/recstream/backend/internal/service/notify"
	"github.com/zhouzirui/recstream/backend/internal/service/upload"
)

// drainTimeout bounds how long shutdown waits for uploads to finalize.
const drainTimeout = 30 * time.Second

// uploadDrainer is the part of the upload service shutdown waits on.
type uploadDrainer interface {
	Wait(ctx context.Context) error
	Active() []upload.Snapshot
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	if err := os.MkdirAll(cfg.Upload.BaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory %s: %w", cfg.Upload.BaseDir, err)
	}

	opts := []upload.Option{upload.WithLogger(logger)}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		opts = append(opts, upload.WithMetrics(metrics.New()))
		metricsHandler = promhttp.Handler()
	}

	// Redis 可选：跨进程路径锁与完成事件
	if cfg.Redis.Enabled() {
		redisClient, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, continuing with in-process locking only", zap.Error(err))
		} else {
			defer redisClient.Close()

			opts = append(opts, upload.WithLocker(upload.NewRedisLocker(redisClient, cfg.Redis.LockPrefix, cfg.Upload.LockTTL)))
			publisher, err := notify.NewRedisPublisher(redisClient, cfg.Redis.Channel)
			if err != nil {
				logger.Warn("upload events disabled", zap.Error(err))
			} else {
				opts = append(opts, upload.WithNotifier(publisher))
				logger.Info("redis enabled", zap.String("channel", publisher.Channel()))
			}
		}
	} else {
		logger.Info("REDIS_URL not set, skipping distributed locking and upload events")
	}

	// S3 归档可选
	if cfg.Archive.Enabled() {
		archiver, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			logger.Warn("failed to initialize S3 archiver, continuing without archiving", zap.Error(err))
		} else {
			opts = append(opts, upload.WithArchiver(archiver))
			logger.Info("S3 archiving enabled", zap.String("bucket", cfg.Archive.Bucket))
		}
	}

	uploadSvc := upload.NewService(upload.Config{
		BaseDir:            cfg.Upload.BaseDir,
		Extension:          cfg.Upload.Extension,
		DefaultCandidateID: cfg.Upload.DefaultCandidateID,
		IdleTimeout:        cfg.Upload.IdleTimeout,
	}, opts...)
	recordings := recording.NewDiskStore(cfg.Upload.BaseDir, cfg.Upload.Extension, handler.RecordingsPath,
		recording.SkipWhen(uploadSvc.Writing))

	router := handler.NewRouter(logger, cfg, uploadSvc, recordings, metricsHandler)

	// Returns only after active uploads are drained, before the deferred
	// redis client close.
	return startServer(ctx, logger, cfg.Server, router, uploadSvc)
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func startServer(ctx context.Context, logger *zap.Logger, serverCfg config.ServerConfig, router http.Handler, uploads uploadDrainer) error {
	ln, err := net.Listen("tcp", serverCfg.Addr)
	if err != nil {
		return err
	}

	logger.Info("recording upload server listening", zap.String("addr", ln.Addr().String()))
	return serve(ctx, logger, newServer(ctx, router), ln, uploads, drainTimeout)
}

func newServer(ctx context.Context, router http.Handler) *http.Server {
	return &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Hijacked upload connections outlive Shutdown; tie them to the signal.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// serve runs srv until ctx ends, then waits up to timeout for tracked uploads
// to flush their files and finish delivery. Shutdown alone does not wait for
// hijacked connections.
func serve(ctx context.Context, logger *zap.Logger, srv *http.Server, ln net.Listener, uploads uploadDrainer, timeout time.Duration) error {
	serveErr := runServer(ctx, srv, ln)

	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := uploads.Wait(drainCtx); err != nil {
		logger.Warn("uploads still finalizing at exit",
			zap.Int("active", len(uploads.Active())),
			zap.Error(err),
		)
	} else {
		logger.Info("all uploads finalized")
	}
	return serveErr
}

func runServer(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
