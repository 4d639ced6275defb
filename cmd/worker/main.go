// Package main provides the HTTP worker entry point for clusterlens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/clusterlens/internal/blob"
	"github.com/thebtf/clusterlens/internal/clustering"
	"github.com/thebtf/clusterlens/internal/config"
	"github.com/thebtf/clusterlens/internal/db/gorm"
	"github.com/thebtf/clusterlens/internal/embedding"
	"github.com/thebtf/clusterlens/internal/engine"
	"github.com/thebtf/clusterlens/internal/metrics"
	"github.com/thebtf/clusterlens/internal/watcher"
	"github.com/thebtf/clusterlens/internal/worker"
	"github.com/thebtf/clusterlens/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	setLogLevel(cfg.LogLevel, *debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
}

func setLogLevel(level string, debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(parsed)
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := gorm.NewStore(gorm.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open file storage: %w", err)
	}

	recorder := metrics.Noop()
	exporter, err := metrics.NewPrometheus()
	if err != nil {
		log.Warn().Err(err).Msg("Metrics unavailable, continuing without them")
	} else {
		recorder = exporter.Recorder()
		defer func() {
			if err := exporter.Shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to shut down metrics")
			}
		}()
	}

	broadcaster := sse.NewBroadcaster()
	defer broadcaster.Close()

	eng := engine.New(store, engine.Options{
		Blobs:               blobs,
		Extractor:           embedding.NewRemoteClient(cfg.ExtractorURL, time.Duration(cfg.ExtractorTimeout)*time.Second),
		Metrics:             recorder,
		Notifier:            broadcaster,
		Defaults:            clustering.Params{Eps: cfg.DefaultEps, MinSamples: cfg.DefaultMinSample},
		Seed:                cfg.KMeansSeed,
		MaxConcurrentIngest: cfg.MaxIngest,
		ExportManifest:      cfg.ExportManifest,
	})

	stopWatchers := startWatchers(cfg, blobs, eng)
	defer stopWatchers()

	svc := worker.NewService(Version, cfg, eng, broadcaster)
	if exporter != nil {
		svc.MountMetrics(exporter.Handler())
	}
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.WorkerHost, strconv.Itoa(cfg.WorkerPort)),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("version", Version).Msg("Starting worker")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	svc.SetReady(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down worker")
	svc.SetReady(false)
	// Stream clients never finish on their own; close them before draining.
	broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendMinio:
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := blob.NewMinioStore(connectCtx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Prefix:    cfg.MinioPrefix,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("endpoint", cfg.MinioEndpoint).Str("bucket", cfg.MinioBucket).Msg("Using MinIO file storage")
		return store, nil
	case config.BlobBackendLocal, "":
		store, err := blob.NewLocalStore(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", store.Root()).Msg("Using local file storage")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// startWatchers keeps the upload directory present and reloads clustering
// defaults when the settings file changes. The returned func stops them.
func startWatchers(cfg *config.Config, blobs blob.Store, eng *engine.Engine) func() {
	var watchers []*watcher.Watcher

	start := func(path string, handlers watcher.Handlers) {
		w, err := watcher.New(path, handlers)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to create watcher")
			return
		}
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to start watcher")
			return
		}
		log.Info().Str("path", path).Msg("File watcher started")
		watchers = append(watchers, w)
	}

	if local, ok := blobs.(*blob.LocalStore); ok {
		start(local.Root(), watcher.Handlers{OnRemove: watcher.EnsureDir(local.Root())})
	}

	settings := config.SettingsPath()
	start(settings, watcher.Handlers{OnChange: func() {
		reloaded, err := config.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to reload settings, keeping current defaults")
			return
		}
		p := clustering.Params{Eps: reloaded.DefaultEps, MinSamples: reloaded.DefaultMinSample}
		if err := eng.SetDefaults(p); err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid clustering defaults from settings")
			return
		}
		log.Info().Float64("eps", p.Eps).Int("minSamples", p.MinSamples).Msg("Clustering defaults reloaded")
	}})

	return func() {
		for _, w := range watchers {
			_ = w.Stop()
		}
	}
}
