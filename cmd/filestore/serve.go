package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/api"
	"github.com/tendant/simple-filestore/pkg/filestore/config"
	"github.com/tendant/simple-filestore/pkg/filestore/metrics"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	var (
		port    string
		pidFile string
	)

	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve the file store over HTTP",
		Long: `Serve the file store over HTTP.

When dir is given, blobs and metadata that are not configured otherwise are
kept under it: blobs in dir/blobs, metadata in a badger database in dir/meta.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []config.Option
			if len(args) == 1 {
				opts = append(opts, config.WithDataDir(args[0]))
			}
			if port != "" {
				opts = append(opts, config.WithPort(port))
			}
			if pidFile != "" {
				opts = append(opts, config.WithPIDFile(pidFile))
			}

			cfg, err := c.load(opts...)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port (default 8080)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "write the process id to this file; refuse to start if it exists")
	return cmd
}

func runServe(ctx context.Context, cfg *config.ServerConfig) error {
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if cfg.PIDFile != "" {
		release, err := writePIDFile(cfg.PIDFile)
		if err != nil {
			return err
		}
		defer release()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	var (
		sinks []filestore.EventSink
		m     *metrics.Metrics
	)
	if cfg.EnableMetrics {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(registry)
		sinks = append(sinks, m)
	}

	svc, metadata, err := cfg.BuildService(ctx, logger, sinks...)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer metadata.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, svc, m, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("file store starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"metadata", redactURL(cfg.MetadataURL),
			"storage", cfg.StorageURL)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newRouter assembles middleware, the metrics endpoint and the file routes.
// m may be nil when metrics are disabled.
func newRouter(cfg *config.ServerConfig, svc filestore.Service, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	if m != nil {
		r.Use(m.Middleware)
	}
	r.Use(api.RequestSizeLimitMiddleware(cfg.MaxUploadBytes))

	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Mount("/", api.NewFilesHandler(svc, logger).Routes())

	return gzhttp.GzipHandler(r)
}

// writePIDFile creates path exclusively and returns a func removing it.
func writePIDFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("pid file %s exists; is another server running?", path)
		}
		return nil, fmt.Errorf("failed to create pid file: %w", err)
	}
	_, err = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return func() { os.Remove(path) }, nil
}
