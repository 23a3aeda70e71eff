package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/ahoycrawler/internal/api"
	"github.com/tejusbharadwaj/ahoycrawler/internal/config"
	"github.com/tejusbharadwaj/ahoycrawler/internal/crawler"
	server "github.com/tejusbharadwaj/ahoycrawler/internal/grpc"
	"github.com/tejusbharadwaj/ahoycrawler/internal/metrics"
	"github.com/tejusbharadwaj/ahoycrawler/internal/scheduler"
	"github.com/tejusbharadwaj/ahoycrawler/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Command ahoycrawler polls the inverters of an AhoyDTU and stores their
// readings as CSV files, SQL tables, InfluxDB points or MQTT messages.
//
// Usage:
//
//	ahoycrawler [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-rate-limit float
//	      health requests per second (default 5)
//	-rate-limit-burst int
//	      maximum burst of health requests (default 10)
func main() {
	// Parse command line flags
	cfg := parseFlags()

	// Load configuration
	appConfig, err := config.Load(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger := newLogger(appConfig.Logging)
	logger.WithFields(logrus.Fields{
		"endpoint": appConfig.Device.Endpoint,
		"storage":  appConfig.Storage.Type,
		"interval": appConfig.EffectiveInterval().String(),
	}).Info("Starting crawler")

	// Create a context that will be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Initialize components
	client, err := api.NewClient(appConfig.Device.Endpoint,
		api.WithHTTPClient(&http.Client{Timeout: appConfig.DeviceTimeout()}),
		api.WithRateLimit(appConfig.Device.RateLimit, 1),
		api.WithMetadataTTL(appConfig.CatalogTTL()),
		api.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("Failed to create device client: %v", err)
	}

	crawl := crawler.New(client,
		crawler.WithLogger(logger),
		crawler.WithMetrics(collector),
		crawler.WithDefaultInterval(appConfig.EffectiveInterval()),
	)

	sink, err := storage.New(ctx, appConfig.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer sink.Close()

	health := server.NewHealthChecker()
	sched := scheduler.NewScheduler(crawl, sink, logger,
		scheduler.WithMetrics(collector),
		scheduler.WithStatusReporter(health),
		scheduler.WithFlushEvery(appConfig.Crawler.FlushEvery),
	)

	// Apply interval changes to inverters that were not crawled yet
	if err := config.Watch(cfg.ConfigPath, logger, func(c *config.Config) {
		crawl.SetDefaultInterval(c.EffectiveInterval())
		logger.WithField("interval", crawl.DefaultInterval().String()).Info("Default interval updated")
	}); err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
	}

	// Create and setup gRPC server
	srv := server.SetupServer(health, collector, logger, server.ServerConfig{
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port))
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.MetricsPort),
		Handler:           metricsHandler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start background services
	errChan := make(chan error, 2)

	go func() {
		logger.WithField("port", appConfig.Server.Port).Info("Starting gRPC health server")
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	go func() {
		logger.WithField("port", appConfig.Server.MetricsPort).Info("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Handle shutdown gracefully
	go handleShutdown(ctx, cancel, errChan, logger)

	// The scheduler owns the crawler state; it returns after the final flush
	err = sched.Run(ctx)

	logger.Println("Gracefully stopping servers...")
	stopServers(srv, metricsServer, logger)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Scheduler error: %v", err)
	}
	logger.Println("Crawler stopped")
}

type Config struct {
	ConfigPath     string
	RateLimit      float64
	RateLimitBurst int
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "config.yaml", "Path to the config file")
	flag.Float64Var(&cfg.RateLimit, "rate-limit", 5.0, "Health requests per second")
	flag.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", 10, "Maximum burst size for health requests")

	flag.Parse()

	return cfg
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// Handle graceful shutdown
func handleShutdown(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		logger.Println("Context canceled, initiating shutdown")
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		logger.WithError(err).Error("Service error, initiating shutdown")
	}
	cancel()
}

func stopServers(srv *grpc.Server, metricsServer *http.Server, logger *logrus.Logger) {
	srv.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown incomplete")
	}
}
