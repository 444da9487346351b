// Package main provides the Prism platform integration service binary.
// The service manages platform connections (Jira, Trofos, Monday), verifies
// credentials against the vendor APIs, and reacts to bus events with
// verification, sync, and report-assembly work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chongkelv123/prism-sub004/internal/bus"
	"github.com/chongkelv123/prism-sub004/internal/config"
	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/events"
	"github.com/chongkelv123/prism-sub004/internal/metrics"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/pkg/middleware"
	"github.com/chongkelv123/prism-sub004/internal/platform"
	"github.com/chongkelv123/prism-sub004/internal/report"
	"github.com/chongkelv123/prism-sub004/internal/secrets"
	"github.com/chongkelv123/prism-sub004/internal/server"
	"github.com/chongkelv123/prism-sub004/internal/verify"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prism-platform",
		Short: "Prism platform integration service",
		Long: `Prism platform integration service manages connections to external
project-management platforms and verifies them against the vendor APIs.

The service exposes:
  - HTTP API on :8080 (configurable) for connection management
  - Event-driven handlers bound to a topic exchange for async verification,
    sync, and report-data assembly

Examples:
  prism-platform                                # Start with defaults (memory bus)
  prism-platform --config prism.yaml            # Load YAML config
  prism-platform --http-port 9090               # Custom HTTP port
  prism-platform --bus rabbitmq                 # RabbitMQ-backed event bus`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().Int("http-port", 8080, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().String("bus", "", "event bus backend (memory, rabbitmq, kafka)")
	rootCmd.Flags().String("amqp", "", "RabbitMQ URL (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prism-platform %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	httpPort, _ := cmd.Flags().GetInt("http-port")
	host, _ := cmd.Flags().GetString("host")
	busType, _ := cmd.Flags().GetString("bus")
	amqpURL, _ := cmd.Flags().GetString("amqp")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flag overrides (highest priority)
	if cmd.Flags().Changed("http-port") {
		cfg.Port = httpPort
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if busType != "" {
		cfg.Broker.Type = busType
	}
	if amqpURL != "" {
		cfg.Broker.URL = amqpURL
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting Prism platform service",
		"version", version,
		"http_port", cfg.Port,
		"bus", cfg.Broker.Type,
		"storage", cfg.Storage.Type,
	)

	// Metrics first: the event bus and HTTP stack are both instrumented.
	metricsSvc := metrics.New()

	// Event bus. A broker failure at startup is not fatal: the service
	// degrades to an in-process bus so the HTTP API keeps working.
	innerBus, err := bus.NewBus(cfg.Broker, log)
	if err != nil {
		log.Warn("Broker unavailable, falling back to in-process bus",
			"bus", cfg.Broker.Type, "error", err)
		innerBus = bus.NewMemoryBus(log)
	}
	eventBus := metrics.NewInstrumentedBus(innerBus, metricsSvc)
	defer func() { _ = eventBus.Close() }()

	// Credential codec: AES-GCM when a key is configured, plaintext otherwise.
	codec, err := secrets.FromKey(cfg.SecretsKey())
	if err != nil {
		return fmt.Errorf("failed to build secrets codec: %w", err)
	}
	if cfg.Secrets.Key == "" {
		log.Warn("No secrets key configured, connection credentials stored unencrypted")
	}

	// Connection storage backend
	storage, err := buildStorage(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Audit trail for connection lifecycle events
	audit, err := connection.NewAuditLogger(connection.AuditLoggerConfig{
		LogPath: cfg.Storage.AuditPath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = audit.Close() }()

	connSvc, err := connection.NewService(eventBus, connection.ServiceConfig{
		Storage: storage,
		Audit:   audit,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection service: %w", err)
	}
	defer func() { _ = connSvc.Close() }()
	log.Info("Initialized connection service")

	// Platform clients and verification pipeline
	platformCfg := platform.Config{
		Timeout:           cfg.Platform.Timeout,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
	}
	factory := platform.NewFactory(codec, platformCfg, log)
	verifier := verify.NewVerifier(log, verify.WithIssueSample(cfg.Platform.MaxResults))
	reports := report.NewService(report.ServiceConfig{
		MaxIssuesPerProject: cfg.Platform.MaxResults,
	}, log)

	// Event handlers: test/sync/report requests arriving on the bus
	dispatcher := events.NewDispatcher(eventBus, connSvc, factory, verifier, reports, log)
	if err := dispatcher.Register(context.Background()); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}
	log.Info("Registered event handlers",
		"keys", []string{
			bus.KeyConnectionTestRequested,
			bus.KeyConnectionSyncRequested,
			bus.KeyReportDataRequested,
		},
	)

	// Metrics event subscriber counts consumed events and verification outcomes
	metricsSubscriber := metrics.NewEventSubscriber(metricsSvc, eventBus)
	if err := metricsSubscriber.SubscribeToEvents(context.Background()); err != nil {
		log.Warn("Failed to subscribe metrics to events", "error", err)
	}

	// HTTP server
	srvCfg := server.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Version:         version,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
	if cfg.Security.RateLimit > 0 {
		srvCfg.RateLimit = middleware.RateLimiterConfig{
			RequestsPerSecond: float64(cfg.Security.RateLimit) / 60.0,
			Burst:             cfg.Security.RateLimit,
			CleanupInterval:   time.Minute,
		}
		log.Info("Rate limiting enabled", "requests_per_minute", cfg.Security.RateLimit)
	}

	srv := server.New(srvCfg, server.Services{
		Bus:         eventBus,
		Connections: connSvc,
		Factory:     factory,
		Verifier:    verifier,
		Reports:     reports,
		Codec:       codec,
		Metrics:     metricsSvc,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("Service stopped")
	return nil
}

// buildStorage constructs the connection persistence backend.
func buildStorage(cfg config.StorageConfig, log *logger.Logger) (connection.Storage, error) {
	switch cfg.Type {
	case "file":
		log.Info("Using file connection storage", "path", cfg.Path)
		return connection.NewFileStorage(cfg.Path), nil
	case "redis":
		log.Info("Using Redis connection storage", "url", cfg.RedisURL)
		return connection.NewRedisStorage(cfg.RedisURL)
	default:
		log.Info("Using in-memory connection storage")
		return connection.NewMemoryStorage(), nil
	}
}
