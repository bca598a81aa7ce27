// Taskd is the coding-task pipeline daemon.
//
// It accepts coding tasks over HTTP and drives each one through context
// compilation, specification generation and review, sandboxed coding,
// self-review, testing, gate checks, and pull-request creation.
//
// Configuration is loaded from a YAML file and environment variables.
// See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	taskd
//
//	# Start with a config file, override the port via environment
//	SERVER_PORT=9090 taskd -config /etc/taskd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/collab"
	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/httpretry"
	"github.com/fyrsmithlabs/taskd/internal/logging"
	"github.com/fyrsmithlabs/taskd/internal/orchestrator"
	"github.com/fyrsmithlabs/taskd/internal/progress"
	"github.com/fyrsmithlabs/taskd/internal/server"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  taskd [-config path]   Start the taskd daemon\n")
			fmt.Fprintf(os.Stderr, "  taskd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("taskd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes all dependencies and blocks until the context is
// cancelled, then shuts down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting taskd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.Endpoint = cfg.Observability.Endpoint
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	telCfg.Protocol = cfg.Observability.Protocol
	telCfg.Insecure = cfg.Observability.Insecure
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	collabs, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize collaborators: %w", err)
	}

	store := task.NewMemoryStore()
	broadcaster := progress.NewBroadcaster(nc, logger.Underlying())
	pipeline := orchestrator.New(store, broadcaster, collabs, cfg, logger)

	srv, err := server.NewServer(store, pipeline, broadcaster, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Load()
		return cfg, cfg.Validate()
	}
	return config.LoadWithFile(path)
}

// buildCollaborators wires the external-service clients from configuration.
func buildCollaborators(ctx context.Context, cfg *config.Config, logger *logging.Logger) (orchestrator.Collaborators, error) {
	zl := logger.Underlying()
	retry := &httpretry.RetryConfig{
		MaxRetries:     cfg.Collaborators.RetryMaxRetries,
		InitialBackoff: cfg.Collaborators.RetryInitialBackoff.Duration(),
		MaxBackoff:     cfg.Collaborators.RetryMaxBackoff.Duration(),
	}
	short := httpretry.NewClient(cfg.Collaborators.ShortTimeout.Duration(), retry, zl)
	long := httpretry.NewClient(cfg.Collaborators.LongTimeout.Duration(), retry, zl)

	vcs, err := collab.NewGitHubHost(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL, zl)
	if err != nil {
		return orchestrator.Collaborators{}, err
	}

	return orchestrator.Collaborators{
		Context: collab.NewContextClient(cfg.Collaborators.ContextURL, short),
		LLM:     collab.NewLLMClient(cfg.Collaborators.LLMURL, cfg.Collaborators.LLMModel, long),
		Scorer:  collab.NewScorerClient(cfg.Collaborators.ScorerURL, short),
		Agent:   collab.NewAgentClient(cfg.Collaborators.AgentURL, long, short),
		Gate:    collab.NewGateClient(cfg.Collaborators.GateURL, short),
		VCS:     vcs,
		Notifier: collab.NewChatNotifier(cfg.Notifier.WebhookURL,
			cfg.Notifier.RatePerSecond, cfg.Notifier.Burst, short, zl),
		Tracer: collab.NewTraceClient(cfg.Collaborators.TracerURL, short, zl),
	}, nil
}
