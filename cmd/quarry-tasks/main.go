// ABOUTME: Entry point for the quarry task server.
// ABOUTME: Runs the A2A REST API, worker pool, and orphan reconciler.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarrydev/quarry/internal/a2a"
	"github.com/quarrydev/quarry/internal/cli"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/observability"
	"github.com/quarrydev/quarry/internal/ratelimit"
	"github.com/quarrydev/quarry/internal/store"
	"github.com/quarrydev/quarry/internal/task"

	goredis "github.com/redis/go-redis/v9"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __ _ _   _  __ _ _ __ _ __ _   _
 / _' | | | |/ _' | '__| '__| | | |
| (_| | |_| | (_| | |  | |  | |_| |
 \__, |\__,_|\__,_|_|  |_|   \__, |
    |_|                      |___/
`

// getConfigPath returns the path to the quarry config file.
// Priority: QUARRY_CONFIG env var > XDG_CONFIG_HOME/quarry/quarry.yaml > ~/.config/quarry/quarry.yaml
func getConfigPath() string {
	if envPath := os.Getenv("QUARRY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "quarry.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "quarry", "quarry.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: quarry-tasks <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the task server")
		fmt.Println("  health   Check task server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    task server, version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := cli.SetupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Workers:  %d\n", cfg.Tasks.Workers)
	fmt.Println()

	logger.Info("starting quarry-tasks",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"workers", cfg.Tasks.Workers,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	engine, err := task.NewEngine(task.Config{
		Store:             st,
		Logger:            logger,
		Metrics:           metrics,
		Workers:           cfg.Tasks.Workers,
		CapabilityTimeout: cfg.Tasks.CapabilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	engine.Start(ctx)
	defer engine.Stop()

	reconciler := task.NewReconciler(st, engine.Broker(), logger, metrics,
		cfg.Tasks.ReconcileInterval, cfg.Tasks.OrphanTimeout)
	// Sweep once at startup to clean up tasks orphaned by a crash.
	reconciler.Sweep(ctx)
	go reconciler.Run(ctx)

	var card *a2a.AgentCard
	if cfg.AgentCard.Path != "" {
		card, err = a2a.LoadAgentCard(cfg.AgentCard.Path)
		if err != nil {
			return err
		}
		logger.Info("loaded agent card", "path", cfg.AgentCard.Path, "name", card.Name)
	}

	srv, err := a2a.NewServer(a2a.Config{
		Engine:  engine,
		Store:   st,
		Limiter: buildLimiter(cfg, logger),
		Card:    card,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	ln, cleanup, err := cli.Listen(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return cli.Serve(ctx, ln, mux, logger)
}

// buildLimiter picks the rate limit backend: Redis fixed window when an
// address is configured, otherwise the in-process token bucket.
func buildLimiter(cfg *config.Config, logger *slog.Logger) ratelimit.Limiter {
	if cfg.RateLimit.RedisAddr != "" {
		logger.Info("using redis rate limiter", "addr", cfg.RateLimit.RedisAddr)
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RateLimit.RedisAddr})
		return ratelimit.NewRedisWindow(client, cfg.RateLimit.RequestsPerMinute)
	}
	return ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
