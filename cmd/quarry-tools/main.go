// ABOUTME: Entry point for the quarry tool server.
// ABOUTME: Serves the JSON-RPC document search tools over HTTP.

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

	"github.com/quarrydev/quarry/internal/auth"
	"github.com/quarrydev/quarry/internal/cli"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/mcp"
	"github.com/quarrydev/quarry/internal/observability"
	"github.com/quarrydev/quarry/internal/ratelimit"
	"github.com/quarrydev/quarry/internal/store"
	"github.com/quarrydev/quarry/internal/tools"

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
		fmt.Println("Usage: quarry-tools <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the tool server")
		fmt.Println("  health   Check tool server health")
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
	gray.Printf("    tools server, version: %s\n\n", version)

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
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting quarry-tools",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	verifier, err := buildVerifier(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, st)

	limiter := buildLimiter(cfg, logger)

	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	srv, err := mcp.NewServer(mcp.Config{
		Registry: registry,
		Verifier: verifier,
		Limiter:  limiter,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   observability.NewLogTracer(logger),
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

// buildVerifier loads verification key material. A dedicated public key
// file wins; otherwise the public half of the signing key is used, which
// keeps single-process dev setups working.
func buildVerifier(cfg *config.Config) (auth.TokenVerifier, error) {
	if cfg.Auth.PublicKeyPath != "" {
		pub, err := auth.LoadPublicKey(cfg.Auth.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading public key: %w", err)
		}
		return auth.NewVerifier(pub)
	}

	keys, err := auth.LoadKeys(cfg.Auth.PrivateKeyPath, cfg.Auth.AllowEphemeral, nil)
	if err != nil {
		return nil, fmt.Errorf("loading key material: %w", err)
	}
	return auth.NewVerifier(keys.PublicKey)
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
