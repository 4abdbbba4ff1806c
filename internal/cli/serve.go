// ABOUTME: Listener creation and graceful HTTP serving shared by both servers.
// ABOUTME: Supports plain TCP or a Tailscale tsnet node.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/quarrydev/quarry/internal/config"
)

// shutdownTimeout bounds how long graceful shutdown waits for in-flight
// requests.
const shutdownTimeout = 5 * time.Second

// Listen creates the server's listener. With Tailscale enabled it joins
// the tailnet as its own node; otherwise it binds the configured TCP
// address. The returned cleanup function closes the tsnet node when one
// was started.
func Listen(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, func(), error) {
	if !cfg.Tailscale.Enabled {
		ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on %s: %w", cfg.Server.HTTPAddr, err)
		}
		return ln, func() {}, nil
	}

	stateDir, err := resolveTailscaleStateDir(cfg.Tailscale.StateDir, cfg.Tailscale.Hostname)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := cfg.Tailscale.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, nil, errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}

	ts := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Tailscale.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailscale node",
		"hostname", cfg.Tailscale.Hostname,
		"state_dir", stateDir,
		"ephemeral", cfg.Tailscale.Ephemeral,
	)
	status, err := ts.Up(ctx)
	if err != nil {
		_ = ts.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	logger.Info("tailscale node ready", "hostname", cfg.Tailscale.Hostname, "tailscale_ip", tsAddr)

	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		_ = ts.Close()
		return nil, nil, fmt.Errorf("listening on tailscale port: %w", err)
	}

	return ln, func() { _ = ts.Close() }, nil
}

func resolveTailscaleStateDir(configured, hostname string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "quarry", hostname, "tailscale"), nil
}

// Serve runs the HTTP server on the listener until ctx is cancelled, then
// shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Fresh context: the original is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}
