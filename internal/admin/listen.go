// ABOUTME: Listener setup for the admin API: plain TCP or a tailnet-only tsnet node
// ABOUTME: Serve runs the HTTP server until the context ends, then shuts down gracefully

package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/fixie-bridge/internal/config"
)

// Run listens according to cfg and serves the admin API until ctx ends.
func (s *Server) Run(ctx context.Context, cfg config.AdminConfig) error {
	ln, closer, err := s.listen(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}
	return s.Serve(ctx, ln)
}

// Serve serves the admin API on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("admin API listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	// The serving context is already cancelled, so shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

func (s *Server) listen(ctx context.Context, cfg config.AdminConfig) (net.Listener, func(), error) {
	if cfg.Tailscale.Enabled {
		return s.listenTailnet(ctx, cfg.Tailscale, tailnetPort(cfg.HTTPAddr))
	}
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", cfg.HTTPAddr, err)
	}
	return ln, nil, nil
}

// listenTailnet joins the tailnet as its own node and listens only there.
// The returned func leaves the tailnet.
func (s *Server) listenTailnet(ctx context.Context, ts config.TailscaleConfig, port string) (net.Listener, func(), error) {
	dir, err := tailscaleStateDir(ts.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	key, err := tailscaleAuthKey(ts.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	node := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       dir,
		AuthKey:   key,
		Ephemeral: ts.Ephemeral,
	}
	leave := func() { _ = node.Close() }

	logger := s.logger.With("hostname", ts.Hostname)
	logger.Info("joining tailnet", "state_dir", dir, "ephemeral", ts.Ephemeral)

	status, err := node.Up(ctx)
	if err != nil {
		leave()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	logger.Info("joined tailnet", "tailscale_ips", status.TailscaleIPs)

	ln, err := node.Listen("tcp", port)
	if err != nil {
		leave()
		return nil, nil, fmt.Errorf("listening on tailnet port %s: %w", port, err)
	}
	return ln, leave, nil
}

// tailnetPort reuses the port of the configured http_addr, or :80.
func tailnetPort(httpAddr string) string {
	if _, p, err := net.SplitHostPort(httpAddr); err == nil && p != "" {
		return ":" + p
	}
	return ":80"
}

// tailscaleStateDir defaults to ~/.local/share/fixie-bridge/tailscale.
func tailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating tailscale state (set admin.tailscale.state_dir): %w", err)
	}
	return filepath.Join(home, ".local", "share", "fixie-bridge", "tailscale"), nil
}

// tailscaleAuthKey prefers the configured key and falls back to TS_AUTHKEY.
func tailscaleAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if env := os.Getenv("TS_AUTHKEY"); env != "" {
		return env, nil
	}
	return "", errors.New("tailscale auth key required: set admin.tailscale.auth_key or TS_AUTHKEY")
}
