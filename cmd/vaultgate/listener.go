// ABOUTME: HTTP listener construction for the serve command
// ABOUTME: Plain TCP by default, tsnet when Tailscale is enabled

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/vaultgate/vaultgate/internal/config"
)

// createHTTPListener returns the listener the HTTP server should accept on,
// plus a cleanup function the caller must run on shutdown.
func createHTTPListener(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, func(), error) {
	if !cfg.Tailscale.Enabled {
		ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on %s: %w", cfg.Server.HTTPAddr, err)
		}
		return ln, func() {}, nil
	}

	stateDir := cfg.Tailscale.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(getDataPath(), "tsnet")
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tsnet state dir: %w", err)
	}

	authKey := cfg.Tailscale.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}

	ts := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Tailscale.Ephemeral,
		AuthKey:   authKey,
	}

	status, err := ts.Up(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("joining tailnet: %w", err)
	}

	if status.Self != nil {
		logger.Info("joined tailnet",
			"hostname", cfg.Tailscale.Hostname,
			"dns_name", status.Self.DNSName,
			"addrs", status.TailscaleIPs,
		)
	}

	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		ts.Close()
		return nil, nil, fmt.Errorf("listening on tailnet: %w", err)
	}

	return ln, func() { ts.Close() }, nil
}
