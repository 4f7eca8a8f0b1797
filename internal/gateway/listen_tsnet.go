//go:build tsnet

package gateway

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/openclaw/clawd/internal/config"
)

// TailscaleListener joins the tailnet and returns a listener on :port.
// The auth key comes from OPENCLAW_TSNET_AUTH_KEY; state persists under
// the configured state dir. Close the returned closer on shutdown.
func TailscaleListener(cfg config.TailscaleConfig, port int) (net.Listener, func() error, error) {
	if cfg.Hostname == "" {
		return nil, nil, fmt.Errorf("tailscale.hostname is required")
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve state dir: %w", err)
		}
		stateDir = filepath.Join(base, "tsnet-clawd")
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		AuthKey:   os.Getenv("OPENCLAW_TSNET_AUTH_KEY"),
		Ephemeral: cfg.Ephemeral,
	}
	if err := srv.Start(); err != nil {
		return nil, nil, fmt.Errorf("tsnet start: %w", err)
	}

	addr := fmt.Sprintf(":%d", port)
	var ln net.Listener
	var err error
	if cfg.EnableTLS {
		ln, err = srv.ListenTLS("tcp", addr)
	} else {
		ln, err = srv.Listen("tcp", addr)
	}
	if err != nil {
		srv.Close()
		return nil, nil, fmt.Errorf("tsnet listen: %w", err)
	}

	slog.Info("gateway.tsnet", "hostname", cfg.Hostname, "addr", addr, "tls", cfg.EnableTLS)
	return ln, srv.Close, nil
}
