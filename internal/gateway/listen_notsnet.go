//go:build !tsnet

package gateway

import (
	"fmt"
	"net"

	"github.com/openclaw/clawd/internal/config"
)

// TailscaleListener is unavailable without the tsnet build tag.
func TailscaleListener(cfg config.TailscaleConfig, port int) (net.Listener, func() error, error) {
	return nil, nil, fmt.Errorf("tailscale support requires building with -tags tsnet")
}
