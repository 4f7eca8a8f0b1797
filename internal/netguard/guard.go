// Package netguard wraps outbound HTTP with SSRF protection: destination
// addresses are resolved and checked before any connection is made, so a
// hostname that resolves into a private range is rejected even when the
// URL itself looks public. Redirects re-enter the guard.
package netguard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Guard validates outbound destinations. The zero value rejects
// loopback, link-local, and private ranges.
type Guard struct {
	// AllowPrivate disables the range checks entirely. Used by operators
	// running MCP servers on their own LAN.
	AllowPrivate bool
}

// CheckURL validates the URL scheme and resolves the host, rejecting
// destinations in guarded ranges. DNS results are checked one by one so
// a split-horizon answer cannot smuggle a private address through.
func (g *Guard) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if g.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("destination %s is loopback", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("destination %s is link-local", ip)
	case ip.IsPrivate():
		return fmt.Errorf("destination %s is in a private range", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("destination %s is unspecified", ip)
	}
	return nil
}

// Client returns an *http.Client that enforces the guard on the initial
// request and on every redirect hop, with the given total timeout.
func (g *Guard) Client(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	// Re-check the address actually dialed, after DNS. This closes the
	// rebinding window between CheckURL and the connection.
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !g.AllowPrivate {
			host, _, err := net.SplitHostPort(addr)
			if err == nil {
				if ip := net.ParseIP(host); ip != nil {
					if err := g.checkIP(ip); err != nil {
						return nil, err
					}
				}
			}
		}
		return dialer.DialContext(ctx, network, addr)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return g.CheckURL(req.URL.String())
		},
	}
}
