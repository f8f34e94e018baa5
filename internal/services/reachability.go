package services

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/desertthunder/shelf/internal/shared"
)

// Reachability reports whether the backend can be reached right now.
type Reachability interface {
	IsConnected() bool
}

// StaticReachability is a fixed answer.
type StaticReachability bool

// IsConnected returns the fixed answer.
func (s StaticReachability) IsConnected() bool { return bool(s) }

// HostReachability dials the backend host and caches the answer for a TTL.
type HostReachability struct {
	addr    string
	timeout time.Duration
	ttl     time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu        sync.Mutex
	checkedAt time.Time
	connected bool
}

// NewHostReachability probes the host of rawURL. A missing port is derived from the scheme.
func NewHostReachability(rawURL string, timeout, ttl time.Duration) (*HostReachability, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: cannot probe %q", shared.ErrInvalidConfig, rawURL)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	dialer := &net.Dialer{}
	return &HostReachability{
		addr:    net.JoinHostPort(u.Hostname(), port),
		timeout: timeout,
		ttl:     ttl,
		dial:    dialer.DialContext,
	}, nil
}

// IsConnected returns the cached probe result, probing again once the TTL has passed.
func (h *HostReachability) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.checkedAt.IsZero() && time.Since(h.checkedAt) < h.ttl {
		return h.connected
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	conn, err := h.dial(ctx, "tcp", h.addr)
	h.connected = err == nil
	h.checkedAt = time.Now()
	if conn != nil {
		conn.Close()
	}
	return h.connected
}

// Invalidate forces the next call to probe.
func (h *HostReachability) Invalidate() {
	h.mu.Lock()
	h.checkedAt = time.Time{}
	h.mu.Unlock()
}
