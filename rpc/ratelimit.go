package rpc

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

// RateLimitConfig bounds the request rate of each caller. A zero rate
// disables limiting. X-Forwarded-For is honoured only for requests arriving
// from one of TrustedProxies (IP addresses or CIDR ranges).
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	TrustedProxies    []string
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg      RateLimitConfig
	proxies  []*net.IPNet
	mu       sync.Mutex
	visitors map[string]*limiterEntry
	clockNow func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{
		cfg:      cfg,
		proxies:  proxies,
		visitors: make(map[string]*limiterEntry),
		clockNow: time.Now,
	}, nil
}

func parseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if !strings.Contains(trimmed, "/") {
			ip := net.ParseIP(trimmed)
			if ip == nil {
				return nil, fmt.Errorf("rpc: invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(trimmed)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid trusted proxy %q: %w", entry, err)
		}
		out = append(out, network)
	}
	return out, nil
}

func (r *rateLimiter) allow(id string) bool {
	if r == nil || r.cfg.RequestsPerSecond <= 0 {
		return true
	}
	if id == "" {
		id = "unknown"
	}
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(r.visitors, key)
		}
	}
	entry, ok := r.visitors[id]
	if !ok {
		burst := r.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// clientSource identifies an anonymous caller by its remote address, or by
// the first X-Forwarded-For hop when the request came through a trusted
// proxy.
func (r *rateLimiter) clientSource(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if r == nil || !r.trusted(host) {
		return host
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if candidate := strings.TrimSpace(parts[0]); candidate != "" {
			return candidate
		}
	}
	return host
}

func (r *rateLimiter) trusted(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range r.proxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
