package authhttp

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPFunc picks the address a request is rate limited under.
// An empty result means unknown, and the limiter lets the request through.
type ClientIPFunc func(r *http.Request) string

// DefaultClientIP uses the peer address when it is public. Requests arriving from
// private or loopback peers (an ingress, a sidecar) are not attributed to anyone.
func DefaultClientIP() ClientIPFunc {
	return func(r *http.Request) string {
		if a, ok := peerAddr(r); ok && isPublicAddr(a) {
			return a.String()
		}
		return ""
	}
}

// ParseTrustedProxies parses CIDR prefixes or bare addresses, as found in
// PROFILEKIT_TRUSTED_PROXIES. Blank entries are skipped.
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// ClientIPFromForwardedHeaders reads CF-Connecting-IP, then the left-most
// X-Forwarded-For entry, but only when the peer is one of trustedProxies.
func ClientIPFromForwardedHeaders(trustedProxies []netip.Prefix) ClientIPFunc {
	fallback := DefaultClientIP()
	return func(r *http.Request) string {
		peer, ok := peerAddr(r)
		if !ok {
			return ""
		}
		for _, p := range trustedProxies {
			if p.Contains(peer) {
				if ip := forwardedClient(r); ip != "" {
					return ip
				}
				break
			}
		}
		return fallback(r)
	}
}

func forwardedClient(r *http.Request) string {
	candidates := []string{strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		candidates = append(candidates, strings.TrimSpace(first))
	}
	for _, v := range candidates {
		if a, err := netip.ParseAddr(v); err == nil && isPublicAddr(a) {
			return a.String()
		}
	}
	return ""
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	if r == nil || r.RemoteAddr == "" {
		return netip.Addr{}, false
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && h != "" {
		host = h
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isPublicAddr(a netip.Addr) bool {
	switch {
	case !a.IsValid(), a.IsUnspecified(), a.IsLoopback(), a.IsPrivate():
		return false
	case a.IsLinkLocalUnicast(), a.IsLinkLocalMulticast(), a.IsMulticast():
		return false
	}
	return true
}
