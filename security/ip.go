package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ProxyPolicy decides which request headers are trusted to carry the client
// address.
//
// SECURITY: only set Trust when every request reaches the server through a
// reverse proxy you control. X-Forwarded-For is "client, proxy1, proxy2"; the
// right-most TrustedProxyCount entries are our proxies and the entry before
// them is the client. Anything further left may be forged.
type ProxyPolicy struct {
	Trust             bool
	TrustedProxyCount int
}

// ClientIP returns the client address of r under the policy. It falls back
// to the connection peer when no trusted header yields a valid address.
func (p ProxyPolicy) ClientIP(r *http.Request) string {
	if p.Trust {
		if ip, ok := p.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ok {
			return ip
		}
		if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (p ProxyPolicy) fromForwardedFor(xff string) (string, bool) {
	if xff == "" {
		return "", false
	}
	hops := strings.Split(xff, ",")

	proxies := p.TrustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	// Fewer hops than proxies: take the left-most entry.
	index := max(len(hops)-proxies-1, 0)
	return parseAddr(hops[index])
}

func parseAddr(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
