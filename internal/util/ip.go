package util

import "net"

// IPClassification groups the addresses a redirect target may point at.
type IPClassification int

const (
	IPClassificationPublic IPClassification = iota
	IPClassificationLoopback
	IPClassificationPrivate
	// IPClassificationLinkLocal covers 169.254.0.0/16 and fe80::/10, including
	// instance metadata endpoints.
	IPClassificationLinkLocal
	IPClassificationUnspecified
)

func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP returns the classification of ip. A nil ip is unspecified.
func ClassifyIP(ip net.IP) IPClassification {
	switch {
	case ip == nil, ip.IsUnspecified():
		return IPClassificationUnspecified
	case ip.IsLoopback():
		return IPClassificationLoopback
	case IsLinkLocal(ip):
		return IPClassificationLinkLocal
	case ip.IsPrivate():
		return IPClassificationPrivate
	default:
		return IPClassificationPublic
	}
}

// ClassifyHost classifies a URL hostname. ok is false when host is a DNS
// name rather than an IP literal.
func ClassifyHost(host string) (class IPClassification, ok bool) {
	ip := net.ParseIP(stripBrackets(host))
	if ip == nil {
		return IPClassificationPublic, false
	}
	return ClassifyIP(ip), true
}

// IsLinkLocal reports whether ip is a link-local unicast or multicast address.
func IsLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsLoopbackHostname reports whether hostname (without port) is localhost or a
// loopback IP literal. 0.0.0.0 is unspecified, not loopback.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	class, ok := ClassifyHost(hostname)
	return ok && class == IPClassificationLoopback
}

func stripBrackets(host string) string {
	if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
