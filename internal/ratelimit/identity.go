package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const UnknownIdentity = "unknown"

// ClientIdentity derives the identity of an anonymous caller: the first
// X-Forwarded-For entry, then X-Real-IP, then the RemoteAddr host.
func ClientIdentity(r *http.Request) string {
	if r == nil {
		return UnknownIdentity
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}

	return UnknownIdentity
}

// ResolveIdentity prefers an explicit identifier over the request-derived one.
func ResolveIdentity(r *http.Request, identifier string) string {
	if id := strings.TrimSpace(identifier); id != "" {
		return id
	}
	return ClientIdentity(r)
}
