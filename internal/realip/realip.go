// Package realip resolves the client IP used for rate limiting.
// Forwarding headers are honored only when the request arrived from a
// trusted proxy.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// Extractor resolves the real client IP from a request.
type Extractor struct {
	trustedNets []*net.IPNet
}

// New creates an extractor trusting the given proxy CIDRs. Bare IPs are
// accepted and widened to /32 (or /128).
func New(cidrs []string) (*Extractor, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, &net.ParseError{Type: "IP address", Text: cidr}
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		nets = append(nets, ipNet)
	}
	return &Extractor{trustedNets: nets}, nil
}

// Extract returns the client IP for a request. When the socket peer is a
// trusted proxy, the X-Forwarded-For chain is walked right to left and
// the first untrusted hop wins; X-Real-IP is the fallback. Otherwise the
// socket IP is authoritative.
func (e *Extractor) Extract(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)
	if !e.trusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := e.walkForwarded(xff); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remoteIP
}

// walkForwarded returns the rightmost entry of the X-Forwarded-For chain
// that is not itself a trusted proxy. If every hop is trusted, the
// leftmost entry is taken as the origin.
func (e *Extractor) walkForwarded(xff string) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(parts[i])
		if ip == "" {
			continue
		}
		if !e.trusted(ip) {
			return ip
		}
	}
	return strings.TrimSpace(parts[0])
}

func (e *Extractor) trusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range e.trustedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
