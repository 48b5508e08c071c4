// Package clientmeta resolves the caller's IP address and user agent from an
// inbound request. Resolution never fails: anything unresolvable becomes
// Unknown.
package clientmeta

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const Unknown = "unknown"

// Proxy headers in precedence order; the socket address is the last resort.
const (
	HeaderForwardedFor    = "X-Forwarded-For"
	HeaderProxyClientIP   = "Proxy-Client-IP"
	HeaderWLProxyClientIP = "WL-Proxy-Client-IP"
	HeaderUserAgent       = "User-Agent"
)

// Meta is what the audit trail attaches about the caller.
type Meta struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

type ctxKey struct{}

func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the Meta stored by WithMeta.
func FromContext(ctx context.Context) (Meta, bool) {
	if ctx == nil {
		return Meta{}, false
	}
	m, ok := ctx.Value(ctxKey{}).(Meta)
	return m, ok
}

// Resolve reads both values at once.
func Resolve(r *http.Request) Meta {
	return Meta{IP: ResolveIP(r), UserAgent: ResolveUserAgent(r)}
}

// ResolveIP returns the first usable value from X-Forwarded-For (first entry
// of the list), Proxy-Client-IP, WL-Proxy-Client-IP, then the remote address.
func ResolveIP(r *http.Request) (ip string) {
	defer func() {
		if recover() != nil {
			ip = Unknown
		}
	}()

	if fwd := r.Header.Get(HeaderForwardedFor); usable(fwd) {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); usable(first) {
			return first
		}
	}
	for _, h := range []string{HeaderProxyClientIP, HeaderWLProxyClientIP} {
		if v := strings.TrimSpace(r.Header.Get(h)); usable(v) {
			return v
		}
	}
	if remote := remoteHost(r.RemoteAddr); usable(remote) {
		return remote
	}
	return Unknown
}

// ResolveUserAgent returns the User-Agent header, or Unknown.
func ResolveUserAgent(r *http.Request) (ua string) {
	defer func() {
		if recover() != nil {
			ua = Unknown
		}
	}()
	if v := r.Header.Get(HeaderUserAgent); v != "" {
		return v
	}
	return Unknown
}

func usable(v string) bool {
	return v != "" && !strings.EqualFold(v, Unknown)
}

// remoteHost strips the port from "host:port"; bare hosts pass through.
func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
