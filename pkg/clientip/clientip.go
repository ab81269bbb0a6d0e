package clientip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultHeaders are checked in order before the peer address.
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// FromRequest returns the normalized client address, or "" when nothing
// parses. A comma separated header yields its first valid entry.
func FromRequest(r *http.Request, headers ...string) string {
	for _, h := range headers {
		for part := range strings.SplitSeq(r.Header.Get(h), ",") {
			if ip := parse(part); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parse(r.RemoteAddr)
	}
	return parse(host)
}

func parse(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

type contextKey struct{}

func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// Middleware stores the resolved address in the request context.
func Middleware(headers ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithContext(r.Context(), FromRequest(r, headers...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
