package clientip_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/notifykit/pkg/clientip"
)

func TestFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trusted    []string
		want       string
	}{
		{"peer address", nil, "203.0.113.7:5123", clientip.DefaultHeaders, "203.0.113.7"},
		{"peer without port", nil, "203.0.113.7", clientip.DefaultHeaders, "203.0.113.7"},
		{"ipv6 peer", nil, "[2001:db8::1]:443", clientip.DefaultHeaders, "2001:db8::1"},
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.2:80", clientip.DefaultHeaders, "198.51.100.1"},
		{"forwarded skips garbage", map[string]string{"X-Forwarded-For": "unknown, 198.51.100.2"}, "10.0.0.2:80", clientip.DefaultHeaders, "198.51.100.2"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.3"}, "10.0.0.2:80", clientip.DefaultHeaders, "198.51.100.3"},
		{"mapped ipv4 unmapped", map[string]string{"X-Real-IP": "::ffff:198.51.100.4"}, "10.0.0.2:80", clientip.DefaultHeaders, "198.51.100.4"},
		{"untrusted header ignored", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "10.0.0.2:80", nil, "10.0.0.2"},
		{"nothing parses", map[string]string{"X-Real-IP": "nope"}, "garbage", clientip.DefaultHeaders, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientip.FromRequest(r, tt.trusted...))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	var got string
	h := clientip.Middleware(clientip.DefaultHeaders...)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = clientip.FromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.9")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "198.51.100.9", got)
}
