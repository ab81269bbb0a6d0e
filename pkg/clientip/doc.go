// Package clientip resolves the originating client address of a request
// served behind reverse proxies.
//
// The first valid address found in the configured headers wins, then the
// TCP peer address. Only list headers your proxies overwrite: any header a
// client can set directly can be spoofed.
//
//	r.Use(clientip.Middleware(clientip.DefaultHeaders...))
//	ip := clientip.FromContext(r.Context())
package clientip
