package binder

import "net/http"

// Query binds fields tagged `query:"name"` from the URL query string.
// Slices accept repeated keys or a comma separated value.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		q := r.URL.Query()
		return bindFields(v, "query", func(name string) []string { return q[name] }, ErrFailedToParseQuery)
	}
}
