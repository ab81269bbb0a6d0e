package binder

import (
	"fmt"
	"net/http"
)

// Path binds fields tagged `path:"name"` using extractor, usually chi.URLParam.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: nil extractor", ErrFailedToParsePath)
		}
		return bindFields(v, "path", func(name string) []string {
			if s := extractor(r, name); s != "" {
				return []string{s}
			}
			return nil
		}, ErrFailedToParsePath)
	}
}
