// Package binder fills request structs from HTTP requests.
//
// Each binder reads one source and only touches fields carrying its tag, so
// several binders can be applied to the same struct in order:
//
//	type listRequest struct {
//		UserID string `path:"userId"`
//		Limit  int    `query:"limit"`
//		Read   *bool  `query:"read"`
//	}
//
//	handler.Wrap(list, handler.WithBinders(binder.Path(chi.URLParam), binder.Query()))
//
// JSON decoding is strict: unknown fields, trailing data and bodies over
// DefaultMaxJSONSize are rejected.
package binder
