// Package handler turns typed request handlers into http.HandlerFunc values.
//
// A HandlerFunc receives a Context and a request struct populated by the
// configured binders, and returns a Response:
//
//	type getRequest struct {
//		ID string `path:"id"`
//	}
//
//	r.Get("/notifications/{id}", handler.Wrap(
//		func(ctx handler.Context, req getRequest) handler.Response {
//			n, err := svc.Get(ctx, req.ID)
//			if err != nil {
//				return handler.JSONError(err)
//			}
//			return handler.JSON(n)
//		},
//		handler.WithBinders(binder.Path(chi.URLParam)),
//	))
//
// Bodies use the {data, meta, error} envelope. Binding and render failures
// go to the ErrorHandler; the default one from NewErrorHandler answers with
// a JSON error and logs server errors together with the request id.
package handler
