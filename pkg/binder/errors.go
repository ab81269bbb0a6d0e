package binder

import "errors"

// Errors returned by binders. handler.Wrap answers 415 for the content type
// errors and 400 for the rest.
var (
	ErrUnsupportedMediaType = errors.New("binder: unsupported media type")
	ErrMissingContentType   = errors.New("binder: missing content type")
	ErrFailedToParseJSON    = errors.New("binder: invalid json body")
	ErrFailedToParseQuery   = errors.New("binder: invalid query parameter")
	ErrFailedToParsePath    = errors.New("binder: invalid path parameter")
)
