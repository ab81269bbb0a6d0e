package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// JSONResponse is the body envelope of every JSON response.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) { r.body.Meta = meta }
}

// JSON wraps v as the data member of the envelope, status 200 by default.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: JSONResponse{Data: v}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err as the error member with the status it maps to.
func JSONError(err error, opts ...JSONOption) Response {
	status, detail := Classify(err)
	r := &jsonResponse{status: status, body: JSONResponse{Error: detail}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify maps err to a status code and an error detail. Unknown errors
// become a 500 whose message does not leak err.
func Classify(err error) (int, *ErrorDetail) {
	var verr ValidationError
	if errors.As(err, &verr) {
		detail := &ErrorDetail{Code: "validation_error", Message: verr.Error()}
		if len(verr) > 0 {
			detail.Details = make(map[string][]string, len(verr))
			maps.Copy(detail.Details, verr)
		}
		return http.StatusBadRequest, detail
	}
	var herr HTTPError
	if errors.As(err, &herr) {
		msg := err.Error()
		if herr.Code >= http.StatusInternalServerError {
			msg = http.StatusText(herr.Code)
		}
		return herr.Code, &ErrorDetail{Code: herr.Key, Message: msg}
	}
	return http.StatusInternalServerError, &ErrorDetail{
		Code:    ErrInternalServerError.Key,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}

type emptyResponse struct {
	status int
}

func (e emptyResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(e.status)
	return nil
}

// Empty answers 204 No Content.
func Empty() Response { return emptyResponse{status: http.StatusNoContent} }

// EmptyWithStatus answers status without a body.
func EmptyWithStatus(status int) Response { return emptyResponse{status: status} }
