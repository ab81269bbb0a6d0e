package gateway

import "errors"

var (
	ErrClosed        = errors.New("gateway: closed")
	ErrEmptyUserID   = errors.New("gateway: empty user id")
	ErrUnauthorized  = errors.New("gateway: unauthorized")
	ErrInvalidFrame  = errors.New("gateway: invalid frame")
	ErrUnknownEvent  = errors.New("gateway: unknown event")
	ErrUnknownSocket = errors.New("gateway: unknown socket")
)
