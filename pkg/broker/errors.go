package broker

import "errors"

var (
	ErrClosed            = errors.New("broker: client closed")
	ErrNotConnected      = errors.New("broker: not connected")
	ErrConnClosed        = errors.New("broker: connection closed")
	ErrAlreadySubscribed = errors.New("broker: queue already has a subscription")
	ErrNotSubscribed     = errors.New("broker: queue has no subscription")
	ErrQueueNotFound     = errors.New("broker: queue not found")
	ErrExchangeNotFound  = errors.New("broker: exchange not found")
	ErrExchangeMismatch  = errors.New("broker: exchange declared with a different kind")
	ErrEmptyName         = errors.New("broker: empty queue or exchange name")
	ErrAlreadySettled    = errors.New("broker: message already acknowledged")
	ErrHandlerPanic      = errors.New("broker: handler panicked")
	ErrUnknownDriver     = errors.New("broker: unknown driver")
)
