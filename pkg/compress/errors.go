package compress

import "errors"

var (
	ErrSerialize       = errors.New("compress: failed to serialize payload")
	ErrDecompress      = errors.New("compress: failed to decompress payload")
	ErrDecode          = errors.New("compress: failed to decode payload")
	ErrUnknownType     = errors.New("compress: unknown original type")
	ErrPayloadTooLarge = errors.New("compress: decompressed payload exceeds limit")
	ErrInvalidHeader   = errors.New("compress: invalid metadata header")
)
