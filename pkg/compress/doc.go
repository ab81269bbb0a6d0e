// Package compress implements the self-describing payload codec shared by the
// broker and the websocket gateway.
//
// MaybeCompress turns a value into an Envelope: raw bytes, a string, or any
// JSON-serialisable object is reduced to its canonical byte form, the logical
// type is recorded in Metadata, and the bytes are gzip-compressed only when
// compression is enabled and the payload exceeds the configured threshold.
// MaybeDecompress reverses the process regardless of whether compression
// happened, so
//
//	env, _ := codec.MaybeCompress(ctx, v)
//	out, _ := codec.MaybeDecompress(ctx, env) // out equals v
//
// holds for []byte, string and JSON objects (objects come back in their
// generic JSON shape, or can be decoded into a concrete type with DecodeInto).
//
// Compression is CPU bound, so concurrent calls are bounded by a weighted
// semaphore (WithMaxParallel); callers queue instead of saturating every core.
package compress
