package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Codec compresses payloads above a size threshold.
// All methods are safe for concurrent use.
type Codec struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithMaxParallel bounds concurrent compress/decompress work.
// Defaults to GOMAXPROCS.
func WithMaxParallel(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a codec. Out-of-range levels fall back to gzip.DefaultCompression.
func New(cfg Config, opts ...Option) *Codec {
	if cfg.Level < gzip.HuffmanOnly || cfg.Level > gzip.BestCompression {
		cfg.Level = gzip.DefaultCompression
	}
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	c := &Codec{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Codec) Config() Config { return c.cfg }

// MaybeCompress serializes v and compresses the result when it is larger than
// the threshold. A compression failure is logged and the uncompressed bytes
// are returned; only serialization errors are reported.
func (c *Codec) MaybeCompress(ctx context.Context, v any) (Envelope, error) {
	data, typ, err := serialize(v)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Data:     data,
		Metadata: Metadata{OriginalType: typ},
	}
	if !c.cfg.Enabled || len(data) <= c.cfg.Threshold {
		return env, nil
	}

	compressed, err := c.withSlot(ctx, func() ([]byte, error) { return c.gzip(data) })
	if err != nil {
		c.logger.WarnContext(ctx, "compression failed, sending uncompressed payload",
			logger.Component("compress"),
			slog.Int("size", len(data)),
			logger.Error(err))
		return env, nil
	}

	env.Data = compressed
	env.Metadata.Compressed = true
	env.Metadata.Algorithm = AlgorithmGzip
	env.Metadata.OriginalSize = len(data)
	return env, nil
}

// MaybeDecompress reconstructs the original value: []byte, string, or the
// generic JSON shape of an object. Object numbers decode as json.Number.
func (c *Codec) MaybeDecompress(ctx context.Context, env Envelope) (any, error) {
	data, err := c.Bytes(ctx, env)
	if err != nil {
		return nil, err
	}

	switch env.Metadata.OriginalType {
	case TypeBuffer:
		return data, nil
	case TypeString:
		return string(data), nil
	case TypeObject, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, errors.Join(ErrDecode, err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: trailing data after object", ErrDecode)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Metadata.OriginalType)
	}
}

// DecodeInto decodes the envelope into dst. Objects are JSON-decoded; strings
// and buffers may target *string, *[]byte or any JSON-compatible destination.
func (c *Codec) DecodeInto(ctx context.Context, env Envelope, dst any) error {
	data, err := c.Bytes(ctx, env)
	if err != nil {
		return err
	}

	switch env.Metadata.OriginalType {
	case TypeBuffer, TypeString:
		switch d := dst.(type) {
		case *[]byte:
			*d = append((*d)[:0], data...)
			return nil
		case *string:
			*d = string(data)
			return nil
		case *any:
			if env.Metadata.OriginalType == TypeString {
				*d = string(data)
			} else {
				*d = data
			}
			return nil
		}
		// Strings carrying JSON can still be decoded into a struct.
		if err := json.Unmarshal(data, dst); err != nil {
			return errors.Join(ErrDecode, err)
		}
		return nil
	case TypeObject, "":
		if err := json.Unmarshal(data, dst); err != nil {
			return errors.Join(ErrDecode, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Metadata.OriginalType)
	}
}

// Bytes returns the canonical (uncompressed) bytes of the envelope.
func (c *Codec) Bytes(ctx context.Context, env Envelope) ([]byte, error) {
	if !env.Metadata.Compressed {
		return env.Data, nil
	}
	if env.Metadata.Algorithm != "" && env.Metadata.Algorithm != AlgorithmGzip {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrDecompress, env.Metadata.Algorithm)
	}
	return c.withSlot(ctx, func() ([]byte, error) { return c.gunzip(env.Data) })
}

func (c *Codec) withSlot(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	return fn()
}

func (c *Codec) gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)
	w, err := gzip.NewWriterLevel(&buf, c.cfg.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(ErrDecompress, err)
	}
	defer r.Close()

	var src io.Reader = r
	limit := c.cfg.MaxDecompressedSize
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.Join(ErrDecompress, err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}

func serialize(v any) ([]byte, Type, error) {
	switch val := v.(type) {
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, "", fmt.Errorf("%w: invalid raw JSON", ErrSerialize)
		}
		return val, TypeObject, nil
	case []byte:
		return val, TypeBuffer, nil
	case string:
		return []byte(val), TypeString, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", errors.Join(ErrSerialize, err)
		}
		return data, TypeObject, nil
	}
}
