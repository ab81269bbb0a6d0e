package compress

import (
	"encoding/json"
	"errors"
)

// Type is the logical type of the original payload.
type Type string

const (
	TypeBuffer Type = "buffer"
	TypeString Type = "string"
	TypeObject Type = "object"
)

// AlgorithmGzip is the only algorithm the codec writes.
const AlgorithmGzip = "gzip"

// HeaderName is the transport header carrying encoded Metadata.
const HeaderName = "x-compression"

// Metadata describes how Envelope.Data was produced.
type Metadata struct {
	Compressed   bool   `json:"compressed"`
	OriginalType Type   `json:"originalType"`
	Algorithm    string `json:"algorithm,omitempty"`
	OriginalSize int    `json:"originalSize,omitempty"`
}

// Envelope is the {data, metadata} pair sent over the wire. Data is
// base64-encoded when the envelope itself is JSON-marshaled.
type Envelope struct {
	Data     []byte   `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Header encodes metadata for a message header.
func (m Metadata) Header() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// ParseHeader decodes a header produced by Metadata.Header.
func ParseHeader(v string) (Metadata, error) {
	var m Metadata
	if v == "" {
		return m, ErrInvalidHeader
	}
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return m, errors.Join(ErrInvalidHeader, err)
	}
	switch m.OriginalType {
	case TypeBuffer, TypeString, TypeObject:
	default:
		return m, ErrUnknownType
	}
	return m, nil
}

// Plain wraps already-serialized JSON bytes that arrived without metadata.
func Plain(data []byte) Envelope {
	return Envelope{Data: data, Metadata: Metadata{OriginalType: TypeObject}}
}
