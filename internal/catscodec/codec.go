// Package catscodec implements the three CATS payload codecs (BINARY, JSON,
// FILES) and the whole-payload gzip compression wrapper, grounded on
// cats/codecs.py's ByteCodec/JsonCodec/FileCodec/Codec dispatch table.
//
// Ownership boundary:
// - payload encode/decode for the three content types named in §3
// - the type-id constants and their names (TypeName)
package catscodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type ids, matching the wire values cats/codecs.py assigns each codec.
const (
	TypeBinary uint8 = 0x00
	TypeJSON   uint8 = 0x01
	TypeFiles  uint8 = 0x02
)

var (
	// ErrUnsupportedType is returned when EncodeJSON or EncodeFiles cannot
	// encode the value or files it is given.
	ErrUnsupportedType = errors.New("catscodec: unsupported data type")
	// ErrUnknownTypeID names a type id with no codec. No function in this
	// package returns it; the catsrequest decoders report an unsupported
	// data type with their own error.
	ErrUnknownTypeID = errors.New("catscodec: unknown type id")
)

// TypeName returns the human-readable content type name for a type id,
// or "unknown" if unrecognized.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeBinary:
		return "bytes"
	case TypeJSON:
		return "json"
	case TypeFiles:
		return "files"
	default:
		return "unknown"
	}
}

// EncodeBinary passes b through unchanged; nil encodes as an empty slice.
func EncodeBinary(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// DecodeBinary mirrors EncodeBinary for the decode direction.
func DecodeBinary(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// EncodeJSON marshals v to UTF-8 JSON without encoding/json's HTML
// escaping, then escapes "</" as "<\/" to avoid closing an embedding
// <script> tag, as cats/codecs.py does, for parity with browser-facing
// clients.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	return escapeClosingTag(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// DecodeJSON unmarshals JSON bytes into a generic Go value (map, slice,
// string, float64, bool, or nil), matching ujson.decode's loose typing.
// An empty buffer decodes to an empty object, matching cats/codecs.py.
func DecodeJSON(data []byte) (any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("catscodec: failed to parse JSON from data: %w", err)
	}
	return v, nil
}

func escapeClosingTag(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == '<' && i+1 < len(raw) && raw[i+1] == '/' {
			out = append(out, '<', '\\', '/')
			i++
			continue
		}
		out = append(out, raw[i])
	}
	return out
}
