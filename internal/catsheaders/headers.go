// Package catsheaders implements the JSON message-header object carried
// inside every Request/Response family frame, separated from the payload
// by the two-byte `\x00\x00` sentinel (§3, §4.2, §9(b)).
package catsheaders

import (
	"encoding/json"
	"fmt"
)

// Separator delimits the message-header JSON object from the frame payload.
var Separator = []byte{0x00, 0x00}

// FileEntry describes one file within a FILES payload's Files header.
type FileEntry struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type,omitempty"`
}

// Headers is the JSON object carried by Request/Response/InputRequest
// frames. Offset, Files, and Status are the recognized keys from §3;
// arbitrary additional application keys pass through untouched.
type Headers map[string]any

// New builds Headers from a plain map, validating that an Offset header, if
// present, is a non-negative integer. Keys and values containing NUL bytes
// are not rejected; Encode writes them as the JSON escape \u0000, so no raw
// NUL reaches the wire.
func New(src map[string]any) (Headers, error) {
	h := Headers{}
	for k, v := range src {
		h[k] = v
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h Headers) validate() error {
	if v, ok := h["Offset"]; ok {
		n, ok := asInt(v)
		if !ok || n < 0 {
			return fmt.Errorf("catsheaders: invalid Offset header")
		}
	}
	return nil
}

// Offset returns the Offset header, defaulting to 0.
func (h Headers) Offset() int {
	if h == nil {
		return 0
	}
	n, _ := asInt(h["Offset"])
	return n
}

// SetOffset sets the Offset header.
func (h Headers) SetOffset(n int) {
	h["Offset"] = n
}

// Status returns the Status header, defaulting to 200.
func (h Headers) Status() int {
	if h == nil {
		return 200
	}
	if n, ok := asInt(h["Status"]); ok {
		return n
	}
	return 200
}

// SetStatus sets the Status header.
func (h Headers) SetStatus(status int) {
	if status == 0 {
		status = 200
	}
	h["Status"] = status
}

// Files returns the Files header entries, or nil if absent.
func (h Headers) Files() ([]FileEntry, error) {
	raw, ok := h["Files"]
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("catsheaders: invalid Files header: %w", err)
	}
	var entries []FileEntry
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil, fmt.Errorf("catsheaders: invalid Files header: %w", err)
	}
	return entries, nil
}

// SetFiles sets the Files header entries.
func (h Headers) SetFiles(entries []FileEntry) {
	h["Files"] = entries
}

// Encode serializes the headers object to UTF-8 JSON. The caller appends
// Separator to frame the boundary with the payload.
func (h Headers) Encode() ([]byte, error) {
	if h == nil {
		h = Headers{}
	}
	return json.Marshal(map[string]any(h))
}

// Decode parses a JSON object (with the trailing separator already
// stripped by the caller) into Headers.
func Decode(raw []byte) (Headers, error) {
	if len(raw) == 0 {
		return Headers{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("catsheaders: decode failed: %w", err)
	}
	h := Headers(m)
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
