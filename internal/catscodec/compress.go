package catscodec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compress gzips a payload in full, matching the spec's optional whole-
// payload compression flag (§3, §5). Used for BINARY and JSON payloads
// that fit in memory; FILES payloads are never compressed since the spool
// file itself serves as the streamed representation.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("catscodec: gzip compress failed: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("catscodec: gzip compress failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("catscodec: gzip decompress failed: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("catscodec: gzip decompress failed: %w", err)
	}
	return out, nil
}

// CompressChunk gzips one streamed chunk independently, for callers that
// compress a StreamRequest/StreamResponse body chunk-by-chunk rather than
// buffering the whole payload (§4.1, §10.6).
func CompressChunk(chunk []byte) ([]byte, error) {
	return Compress(chunk)
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(chunk []byte) ([]byte, error) {
	return Decompress(chunk)
}
