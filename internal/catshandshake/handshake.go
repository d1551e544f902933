// Package catshandshake implements the optional pre-READY handshake step a
// Connection runs immediately after accept, grounded on
// cats/handshake.py's Handshake/SHA256TimeHandshake.
//
// Ownership boundary:
// - handshake candidate generation and comparison
// - the single byte accept/reject reply (§9(a))
package catshandshake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cifrazia/cats/internal/auth"
)

// ErrInvalidHandshake is returned when the peer's handshake bytes match
// none of the current window's accepted candidates.
var ErrInvalidHandshake = errors.New("catshandshake: invalid handshake")

// Handshake runs a pre-READY verification step over conn, reading whatever
// bytes its scheme requires and replying per §9(a): a single 0x01 (accept)
// or 0x00 (reject) byte written back to the peer.
type Handshake interface {
	Perform(ctx context.Context, rw io.ReadWriter) error
}

const hashHexLen = sha256.Size * 2

// SHA256TimeHandshake validates a peer-supplied hex digest of
// sha256(secret ∥ ascii(time_bucket + 10·offset)) against a sliding window
// of valid offsets, the Go port of cats/handshake.py's SHA256TimeHandshake.
type SHA256TimeHandshake struct {
	Secret      []byte
	ValidWindow int           // candidates span [-ValidWindow, +ValidWindow], minimum 1
	Timeout     time.Duration // read deadline for the handshake bytes, default 5s
}

// NewSHA256TimeHandshake validates its arguments and returns a ready
// handshake, mirroring the Python constructor's assertions.
func NewSHA256TimeHandshake(secret []byte, validWindow int, timeout time.Duration) (*SHA256TimeHandshake, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("catshandshake: secret must not be empty")
	}
	if validWindow <= 0 {
		validWindow = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SHA256TimeHandshake{Secret: secret, ValidWindow: validWindow, Timeout: timeout}, nil
}

// candidates returns the accepted hex digests for the ten-second bucket
// containing now, spanning ValidWindow buckets on either side.
func (h *SHA256TimeHandshake) candidates(now time.Time) []string {
	bucket := (now.Unix() / 10) * 10
	out := make([]string, 0, 2*h.ValidWindow+1)
	for i := -h.ValidWindow; i <= h.ValidWindow; i++ {
		t := bucket + int64(i)*10
		sum := sha256.Sum256(append(append([]byte{}, h.Secret...), []byte(strconv.FormatInt(t, 10))...))
		out = append(out, hex.EncodeToString(sum[:]))
	}
	return out
}

// Perform reads a 64-byte hex digest from rw, validates it against the
// current time window, and writes the single-byte accept/reject reply.
func (h *SHA256TimeHandshake) Perform(ctx context.Context, rw io.ReadWriter) error {
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, hashHexLen)
		_, err := io.ReadFull(rw, buf)
		done <- result{buf: buf, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.Timeout):
		return fmt.Errorf("catshandshake: timed out waiting for handshake bytes")
	}
	if res.err != nil {
		return fmt.Errorf("catshandshake: failed to read handshake bytes: %w", res.err)
	}

	accepted := h.accept(string(res.buf))
	reply := byte(0x00)
	if accepted {
		reply = 0x01
	}
	if _, err := rw.Write([]byte{reply}); err != nil {
		return fmt.Errorf("catshandshake: failed to write handshake reply: %w", err)
	}
	if !accepted {
		return ErrInvalidHandshake
	}
	return nil
}

// accept compares candidate against every hash in the current window using
// a constant-time comparison per candidate, improving on the Python
// reference's plain `in` list membership check.
func (h *SHA256TimeHandshake) accept(candidate string) bool {
	ok := false
	for _, want := range h.candidates(time.Now()) {
		if (auth.StaticToken{Token: want}).Validate(candidate) == nil {
			ok = true
		}
	}
	return ok
}
