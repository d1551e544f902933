package catshandshake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

type rwBuf struct {
	bytes.Buffer
}

func TestAcceptsCurrentBucketHash(t *testing.T) {
	h, err := NewSHA256TimeHandshake([]byte("secret"), 1, time.Second)
	if err != nil {
		t.Fatalf("NewSHA256TimeHandshake: %v", err)
	}

	bucket := (time.Now().Unix() / 10) * 10
	sum := sha256.Sum256(append([]byte("secret"), []byte(strconv.FormatInt(bucket, 10))...))
	digest := hex.EncodeToString(sum[:])

	var rw rwBuf
	rw.WriteString(digest)

	if err := h.Perform(context.Background(), &rw); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if got := rw.Bytes(); len(got) != 1 || got[0] != 0x01 {
		t.Fatalf("reply = %v, want [0x01]", got)
	}
}

func TestRejectsWrongSecret(t *testing.T) {
	h, err := NewSHA256TimeHandshake([]byte("secret"), 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	bucket := (time.Now().Unix() / 10) * 10
	sum := sha256.Sum256(append([]byte("wrong-secret"), []byte(strconv.FormatInt(bucket, 10))...))
	digest := hex.EncodeToString(sum[:])

	var rw rwBuf
	rw.WriteString(digest)

	err = h.Perform(context.Background(), &rw)
	if err == nil {
		t.Fatal("expected rejection for wrong secret")
	}
	if got := rw.Bytes(); len(got) != 1 || got[0] != 0x00 {
		t.Fatalf("reply = %v, want [0x00]", got)
	}
}

func TestConstructorRejectsEmptySecret(t *testing.T) {
	if _, err := NewSHA256TimeHandshake(nil, 1, time.Second); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
