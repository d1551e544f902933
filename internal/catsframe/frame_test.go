package catsframe

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestReaderFixedWidth(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0xAA, 0xBB, 0xCC, 0xDD, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	r := NewReader(bytes.NewReader(buf))

	u8, err := r.ReadU8()
	if err != nil || u8 != 0x01 {
		t.Fatalf("ReadU8 = %v, %v", u8, err)
	}
	u16, err := r.ReadU16()
	if err != nil || u16 != 0x0203 {
		t.Fatalf("ReadU16 = %v, %v", u16, err)
	}
	u32, err := r.ReadU32()
	if err != nil || u32 != 0xAABBCCDD {
		t.Fatalf("ReadU32 = %x, %v", u32, err)
	}
	u64, err := r.ReadU64()
	if err != nil || u64 != 0x1122334455667788 {
		t.Fatalf("ReadU64 = %x, %v", u64, err)
	}
}

func TestReaderOnReadCallback(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3, 4}))
	var total int
	r.OnRead = func(n int) { total += n }
	if _, err := r.ReadExact(4); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if total != 4 {
		t.Fatalf("OnRead total = %d, want 4", total)
	}
}

func TestReadUntilFindsSeparator(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("hello\x00\x00world")))
	got, err := r.ReadUntil([]byte{0x00, 0x00}, 64)
	if err != nil {
		t.Fatalf("ReadUntil: %v", err)
	}
	if string(got) != "hello\x00\x00" {
		t.Fatalf("ReadUntil = %q", got)
	}
}

func TestReadUntilExceedsMax(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("helloworld")))
	_, err := r.ReadUntil([]byte{0x00, 0x00}, 5)
	if !errors.Is(err, ErrSeparatorNotFound) {
		t.Fatalf("err = %v, want ErrSeparatorNotFound", err)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteU8(0x7F); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteU16(0xBEEF); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteU32(0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteU64(0x0123456789ABCDEF); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	if v, _ := r.ReadU8(); v != 0x7F {
		t.Fatalf("u8 = %x", v)
	}
	if v, _ := r.ReadU16(); v != 0xBEEF {
		t.Fatalf("u16 = %x", v)
	}
	if v, _ := r.ReadU32(); v != 0xDEADBEEF {
		t.Fatalf("u32 = %x", v)
	}
	if v, _ := r.ReadU64(); v != 0x0123456789ABCDEF {
		t.Fatalf("u64 = %x", v)
	}
}

func TestWriteChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteChunk([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteChunk(nil); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	data, ok, err := ReadChunk(r)
	if err != nil || !ok || string(data) != "hello" {
		t.Fatalf("ReadChunk #1 = %q, %v, %v", data, ok, err)
	}
	_, ok, err = ReadChunk(r)
	if err != nil || ok {
		t.Fatalf("ReadChunk terminator = ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestRateLimitWindow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetRate(1024)

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	start := time.Now()
	if err := w.WriteAll(payload); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	// 4096 bytes at 1024 B/s should take a bit over 3 seconds to drain.
	if elapsed < 2*time.Second {
		t.Fatalf("rate limiting did not pace writes: elapsed %s", elapsed)
	}
	if buf.Len() != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), len(payload))
	}
}
