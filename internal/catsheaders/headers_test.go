package catsheaders

import "testing"

func TestOffsetDefaultsToZero(t *testing.T) {
	h := Headers{}
	if got := h.Offset(); got != 0 {
		t.Fatalf("Offset() = %d, want 0", got)
	}
}

func TestSetOffsetRoundTrip(t *testing.T) {
	h := Headers{}
	h.SetOffset(42)
	if got := h.Offset(); got != 42 {
		t.Fatalf("Offset() = %d, want 42", got)
	}
}

func TestStatusDefaultsTo200(t *testing.T) {
	h := Headers{}
	if got := h.Status(); got != 200 {
		t.Fatalf("Status() = %d, want 200", got)
	}
}

func TestSetStatusZeroFallsBackTo200(t *testing.T) {
	h := Headers{}
	h.SetStatus(0)
	if got := h.Status(); got != 200 {
		t.Fatalf("Status() after SetStatus(0) = %d, want 200", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Headers{}
	h.SetOffset(10)
	h.SetStatus(404)

	raw, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Offset() != 10 || decoded.Status() != 404 {
		t.Fatalf("round trip mismatch: offset=%d status=%d", decoded.Offset(), decoded.Status())
	}
}

func TestDecodeEmptyYieldsEmptyHeaders(t *testing.T) {
	h, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if h.Status() != 200 || h.Offset() != 0 {
		t.Fatalf("empty headers should default: %+v", h)
	}
}

func TestNewRejectsNegativeOffset(t *testing.T) {
	_, err := New(map[string]any{"Offset": -1})
	if err == nil {
		t.Fatal("expected error for negative Offset")
	}
}

func TestFilesRoundTrip(t *testing.T) {
	h := Headers{}
	h.SetFiles([]FileEntry{{Key: "avatar", Name: "a.png", Size: 100, Type: "image/png"}})

	entries, err := h.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.png" {
		t.Fatalf("Files() = %+v", entries)
	}
}
