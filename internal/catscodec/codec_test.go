package catscodec

import (
	"bytes"
	"os"
	"testing"
)

func TestEncodeDecodeBinary(t *testing.T) {
	data := []byte("hello world")
	if got := EncodeBinary(data); !bytes.Equal(got, data) {
		t.Fatalf("EncodeBinary = %q", got)
	}
	if got := DecodeBinary(nil); len(got) != 0 {
		t.Fatalf("DecodeBinary(nil) = %q, want empty", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	raw, err := EncodeJSON(map[string]any{"a": 1, "b": "two"})
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	decoded, err := DecodeJSON(raw)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok || m["b"] != "two" {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestDecodeJSONEmptyYieldsEmptyObject(t *testing.T) {
	v, err := DecodeJSON(nil)
	if err != nil {
		t.Fatalf("DecodeJSON(nil): %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || len(m) != 0 {
		t.Fatalf("v = %#v, want empty map", v)
	}
}

func TestEscapesClosingScriptTag(t *testing.T) {
	raw, err := EncodeJSON(map[string]any{"html": "</script>"})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("</script>")) {
		t.Fatalf("closing tag was not escaped: %s", raw)
	}
	if !bytes.Contains(raw, []byte(`<\/script>`)) {
		t.Fatalf("expected escaped closing tag, got %s", raw)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 200)
	compressed, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Fatalf("compressed size %d not smaller than original %d", len(compressed), len(data))
	}
	decompressed, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEncodeDecodeFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()

	srcPath := dir + "/source.txt"
	if err := os.WriteFile(srcPath, []byte("file contents"), 0o600); err != nil {
		t.Fatal(err)
	}

	files := Files{
		"doc": {Name: "source.txt", Path: srcPath, Size: int64(len("file contents")), Mime: "text/plain"},
	}

	spooled, err := EncodeFiles(files, dir)
	if err != nil {
		t.Fatalf("EncodeFiles: %v", err)
	}
	defer os.Remove(spooled)

	decoded, err := DecodeFilesFromPath(spooled, dir)
	if err != nil {
		t.Fatalf("DecodeFilesFromPath: %v", err)
	}
	defer func() {
		for _, info := range decoded {
			os.Remove(info.Path)
		}
	}()

	entry, ok := decoded["doc"]
	if !ok {
		t.Fatalf("decoded missing 'doc' key: %+v", decoded)
	}
	if entry.Name != "source.txt" || entry.Size != int64(len("file contents")) {
		t.Fatalf("entry = %+v", entry)
	}
	body, err := os.ReadFile(entry.Path)
	if err != nil {
		t.Fatalf("reading spooled body: %v", err)
	}
	if string(body) != "file contents" {
		t.Fatalf("spooled body = %q", body)
	}
}

func TestDecodeFilesFromBytes(t *testing.T) {
	dir := t.TempDir()
	header := []byte(`[{"key":"a","name":"a.bin","size":3}]`)
	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(filesSeparator)
	buf.Write([]byte("xyz"))

	decoded, err := DecodeFilesFromBytes(buf.Bytes(), dir)
	if err != nil {
		t.Fatalf("DecodeFilesFromBytes: %v", err)
	}
	defer func() {
		for _, info := range decoded {
			os.Remove(info.Path)
		}
	}()

	entry, ok := decoded["a"]
	if !ok || entry.Size != 3 {
		t.Fatalf("decoded = %+v", decoded)
	}
}
