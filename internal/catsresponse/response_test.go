package catsresponse

import (
	"bytes"
	"context"
	"testing"

	"github.com/cifrazia/cats/internal/catsframe"
)

type fakeConn struct {
	buf    bytes.Buffer
	writer *catsframe.Writer
}

func newFakeConn() *fakeConn {
	fc := &fakeConn{}
	fc.writer = catsframe.NewWriter(&fc.buf)
	return fc
}

func (f *fakeConn) ResetIdleTimer()             {}
func (f *fakeConn) Writer() *catsframe.Writer   { return f.writer }
func (f *fakeConn) TmpDir() string              { return "" }
func (f *fakeConn) LockWrite(context.Context) (func(), error) {
	return func() {}, nil
}

func TestResponseSendToConnWritesHeaderAndBody(t *testing.T) {
	fc := newFakeConn()
	resp := &Response{MessageID: 7, HandlerID: 3, Data: []byte("payload"), DataType: 0}

	if err := resp.SendToConn(context.Background(), fc); err != nil {
		t.Fatalf("SendToConn: %v", err)
	}
	if fc.buf.Len() == 0 {
		t.Fatal("expected bytes written")
	}
	if fc.buf.Bytes()[0] != 0x00 {
		t.Fatalf("frame type byte = 0x%02x, want 0x00", fc.buf.Bytes()[0])
	}
}

func TestPongWritesTimestamp(t *testing.T) {
	fc := newFakeConn()
	var pong Pong
	if err := pong.SendToConn(context.Background(), fc); err != nil {
		t.Fatalf("SendToConn: %v", err)
	}
	if fc.buf.Len() != 9 {
		t.Fatalf("pong frame length = %d, want 9", fc.buf.Len())
	}
	if fc.buf.Bytes()[0] != 0xFF {
		t.Fatalf("frame type byte = 0x%02x, want 0xFF", fc.buf.Bytes()[0])
	}
}

func TestDownloadResponseWritesSpeed(t *testing.T) {
	fc := newFakeConn()
	resp := &DownloadResponse{Speed: 4096}
	if err := resp.SendToConn(context.Background(), fc); err != nil {
		t.Fatalf("SendToConn: %v", err)
	}
	want := []byte{0x05, 0x00, 0x00, 0x10, 0x00}
	if !bytes.Equal(fc.buf.Bytes(), want) {
		t.Fatalf("bytes = %x, want %x", fc.buf.Bytes(), want)
	}
}

func TestStreamResponseTerminatesWithZeroChunk(t *testing.T) {
	fc := newFakeConn()
	chunks := [][]byte{[]byte("ab"), []byte("cd")}
	i := 0
	resp := &StreamResponse{
		MessageID: 1,
		HandlerID: 2,
		Source: func() ([]byte, bool, error) {
			if i >= len(chunks) {
				return nil, false, nil
			}
			c := chunks[i]
			i++
			return c, true, nil
		},
	}
	if err := resp.SendToConn(context.Background(), fc); err != nil {
		t.Fatalf("SendToConn: %v", err)
	}
	tail := fc.buf.Bytes()[fc.buf.Len()-4:]
	if !bytes.Equal(tail, []byte{0, 0, 0, 0}) {
		t.Fatalf("tail = %x, want zero-length terminator", tail)
	}
}
