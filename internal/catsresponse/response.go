// Package catsresponse implements the response-family frame writers
// (Response, StreamResponse, InputResponse, DownloadResponse,
// CancelInputResponse, Pong), grounded on cats/server/response.py.
package catsresponse

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/cifrazia/cats/internal/catscodec"
	"github.com/cifrazia/cats/internal/catsframe"
	"github.com/cifrazia/cats/internal/catsheaders"
	"github.com/cifrazia/cats/internal/observability"
)

// MaxSendChunkSize bounds one StreamResponse wire chunk absent an active
// download-speed limit, matching cats/server/response.py's
// MAX_SEND_CHUNK_SIZE (1<<25 bytes).
const MaxSendChunkSize = 1 << 25

var ErrChunkNotBinary = errors.New("catsresponse: stream chunk is not binary data")

// Conn is the subset of Connection behavior a response send needs.
type Conn interface {
	ResetIdleTimer()
	Writer() *catsframe.Writer
	LockWrite(ctx context.Context) (unlock func(), err error)
	TmpDir() string
}

// Payload is anything a Response/InputResponse can carry: raw bytes, a
// JSON-able value, or a Files map, matching Codec.encode's dispatch.
type Payload = any

func encodePayload(conn Conn, data Payload, dataType uint8, compression uint8) (encoded []byte, filePath string, outType uint8, outCompression uint8, err error) {
	switch v := data.(type) {
	case nil:
		return encodeScalar(nil, dataType, compression)
	case []byte:
		return encodeScalar(v, dataType, compression)
	case catscodec.Files:
		path, err := catscodec.EncodeFiles(v, conn.TmpDir())
		if err != nil {
			return nil, "", 0, 0, err
		}
		return nil, path, catscodec.TypeFiles, 0, nil
	default:
		raw, err := catscodec.EncodeJSON(v)
		if err != nil {
			return nil, "", 0, 0, err
		}
		return encodeScalar(raw, catscodec.TypeJSON, compression)
	}
}

func encodeScalar(raw []byte, dataType uint8, compression uint8) ([]byte, string, uint8, uint8, error) {
	if dataType == 0 && raw != nil {
		dataType = catscodec.TypeBinary
	}
	if compression != 0 {
		compressed, err := catscodec.Compress(raw)
		if err != nil {
			return nil, "", 0, 0, err
		}
		return compressed, "", dataType, compression, nil
	}
	return raw, "", dataType, 0, nil
}

// rateSleeper reproduces BaseResponse.sleep: the first call yields 0
// immediately, subsequent calls yield up to one second's worth of pacing
// so that writes spread evenly across each download-speed window.
type rateSleeper struct {
	rate  uint32
	start time.Time
	first bool
}

func newRateSleeper(rate uint32) *rateSleeper {
	return &rateSleeper{rate: rate, first: true}
}

func (s *rateSleeper) next() time.Duration {
	if s.first {
		s.first = false
		s.start = time.Now()
		return 0
	}
	if s.rate == 0 {
		return 0
	}
	elapsed := time.Since(s.start)
	s.start = time.Now()
	wait := time.Second - elapsed
	if wait < 0 {
		wait = 0
	}
	if wait > time.Second {
		wait = time.Second
	}
	return wait
}

// writeBody paces and writes a complete in-memory payload, chunked at the
// connection's download speed or MaxSendChunkSize absent a limit.
func writeBody(conn Conn, data []byte, rate uint32) error {
	w := conn.Writer()
	sleeper := newRateSleeper(rate)
	maxChunk := int(rate)
	if maxChunk <= 0 {
		maxChunk = MaxSendChunkSize
	}

	left := data
	for len(left) > 0 {
		time.Sleep(sleeper.next())
		size := len(left)
		if size > maxChunk {
			size = maxChunk
		}
		chunk := left[:size]
		left = left[size:]
		conn.ResetIdleTimer()
		if err := w.WriteAll(chunk); err != nil {
			return err
		}
		observability.BytesWritten(len(chunk))
	}
	return nil
}

func writeBodyFromFile(conn Conn, path string, rate uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := conn.Writer()
	sleeper := newRateSleeper(rate)
	maxChunk := int(rate)
	if maxChunk <= 0 {
		maxChunk = MaxSendChunkSize
	}

	buf := make([]byte, maxChunk)
	for {
		time.Sleep(sleeper.next())
		n, readErr := f.Read(buf)
		if n > 0 {
			conn.ResetIdleTimer()
			if err := w.WriteAll(buf[:n]); err != nil {
				return err
			}
			observability.BytesWritten(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// Response is the basic unary response frame (type 0x00).
type Response struct {
	MessageID   uint16
	HandlerID   uint16
	Data        Payload
	DataType    uint8
	Compression uint8
	Headers     catsheaders.Headers
	DownloadRate uint32
}

func (r *Response) status() int {
	if r.Headers == nil {
		return 200
	}
	return r.Headers.Status()
}

// SendToConn encodes and writes a Response frame, serialized by the
// connection's write lock exactly as cats/server/response.py's
// `async with conn.lock_write()` does.
func (r *Response) SendToConn(ctx context.Context, conn Conn) error {
	if r.Headers == nil {
		r.Headers = catsheaders.Headers{}
	}
	r.Headers.SetStatus(r.status())

	encoded, filePath, dataType, compression, err := encodePayload(conn, r.Data, r.DataType, r.Compression)
	if err != nil {
		return err
	}
	if filePath != "" {
		defer os.Remove(filePath)
	}
	dataLen := int64(len(encoded))
	if filePath != "" {
		info, statErr := os.Stat(filePath)
		if statErr != nil {
			return statErr
		}
		dataLen = info.Size()
	}

	headerBytes, err := r.Headers.Encode()
	if err != nil {
		return err
	}
	messageHeaders := append(headerBytes, catsheaders.Separator...)

	unlock, err := conn.LockWrite(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn.ResetIdleTimer()
	w := conn.Writer()
	if err := w.WriteU8(0x00); err != nil {
		return err
	}
	observability.FrameObserved("out", 0x00)
	if err := w.WriteU16(r.HandlerID); err != nil {
		return err
	}
	if err := w.WriteU16(r.MessageID); err != nil {
		return err
	}
	if err := w.WriteU64(uint64(time.Now().UnixMilli())); err != nil {
		return err
	}
	if err := w.WriteU8(dataType); err != nil {
		return err
	}
	if err := w.WriteU8(compression); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(dataLen + int64(len(messageHeaders)))); err != nil {
		return err
	}
	if err := w.WriteAll(messageHeaders); err != nil {
		return err
	}

	if filePath != "" {
		return writeBodyFromFile(conn, filePath, r.DownloadRate)
	}
	return writeBody(conn, encoded, r.DownloadRate)
}

// ChunkSource supplies a StreamResponse's body as a sequence of byte
// chunks, the Go analogue of cats/server/response.py's sync/async
// generator input (§10.6). A nil error with nil chunk and ok=false signals
// the end of the stream.
type ChunkSource func() (chunk []byte, ok bool, err error)

// StreamResponse is the chunked-payload response frame (type 0x01).
type StreamResponse struct {
	MessageID    uint16
	HandlerID    uint16
	Source       ChunkSource
	DataType     uint8
	Compression  uint8
	Headers      catsheaders.Headers
	Offset       int
	DownloadRate uint32
}

// SendToConn streams the response body chunk by chunk, compressing and
// pacing each one independently, terminated by a zero-length chunk.
func (r *StreamResponse) SendToConn(ctx context.Context, conn Conn) error {
	if r.Headers == nil {
		r.Headers = catsheaders.Headers{}
	}
	headerBytes, err := r.Headers.Encode()
	if err != nil {
		return err
	}

	unlock, err := conn.LockWrite(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn.ResetIdleTimer()
	w := conn.Writer()
	if err := w.WriteU8(0x01); err != nil {
		return err
	}
	observability.FrameObserved("out", 0x01)
	if err := w.WriteU16(r.HandlerID); err != nil {
		return err
	}
	if err := w.WriteU16(r.MessageID); err != nil {
		return err
	}
	if err := w.WriteU64(uint64(time.Now().UnixMilli())); err != nil {
		return err
	}
	if err := w.WriteU8(r.DataType); err != nil {
		return err
	}
	if err := w.WriteU8(r.Compression); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(headerBytes))); err != nil {
		return err
	}
	if err := w.WriteAll(headerBytes); err != nil {
		return err
	}

	sleeper := newRateSleeper(r.DownloadRate)
	offset := r.Offset
	for {
		chunk, ok, err := r.Source()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if offset > 0 {
			skip := offset
			if skip > len(chunk) {
				skip = len(chunk)
			}
			chunk = chunk[skip:]
			offset -= skip
		}
		if len(chunk) == 0 {
			continue
		}
		time.Sleep(sleeper.next())
		if r.Compression != 0 {
			chunk, err = catscodec.CompressChunk(chunk)
			if err != nil {
				return err
			}
		}
		conn.ResetIdleTimer()
		if err := w.WriteChunk(chunk); err != nil {
			return err
		}
	}
	return w.WriteChunk(nil)
}

// SliceChunks adapts one big byte slice into a ChunkSource capped at
// maxChunk bytes per call, the Go analogue of _sync_gen/_async_gen's
// re-slicing of generator output to the configured download speed.
func SliceChunks(data []byte, maxChunk int) ChunkSource {
	if maxChunk <= 0 {
		maxChunk = MaxSendChunkSize
	}
	pos := 0
	return func() ([]byte, bool, error) {
		if pos >= len(data) {
			return nil, false, nil
		}
		end := pos + maxChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[pos:end]
		pos = end
		return chunk, true, nil
	}
}

// InputResponse carries the out-of-band query a handler sends while
// awaiting the peer's InputRequest answer (type 0x02).
type InputResponse struct {
	MessageID    uint16
	Data         Payload
	DataType     uint8
	Compression  uint8
	Headers      catsheaders.Headers
	Offset       int
	DownloadRate uint32
}

func (r *InputResponse) SendToConn(ctx context.Context, conn Conn) error {
	if r.Headers == nil {
		r.Headers = catsheaders.Headers{}
	}
	if r.Offset != 0 {
		r.Headers.SetOffset(r.Offset)
	}

	encoded, filePath, dataType, compression, err := encodePayload(conn, r.Data, r.DataType, r.Compression)
	if err != nil {
		return err
	}
	if filePath != "" {
		defer os.Remove(filePath)
	}
	dataLen := int64(len(encoded))
	if filePath != "" {
		info, statErr := os.Stat(filePath)
		if statErr != nil {
			return statErr
		}
		dataLen = info.Size()
	}

	headerBytes, err := r.Headers.Encode()
	if err != nil {
		return err
	}
	messageHeaders := append(headerBytes, catsheaders.Separator...)

	unlock, err := conn.LockWrite(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn.ResetIdleTimer()
	w := conn.Writer()
	if err := w.WriteU8(0x02); err != nil {
		return err
	}
	observability.FrameObserved("out", 0x02)
	if err := w.WriteU16(r.MessageID); err != nil {
		return err
	}
	if err := w.WriteU8(dataType); err != nil {
		return err
	}
	if err := w.WriteU8(compression); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(dataLen + int64(len(messageHeaders)))); err != nil {
		return err
	}
	if err := w.WriteAll(messageHeaders); err != nil {
		return err
	}

	if filePath != "" {
		return writeBodyFromFile(conn, filePath, r.DownloadRate)
	}
	return writeBody(conn, encoded, r.DownloadRate)
}

// DownloadResponse tells the peer the new outbound rate limit to use on
// its side (type 0x05).
type DownloadResponse struct {
	Speed uint32
}

func (r *DownloadResponse) SendToConn(ctx context.Context, conn Conn) error {
	unlock, err := conn.LockWrite(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn.ResetIdleTimer()
	w := conn.Writer()
	if err := w.WriteU8(0x05); err != nil {
		return err
	}
	observability.FrameObserved("out", 0x05)
	return w.WriteU32(r.Speed)
}

// CancelInputResponse tells the peer to abandon a pending Input exchange
// (type 0x06).
type CancelInputResponse struct {
	MessageID uint16
}

func (r *CancelInputResponse) SendToConn(ctx context.Context, conn Conn) error {
	unlock, err := conn.LockWrite(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn.ResetIdleTimer()
	w := conn.Writer()
	if err := w.WriteU8(0x06); err != nil {
		return err
	}
	observability.FrameObserved("out", 0x06)
	return w.WriteU16(r.MessageID)
}

// Pong answers a Ping with the server's current timestamp (type 0xFF).
type Pong struct{}

func (Pong) SendToConn(ctx context.Context, conn Conn) error {
	unlock, err := conn.LockWrite(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	conn.ResetIdleTimer()
	w := conn.Writer()
	if err := w.WriteU8(0xFF); err != nil {
		return err
	}
	observability.FrameObserved("out", 0xFF)
	return w.WriteU64(uint64(time.Now().UnixMilli()))
}
