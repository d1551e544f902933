package catsrequest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cifrazia/cats/internal/catscodec"
	"github.com/cifrazia/cats/internal/catsframe"
	"github.com/cifrazia/cats/internal/catsheaders"
)

// ErrMessageTooLarge reports a BINARY/JSON payload whose declared length
// exceeds the connection's configured MaxPlainDataSize; only FILES
// payloads may exceed it, spooling to disk instead (§3, §7).
var ErrMessageTooLarge = errors.New("catsrequest: message larger than configured limit")

// ErrDuplicateInput reports a second Input query opened under a message id
// that already has one pending, matching cats/server/request.py's
// ProtocolError('Input query with MID ... already exists').
var ErrDuplicateInput = errors.New("catsrequest: input query already pending for this message id")

// Request is the basic unary request frame (type 0x00).
type Request struct {
	MessageID   uint16
	HandlerID   uint16
	SendTime    time.Time
	DataType    uint8
	Compression uint8
	Headers     catsheaders.Headers
	Data        any
	DataBytes   []byte // set when DataType == catscodec.TypeBinary
	FilePath    string // set when the payload spooled to disk (large or FILES)
}

// ReadRequest decodes a Request frame body: a fixed >HHQBBI header
// (handler_id, message_id, send_time_ms, data_type, compression, data_len),
// the header+payload region up to the `\x00\x00` separator, then the
// payload bytes themselves (§4.3, cats/server/request.py Request).
func ReadRequest(conn Conn, r *catsframe.Reader) (*Request, error) {
	conn.ResetIdleTimer()

	handlerID, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	messageID, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	sendTimeMs, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	dataType, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	compression, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	dataLen, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	headerBytes, err := r.ReadUntil(catsheaders.Separator, int(dataLen))
	if err != nil {
		return nil, err
	}
	remaining := int64(dataLen) - int64(len(headerBytes))
	headers, err := catsheaders.Decode(headerBytes[:len(headerBytes)-len(catsheaders.Separator)])
	if err != nil {
		return nil, err
	}

	req := &Request{
		MessageID:   messageID,
		HandlerID:   handlerID,
		SendTime:    time.UnixMilli(int64(sendTimeMs)).UTC(),
		DataType:    dataType,
		Compression: compression,
		Headers:     headers,
	}
	if err := req.recvData(conn, r, remaining); err != nil {
		return nil, err
	}
	return req, nil
}

func (req *Request) recvData(conn Conn, r *catsframe.Reader, dataLen int64) error {
	if dataLen > conn.MaxPlainDataSize() && req.DataType != catscodec.TypeFiles {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, dataLen)
	}

	if dataLen > conn.MaxPlainDataSize() {
		path, err := spoolToFile(conn, r, dataLen)
		if err != nil {
			return err
		}
		req.FilePath = path
		files, err := catscodec.DecodeFilesFromPath(path, conn.TmpDir())
		if err != nil {
			return err
		}
		req.Data = files
		return nil
	}

	buf, err := r.ReadExact(int(dataLen))
	if err != nil {
		return err
	}
	if req.Compression != 0 {
		buf, err = catscodec.Decompress(buf)
		if err != nil {
			return err
		}
	}
	return req.decode(conn, buf)
}

func (req *Request) decode(conn Conn, buf []byte) error {
	switch req.DataType {
	case catscodec.TypeBinary:
		req.DataBytes = catscodec.DecodeBinary(buf)
	case catscodec.TypeJSON:
		v, err := catscodec.DecodeJSON(buf)
		if err != nil {
			return err
		}
		req.Data = v
	case catscodec.TypeFiles:
		files, err := catscodec.DecodeFilesFromBytes(buf, conn.TmpDir())
		if err != nil {
			return err
		}
		req.Data = files
	default:
		return fmt.Errorf("catsrequest: unsupported data type %d", req.DataType)
	}
	return nil
}

func spoolToFile(conn Conn, r *catsframe.Reader, n int64) (path string, err error) {
	out, err := os.CreateTemp(conn.TmpDir(), "cats-recv-*.tmp")
	if err != nil {
		return "", err
	}
	defer out.Close()

	left := n
	for left > 0 {
		conn.ResetIdleTimer()
		step := left
		if step > 1<<20 {
			step = 1 << 20
		}
		chunk, err := r.ReadExact(int(step))
		if err != nil {
			os.Remove(out.Name())
			return "", err
		}
		if _, err := out.Write(chunk); err != nil {
			os.Remove(out.Name())
			return "", err
		}
		left -= step
	}
	return out.Name(), nil
}

// StreamRequest is the chunked-payload request frame (type 0x01). Each
// chunk is individually length-prefixed and individually decompressed,
// terminated by a zero-length chunk (§4.1, §10.6).
type StreamRequest struct {
	MessageID   uint16
	HandlerID   uint16
	SendTime    uint64
	DataType    uint8
	Compression uint8
	Headers     catsheaders.Headers
	Data        any
	DataBytes   []byte
	DataLen     int64
	FilePath    string
}

// ReadStreamRequest decodes a StreamRequest frame body: a fixed >HHQBB
// header, a u32-prefixed headers blob, then a sequence of u32-prefixed
// chunks terminated by a zero-length chunk.
func ReadStreamRequest(conn Conn, r *catsframe.Reader) (*StreamRequest, error) {
	conn.ResetIdleTimer()

	handlerID, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	messageID, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	sendTime, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	dataType, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	compression, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	headersSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	headerBytes, err := r.ReadExact(int(headersSize))
	if err != nil {
		return nil, err
	}
	headers, err := catsheaders.Decode(headerBytes)
	if err != nil {
		return nil, err
	}

	req := &StreamRequest{
		MessageID:   messageID,
		HandlerID:   handlerID,
		SendTime:    sendTime,
		DataType:    dataType,
		Compression: compression,
		Headers:     headers,
	}
	if err := req.recvData(conn, r); err != nil {
		return nil, err
	}
	return req, nil
}

func (req *StreamRequest) recvData(conn Conn, r *catsframe.Reader) error {
	out, err := os.CreateTemp(conn.TmpDir(), "cats-stream-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())
	defer out.Close()

	conn.ResetIdleTimer()
	var total int64
	for {
		chunk, ok, err := catsframe.ReadChunk(r)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		conn.ResetIdleTimer()
		if req.Compression != 0 {
			chunk, err = catscodec.DecompressChunk(chunk)
			if err != nil {
				return err
			}
		}
		if _, err := out.Write(chunk); err != nil {
			return err
		}
		total += int64(len(chunk))
	}
	req.DataLen = total

	if total > conn.MaxPlainDataSize() {
		if req.DataType != catscodec.TypeFiles {
			return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, total)
		}
		if err := out.Sync(); err != nil {
			return err
		}
		files, err := catscodec.DecodeFilesFromPath(out.Name(), conn.TmpDir())
		if err != nil {
			return err
		}
		req.Data = files
		return nil
	}

	if _, err := out.Seek(0, 0); err != nil {
		return err
	}
	buf := make([]byte, total)
	if total > 0 {
		if _, err := out.ReadAt(buf, 0); err != nil {
			return err
		}
	}
	return req.decode(conn, buf)
}

func (req *StreamRequest) decode(conn Conn, buf []byte) error {
	switch req.DataType {
	case catscodec.TypeBinary:
		req.DataBytes = catscodec.DecodeBinary(buf)
	case catscodec.TypeJSON:
		v, err := catscodec.DecodeJSON(buf)
		if err != nil {
			return err
		}
		req.Data = v
	case catscodec.TypeFiles:
		files, err := catscodec.DecodeFilesFromBytes(buf, conn.TmpDir())
		if err != nil {
			return err
		}
		req.Data = files
	default:
		return fmt.Errorf("catsrequest: unsupported data type %d", req.DataType)
	}
	return nil
}

// InputRequest is a reply to a pending Input query (type 0x02); its shape
// mirrors Request minus handler_id and send_time, since it answers an
// existing exchange.
type InputRequest struct {
	MessageID   uint16
	DataType    uint8
	Compression uint8
	Headers     catsheaders.Headers
	Data        any
	DataBytes   []byte
}

// ReadInputRequest decodes an InputRequest frame body: >HBBI header
// (message_id, data_type, compression, data_len), then headers+payload.
func ReadInputRequest(conn Conn, r *catsframe.Reader) (*InputRequest, error) {
	messageID, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	dataType, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	compression, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	dataLen, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	headerBytes, err := r.ReadUntil(catsheaders.Separator, int(dataLen))
	if err != nil {
		return nil, err
	}
	remaining := int64(dataLen) - int64(len(headerBytes))
	headers, err := catsheaders.Decode(headerBytes[:len(headerBytes)-len(catsheaders.Separator)])
	if err != nil {
		return nil, err
	}

	ir := &InputRequest{MessageID: messageID, DataType: dataType, Compression: compression, Headers: headers}
	buf, err := r.ReadExact(int(remaining))
	if err != nil {
		return nil, err
	}
	if compression != 0 {
		buf, err = catscodec.Decompress(buf)
		if err != nil {
			return nil, err
		}
	}
	switch dataType {
	case catscodec.TypeBinary:
		ir.DataBytes = catscodec.DecodeBinary(buf)
	case catscodec.TypeJSON:
		v, err := catscodec.DecodeJSON(buf)
		if err != nil {
			return nil, err
		}
		ir.Data = v
	case catscodec.TypeFiles:
		files, err := catscodec.DecodeFilesFromBytes(buf, conn.TmpDir())
		if err != nil {
			return nil, err
		}
		ir.Data = files
	default:
		return nil, fmt.Errorf("catsrequest: unsupported data type %d", dataType)
	}
	return ir, nil
}

// DownloadSpeed carries a peer-requested outbound rate limit in bytes/sec
// (type 0x05); 0 means unlimited.
type DownloadSpeed struct {
	Speed uint32
}

func ReadDownloadSpeed(conn Conn, r *catsframe.Reader) (*DownloadSpeed, error) {
	conn.ResetIdleTimer()
	speed, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &DownloadSpeed{Speed: speed}, nil
}

// CancelInput asks the peer to abandon a pending Input exchange (type 0x06).
type CancelInput struct {
	MessageID uint16
}

func ReadCancelInput(conn Conn, r *catsframe.Reader) (*CancelInput, error) {
	conn.ResetIdleTimer()
	messageID, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	return &CancelInput{MessageID: messageID}, nil
}

// Ping carries the peer's send timestamp for round-trip measurement
// (type 0xFF, §10.7).
type Ping struct {
	SendTime time.Time
	RecvTime time.Time
}

func ReadPing(conn Conn, r *catsframe.Reader) (*Ping, error) {
	conn.ResetIdleTimer()
	sendTimeMs, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return &Ping{
		SendTime: time.UnixMilli(int64(sendTimeMs)).UTC(),
		RecvTime: time.Now().UTC(),
	}, nil
}

// Input tracks a server-initiated query awaiting the peer's InputRequest
// reply, grounded on cats/server/request.py's Input class. Cancel is safe
// to call more than once.
type Input struct {
	MessageID   uint16
	BypassCount bool
	Answer      chan *InputRequest

	ctx    context.Context
	cancel context.CancelFunc
}

// NewInput creates a pending Input with a timeout derived from ctx. The
// caller is responsible for registering it in the connection's pending
// table and removing it once Answer fires or Cancel is called.
func NewInput(parent context.Context, messageID uint16, timeout time.Duration, bypassCount bool) *Input {
	ctx := parent
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	return &Input{
		MessageID:   messageID,
		BypassCount: bypassCount,
		Answer:      make(chan *InputRequest, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Resolve delivers ir to a waiter, if any is still listening.
func (in *Input) Resolve(ir *InputRequest) {
	select {
	case in.Answer <- ir:
	default:
	}
}

// Cancel releases the Input's timer/context resources. Safe to call
// multiple times.
func (in *Input) Cancel() {
	in.cancel()
}

// Done reports the context governing this Input's lifetime, for a waiter
// to select against alongside Answer.
func (in *Input) Done() <-chan struct{} {
	return in.ctx.Done()
}

// Err reports why Done fired (context.DeadlineExceeded or Canceled), or nil.
func (in *Input) Err() error {
	return in.ctx.Err()
}
