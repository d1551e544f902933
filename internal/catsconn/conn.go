// Package catsconn implements the per-connection state machine: the
// accept-to-close lifecycle, frame dispatch, the pending-inputs table, and
// the free message-id pool, grounded on cats/server/conn.py's Connection
// and internal/mirage/service.go's handleConn/trackConn shape.
package catsconn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cifrazia/cats/internal/catsapp"
	"github.com/cifrazia/cats/internal/catschannel"
	"github.com/cifrazia/cats/internal/catscodec"
	"github.com/cifrazia/cats/internal/catsevents"
	"github.com/cifrazia/cats/internal/catsframe"
	"github.com/cifrazia/cats/internal/catsheaders"
	"github.com/cifrazia/cats/internal/catsrequest"
	"github.com/cifrazia/cats/internal/catsresponse"
	"github.com/cifrazia/cats/internal/observability"
)

// State is one stage of a connection's lifecycle (§4.3).
type State int32

const (
	StateAccepted State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrProtocol reports a peer violation of the CATS framing protocol:
// unknown message type, reused message id, or an answer to an input that
// no longer exists (cats/errors.py's ProtocolError).
var ErrProtocol = errors.New("catsconn: protocol violation")

// messageIDLow/High bound the range free message ids are drawn from,
// matching cats/server/conn.py's `randint(17783, 35565)` convention. This
// is a convention, not a protocol requirement (SPEC_FULL §10.5): any
// disjoint-enough range of transient ids works.
const (
	messageIDLow  = 17783
	messageIDHigh = 35565
)

// Connection wraps one accepted TCP socket: its frame reader/writer, the
// handshake/dispatch state machine, and the bookkeeping a Request/Response
// exchange needs (pending inputs, in-flight message ids, idle timeout).
type Connection struct {
	netConn net.Conn
	reader  *catsframe.Reader
	writer  *catsframe.Writer

	app        *catsapp.Application
	apiVersion int
	key        catsapp.ConnKey // assigned once from a process-wide counter, see nextConnKey

	state  atomic.Int32
	closed atomic.Bool

	identityMu sync.RWMutex
	identity   catsapp.Identity

	writeMu sync.Mutex // real mutex; replaces cats/server/conn.py's is_sending spin-poll (SPEC_FULL §10.4)

	messagePoolMu sync.Mutex
	messagePool   map[uint16]struct{}

	inputsMu sync.Mutex
	inputs   map[uint16]*catsrequest.Input

	idleTimeout time.Duration
	idleTimerMu sync.Mutex
	idleTimer   *time.Timer

	tmpDir string
	rng    *rand.Rand
}

// Options configures a new Connection.
type Options struct {
	APIVersion       int
	IdleTimeout      time.Duration
	TmpDir           string
	InitialDownload  uint32
}

// nextConnKey hands out process-wide unique ConnKeys; a monotonic counter
// is simpler and just as collision-free as hashing the net.Conn pointer.
var nextConnKey atomic.Uint64

// New wraps an accepted net.Conn. Callers must call Run to start its read
// loop and Close to release idle-timer and socket resources.
func New(netConn net.Conn, app *catsapp.Application, opts Options) *Connection {
	c := &Connection{
		netConn:     netConn,
		reader:      catsframe.NewReader(netConn),
		writer:      catsframe.NewWriter(netConn),
		app:         app,
		apiVersion:  opts.APIVersion,
		key:         catsapp.ConnKey(nextConnKey.Add(1)),
		messagePool: make(map[uint16]struct{}),
		inputs:      make(map[uint16]*catsrequest.Input),
		idleTimeout: opts.IdleTimeout,
		tmpDir:      opts.TmpDir,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if opts.InitialDownload != 0 {
		c.writer.SetRate(opts.InitialDownload)
	}
	c.state.Store(int32(StateAccepted))
	return c
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// RemoteAddr exposes the peer address for logging.
func (c *Connection) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// Reader/Writer satisfy catsrequest.Conn / catsresponse.Conn.
func (c *Connection) Reader() *catsframe.Reader { return c.reader }
func (c *Connection) Writer() *catsframe.Writer { return c.writer }
func (c *Connection) TmpDir() string            { return c.tmpDir }
func (c *Connection) MaxPlainDataSize() int64   { return c.app.MaxPlainDataSizeBytes }

// ResetIdleTimer restarts the idle-close timer, run on every frame read or
// write so a connection closes only after a full IdleTimeout of silence.
func (c *Connection) ResetIdleTimer() {
	if c.idleTimeout <= 0 {
		return
	}
	c.idleTimerMu.Lock()
	defer c.idleTimerMu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
		c.Close(fmt.Errorf("catsconn: idle timeout after %s", c.idleTimeout))
	})
}

// LockWrite serializes writers of a complete frame (header, headers blob,
// and body must land on the wire contiguously). Unlike
// cats/server/conn.py's is_sending spin-poll, this is a real mutex.
func (c *Connection) LockWrite(ctx context.Context) (func(), error) {
	done := make(chan struct{})
	go func() {
		c.writeMu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return c.writeMu.Unlock, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// Identity returns the peer identity bound by SignIn, or nil if the
// connection has not signed in.
func (c *Connection) Identity() catsapp.Identity {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.identity
}

// SignIn binds identity to the connection and attaches it to the implicit
// model channels (§3.1), mirroring cats/server/conn.py's sign_in.
func (c *Connection) SignIn(identity catsapp.Identity) {
	c.identityMu.Lock()
	c.identity = identity
	c.identityMu.Unlock()

	for _, ch := range catsapp.SignInChannels(identity) {
		c.app.Channels.Attach(c.key, ch)
	}
}

// SignOut detaches the connection from its identity's model channels and
// clears the bound identity.
func (c *Connection) SignOut() {
	c.identityMu.Lock()
	identity := c.identity
	c.identity = nil
	c.identityMu.Unlock()

	if identity == nil {
		return
	}
	for _, ch := range catsapp.SignInChannels(identity) {
		if ch == catschannel.All {
			continue
		}
		c.app.Channels.Detach(c.key, ch)
	}
}

// FreeMessageID draws a transient message id from the conventional
// [17783, 35565) range that is not already in flight on this connection
// (SPEC_FULL §10.5).
func (c *Connection) FreeMessageID() uint16 {
	c.messagePoolMu.Lock()
	defer c.messagePoolMu.Unlock()
	for {
		id := uint16(messageIDLow + c.rng.Intn(messageIDHigh-messageIDLow))
		if _, inUse := c.messagePool[id]; !inUse {
			return id
		}
	}
}

func (c *Connection) reserveMessageID(id uint16) error {
	c.messagePoolMu.Lock()
	defer c.messagePoolMu.Unlock()
	if _, inUse := c.messagePool[id]; inUse {
		return fmt.Errorf("%w: message id %d already in use", ErrProtocol, id)
	}
	c.messagePool[id] = struct{}{}
	return nil
}

func (c *Connection) releaseMessageID(id uint16) {
	c.messagePoolMu.Lock()
	defer c.messagePoolMu.Unlock()
	delete(c.messagePool, id)
}

// Input opens a server-initiated query and blocks until the peer answers
// with an InputRequest, the context is cancelled, or timeout elapses
// (app.InputTimeoutSeconds when timeout <= 0). Unless bypassLimit is set,
// when the connection already has more than app.InputLimit pending inputs
// that do not bypass the count, the one with the lowest message id is
// evicted, matching cats/server/request.py's BaseRequest.input eviction
// rule (SPEC_FULL §10.1).
func (c *Connection) Input(ctx context.Context, resp *catsresponse.InputResponse, bypassLimit, bypassCount bool, timeout time.Duration) (*catsrequest.InputRequest, error) {
	if timeout <= 0 {
		timeout = time.Duration(c.app.InputTimeoutSeconds) * time.Second
	}

	c.inputsMu.Lock()
	if !bypassLimit {
		amount := 0
		var oldest uint16
		haveOldest := false
		for id, in := range c.inputs {
			if in.BypassCount {
				continue
			}
			amount++
			if !haveOldest || id < oldest {
				oldest = id
				haveOldest = true
			}
		}
		if amount > c.app.InputLimit && haveOldest {
			c.inputs[oldest].Cancel()
			delete(c.inputs, oldest)
		}
	}
	if _, exists := c.inputs[resp.MessageID]; exists {
		c.inputsMu.Unlock()
		return nil, fmt.Errorf("%w: %w (message id %d)", ErrProtocol, catsrequest.ErrDuplicateInput, resp.MessageID)
	}
	in := catsrequest.NewInput(ctx, resp.MessageID, timeout, bypassCount)
	c.inputs[resp.MessageID] = in
	c.inputsMu.Unlock()
	observability.PendingInputOpened()

	defer func() {
		c.inputsMu.Lock()
		delete(c.inputs, resp.MessageID)
		c.inputsMu.Unlock()
		in.Cancel()
		observability.PendingInputClosed()
	}()

	if err := resp.SendToConn(ctx, c); err != nil {
		return nil, err
	}

	select {
	case answer := <-in.Answer:
		return answer, nil
	case <-in.Done():
		return nil, in.Err()
	}
}

func (c *Connection) resolveInput(ir *catsrequest.InputRequest) error {
	c.inputsMu.Lock()
	in, ok := c.inputs[ir.MessageID]
	c.inputsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: received answer but no input exists for message id %d", ErrProtocol, ir.MessageID)
	}
	in.Resolve(ir)
	return nil
}

func (c *Connection) cancelInput(messageID uint16) {
	c.inputsMu.Lock()
	in, ok := c.inputs[messageID]
	if ok {
		delete(c.inputs, messageID)
	}
	c.inputsMu.Unlock()
	if ok {
		in.Cancel()
	}
}

// Close idempotently tears down the connection: cancels pending inputs,
// stops the idle timer, signs out, and closes the socket.
func (c *Connection) Close(cause error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.setState(StateClosed)
	c.SignOut()
	c.app.Channels.DetachAll(c.key)

	c.inputsMu.Lock()
	for id, in := range c.inputs {
		in.Cancel()
		delete(c.inputs, id)
	}
	c.inputsMu.Unlock()

	c.idleTimerMu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.idleTimerMu.Unlock()

	_ = c.netConn.Close()

	outcome := "clean"
	if cause != nil {
		outcome = "error"
		log.Error().Err(cause).Stringer("remote", c.RemoteAddr()).Msg("connection closed")
	}
	observability.ConnClosed(outcome)
	c.app.Events.Trigger(catsevents.ConnClose, connCloseEvent{Conn: c, Err: cause})
}

type connCloseEvent struct {
	Conn *Connection
	Err  error
}

// Run executes the connection's read loop until the peer disconnects, a
// protocol error occurs, or ctx is cancelled. It always leaves the
// connection closed on return.
func (c *Connection) Run(ctx context.Context, dispatch Dispatcher) error {
	defer c.Close(nil)
	c.setState(StateReady)
	observability.ConnOpened()
	c.app.Events.Trigger(catsevents.ConnStart, c)
	c.ResetIdleTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.tick(ctx, dispatch); err != nil {
			c.Close(err)
			return err
		}
	}
}

// Dispatcher resolves a decoded Request to the HandlerFunc that should run
// it; catsrouter.Router.Lookup feeds this through a thin adapter so
// catsconn never imports catsrouter directly (catsrouter has no reverse
// dependency on connections).
type Dispatcher func(handlerID uint16, apiVersion int) (HandlerFunc, bool)

// HandlerFunc mirrors catsrouter.HandlerFunc without importing that
// package, keeping catsconn and catsrouter's dependency graph one-way.
type HandlerFunc func(ctx context.Context, c *Connection, req *catsrequest.Request) (*catsresponse.Response, error)

func (c *Connection) tick(ctx context.Context, dispatch Dispatcher) error {
	c.ResetIdleTimer()
	typeID, err := c.reader.ReadU8()
	if err != nil {
		return err
	}
	observability.FrameObserved("in", typeID)

	switch typeID {
	case catsrequest.TypeRequest:
		req, err := catsrequest.ReadRequest(c, c.reader)
		if err != nil {
			return err
		}
		go c.handleRequest(ctx, req, dispatch)
		return nil

	case catsrequest.TypeStreamRequest:
		sreq, err := catsrequest.ReadStreamRequest(c, c.reader)
		if err != nil {
			return err
		}
		go c.handleStreamRequest(ctx, sreq, dispatch)
		return nil

	case catsrequest.TypeInputRequest:
		ir, err := catsrequest.ReadInputRequest(c, c.reader)
		if err != nil {
			return err
		}
		return c.resolveInput(ir)

	case catsrequest.TypeDownloadSpeed:
		ds, err := catsrequest.ReadDownloadSpeed(c, c.reader)
		if err != nil {
			return err
		}
		if ds.Speed == 0 || (ds.Speed >= 1024 && ds.Speed <= 33_554_432) {
			c.writer.SetRate(ds.Speed)
		} else {
			log.Error().Uint32("speed", ds.Speed).Msg("unsupported download speed limit")
		}
		return nil

	case catsrequest.TypeCancelInput:
		ci, err := catsrequest.ReadCancelInput(c, c.reader)
		if err != nil {
			return err
		}
		c.cancelInput(ci.MessageID)
		return nil

	case catsrequest.TypePing:
		ping, err := catsrequest.ReadPing(c, c.reader)
		if err != nil {
			return err
		}
		c.app.Events.Trigger(catsevents.PingObserved, ping)
		var pong catsresponse.Pong
		return pong.SendToConn(ctx, c)

	default:
		return fmt.Errorf("%w: unknown message type 0x%02x", ErrProtocol, typeID)
	}
}

func (c *Connection) handleRequest(ctx context.Context, req *catsrequest.Request, dispatch Dispatcher) {
	if err := c.reserveMessageID(req.MessageID); err != nil {
		log.Error().Err(err).Msg("duplicate message id")
		return
	}
	defer c.releaseMessageID(req.MessageID)

	started := time.Now()
	handler, ok := dispatch(req.HandlerID, c.apiVersion)
	if !ok {
		c.app.Events.Trigger(catsevents.HandleError, fmt.Errorf("%w: handler %d not found", ErrProtocol, req.HandlerID))
		return
	}

	c.app.Events.Trigger(catsevents.BeforeRequest, req)
	resp, err := handler(ctx, c, req)
	c.app.Events.Trigger(catsevents.AfterRequest, req)

	status := 200
	if err != nil {
		status = 500
		c.app.Events.Trigger(catsevents.HandleError, handleErrorEvent{Request: req, Err: err})
		resp = errorResponse(req, err)
	}
	observability.HandlerObserved(req.HandlerID, status, time.Since(started))

	if resp == nil {
		return
	}
	resp.HandlerID = req.HandlerID
	resp.MessageID = req.MessageID
	c.app.Events.Trigger(catsevents.BeforeResponse, resp)
	if err := resp.SendToConn(ctx, c); err != nil {
		log.Error().Err(err).Msg("failed to send response")
		return
	}
	c.app.Events.Trigger(catsevents.AfterResponse, resp)
}

func (c *Connection) handleStreamRequest(ctx context.Context, req *catsrequest.StreamRequest, dispatch Dispatcher) {
	asRequest := &catsrequest.Request{
		MessageID:   req.MessageID,
		HandlerID:   req.HandlerID,
		DataType:    req.DataType,
		Compression: req.Compression,
		Headers:     req.Headers,
		Data:        req.Data,
		DataBytes:   req.DataBytes,
		FilePath:    req.FilePath,
	}
	c.handleRequest(ctx, asRequest, dispatch)
}

type handleErrorEvent struct {
	Request *catsrequest.Request
	Err     error
}

// errorResponse builds the default error body, matching
// cats/middleware.py's default_error_handler (SPEC_FULL §10.2).
func errorResponse(req *catsrequest.Request, err error) *catsresponse.Response {
	headers := catsheaders.Headers{}
	headers.SetStatus(500)
	return &catsresponse.Response{
		Data: map[string]any{
			"error":   fmt.Sprintf("%T", err),
			"message": err.Error(),
		},
		DataType: catscodec.TypeJSON,
		Headers:  headers,
	}
}
