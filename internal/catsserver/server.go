// Package catsserver implements the TCP accept loop and per-connection
// bootstrap (handshake, api_version exchange), grounded on
// internal/mirage/service.go's Service.Serve/handleConn/trackConn shape
// and cats/server.py's init_connection.
package catsserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cifrazia/cats/internal/catsapp"
	"github.com/cifrazia/cats/internal/catsconn"
	"github.com/cifrazia/cats/internal/catsevents"
	"github.com/cifrazia/cats/internal/catshandshake"
	"github.com/cifrazia/cats/internal/catsrequest"
	"github.com/cifrazia/cats/internal/catsresponse"
	"github.com/cifrazia/cats/internal/catsrouter"
	"github.com/cifrazia/cats/internal/observability"
)

// Config configures a Server instance.
type Config struct {
	ListenAddr  string
	IdleTimeout time.Duration
	TmpDir      string
	Handshake   catshandshake.Handshake // nil disables the handshake stage
}

// Server accepts CATS connections on a TCP listener and runs each one to
// completion on its own goroutine, grounded on internal/mirage/service.go's
// Service.
type Server struct {
	cfg Config
	app *catsapp.Application

	mu    sync.Mutex
	conns map[*catsconn.Connection]struct{}
}

// New builds a Server around an already-populated Application.
func New(cfg Config, app *catsapp.Application) (*Server, error) {
	if app == nil {
		return nil, fmt.Errorf("catsserver: app must not be nil")
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	observability.RegisterMetrics()
	return &Server{cfg: cfg, app: app, conns: make(map[*catsconn.Connection]struct{})}, nil
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
// It blocks until every tracked connection has been asked to close.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.app.Events.Trigger(catsevents.ServerStart, s)
	defer func() {
		s.closeAllConns()
		s.app.Events.Trigger(catsevents.ServerClose, s)
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		netConn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("catsserver: accept failed: %w", err)
		}
		go s.handleConn(ctx, netConn)
	}
}

// ListenAndServe is a convenience wrapper that opens cfg.ListenAddr and
// calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("catsserver: listen failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) trackConn(c *catsconn.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c *catsconn.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	conns := make([]*catsconn.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close(fmt.Errorf("catsserver: server shutting down"))
	}
}

// handleConn runs the api_version exchange, the optional handshake, and
// then the connection's frame read loop, matching cats/server.py's
// init_connection: read a 4-byte client api_version, write an 8-byte
// server timestamp, then (if configured) perform the handshake before
// accepting application traffic.
func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	log.Debug().Stringer("remote", netConn.RemoteAddr()).Msg("connection accepted")

	var versionBuf [4]byte
	if _, err := io.ReadFull(netConn, versionBuf[:]); err != nil {
		log.Error().Err(err).Msg("failed to read api_version")
		_ = netConn.Close()
		return
	}
	apiVersion := int(binary.BigEndian.Uint32(versionBuf[:]))

	now := uint64(time.Now().UnixMilli())
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], now)
	if _, err := netConn.Write(tsBuf[:]); err != nil {
		log.Error().Err(err).Msg("failed to write server timestamp")
		_ = netConn.Close()
		return
	}

	if s.cfg.Handshake != nil {
		hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := s.cfg.Handshake.Perform(hctx, netConn)
		cancel()
		if err != nil {
			log.Warn().Err(err).Stringer("remote", netConn.RemoteAddr()).Msg("handshake failed")
			s.app.Events.Trigger(catsevents.HandshakeFail, err)
			_ = netConn.Close()
			return
		}
		s.app.Events.Trigger(catsevents.HandshakePass, netConn.RemoteAddr())
	}

	conn := catsconn.New(netConn, s.app, catsconn.Options{
		APIVersion:  apiVersion,
		IdleTimeout: s.cfg.IdleTimeout,
		TmpDir:      s.cfg.TmpDir,
	})
	s.trackConn(conn)
	defer s.untrackConn(conn)

	dispatch := routerDispatcher(s.app.Router)
	if err := conn.Run(ctx, dispatch); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Stringer("remote", netConn.RemoteAddr()).Msg("connection run ended")
	}
}

// routerDispatcher adapts a catsrouter.Router to catsconn.Dispatcher,
// converting catsrouter.HandlerFunc (Connection-agnostic) to
// catsconn.HandlerFunc (Connection-aware) at the boundary.
func routerDispatcher(router *catsrouter.Router) catsconn.Dispatcher {
	return func(handlerID uint16, apiVersion int) (catsconn.HandlerFunc, bool) {
		item, ok := router.Lookup(handlerID, apiVersion)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, _ *catsconn.Connection, req *catsrequest.Request) (*catsresponse.Response, error) {
			return item.Callback(ctx, req)
		}, true
	}
}
