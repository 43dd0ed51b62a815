// Package server exposes the dispatcher over a framed TCP socket. The
// protocol carries no authentication; the listener is meant for loopback
// addresses only.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victoralfred/cadgate/config"
	"github.com/victoralfred/cadgate/dispatcher"
	"github.com/victoralfred/cadgate/internal/frame"
)

// Server accepts client connections and feeds requests to the dispatcher.
type Server struct {
	cfg      config.ServerConfig
	disp     *dispatcher.Dispatcher
	listener net.Listener
	clients  chan struct{}
	wg       sync.WaitGroup
	shutdown int32
}

// New creates a server over the given dispatcher.
func New(cfg config.ServerConfig, disp *dispatcher.Dispatcher) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 16
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 4 * 1024 * 1024
	}
	return &Server{
		cfg:     cfg,
		disp:    disp,
		clients: make(chan struct{}, cfg.MaxClients),
	}
}

// ListenAndServe binds the configured address and serves until the context
// is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until the context is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln

	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&s.shutdown, 1)
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shutdown) == 1 {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		select {
		case s.clients <- struct{}{}:
		default:
			// Over the client cap. Tell the client why instead of a silent
			// close.
			s.refuse(conn)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.clients }()
			s.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the bound listener address, useful when binding port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) refuse(conn net.Conn) {
	defer conn.Close()
	resp := &dispatcher.Response{
		Status:  dispatcher.StatusError,
		Code:    "RATE_LIMITED",
		Message: "too many connected clients",
	}
	if data, err := dispatcher.EncodeResponse(resp); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = frame.Write(conn, data)
	}
}

// handleConn serves one client: read a frame, dispatch, write a frame. One
// request at a time per connection; concurrency comes from multiple clients.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		payload, err := frame.Read(conn, s.cfg.MaxFrameSize)
		if err != nil {
			if errors.Is(err, frame.ErrTooLarge) {
				s.writeResponse(conn, &dispatcher.Response{
					Status:  dispatcher.StatusError,
					Code:    "FRAME_TOO_LARGE",
					Message: err.Error(),
				})
			}
			// EOF, idle timeout, or torn frame: the connection is done
			// either way.
			return
		}

		req, err := dispatcher.DecodeRequest(payload)
		if err != nil {
			if !s.writeResponse(conn, &dispatcher.Response{
				Status:  dispatcher.StatusError,
				Code:    "BAD_REQUEST",
				Message: err.Error(),
			}) {
				return
			}
			continue
		}

		resp := s.disp.Dispatch(ctx, req)
		if !s.writeResponse(conn, resp) {
			log.Printf("client %s: write failed, dropping connection", remote)
			return
		}
	}
}

// writeResponse writes one framed response; false means the connection is
// unusable.
func (s *Server) writeResponse(conn net.Conn, resp *dispatcher.Response) bool {
	data, err := dispatcher.EncodeResponse(resp)
	if err != nil {
		// Responses are built from plain maps; this indicates a handler
		// returned something unmarshalable.
		data, err = dispatcher.EncodeResponse(&dispatcher.Response{
			ID:      resp.ID,
			Status:  dispatcher.StatusError,
			Code:    "TOOL_FAULT",
			Message: fmt.Sprintf("encoding response: %v", err),
		})
		if err != nil {
			return false
		}
	}

	if s.cfg.IdleTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	return frame.Write(conn, data) == nil
}
