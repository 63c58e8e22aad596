package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
)

// HandlerFunc processes RPC params and returns a result or structured error.
type HandlerFunc func(context.Context, json.RawMessage) (any, *Error)

// StreamFunc opens a stream of frames. The connection is dedicated to the
// stream once it starts; ctx ends when the client hangs up.
type StreamFunc func(context.Context, json.RawMessage) (<-chan []byte, *Error)

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Server listens for IPC requests over a unix socket. Requests on one
// connection are answered in order; connections are served concurrently.
type Server struct {
	logger Logger

	mu       sync.RWMutex
	ln       net.Listener
	handlers map[string]HandlerFunc
	streams  map[string]StreamFunc
	closed   bool
}

// NewServer constructs an IPC server.
func NewServer(logger Logger) *Server {
	return &Server{
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		streams:  make(map[string]StreamFunc),
	}
}

// Register installs a handler for a method.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// RegisterStream installs a streaming handler for a method.
func (s *Server) RegisterStream(method string, stream StreamFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[method] = stream
}

// Start listens on endpoint and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.accept(ctx, ln)
	return nil
}

func (s *Server) accept(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logf("accept error: %v", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			if s.write(conn, failure(req.ID, Errorf("INVALID_REQUEST", "invalid json", nil))) != nil {
				return
			}
			continue
		}
		if stream := s.stream(req.Type); stream != nil {
			s.serveStream(ctx, conn, req, stream)
			return
		}
		if err := s.write(conn, s.dispatch(ctx, req)); err != nil {
			return
		}
	}
}

// dispatch runs the handler for req and builds its response.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	traceID := NewTraceID()
	s.mu.RLock()
	handler := s.handlers[req.Type]
	s.mu.RUnlock()
	if handler == nil {
		resp := failure(req.ID, Errorf("INVALID_REQUEST", "unknown method", map[string]any{"method": req.Type}))
		resp.TraceID = traceID
		return resp
	}
	result, rpcErr := handler(WithOrigin(ctx, req.Origin), req.Params)
	if rpcErr != nil {
		resp := failure(req.ID, rpcErr)
		resp.TraceID = traceID
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.logf("%s %s: encode result: %v", traceID, req.Type, err)
		resp := failure(req.ID, Errorf("INTERNAL", err.Error(), nil))
		resp.TraceID = traceID
		return resp
	}
	return Response{ID: req.ID, OK: true, Result: raw, TraceID: traceID}
}

func (s *Server) stream(method string) StreamFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[method]
}

func (s *Server) serveStream(ctx context.Context, conn net.Conn, req Request, stream StreamFunc) {
	ctx, cancel := context.WithCancel(WithOrigin(ctx, req.Origin))
	defer cancel()
	traceID := NewTraceID()
	frames, rpcErr := stream(ctx, req.Params)
	if rpcErr != nil {
		resp := failure(req.ID, rpcErr)
		resp.TraceID = traceID
		_ = s.write(conn, resp)
		return
	}
	if err := s.write(conn, Response{ID: req.ID, OK: true, TraceID: traceID}); err != nil {
		return
	}
	go func() {
		// anything the client sends, including EOF, ends the stream
		_, _ = ReadFrame(conn)
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := WriteFrame(conn, frame); err != nil {
				return
			}
		}
	}
}

func failure(id string, rpcErr *Error) Response {
	return Response{ID: id, Error: rpcErr}
}

func (s *Server) write(conn net.Conn, resp Response) error {
	if resp.TraceID == "" {
		resp.TraceID = NewTraceID()
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(conn, payload)
}

// Stop closes the listener. Open connections finish their current request.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// Errorf helps build protocol errors.
func Errorf(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}
