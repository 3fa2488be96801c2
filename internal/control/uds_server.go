package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Handler executes one command.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Response
}

// UDSServer serves JSON-RPC 2.0 over a Unix domain socket. Requests and
// responses are newline-delimited JSON objects; a connection may carry any
// number of requests.
type UDSServer struct {
	socketPath string
	handler    Handler
	listener   net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewUDSServer creates a new UDS server.
func NewUDSServer(socketPath string, handler Handler) *UDSServer {
	return &UDSServer{
		socketPath: socketPath,
		handler:    handler,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket. It is separate from Serve so callers know the
// socket exists before they connect.
func (s *UDSServer) Listen() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}

	// Owner only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	slog.Info("uds server listening", "socket", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is cancelled, then stops the server.
func (s *UDSServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go s.acceptLoop(ctx)

	<-ctx.Done()
	slog.Info("uds server stopping", "reason", ctx.Err())
	return s.Stop()
}

func (s *UDSServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isStopped() {
				return
			}
			slog.Error("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

func (s *UDSServer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *UDSServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req JSONRPCRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || s.isStopped() {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				slog.Debug("uds connection closed", "error", err)
				return
			}
			// The stream position is lost after a syntax error; answer and hang up.
			enc.Encode(JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &ErrorInfo{Code: ErrCodeParseError, Message: fmt.Sprintf("parse error: %v", err)},
			})
			return
		}

		var resp Response
		if req.Method == "" {
			resp = errorResponse("", ErrCodeInvalidRequest, "method is required")
		} else {
			resp = s.handler.Handle(ctx, Command{
				Method: req.Method,
				Params: req.Params,
				ID:     fmt.Sprintf("%v", req.ID),
			})
		}

		err := enc.Encode(JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  resp.Result,
			Error:   resp.Error,
		})
		if err != nil {
			slog.Error("failed to send response", "error", err)
			return
		}
	}
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers. Stop is idempotent.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.RemoveAll(s.socketPath)

	slog.Info("uds server stopped")
	return nil
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}
