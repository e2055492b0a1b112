// Package control exposes a unix-socket command channel into a running
// pipeline, so the CLI can query and stop it without touching its
// state files.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Command types understood by the pipeline.
const (
	CmdStatus = "status"
	CmdStop   = "stop"
)

// Command is one request to a running pipeline.
type Command struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Response answers a command.
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Handler processes a command and returns response data.
type Handler func(cmd Command) (map[string]interface{}, error)

// Server listens on the pipeline's control socket.
type Server struct {
	socketPath string
	handler    Handler
	listener   net.Listener

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer prepares a server at socketPath. A socket file left by a
// crashed run is removed; the exclusive pipeline lock already
// guarantees no live owner.
func NewServer(socketPath string, handler Handler) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins accepting commands in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}
	s.listener = listener
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(time.Second)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: control socket deadline: %v\n", err)
			return
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			fmt.Fprintf(os.Stderr, "Warning: control accept failed: %v\n", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.respond(conn, Response{Success: false, Error: fmt.Sprintf("bad command: %v", err)})
		return
	}

	data, err := s.handler(cmd)
	if err != nil {
		s.respond(conn, Response{Success: false, Message: "command failed", Error: err.Error()})
		return
	}
	s.respond(conn, Response{Success: true, Message: cmd.Type + " ok", Data: data})
}

func (s *Server) respond(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: control response failed: %v\n", err)
	}
}

// Stop shuts the server down and removes the socket file. Safe to call
// more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		select {
		case <-s.doneCh:
		case <-time.After(5 * time.Second):
			fmt.Fprintf(os.Stderr, "Warning: control server shutdown timed out\n")
		}
		if err := os.RemoveAll(s.socketPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove control socket: %v\n", err)
		}
	})
}

// SocketPath returns the server's socket path.
func (s *Server) SocketPath() string { return s.socketPath }
