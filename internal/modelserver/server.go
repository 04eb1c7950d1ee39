package modelserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// HandlerFunc processes one decoded request. A nil result yields {ok: true}
// with no data; an error yields {ok: false, error: ...}.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Policy produces action chunks for inference requests.
type Policy interface {
	Act(ctx context.Context, req Request) (models.ActionChunk, error)
}

// Server accepts model server protocol connections and dispatches each
// request to the handler registered for its action. A health handler is
// always registered.
type Server struct {
	model    string
	handlers map[string]HandlerFunc
	logger   *slog.Logger
	ready    atomic.Bool

	// activeConnections tracks in-flight handlers so Serve can wait for
	// them on shutdown.
	activeConnections sync.WaitGroup
}

// Server timeouts. A well-behaved client sends its request immediately
// after connecting.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Delay bounds after a failed Accept, doubling while failures persist.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// NewServer creates a server that reports model in health responses.
func NewServer(model string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		model:    model,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	s.ready.Store(true)
	s.Handle(ActionHealth, s.health)
	return s
}

// Handle registers a handler for action. Panics on duplicate registration.
func (s *Server) Handle(action string, handler HandlerFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("modelserver.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// HandleInfer registers policy as the infer handler.
func (s *Server) HandleInfer(policy Policy) {
	s.Handle(ActionInfer, func(ctx context.Context, req Request) (any, error) {
		return policy.Act(ctx, req)
	})
}

// SetReady controls the readiness flag reported by health responses.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) health(ctx context.Context, req Request) (any, error) {
	return HealthData{Kind: HealthKind, Ready: s.ready.Load(), Model: s.model}, nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then
// waits for active handlers to complete. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("model server listening", "addr", listener.Addr().String(), "model", s.model)

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			s.logger.Error("accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	handler, exists := s.handlers[req.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	result, err := handler(ctx, req)
	if err != nil {
		s.logger.Debug("action failed", "action", req.Action, "trial_id", req.TrialID, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
