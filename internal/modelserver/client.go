package modelserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// RetryPolicy controls how connectivity failures are retried. Protocol
// failures are never retried: a server that answered wrongly once will
// answer wrongly again.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint       Endpoint
	RequestTimeout time.Duration
	// MaxInflight caps concurrent requests. Zero means unbounded.
	MaxInflight int
	Retry       RetryPolicy
}

// ClientConfigFromServer converts the run configuration's server section.
func ClientConfigFromServer(cfg models.ServerConfig) ClientConfig {
	return ClientConfig{
		Endpoint:       EndpointFromConfig(cfg),
		RequestTimeout: seconds(cfg.RequestTimeoutSec),
		MaxInflight:    cfg.MaxInflight,
		Retry: RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:   cfg.Retry.Multiplier,
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Client sends inference requests to a model server. It is safe for
// concurrent use by all workers of a run.
type Client struct {
	cfg    ClientConfig
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewClient creates a client. A nil logger discards retry diagnostics.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{cfg: cfg, logger: logger}
	if cfg.MaxInflight > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxInflight))
	}
	return c
}

// Endpoint returns the server address the client talks to.
func (c *Client) Endpoint() Endpoint {
	return c.cfg.Endpoint
}

// Infer queries the policy for the next action chunk. Errors carry
// models.ErrConnectivity or models.ErrProtocol, except when ctx itself is
// done, in which case ctx.Err() is returned unwrapped.
func (c *Client) Infer(ctx context.Context, req InferRequest) (models.ActionChunk, error) {
	var chunk models.ActionChunk
	err := c.withRetry(ctx, func(ctx context.Context) error {
		resp, err := c.call(ctx, req.envelope())
		if err != nil {
			return err
		}
		chunk, err = decodeChunk(resp)
		return err
	})
	return chunk, err
}

func decodeChunk(resp Response) (models.ActionChunk, error) {
	const op = "decoding action chunk"

	if !resp.OK {
		return models.ActionChunk{}, models.Errorf(models.ErrProtocol, ActionInfer, "server error: %s", resp.Error)
	}
	if len(resp.Data) == 0 {
		return models.ActionChunk{}, models.Errorf(models.ErrProtocol, op, "response has no data")
	}

	var probe struct {
		Kind string `cbor:"kind"`
	}
	if err := codec.Unmarshal(resp.Data, &probe); err == nil && probe.Kind != "" {
		return models.ActionChunk{}, models.Errorf(models.ErrProtocol, op, "unexpected %q payload", probe.Kind)
	}

	var chunk models.ActionChunk
	if err := codec.Unmarshal(resp.Data, &chunk); err != nil {
		return models.ActionChunk{}, models.NewError(models.ErrProtocol, op, err)
	}
	if len(chunk.Actions) == 0 {
		return models.ActionChunk{}, models.Errorf(models.ErrProtocol, op, "empty action chunk")
	}
	for i, action := range chunk.Actions {
		if len(action) != models.PoseWidth {
			return models.ActionChunk{}, models.Errorf(models.ErrProtocol, op,
				"action %d has %d values, want %d", i, len(action), models.PoseWidth)
		}
		for _, v := range action {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return models.ActionChunk{}, models.Errorf(models.ErrProtocol, op, "action %d is not finite", i)
			}
		}
	}
	return chunk, nil
}

// call performs one exchange under the in-flight cap and request timeout.
func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return Response{}, err
		}
		defer c.sem.Release(1)
	}

	resp, err := roundTrip(ctx, c.cfg.Endpoint.Address(), c.cfg.RequestTimeout, req)
	if err != nil && ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	return resp, err
}

func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	policy := c.cfg.Retry
	delay := policy.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= policy.MaxAttempts || ctx.Err() != nil ||
			!models.IsKind(err, models.ErrConnectivity) {
			return err
		}

		c.logger.Debug("retrying model server request",
			"endpoint", c.cfg.Endpoint.Address(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if policy.Multiplier > 1 {
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}

// roundTrip dials addr, writes req and reads one response. The timeout
// bounds the whole exchange. Errors are classified as connectivity (dial,
// deadline, connection closed before any reply) or protocol (undecodable
// reply).
func roundTrip(ctx context.Context, addr string, timeout time.Duration, req Request) (Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, models.NewError(models.ErrConnectivity, "connecting to "+addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, models.NewError(models.ErrConnectivity, "writing request", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}

	var resp Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&resp); err != nil {
		return Response{}, classifyReadError(err)
	}
	return resp, nil
}

func classifyReadError(err error) error {
	const op = "reading response"

	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		return models.NewError(models.ErrConnectivity, op, fmt.Errorf("connection closed without a response"))
	case errors.As(err, &netErr), errors.Is(err, os.ErrDeadlineExceeded):
		return models.NewError(models.ErrConnectivity, op, err)
	default:
		return models.NewError(models.ErrProtocol, op, err)
	}
}

// IsTimeout reports whether err stems from a deadline.
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
