package modelserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

func endpointOf(t *testing.T, ln net.Listener) Endpoint {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

// startServer runs srv on a loopback port until the test ends.
func startServer(t *testing.T, srv *Server) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return endpointOf(t, ln)
}

// rawListener accepts connections and hands them to handle, for servers
// that misbehave on purpose.
func rawListener(t *testing.T, handle func(conn net.Conn, stop <-chan struct{})) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stop := make(chan struct{})
	t.Cleanup(func() {
		close(stop)
		ln.Close()
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn, stop)
			}()
		}
	}()
	return endpointOf(t, ln)
}

func closedPort(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := endpointOf(t, ln)
	require.NoError(t, ln.Close())
	return ep
}

func hang(conn net.Conn, stop <-chan struct{}) {
	<-stop
}

func respond(resp Response) func(net.Conn, <-chan struct{}) {
	return func(conn net.Conn, stop <-chan struct{}) {
		var req Request
		codec.NewDecoder(conn).Decode(&req)
		codec.NewEncoder(conn).Encode(resp)
	}
}

func mustMarshal(t *testing.T, v any) codec.RawMessage {
	t.Helper()
	data, err := codec.Marshal(v)
	require.NoError(t, err)
	return data
}

func testObservation() models.Observation {
	return models.Observation{
		Step:    3,
		Proprio: []float64{0.3, 0, 0.3, 3.14, 0, 0, models.GripperOpen},
		State: map[string][]float64{
			models.StateTargetPosition: {0.5, 0.1, 0},
		},
	}
}

func TestProbeReady(t *testing.T) {
	ep := startServer(t, NewServer("scripted", nil))

	r := Probe(context.Background(), ep, time.Second)
	assert.True(t, r.Ready, r.Detail)
	assert.Equal(t, "scripted", r.Model)
	assert.Empty(t, r.Reason)
	assert.Positive(t, r.Latency)
}

func TestProbeServerNotReady(t *testing.T) {
	srv := NewServer("scripted", nil)
	srv.SetReady(false)
	ep := startServer(t, srv)

	r := Probe(context.Background(), ep, time.Second)
	assert.False(t, r.Ready)
	assert.Equal(t, ReasonServerNotReady, r.Reason)
}

func TestProbeUnreachable(t *testing.T) {
	start := time.Now()
	r := Probe(context.Background(), closedPort(t), time.Second)

	assert.False(t, r.Ready)
	assert.Contains(t, []NotReadyReason{ReasonConnectionRefused, ReasonTimeout}, r.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeTimeout(t *testing.T) {
	ep := rawListener(t, hang)

	start := time.Now()
	r := Probe(context.Background(), ep, 200*time.Millisecond)

	assert.False(t, r.Ready)
	assert.Equal(t, ReasonTimeout, r.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeMalformedResponse(t *testing.T) {
	tests := []struct {
		name   string
		handle func(net.Conn, <-chan struct{})
	}{
		{
			name: "not cbor",
			handle: func(conn net.Conn, stop <-chan struct{}) {
				var req Request
				codec.NewDecoder(conn).Decode(&req)
				io.WriteString(conn, "HTTP/1.1 200 OK\r\n\r\n")
			},
		},
		{
			name:   "inference payload",
			handle: respond(Response{OK: true, Data: mustMarshal(t, models.ActionChunk{Actions: [][]float64{{0, 0, 0, 0, 0, 0, 1}}})}),
		},
		{
			name:   "no data",
			handle: respond(Response{OK: true}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Probe(context.Background(), rawListener(t, tt.handle), time.Second)
			assert.False(t, r.Ready)
			assert.Equal(t, ReasonMalformedResponse, r.Reason, r.Detail)
		})
	}
}

func TestWaitReady(t *testing.T) {
	ep := startServer(t, NewServer("scripted", nil))
	r := WaitReady(context.Background(), ep, time.Second, 3, 10*time.Millisecond)
	assert.True(t, r.Ready)

	start := time.Now()
	r = WaitReady(context.Background(), closedPort(t), 100*time.Millisecond, 3, 20*time.Millisecond)
	assert.False(t, r.Ready)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func newTestClient(ep Endpoint) *Client {
	return NewClient(ClientConfig{
		Endpoint:       ep,
		RequestTimeout: time.Second,
		Retry:          RetryPolicy{MaxAttempts: 1},
	}, nil)
}

func TestInferScriptedPolicy(t *testing.T) {
	srv := NewServer("scripted", nil)
	srv.HandleInfer(NewScriptedPolicy())
	ep := startServer(t, srv)

	chunk, err := newTestClient(ep).Infer(context.Background(), InferRequest{
		TrialID:     "abc",
		Step:        3,
		Observation: testObservation(),
		Instruction: "pick up cup",
	})
	require.NoError(t, err)
	require.Len(t, chunk.Actions, 2)
	assert.Equal(t, []float64{0.5, 0.1, 0.1, 3.14, 0, 0, models.GripperOpen}, chunk.Actions[0])
	assert.Equal(t, "approach", chunk.Debug["phase"])
}

func TestInferProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler HandlerFunc
	}{
		{
			name: "server error",
			handler: func(ctx context.Context, req Request) (any, error) {
				return nil, errors.New("model crashed")
			},
		},
		{
			name: "empty chunk",
			handler: func(ctx context.Context, req Request) (any, error) {
				return models.ActionChunk{}, nil
			},
		},
		{
			name: "wrong width",
			handler: func(ctx context.Context, req Request) (any, error) {
				return models.ActionChunk{Actions: [][]float64{{1, 2, 3}}}, nil
			},
		},
		{
			name: "health payload",
			handler: func(ctx context.Context, req Request) (any, error) {
				return HealthData{Kind: HealthKind, Ready: true}, nil
			},
		},
		{
			name: "no data",
			handler: func(ctx context.Context, req Request) (any, error) {
				return nil, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer("test", nil)
			srv.Handle(ActionInfer, tt.handler)
			ep := startServer(t, srv)

			_, err := newTestClient(ep).Infer(context.Background(), InferRequest{Observation: testObservation()})
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.ErrProtocol), err)
		})
	}
}

func TestInferMalformedBytes(t *testing.T) {
	ep := rawListener(t, func(conn net.Conn, stop <-chan struct{}) {
		var req Request
		codec.NewDecoder(conn).Decode(&req)
		conn.Write([]byte{0xff, 0x00, 0x13})
	})

	_, err := newTestClient(ep).Infer(context.Background(), InferRequest{Observation: testObservation()})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrProtocol), err)
}

func TestInferConnectivityErrors(t *testing.T) {
	_, err := newTestClient(closedPort(t)).Infer(context.Background(), InferRequest{})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrConnectivity), err)

	c := NewClient(ClientConfig{Endpoint: rawListener(t, hang), RequestTimeout: 100 * time.Millisecond}, nil)
	_, err = c.Infer(context.Background(), InferRequest{})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrConnectivity), err)
	assert.True(t, IsTimeout(err))
}

func TestInferCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(rawListener(t, hang))

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := c.Infer(ctx, InferRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferRetriesConnectivityOnly(t *testing.T) {
	var conns atomic.Int32
	chunk := models.ActionChunk{Actions: [][]float64{{0.4, 0, 0.2, 0, 0, 0, -1}}}
	ep := rawListener(t, func(conn net.Conn, stop <-chan struct{}) {
		if conns.Add(1) == 1 {
			return
		}
		respond(Response{OK: true, Data: mustMarshal(t, chunk)})(conn, stop)
	})

	c := NewClient(ClientConfig{
		Endpoint:       ep,
		RequestTimeout: time.Second,
		Retry:          RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	}, nil)

	got, err := c.Infer(context.Background(), InferRequest{})
	require.NoError(t, err)
	assert.Equal(t, chunk.Actions, got.Actions)
	assert.Equal(t, int32(2), conns.Load())

	var calls atomic.Int32
	srv := NewServer("test", nil)
	srv.Handle(ActionInfer, func(ctx context.Context, req Request) (any, error) {
		calls.Add(1)
		return nil, errors.New("bad observation")
	})
	c = NewClient(ClientConfig{
		Endpoint:       startServer(t, srv),
		RequestTimeout: time.Second,
		Retry:          RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond},
	}, nil)

	_, err = c.Infer(context.Background(), InferRequest{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInferMaxInflight(t *testing.T) {
	var current, peak atomic.Int32
	srv := NewServer("test", nil)
	srv.Handle(ActionInfer, func(ctx context.Context, req Request) (any, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return models.ActionChunk{Actions: [][]float64{{0, 0, 0, 0, 0, 0, 0}}}, nil
	})
	ep := startServer(t, srv)

	c := NewClient(ClientConfig{Endpoint: ep, RequestTimeout: 5 * time.Second, MaxInflight: 2}, nil)

	var wg sync.WaitGroup
	for range 6 {
		wg.Go(func() {
			_, err := c.Infer(context.Background(), InferRequest{})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestServerRejectsUnknownAction(t *testing.T) {
	ep := startServer(t, NewServer("test", nil))

	resp, err := roundTrip(context.Background(), ep.Address(), time.Second, Request{Action: "teleport"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown action")

	resp, err = roundTrip(context.Background(), ep.Address(), time.Second, Request{})
	require.NoError(t, err)
	assert.False(t, resp.OK)
}

func TestServerDuplicateHandlerPanics(t *testing.T) {
	srv := NewServer("test", nil)
	assert.Panics(t, func() {
		srv.Handle(ActionHealth, func(ctx context.Context, req Request) (any, error) { return nil, nil })
	})
}

func TestScriptedPolicyPhases(t *testing.T) {
	p := NewScriptedPolicy()
	target := []float64{0.5, 0.1, 0}

	tests := []struct {
		name    string
		proprio []float64
		phase   string
		want    []float64
	}{
		{"approach", []float64{0.3, 0, 0.3, 3, 0, 0, -1}, "approach", []float64{0.5, 0.1, 0.1, 3, 0, 0, -1}},
		{"descend", []float64{0.5, 0.1, 0.1, 3, 0, 0, -1}, "descend", []float64{0.5, 0.1, 0, 3, 0, 0, -1}},
		{"grasp", []float64{0.5, 0.1, 0, 3, 0, 0, -1}, "grasp", []float64{0.5, 0.1, 0, 3, 0, 0, 1}},
		{"lift", []float64{0.5, 0.1, 0.05, 3, 0, 0, 1}, "lift", []float64{0.5, 0.1, 0.2, 3, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := models.Observation{
				Proprio: tt.proprio,
				State:   map[string][]float64{models.StateTargetPosition: target},
			}
			chunk, err := p.Act(context.Background(), Request{Observation: &obs})
			require.NoError(t, err)
			assert.Equal(t, tt.phase, chunk.Debug["phase"])
			assert.Equal(t, tt.want, chunk.Actions[0])
		})
	}

	_, err := p.Act(context.Background(), Request{Observation: &models.Observation{Proprio: make([]float64, 7)}})
	assert.Error(t, err)
}

// flakyListener fails Accept a fixed number of times, then reports itself
// closed.
type flakyListener struct {
	net.Listener
	failures int
	calls    atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if int(l.calls.Add(1)) <= l.failures {
		return nil, errors.New("accept: too many open files")
	}
	return nil, net.ErrClosed
}

func TestServeBacksOffOnAcceptErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	flaky := &flakyListener{Listener: ln, failures: 3}

	start := time.Now()
	err = NewServer("test", nil).Serve(context.Background(), flaky)
	require.NoError(t, err)

	// 5ms + 10ms + 20ms between the four Accept calls.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Equal(t, int32(4), flaky.calls.Load())
}
