package modelserver

import (
	"context"
	"time"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// NotReadyReason explains a failed readiness probe.
type NotReadyReason string

const (
	ReasonConnectionRefused NotReadyReason = "connection_refused"
	ReasonTimeout           NotReadyReason = "timeout"
	ReasonMalformedResponse NotReadyReason = "malformed_response"
	ReasonServerNotReady    NotReadyReason = "server_not_ready"
)

// Readiness is the result of a health probe.
type Readiness struct {
	Ready   bool           `json:"ready"`
	Reason  NotReadyReason `json:"reason,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	Model   string         `json:"model,omitempty"`
	Latency time.Duration  `json:"latency_ns"`
}

// Probe sends one health request and reports whether the server can take
// inference traffic. It never blocks longer than timeout and has no side
// effects on the server.
func Probe(ctx context.Context, endpoint Endpoint, timeout time.Duration) Readiness {
	start := time.Now()
	resp, err := roundTrip(ctx, endpoint.Address(), timeout, Request{Action: ActionHealth})
	r := readiness(resp, err)
	r.Latency = time.Since(start)
	return r
}

func readiness(resp Response, err error) Readiness {
	if err != nil {
		switch {
		case IsTimeout(err):
			return Readiness{Reason: ReasonTimeout, Detail: err.Error()}
		case models.IsKind(err, models.ErrProtocol):
			return Readiness{Reason: ReasonMalformedResponse, Detail: err.Error()}
		default:
			return Readiness{Reason: ReasonConnectionRefused, Detail: err.Error()}
		}
	}

	if !resp.OK {
		return Readiness{Reason: ReasonServerNotReady, Detail: resp.Error}
	}

	var health HealthData
	if err := codec.Unmarshal(resp.Data, &health); err != nil {
		return Readiness{Reason: ReasonMalformedResponse, Detail: "decoding health data: " + err.Error()}
	}
	if health.Kind != HealthKind {
		return Readiness{Reason: ReasonMalformedResponse, Detail: "response is not a health payload"}
	}
	if !health.Ready {
		return Readiness{Reason: ReasonServerNotReady, Model: health.Model, Detail: "server reports not ready"}
	}
	return Readiness{Ready: true, Model: health.Model}
}

// WaitReady probes up to attempts times, interval apart, and returns the
// first ready result or the last failure. attempts below 1 mean one probe.
func WaitReady(ctx context.Context, endpoint Endpoint, timeout time.Duration, attempts int, interval time.Duration) Readiness {
	attempts = max(attempts, 1)

	var r Readiness
	for attempt := 1; attempt <= attempts; attempt++ {
		r = Probe(ctx, endpoint, timeout)
		if r.Ready || attempt == attempts {
			return r
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r
		case <-timer.C:
		}
	}
	return r
}
