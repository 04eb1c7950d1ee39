// Package modelserver implements the model server wire protocol: a CBOR
// request-response exchange over TCP, one request per connection.
//
// The client writes a single CBOR request envelope, half-closes its write
// side, and reads a single response envelope. CBOR is self-delimiting so
// no framing is needed.
package modelserver

import (
	"net"
	"strconv"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// Actions understood by the model server.
const (
	ActionInfer  = "infer"
	ActionHealth = "health"
)

// HealthKind tags a health response payload so it cannot be confused with
// an inference payload.
const HealthKind = "health"

// maxMessageSize bounds a single request or response. Observations carry
// camera frames, so this is larger than a typical control message.
const maxMessageSize = 16 * 1024 * 1024

// Endpoint is the network address of a model server.
type Endpoint struct {
	Host string
	Port int
}

// EndpointFromConfig returns the endpoint configured for the run.
func EndpointFromConfig(cfg models.ServerConfig) Endpoint {
	return Endpoint{Host: cfg.Host, Port: cfg.Port}
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// Request is the wire envelope sent to the server.
type Request struct {
	Action         string              `cbor:"action"`
	TrialID        string              `cbor:"trial_id,omitempty"`
	Step           int                 `cbor:"step,omitempty"`
	Observation    *models.Observation `cbor:"observation,omitempty"`
	ProprioHistory [][]float64         `cbor:"proprio_history,omitempty"`
	Instruction    string              `cbor:"instruction,omitempty"`
}

// Response is the wire envelope for every server reply. Data holds the
// action-specific payload: an ActionChunk for infer, HealthData for health.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// HealthData is the payload of a health response.
type HealthData struct {
	Kind  string `cbor:"kind"`
	Ready bool   `cbor:"ready"`
	Model string `cbor:"model,omitempty"`
}

// InferRequest is one policy query made by an episode.
type InferRequest struct {
	TrialID        string
	Step           int
	Observation    models.Observation
	ProprioHistory [][]float64
	Instruction    string
}

func (r InferRequest) envelope() Request {
	obs := r.Observation
	return Request{
		Action:         ActionInfer,
		TrialID:        r.TrialID,
		Step:           r.Step,
		Observation:    &obs,
		ProprioHistory: r.ProprioHistory,
		Instruction:    r.Instruction,
	}
}
