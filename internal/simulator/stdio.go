package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// Ops of the stdio simulator protocol. The driver writes one request value
// and reads one response value per op.
const (
	OpReset = "reset"
	OpStep  = "step"
	OpClose = "close"
)

type stdioRequest struct {
	Op     string                `cbor:"op"`
	Spec   *models.TrialSpec     `cbor:"spec,omitempty"`
	Action *models.ActionCommand `cbor:"action,omitempty"`
}

type stdioResponse struct {
	OK          bool                `cbor:"ok"`
	Error       string              `cbor:"error,omitempty"`
	Observation *models.Observation `cbor:"observation,omitempty"`
	Result      *StepResult         `cbor:"result,omitempty"`
}

// ServeStdio runs inst as the child side of the exec backend, reading
// requests from r and writing responses to w until a close op or EOF.
func ServeStdio(ctx context.Context, inst Instance, r io.Reader, w io.Writer) error {
	dec := codec.NewDecoder(r)
	enc := codec.NewEncoder(w)
	defer inst.Close()

	for {
		var req stdioRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding request: %w", err)
		}

		var resp stdioResponse
		switch req.Op {
		case OpReset:
			if req.Spec == nil {
				resp.Error = "reset requires a spec"
				break
			}
			obs, err := inst.Reset(ctx, *req.Spec)
			if err != nil {
				resp.Error = err.Error()
				break
			}
			resp.OK = true
			resp.Observation = &obs
		case OpStep:
			if req.Action == nil {
				resp.Error = "step requires an action"
				break
			}
			result, err := inst.Step(ctx, *req.Action)
			if err != nil {
				resp.Error = err.Error()
				break
			}
			resp.OK = true
			resp.Result = &result
		case OpClose:
			resp.OK = true
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("encoding response: %w", err)
			}
			return nil
		default:
			resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
	}
}
