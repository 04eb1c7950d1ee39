package store

import (
	"errors"
	"fmt"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

// CurrentPayloadVersion tags every stored outcome payload.
const CurrentPayloadVersion = 1

var ErrVersionMismatch = errors.New("payload version mismatch")

type outcomePayload struct {
	Version int                 `cbor:"v"`
	Outcome models.TrialOutcome `cbor:"outcome"`
}

// EncodeOutcome serializes an outcome as a compressed CBOR payload.
func EncodeOutcome(o models.TrialOutcome, c codec.Compression) ([]byte, error) {
	data, err := codec.Marshal(outcomePayload{Version: CurrentPayloadVersion, Outcome: o})
	if err != nil {
		return nil, fmt.Errorf("encoding outcome: %w", err)
	}
	return codec.Compress(data, c)
}

// DecodeOutcome reverses EncodeOutcome.
func DecodeOutcome(payload []byte) (models.TrialOutcome, error) {
	data, err := codec.Decompress(payload)
	if err != nil {
		return models.TrialOutcome{}, err
	}
	var p outcomePayload
	if err := codec.Unmarshal(data, &p); err != nil {
		return models.TrialOutcome{}, fmt.Errorf("decoding outcome: %w", err)
	}
	if p.Version != CurrentPayloadVersion {
		return models.TrialOutcome{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, p.Version, CurrentPayloadVersion)
	}
	return p.Outcome, nil
}
