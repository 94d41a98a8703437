package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/fedids/pkg/fl"
	"github.com/fxamacker/cbor/v2"
)

const (
	magic         = "fedids-checkpoint"
	formatVersion = 1
)

var (
	ErrNotFound        = errors.New("checkpoint not found")
	ErrExists          = errors.New("checkpoint already written for round")
	ErrInvalidRound    = errors.New("round number must be positive")
	ErrCorrupted       = errors.New("corrupted checkpoint")
	ErrUnknownFormat   = errors.New("unknown checkpoint format version")
	ErrEmptyParameters = errors.New("checkpoint has no parameters")
)

type Checkpoint struct {
	Round      uint64          `json:"round"`
	Parameters fl.ParameterSet `json:"parameters"`
	WrittenAt  time.Time       `json:"written_at"`
}

// Info describes a stored checkpoint without its parameters.
type Info struct {
	Round     uint64    `json:"round"`
	WrittenAt time.Time `json:"written_at"`
	Size      int64     `json:"size"`
}

// Store is an append-only, round-indexed checkpoint store with a single
// writer.
type Store interface {
	// Save publishes a checkpoint atomically. It fails with ErrExists when the
	// round was already written.
	Save(ctx context.Context, c Checkpoint) error

	// Load returns the checkpoint of a round or ErrNotFound.
	Load(ctx context.Context, round uint64) (Checkpoint, error)

	// Latest returns the highest round or ErrNotFound when the store is empty.
	Latest(ctx context.Context) (Checkpoint, error)

	// List returns all checkpoints in ascending round order.
	List(ctx context.Context) ([]Info, error)

	Close() error
}

type envelope struct {
	Magic      string `cbor:"1,keyasint"`
	Version    int    `cbor:"2,keyasint"`
	Round      uint64 `cbor:"3,keyasint"`
	WrittenAt  int64  `cbor:"4,keyasint"`
	Parameters []byte `cbor:"5,keyasint"`
}

// Encode serializes a checkpoint into its portable on-disk form.
func Encode(c Checkpoint) ([]byte, error) {
	if c.Round == 0 {
		return nil, ErrInvalidRound
	}
	if len(c.Parameters) == 0 {
		return nil, ErrEmptyParameters
	}

	params, err := fl.EncodeParameters(c.Parameters)
	if err != nil {
		return nil, err
	}

	data, err := cbor.Marshal(envelope{
		Magic:      magic,
		Version:    formatVersion,
		Round:      c.Round,
		WrittenAt:  c.WrittenAt.UnixNano(),
		Parameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return data, nil
}

func Decode(data []byte) (Checkpoint, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	if env.Magic != magic {
		return Checkpoint{}, fmt.Errorf("%w: bad magic %q", ErrCorrupted, env.Magic)
	}
	if env.Version != formatVersion {
		return Checkpoint{}, fmt.Errorf("%w: %d", ErrUnknownFormat, env.Version)
	}

	params, err := fl.DecodeParameters(env.Parameters)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	return Checkpoint{
		Round:      env.Round,
		Parameters: params,
		WrittenAt:  time.Unix(0, env.WrittenAt).UTC(),
	}, nil
}
