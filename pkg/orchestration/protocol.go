package orchestration

import (
	"fmt"
	"time"

	"github.com/absmach/fedids/pkg/crypto"
	"github.com/absmach/fedids/pkg/fl"
)

const (
	StatusAlive   = "alive"
	StatusOffline = "offline"
)

type RequestOp string

const (
	OpGetParameters RequestOp = "get_parameters"
	OpEvaluate      RequestOp = "evaluate"
)

// Parameter payloads are CBOR encoded parameter sets, sealed when a payload
// key is configured. JSON carries them as base64.

type RegisterMessage struct {
	ClientID   string `json:"client_id"`
	Name       string `json:"name,omitempty"`
	NumSamples int    `json:"num_samples,omitempty"`
}

type DispatchMessage struct {
	RunID      string       `json:"run_id"`
	Round      uint64       `json:"round"`
	Parameters []byte       `json:"parameters"`
	Config     fl.FitConfig `json:"config"`
	Deadline   time.Time    `json:"deadline"`
}

type DispatchAckMessage struct {
	ClientID string `json:"client_id"`
	Round    uint64 `json:"round"`
}

type SubmitMessage struct {
	ClientID   string     `json:"client_id"`
	RunID      string     `json:"run_id"`
	Round      uint64     `json:"round"`
	Parameters []byte     `json:"parameters,omitempty"`
	NumSamples int        `json:"num_samples"`
	Metrics    fl.Metrics `json:"metrics,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StatusMessage is published on the alive and disconnect topics. It is also
// the last will of every client.
type StatusMessage struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

type RequestMessage struct {
	ID         string       `json:"id"`
	Op         RequestOp    `json:"op"`
	Parameters []byte       `json:"parameters,omitempty"`
	Config     fl.FitConfig `json:"config"`
}

type ReplyMessage struct {
	RequestID  string     `json:"request_id"`
	ClientID   string     `json:"client_id"`
	Parameters []byte     `json:"parameters,omitempty"`
	Loss       float64    `json:"loss,omitempty"`
	NumSamples int        `json:"num_samples,omitempty"`
	Metrics    fl.Metrics `json:"metrics,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Codec converts parameter sets to and from wire payloads.
type Codec struct {
	sealer *crypto.Sealer
}

// NewCodec returns a codec sealing payloads with s. A nil s sends them in
// the clear.
func NewCodec(s *crypto.Sealer) Codec {
	return Codec{sealer: s}
}

func (c Codec) Encode(ps fl.ParameterSet) ([]byte, error) {
	data, err := fl.EncodeParameters(ps)
	if err != nil {
		return nil, err
	}

	sealed, err := c.sealer.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to seal parameters: %w", err)
	}

	return sealed, nil
}

func (c Codec) Decode(payload []byte) (fl.ParameterSet, error) {
	data, err := c.sealer.Open(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to open parameters: %w", err)
	}

	return fl.DecodeParameters(data)
}
