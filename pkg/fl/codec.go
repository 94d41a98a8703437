package fl

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodingVersion is written into every encoded parameter set.
const EncodingVersion = 1

type wireTensor struct {
	Index int       `cbor:"1,keyasint"`
	Shape []int     `cbor:"2,keyasint"`
	Data  []float64 `cbor:"3,keyasint"`
}

type wireParameters struct {
	Version int          `cbor:"1,keyasint"`
	Tensors []wireTensor `cbor:"2,keyasint"`
}

// EncodeParameters serializes ps to CBOR. Every tensor carries its sequence
// index, which alone determines its position when decoded.
func EncodeParameters(ps ParameterSet) ([]byte, error) {
	w := wireParameters{
		Version: EncodingVersion,
		Tensors: make([]wireTensor, len(ps)),
	}
	for i, t := range ps {
		w.Tensors[i] = wireTensor{Index: i, Shape: t.Shape, Data: t.Data}
	}

	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	return data, nil
}

func DecodeParameters(data []byte) (ParameterSet, error) {
	var w wireParameters
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedParameters, err)
	}
	if w.Version != EncodingVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.Version)
	}

	ps := make(ParameterSet, len(w.Tensors))
	seen := make([]bool, len(w.Tensors))
	for _, t := range w.Tensors {
		if t.Index < 0 || t.Index >= len(ps) || seen[t.Index] {
			return nil, fmt.Errorf("%w: tensor index %d out of sequence", ErrMalformedParameters, t.Index)
		}
		seen[t.Index] = true

		tensor := Tensor{Shape: t.Shape, Data: t.Data}
		if tensor.Data == nil {
			tensor.Data = []float64{}
		}
		if err := tensor.Validate(); err != nil {
			return nil, fmt.Errorf("%w: tensor %d: %w", ErrMalformedParameters, t.Index, err)
		}
		ps[t.Index] = tensor
	}

	return ps, nil
}
