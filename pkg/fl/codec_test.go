package fl_test

import (
	"errors"
	"testing"

	"github.com/absmach/fedids/pkg/fl"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawTensor struct {
	Index int       `cbor:"1,keyasint"`
	Shape []int     `cbor:"2,keyasint"`
	Data  []float64 `cbor:"3,keyasint"`
}

type rawParameters struct {
	Version int         `cbor:"1,keyasint"`
	Tensors []rawTensor `cbor:"2,keyasint"`
}

func TestEncodeParametersKeepsOrderBeyondNineTensors(t *testing.T) {
	ps := make(fl.ParameterSet, 12)
	for i := range ps {
		ps[i] = fl.Tensor{Shape: []int{1}, Data: []float64{float64(i)}}
	}

	data, err := fl.EncodeParameters(ps)
	require.NoError(t, err)

	got, err := fl.DecodeParameters(data)
	require.NoError(t, err)
	require.Len(t, got, 12)
	for i := range got {
		assert.Equal(t, float64(i), got[i].Data[0], "tensor %d out of place", i)
	}
}

func TestDecodeParametersUsesIndexNotStreamOrder(t *testing.T) {
	data, err := cbor.Marshal(rawParameters{
		Version: fl.EncodingVersion,
		Tensors: []rawTensor{
			{Index: 1, Shape: []int{2}, Data: []float64{3, 4}},
			{Index: 0, Shape: []int{1, 2}, Data: []float64{1, 2}},
		},
	})
	require.NoError(t, err)

	got, err := fl.DecodeParameters(data)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {2}}, got.Shapes())
	assert.Equal(t, []float64{1, 2}, got[0].Data)
}

func TestDecodeParametersErrors(t *testing.T) {
	cases := []struct {
		desc string
		raw  rawParameters
		err  error
	}{
		{
			desc: "unknown version",
			raw:  rawParameters{Version: 99},
			err:  fl.ErrUnsupportedVersion,
		},
		{
			desc: "duplicate index",
			raw: rawParameters{Version: fl.EncodingVersion, Tensors: []rawTensor{
				{Index: 0, Shape: []int{1}, Data: []float64{1}},
				{Index: 0, Shape: []int{1}, Data: []float64{2}},
			}},
			err: fl.ErrMalformedParameters,
		},
		{
			desc: "index out of range",
			raw: rawParameters{Version: fl.EncodingVersion, Tensors: []rawTensor{
				{Index: 3, Shape: []int{1}, Data: []float64{1}},
			}},
			err: fl.ErrMalformedParameters,
		},
		{
			desc: "data does not fit shape",
			raw: rawParameters{Version: fl.EncodingVersion, Tensors: []rawTensor{
				{Index: 0, Shape: []int{2, 2}, Data: []float64{1}},
			}},
			err: fl.ErrMalformedParameters,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			data, err := cbor.Marshal(tc.raw)
			require.NoError(t, err)

			_, err = fl.DecodeParameters(data)
			assert.True(t, errors.Is(err, tc.err), "expected %v, got %v", tc.err, err)
		})
	}

	_, err := fl.DecodeParameters([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, fl.ErrMalformedParameters)
}

func TestParameterSetValidateShapes(t *testing.T) {
	ps := fl.ParameterSet{
		{Shape: []int{2, 3}, Data: make([]float64, 6)},
		{Shape: []int{3}, Data: make([]float64, 3)},
	}

	assert.NoError(t, ps.ValidateShapes([][]int{{2, 3}, {3}}))
	assert.ErrorIs(t, ps.ValidateShapes([][]int{{3, 2}, {3}}), fl.ErrParameterShapeMismatch)
	assert.ErrorIs(t, ps.ValidateShapes([][]int{{2, 3}}), fl.ErrParameterShapeMismatch)
}
