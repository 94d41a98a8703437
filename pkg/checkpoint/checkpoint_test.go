package checkpoint_test

import (
	"testing"
	"time"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	written := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	c := checkpoint.Checkpoint{
		Round:      7,
		Parameters: fl.ParameterSet{{Shape: []int{2, 1}, Data: []float64{0.5, -1}}, {Shape: []int{1}, Data: []float64{2}}},
		WrittenAt:  written,
	}

	data, err := checkpoint.Encode(c)
	require.NoError(t, err)

	got, err := checkpoint.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, c.Round, got.Round)
	assert.True(t, written.Equal(got.WrittenAt))
	assert.Equal(t, c.Parameters, got.Parameters)
}

func TestEncodeRejectsInvalidCheckpoints(t *testing.T) {
	_, err := checkpoint.Encode(checkpoint.Checkpoint{Round: 0, Parameters: fl.ParameterSet{{Shape: []int{1}, Data: []float64{1}}}})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidRound)

	_, err = checkpoint.Encode(checkpoint.Checkpoint{Round: 1})
	assert.ErrorIs(t, err, checkpoint.ErrEmptyParameters)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := checkpoint.Decode([]byte("not a checkpoint"))
	assert.ErrorIs(t, err, checkpoint.ErrCorrupted)
}
