package client

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newDataset(t *testing.T, n int) dataset.Dataset {
	t.Helper()

	rng := rand.New(rand.NewPCG(7, 8))
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := range n {
		a, b := rng.Float64()*2-1, rng.Float64()*2-1
		x.SetRow(i, []float64{a, b})
		if a > b {
			y[i] = 1
		}
	}

	ds, err := dataset.New(x, y)
	require.NoError(t, err)

	return ds
}

func newAgent(t *testing.T, id string, n int) *Agent {
	t.Helper()

	m, err := model.NewMLP(model.Config{Inputs: 2, Hidden: []int{4}, LearningRate: 0.01, Seed: 3})
	require.NoError(t, err)

	return NewAgent(id, m, newDataset(t, n))
}

func TestAgentFit(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "c1", 50)
	assert.Equal(t, "c1", a.ID())
	assert.Equal(t, 50, a.NumSamples())

	initial, err := a.GetParameters(ctx)
	require.NoError(t, err)

	update, err := a.Fit(ctx, initial, fl.FitConfig{Epochs: 2, BatchSize: 16})
	require.NoError(t, err)
	assert.Equal(t, 50, update.NumSamples)
	assert.Contains(t, update.Metrics, "loss")
	require.NoError(t, update.Parameters.ValidateShapes(initial.Shapes()))
	assert.NotEqual(t, initial[0].Data, update.Parameters[0].Data)
}

func TestAgentErrors(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "c1", 20)
	params, err := a.GetParameters(ctx)
	require.NoError(t, err)

	cases := []struct {
		desc   string
		params fl.ParameterSet
		cfg    fl.FitConfig
		err    error
	}{
		{
			desc:   "invalid epochs",
			params: params,
			cfg:    fl.FitConfig{BatchSize: 8},
			err:    fl.ErrInvalidEpochs,
		},
		{
			desc:   "wrong number of tensors",
			params: params[:2],
			cfg:    fl.FitConfig{Epochs: 1, BatchSize: 8},
			err:    fl.ErrParameterShapeMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := a.Fit(ctx, tc.params, tc.cfg)
			assert.ErrorIs(t, err, tc.err)

			var agentErr *Error
			require.ErrorAs(t, err, &agentErr)
			assert.Equal(t, "c1", agentErr.ClientID)
			assert.Equal(t, OpFit, agentErr.Op)
		})
	}
}

func TestAgentEvaluate(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "c1", 30)
	params, err := a.GetParameters(ctx)
	require.NoError(t, err)

	loss, n, metrics, err := a.Evaluate(ctx, params, fl.FitConfig{})
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Greater(t, loss, 0.0)
	assert.Contains(t, metrics, "accuracy")

	_, _, _, err = a.Evaluate(ctx, params[:1], fl.FitConfig{})
	assert.ErrorIs(t, err, fl.ErrParameterShapeMismatch)
}
