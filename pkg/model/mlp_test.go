package model

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func separable(t *testing.T, n int, seed uint64) dataset.Dataset {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := range n {
		a, b := rng.Float64()*2-1, rng.Float64()*2-1
		x.SetRow(i, []float64{a, b})
		if a+b > 0 {
			y[i] = 1
		}
	}

	ds, err := dataset.New(x, y)
	require.NoError(t, err)

	return ds
}

func TestMLPShapes(t *testing.T) {
	m, err := NewMLP(DefaultConfig(41))
	require.NoError(t, err)

	expected := [][]int{{41, 128}, {128}, {128, 64}, {64}, {64, 1}, {1}}
	assert.Equal(t, expected, m.Shapes())
	assert.Equal(t, expected, m.Parameters().Shapes())
}

func TestMLPSetParameters(t *testing.T) {
	m, err := NewMLP(Config{Inputs: 2, Hidden: []int{3}, LearningRate: 0.01})
	require.NoError(t, err)

	ps := m.Parameters()
	for i := range ps {
		for j := range ps[i].Data {
			ps[i].Data[j] = float64(i + j)
		}
	}
	require.NoError(t, m.SetParameters(ps))
	assert.Equal(t, ps, m.Parameters())

	ps[0].Data[0] = 100
	assert.NotEqual(t, 100.0, m.Parameters()[0].Data[0], "model must not alias caller data")

	err = m.SetParameters(fl.ParameterSet{{Shape: []int{2, 3}, Data: make([]float64, 6)}})
	assert.ErrorIs(t, err, fl.ErrParameterShapeMismatch)
}

func TestMLPGradientsMatchFiniteDifferences(t *testing.T) {
	m, err := NewMLP(Config{Inputs: 3, Hidden: []int{4, 3}, LearningRate: 0.01, Seed: 7})
	require.NoError(t, err)

	x := mat.NewDense(5, 3, []float64{
		0.1, -0.2, 0.3,
		0.5, 0.4, -0.1,
		-0.3, 0.2, 0.9,
		0.7, -0.6, 0.2,
		-0.5, -0.5, 0.5,
	})
	y := []float64{1, 0, 1, 0, 1}

	loss := func() float64 {
		return BinaryCrossEntropy(m.Predict(x), y)
	}

	grads := m.backward(m.forward(x, false), y)

	const h = 1e-6
	for i := range m.params {
		for j := range m.params[i] {
			orig := m.params[i][j]
			m.params[i][j] = orig + h
			up := loss()
			m.params[i][j] = orig - h
			down := loss()
			m.params[i][j] = orig

			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-grads[i][j]) > 1e-5 {
				t.Errorf("param %d[%d]: analytic %g, numeric %g", i, j, grads[i][j], numeric)
			}
		}
	}
}

func TestMLPFitLearnsSeparableData(t *testing.T) {
	train := separable(t, 400, 1)
	test := separable(t, 200, 2)

	m, err := NewMLP(Config{Inputs: 2, Hidden: []int{16, 8}, Dropout: []float64{0.1}, LearningRate: 0.01, Seed: 3})
	require.NoError(t, err)

	before, _, err := m.Evaluate(context.Background(), test)
	require.NoError(t, err)

	metrics, err := m.Fit(context.Background(), train, fl.FitConfig{Epochs: 30, BatchSize: 32})
	require.NoError(t, err)
	for _, name := range []string{"loss", "accuracy", "precision", "recall"} {
		assert.Contains(t, metrics, name)
	}

	after, evalMetrics, err := m.Evaluate(context.Background(), test)
	require.NoError(t, err)
	assert.Less(t, after, before)
	assert.Greater(t, evalMetrics["accuracy"], 0.9)
}

func TestMLPFitErrors(t *testing.T) {
	m, err := NewMLP(Config{Inputs: 3, Hidden: []int{2}, LearningRate: 0.01})
	require.NoError(t, err)

	_, err = m.Fit(context.Background(), separable(t, 10, 1), fl.FitConfig{Epochs: 1, BatchSize: 4})
	assert.ErrorIs(t, err, ErrFeatureCount)

	_, err = m.Fit(context.Background(), separable(t, 10, 1), fl.FitConfig{Epochs: 0, BatchSize: 4})
	assert.ErrorIs(t, err, fl.ErrInvalidEpochs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m2, err := NewMLP(Config{Inputs: 2, Hidden: []int{2}, LearningRate: 0.01})
	require.NoError(t, err)
	_, err = m2.Fit(ctx, separable(t, 10, 1), fl.FitConfig{Epochs: 1, BatchSize: 4})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfusionMetrics(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.2, 0.6, 0.1, 0.4}
	labels := []float64{1, 1, 1, 0, 0, 0}

	cm := Confusion(probs, labels, Threshold)
	assert.Equal(t, ConfusionMatrix{TN: 2, FP: 1, FN: 1, TP: 2}, cm)
	assert.InDelta(t, 4.0/6.0, cm.Accuracy(), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.Precision(), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.Recall(), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.F1(), 1e-12)

	empty := Confusion([]float64{0.1}, []float64{0}, Threshold)
	assert.Zero(t, empty.Precision())
	assert.Zero(t, empty.Recall())
	assert.Zero(t, empty.F1())
}

func TestFromParameters(t *testing.T) {
	m, err := NewMLP(DefaultConfig(12))
	require.NoError(t, err)

	restored, err := FromParameters(m.Parameters())
	require.NoError(t, err)
	assert.Equal(t, m.Shapes(), restored.Shapes())
	assert.Equal(t, m.Parameters(), restored.Parameters())

	cases := []struct {
		desc   string
		shapes [][]int
	}{
		{desc: "odd tensor count", shapes: [][]int{{3, 1}}},
		{desc: "bias width differs", shapes: [][]int{{3, 2}, {3}}},
		{desc: "layers do not chain", shapes: [][]int{{3, 2}, {2}, {4, 1}, {1}}},
		{desc: "output is not scalar", shapes: [][]int{{3, 2}, {2}}},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := ConfigFromShapes(tc.shapes)
			assert.ErrorIs(t, err, fl.ErrParameterShapeMismatch)
		})
	}
}
