package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/fl"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoInputs       = errors.New("model needs at least one input feature")
	ErrFeatureCount   = errors.New("dataset feature count does not match model inputs")
	ErrInvalidDropout = errors.New("dropout rate must be in [0, 1)")
)

type Config struct {
	Inputs       int
	Hidden       []int
	Dropout      []float64
	LearningRate float64
	Seed         uint64
}

// DefaultConfig is a 128-64-1 network with dropout 0.3 and 0.2, trained by
// Adam with learning rate 0.001.
func DefaultConfig(inputs int) Config {
	return Config{
		Inputs:       inputs,
		Hidden:       []int{128, 64},
		Dropout:      []float64{0.3, 0.2},
		LearningRate: 0.001,
		Seed:         42,
	}
}

// MLP is a fully connected binary classifier with ReLU hidden layers and a
// sigmoid output. Its parameter order is kernel then bias for every layer,
// kernels shaped [in, out]. MLP is not safe for concurrent use.
type MLP struct {
	cfg     Config
	params  [][]float64
	shapes  [][]int
	kernels []*mat.Dense
	rng     *rand.Rand
	opt     *adam
}

func NewMLP(cfg Config) (*MLP, error) {
	if cfg.Inputs <= 0 {
		return nil, ErrNoInputs
	}
	for _, d := range cfg.Dropout {
		if d < 0 || d >= 1 {
			return nil, ErrInvalidDropout
		}
	}

	sizes := append([]int{cfg.Inputs}, cfg.Hidden...)
	sizes = append(sizes, 1)

	m := &MLP{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]

		kernel := make([]float64, in*out)
		limit := math.Sqrt(6 / float64(in+out))
		for i := range kernel {
			kernel[i] = (m.rng.Float64()*2 - 1) * limit
		}

		m.params = append(m.params, kernel, make([]float64, out))
		m.shapes = append(m.shapes, []int{in, out}, []int{out})
		m.kernels = append(m.kernels, mat.NewDense(in, out, kernel))
	}
	m.opt = newAdam(cfg.LearningRate, m.params)

	return m, nil
}

func (m *MLP) Shapes() [][]int {
	shapes := make([][]int, len(m.shapes))
	for i := range m.shapes {
		shapes[i] = slices.Clone(m.shapes[i])
	}

	return shapes
}

func (m *MLP) Parameters() fl.ParameterSet {
	ps := make(fl.ParameterSet, len(m.params))
	for i := range m.params {
		ps[i] = fl.Tensor{
			Shape: slices.Clone(m.shapes[i]),
			Data:  slices.Clone(m.params[i]),
		}
	}

	return ps
}

// SetParameters copies ps into the model. The shape sequence must match.
func (m *MLP) SetParameters(ps fl.ParameterSet) error {
	if err := ps.ValidateShapes(m.shapes); err != nil {
		return err
	}
	for i := range ps {
		copy(m.params[i], ps[i].Data)
	}

	return nil
}

// Fit trains for cfg.Epochs passes over data in shuffled mini-batches and
// returns loss, accuracy, precision and recall over data afterwards.
func (m *MLP) Fit(ctx context.Context, data dataset.Dataset, cfg fl.FitConfig) (fl.Metrics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, dataset.ErrEmpty
	}
	if data.NumFeatures() != m.cfg.Inputs {
		return nil, fmt.Errorf("%w: %d != %d", ErrFeatureCount, data.NumFeatures(), m.cfg.Inputs)
	}

	for range cfg.Epochs {
		perm := m.rng.Perm(data.Len())
		for start := 0; start < len(perm); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			end := min(start+cfg.BatchSize, len(perm))
			x, y := data.Rows(perm[start:end])

			p := m.forward(x, true)
			m.opt.update(m.params, m.backward(p, y))
		}
	}

	loss, metrics, err := m.Evaluate(ctx, data)
	if err != nil {
		return nil, err
	}
	metrics["loss"] = loss

	return metrics, nil
}

func (m *MLP) Evaluate(ctx context.Context, data dataset.Dataset) (float64, fl.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if data.Len() == 0 {
		return 0, nil, dataset.ErrEmpty
	}
	if data.NumFeatures() != m.cfg.Inputs {
		return 0, nil, fmt.Errorf("%w: %d != %d", ErrFeatureCount, data.NumFeatures(), m.cfg.Inputs)
	}

	probs := m.Predict(data.Features)
	loss := BinaryCrossEntropy(probs, data.Labels)

	return loss, Confusion(probs, data.Labels, Threshold).Metrics(loss), nil
}

// Predict returns the positive class probability for every row of x.
func (m *MLP) Predict(x mat.Matrix) []float64 {
	p := m.forward(x, false)
	out := p.acts[len(p.acts)-1]
	r, _ := out.Dims()

	probs := make([]float64, r)
	for i := range probs {
		probs[i] = out.At(i, 0)
	}

	return probs
}

type pass struct {
	acts  []mat.Matrix
	zs    []*mat.Dense
	masks []*mat.Dense
}

func (m *MLP) forward(x mat.Matrix, train bool) pass {
	p := pass{acts: []mat.Matrix{x}}
	last := len(m.kernels) - 1

	a := x
	for l, kernel := range m.kernels {
		r, _ := a.Dims()
		_, c := kernel.Dims()

		z := mat.NewDense(r, c, nil)
		z.Mul(a, kernel)
		bias := m.params[2*l+1]
		z.Apply(func(_, j int, v float64) float64 { return v + bias[j] }, z)

		out := mat.NewDense(r, c, nil)
		var mask *mat.Dense
		if l == last {
			out.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, z)
		} else {
			out.Apply(func(_, _ int, v float64) float64 { return max(v, 0) }, z)
			if rate := m.dropout(l); train && rate > 0 {
				mask = m.dropoutMask(r, c, rate)
				out.MulElem(out, mask)
			}
		}

		p.zs = append(p.zs, z)
		p.masks = append(p.masks, mask)
		p.acts = append(p.acts, out)
		a = out
	}

	return p
}

// backward returns gradients of the mean binary cross-entropy, in parameter
// order.
func (m *MLP) backward(p pass, y []float64) [][]float64 {
	grads := make([][]float64, len(m.params))
	n := float64(len(y))

	out := p.acts[len(p.acts)-1]
	delta := mat.NewDense(len(y), 1, nil)
	delta.Apply(func(i, _ int, _ float64) float64 { return (out.At(i, 0) - y[i]) / n }, delta)

	for l := len(m.kernels) - 1; l >= 0; l-- {
		in, outDim := m.kernels[l].Dims()

		gw := mat.NewDense(in, outDim, nil)
		gw.Mul(p.acts[l].T(), delta)
		grads[2*l] = gw.RawMatrix().Data

		gb := make([]float64, outDim)
		for j := range gb {
			gb[j] = mat.Sum(delta.ColView(j))
		}
		grads[2*l+1] = gb

		if l == 0 {
			break
		}

		r, _ := delta.Dims()
		da := mat.NewDense(r, in, nil)
		da.Mul(delta, m.kernels[l].T())
		if mask := p.masks[l-1]; mask != nil {
			da.MulElem(da, mask)
		}
		z := p.zs[l-1]
		da.Apply(func(i, j int, v float64) float64 {
			if z.At(i, j) <= 0 {
				return 0
			}

			return v
		}, da)
		delta = da
	}

	return grads
}

func (m *MLP) dropout(layer int) float64 {
	if layer < len(m.cfg.Dropout) {
		return m.cfg.Dropout[layer]
	}

	return 0
}

// dropoutMask zeroes units with probability rate and scales survivors so the
// expected activation is unchanged.
func (m *MLP) dropoutMask(r, c int, rate float64) *mat.Dense {
	keep := 1 / (1 - rate)
	data := make([]float64, r*c)
	for i := range data {
		if m.rng.Float64() >= rate {
			data[i] = keep
		}
	}

	return mat.NewDense(r, c, data)
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// ConfigFromShapes recovers the layer sizes of an MLP from its parameter
// shapes.
func ConfigFromShapes(shapes [][]int) (Config, error) {
	if len(shapes) < 2 || len(shapes)%2 != 0 {
		return Config{}, fmt.Errorf("%w: %d tensors", fl.ErrParameterShapeMismatch, len(shapes))
	}

	cfg := Config{LearningRate: DefaultConfig(0).LearningRate}
	in := 0
	for l := 0; l < len(shapes); l += 2 {
		kernel, bias := shapes[l], shapes[l+1]
		if len(kernel) != 2 || len(bias) != 1 || kernel[1] != bias[0] || (l > 0 && kernel[0] != in) {
			return Config{}, fmt.Errorf("%w: layer %d", fl.ErrParameterShapeMismatch, l/2)
		}
		if l == 0 {
			cfg.Inputs = kernel[0]
		} else {
			cfg.Hidden = append(cfg.Hidden, kernel[0])
		}
		in = kernel[1]
	}
	if in != 1 {
		return Config{}, fmt.Errorf("%w: output width %d", fl.ErrParameterShapeMismatch, in)
	}

	return cfg, nil
}

// FromParameters builds an inference model holding ps.
func FromParameters(ps fl.ParameterSet) (*MLP, error) {
	cfg, err := ConfigFromShapes(ps.Shapes())
	if err != nil {
		return nil, err
	}

	m, err := NewMLP(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.SetParameters(ps); err != nil {
		return nil, err
	}

	return m, nil
}
