package fl

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major array.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Size is the element count implied by the shape.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}

	return n
}

func (t Tensor) Validate() error {
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dimension in %v", ErrShapeMismatch, t.Shape)
		}
	}
	if len(t.Data) != t.Size() {
		return fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShapeMismatch, t.Shape, t.Size(), len(t.Data))
	}

	return nil
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// ParameterSet is the ordered list of a model's trainable tensors.
// Position is the identity of a tensor.
type ParameterSet []Tensor

func (ps ParameterSet) Shapes() [][]int {
	shapes := make([][]int, len(ps))
	for i := range ps {
		shapes[i] = slices.Clone(ps[i].Shape)
	}

	return shapes
}

func (ps ParameterSet) Clone() ParameterSet {
	if ps == nil {
		return nil
	}
	out := make(ParameterSet, len(ps))
	for i := range ps {
		out[i] = ps[i].Clone()
	}

	return out
}

// SameShapes reports whether both sets have an identical shape sequence.
func (ps ParameterSet) SameShapes(other ParameterSet) bool {
	if len(ps) != len(other) {
		return false
	}
	for i := range ps {
		if !slices.Equal(ps[i].Shape, other[i].Shape) {
			return false
		}
	}

	return true
}

// ValidateShapes checks every tensor against the expected shape sequence.
func (ps ParameterSet) ValidateShapes(expected [][]int) error {
	if len(ps) != len(expected) {
		return fmt.Errorf("%w: expected %d tensors, got %d", ErrParameterShapeMismatch, len(expected), len(ps))
	}
	for i := range ps {
		if !slices.Equal(ps[i].Shape, expected[i]) {
			return fmt.Errorf("%w: tensor %d has shape %v, expected %v", ErrParameterShapeMismatch, i, ps[i].Shape, expected[i])
		}
		if err := ps[i].Validate(); err != nil {
			return fmt.Errorf("%w: tensor %d: %w", ErrParameterShapeMismatch, i, err)
		}
	}

	return nil
}

// NumValues is the total count of scalars across all tensors.
func (ps ParameterSet) NumValues() int {
	n := 0
	for i := range ps {
		n += len(ps[i].Data)
	}

	return n
}

type Metrics map[string]float64

// FitConfig is sent with every dispatch.
type FitConfig struct {
	Epochs    int `json:"epochs"`
	BatchSize int `json:"batch_size"`
}

func (c FitConfig) Validate() error {
	if c.Epochs <= 0 {
		return ErrInvalidEpochs
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	return nil
}

type ClientUpdate struct {
	Parameters ParameterSet `json:"parameters"`
	NumSamples int          `json:"num_samples"`
	Metrics    Metrics      `json:"metrics,omitempty"`
}

type WeightedParameters struct {
	Parameters ParameterSet
	Weight     float64
}

// WeightedMetrics averages each metric name over the reports that carry it,
// weighted by sample count.
func WeightedMetrics(reports []ClientUpdate) Metrics {
	sums := make(map[string]float64)
	weights := make(map[string]float64)
	for _, r := range reports {
		if r.NumSamples <= 0 {
			continue
		}
		w := float64(r.NumSamples)
		for name, v := range r.Metrics {
			sums[name] += v * w
			weights[name] += w
		}
	}

	out := make(Metrics, len(sums))
	for name, s := range sums {
		out[name] = s / weights[name]
	}

	return out
}
