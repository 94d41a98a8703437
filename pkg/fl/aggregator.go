package fl

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Aggregator combines weighted parameter sets into one.
type Aggregator interface {
	Aggregate(inputs []WeightedParameters) (ParameterSet, error)
}

// AggregatorFunc adapts a plain function to the Aggregator interface.
type AggregatorFunc func(inputs []WeightedParameters) (ParameterSet, error)

func (f AggregatorFunc) Aggregate(inputs []WeightedParameters) (ParameterSet, error) {
	return f(inputs)
}

// NewFedAvg returns the sample-weighted averaging strategy.
func NewFedAvg() Aggregator {
	return AggregatorFunc(FedAvg)
}

// FedAvg computes, for every tensor position independently, the weighted
// elementwise mean of the inputs. The inputs are not modified.
func FedAvg(inputs []WeightedParameters) (ParameterSet, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyAggregationInput
	}

	ref := inputs[0].Parameters
	var total float64
	for i, in := range inputs {
		if in.Weight <= 0 || math.IsNaN(in.Weight) || math.IsInf(in.Weight, 0) {
			return nil, fmt.Errorf("%w: input %d has weight %v", ErrInvalidWeight, i, in.Weight)
		}
		if !in.Parameters.SameShapes(ref) {
			return nil, fmt.Errorf("%w: input %d has shapes %v, expected %v", ErrShapeMismatch, i, in.Parameters.Shapes(), ref.Shapes())
		}
		for j := range in.Parameters {
			if err := in.Parameters[j].Validate(); err != nil {
				return nil, fmt.Errorf("input %d tensor %d: %w", i, j, err)
			}
		}
		total += in.Weight
	}

	out := make(ParameterSet, len(ref))
	for j := range ref {
		acc := make([]float64, len(ref[j].Data))
		for _, in := range inputs {
			floats.AddScaled(acc, in.Weight/total, in.Parameters[j].Data)
		}
		out[j] = Tensor{
			Shape: slices.Clone(ref[j].Shape),
			Data:  acc,
		}
	}

	return out, nil
}
