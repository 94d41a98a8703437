// Package evaluator scores a stored checkpoint against a held-out dataset.
package evaluator

import (
	"context"
	"fmt"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	ClassNormal = "normal"
	ClassAttack = "attack"
)

// Predictor is the inference side of a trainable model.
type Predictor interface {
	Predict(x mat.Matrix) []float64
}

// Factory builds a predictor holding the given parameters.
type Factory func(ps fl.ParameterSet) (Predictor, error)

// MLPFactory restores the bundled multilayer perceptron from its parameters.
func MLPFactory(ps fl.ParameterSet) (Predictor, error) {
	return model.FromParameters(ps)
}

type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Report struct {
	Round       uint64                 `json:"round"`
	NumSamples  int                    `json:"num_samples"`
	Loss        float64                `json:"loss"`
	Accuracy    float64                `json:"accuracy"`
	Precision   float64                `json:"precision"`
	Recall      float64                `json:"recall"`
	F1          float64                `json:"f1"`
	Threshold   float64                `json:"threshold"`
	Confusion   model.ConfusionMatrix  `json:"confusion_matrix"`
	Classes     map[string]ClassReport `json:"classes"`
	MacroAvg    ClassReport            `json:"macro_avg"`
	WeightedAvg ClassReport            `json:"weighted_avg"`
}

type Evaluator struct {
	store   checkpoint.Store
	factory Factory
}

func New(store checkpoint.Store, factory Factory) *Evaluator {
	if factory == nil {
		factory = MLPFactory
	}

	return &Evaluator{
		store:   store,
		factory: factory,
	}
}

// EvaluateRound scores the checkpoint of round, or of the latest round when
// round is zero.
func (e *Evaluator) EvaluateRound(ctx context.Context, round uint64, data dataset.Dataset) (Report, error) {
	var (
		ckpt checkpoint.Checkpoint
		err  error
	)
	if round == 0 {
		ckpt, err = e.store.Latest(ctx)
	} else {
		ckpt, err = e.store.Load(ctx, round)
	}
	if err != nil {
		return Report{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	report, err := e.Evaluate(ckpt.Parameters, data)
	if err != nil {
		return Report{}, fmt.Errorf("failed to evaluate round %d: %w", ckpt.Round, err)
	}
	report.Round = ckpt.Round

	return report, nil
}

func (e *Evaluator) Evaluate(ps fl.ParameterSet, data dataset.Dataset) (Report, error) {
	if data.Len() == 0 {
		return Report{}, dataset.ErrEmpty
	}

	p, err := e.factory(ps)
	if err != nil {
		return Report{}, err
	}

	probs := p.Predict(data.Features)

	return NewReport(probs, data.Labels, model.Threshold), nil
}

// NewReport builds the classification report of probs against labels.
func NewReport(probs, labels []float64, threshold float64) Report {
	cm := model.Confusion(probs, labels, threshold)
	attack := ClassReport{
		Precision: cm.Precision(),
		Recall:    cm.Recall(),
		F1:        cm.F1(),
		Support:   cm.TP + cm.FN,
	}
	// The negative class report is the positive one with the roles of the
	// two labels swapped.
	swapped := model.ConfusionMatrix{TN: cm.TP, FP: cm.FN, FN: cm.FP, TP: cm.TN}
	normal := ClassReport{
		Precision: swapped.Precision(),
		Recall:    swapped.Recall(),
		F1:        swapped.F1(),
		Support:   cm.TN + cm.FP,
	}

	return Report{
		NumSamples: cm.Total(),
		Loss:       model.BinaryCrossEntropy(probs, labels),
		Accuracy:   cm.Accuracy(),
		Precision:  attack.Precision,
		Recall:     attack.Recall,
		F1:         attack.F1,
		Threshold:  threshold,
		Confusion:  cm,
		Classes: map[string]ClassReport{
			ClassNormal: normal,
			ClassAttack: attack,
		},
		MacroAvg:    average(nil, normal, attack),
		WeightedAvg: average([]float64{float64(normal.Support), float64(attack.Support)}, normal, attack),
	}
}

func average(weights []float64, classes ...ClassReport) ClassReport {
	var precision, recall, f1 []float64
	support := 0
	for _, c := range classes {
		precision = append(precision, c.Precision)
		recall = append(recall, c.Recall)
		f1 = append(f1, c.F1)
		support += c.Support
	}
	if weights != nil && support == 0 {
		return ClassReport{}
	}

	return ClassReport{
		Precision: stat.Mean(precision, weights),
		Recall:    stat.Mean(recall, weights),
		F1:        stat.Mean(f1, weights),
		Support:   support,
	}
}
