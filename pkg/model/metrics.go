package model

import (
	"math"

	"github.com/absmach/fedids/pkg/fl"
)

// Threshold separates the positive (attack) class from the negative one.
const Threshold = 0.5

const epsilon = 1e-7

type ConfusionMatrix struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

func Confusion(probs, labels []float64, threshold float64) ConfusionMatrix {
	var cm ConfusionMatrix
	for i, p := range probs {
		predicted := p > threshold
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			cm.TP++
		case predicted && !actual:
			cm.FP++
		case !predicted && actual:
			cm.FN++
		default:
			cm.TN++
		}
	}

	return cm
}

func (c ConfusionMatrix) Total() int {
	return c.TN + c.FP + c.FN + c.TP
}

func (c ConfusionMatrix) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.Total())
}

// Precision is zero when nothing was predicted positive.
func (c ConfusionMatrix) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

func (c ConfusionMatrix) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

func (c ConfusionMatrix) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}

	return 2 * p * r / (p + r)
}

// Metrics returns the metric names reported by fit and evaluate.
func (c ConfusionMatrix) Metrics(loss float64) fl.Metrics {
	return fl.Metrics{
		"loss":      loss,
		"accuracy":  c.Accuracy(),
		"precision": c.Precision(),
		"recall":    c.Recall(),
	}
}

// BinaryCrossEntropy is the mean log loss with probabilities clipped away
// from 0 and 1.
func BinaryCrossEntropy(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}

	var sum float64
	for i, p := range probs {
		p = min(max(p, epsilon), 1-epsilon)
		sum -= labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p)
	}

	return sum / float64(len(probs))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}

	return float64(num) / float64(den)
}
