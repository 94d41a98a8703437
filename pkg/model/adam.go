package model

import "math"

type adam struct {
	lr, beta1, beta2, eps float64

	step int
	m, v [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	a := &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   epsilon,
		m:     make([][]float64, len(params)),
		v:     make([][]float64, len(params)),
	}
	for i := range params {
		a.m[i] = make([]float64, len(params[i]))
		a.v[i] = make([]float64, len(params[i]))
	}

	return a
}

func (a *adam) update(params, grads [][]float64) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i := range params {
		m, v, g, p := a.m[i], a.v[i], grads[i], params[i]
		for j := range p {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			p[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.eps)
		}
	}
}
