// Package client implements the training participant: an Agent wrapping a
// local model and its private dataset, and the MQTT service connecting the
// agent to the coordinator.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/fl"
)

const (
	OpGetParameters = "get_parameters"
	OpFit           = "fit"
	OpEvaluate      = "evaluate"
)

// Model is a trainable binary classifier. Implementations need not be safe
// for concurrent use.
type Model interface {
	Shapes() [][]int
	Parameters() fl.ParameterSet
	SetParameters(ps fl.ParameterSet) error
	Fit(ctx context.Context, data dataset.Dataset, cfg fl.FitConfig) (fl.Metrics, error)
	Evaluate(ctx context.Context, data dataset.Dataset) (float64, fl.Metrics, error)
}

// Error carries the client and operation of a failed agent call.
type Error struct {
	ClientID string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("client %s: %s: %v", e.ClientID, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Agent owns one model instance bound to one dataset for its lifetime.
type Agent struct {
	id    string
	mu    sync.Mutex
	model Model
	data  dataset.Dataset
}

func NewAgent(id string, m Model, data dataset.Dataset) *Agent {
	return &Agent{
		id:    id,
		model: m,
		data:  data,
	}
}

func (a *Agent) ID() string {
	return a.id
}

func (a *Agent) NumSamples() int {
	return a.data.Len()
}

// GetParameters returns the current local parameters. The coordinator uses
// it to bootstrap the first global model.
func (a *Agent) GetParameters(_ context.Context) (fl.ParameterSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.model.Parameters(), nil
}

// Fit trains the local model from params and returns the trained
// parameters with the number of local samples.
func (a *Agent) Fit(ctx context.Context, params fl.ParameterSet, cfg fl.FitConfig) (fl.ClientUpdate, error) {
	if err := cfg.Validate(); err != nil {
		return fl.ClientUpdate{}, a.wrap(OpFit, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.load(params); err != nil {
		return fl.ClientUpdate{}, a.wrap(OpFit, err)
	}

	metrics, err := a.model.Fit(ctx, a.data, cfg)
	if err != nil {
		return fl.ClientUpdate{}, a.wrap(OpFit, err)
	}

	return fl.ClientUpdate{
		Parameters: a.model.Parameters(),
		NumSamples: a.data.Len(),
		Metrics:    metrics,
	}, nil
}

// Evaluate scores params on the local data. The model keeps params
// afterwards.
func (a *Agent) Evaluate(ctx context.Context, params fl.ParameterSet, _ fl.FitConfig) (float64, int, fl.Metrics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.load(params); err != nil {
		return 0, 0, nil, a.wrap(OpEvaluate, err)
	}

	loss, metrics, err := a.model.Evaluate(ctx, a.data)
	if err != nil {
		return 0, 0, nil, a.wrap(OpEvaluate, err)
	}

	return loss, a.data.Len(), metrics, nil
}

func (a *Agent) load(params fl.ParameterSet) error {
	if err := params.ValidateShapes(a.model.Shapes()); err != nil {
		return err
	}

	return a.model.SetParameters(params)
}

func (a *Agent) wrap(op string, err error) error {
	return &Error{ClientID: a.id, Op: op, Err: err}
}
