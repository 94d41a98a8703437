package api

import (
	"errors"
	"time"

	"github.com/absmach/fedids/pkg/api"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	apiutil "github.com/absmach/supermq/api/http/util"
)

var errNegativeConfig = errors.New("epochs and batch size must not be negative")

type startRunReq struct {
	ID            string `json:"id,omitempty"`
	StartRound    uint64 `json:"start_round,omitempty"`
	Rounds        uint64 `json:"rounds"`
	TargetClients int    `json:"target_clients,omitempty"`
	MinFitClients int    `json:"min_fit_clients"`
	// Timeout is a duration string such as "5m".
	Timeout   string `json:"timeout"`
	Epochs    int    `json:"epochs"`
	BatchSize int    `json:"batch_size"`
}

func (req startRunReq) config() (orchestration.RunConfig, error) {
	timeout, err := time.ParseDuration(req.Timeout)
	if err != nil {
		return orchestration.RunConfig{}, err
	}

	return orchestration.RunConfig{
		ID:         req.ID,
		StartRound: req.StartRound,
		Rounds:     req.Rounds,
		Round: orchestration.RoundConfig{
			TargetClients: req.TargetClients,
			MinFitClients: req.MinFitClients,
			Timeout:       timeout,
			Fit: fl.FitConfig{
				Epochs:    req.Epochs,
				BatchSize: req.BatchSize,
			},
		},
	}, nil
}

func (req startRunReq) validate() error {
	cfg, err := req.config()
	if err != nil {
		return err
	}

	return cfg.Validate()
}

type emptyReq struct{}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}

	return nil
}

type listRoundsReq struct {
	runID         string
	offset, limit uint64
}

func (e *listRoundsReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}

	return nil
}

// checkpointReq addresses a round; 0 is the latest checkpoint.
type checkpointReq struct {
	round uint64
}

type evaluateReq struct {
	round  uint64
	Epochs int `json:"epochs"`
	// BatchSize is forwarded to the clients' evaluation.
	BatchSize int `json:"batch_size"`
}

func (req *evaluateReq) validate() error {
	if req.Epochs < 0 || req.BatchSize < 0 {
		return errNegativeConfig
	}

	return nil
}
