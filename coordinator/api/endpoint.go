package api

import (
	"context"
	"errors"

	"github.com/absmach/fedids/coordinator"
	pkgerrors "github.com/absmach/fedids/pkg/errors"
	"github.com/absmach/fedids/pkg/fl"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func startRunEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(startRunReq)
		if !ok {
			return runResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		cfg, err := req.config()
		if err != nil {
			return runResponse{}, errors.Join(apiutil.ErrValidation, err)
		}
		cfg, err = svc.StartRun(ctx, cfg)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{
			RunConfig: cfg,
			started:   true,
		}, nil
	}
}

func stopRunEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		if err := svc.StopRun(ctx); err != nil {
			return runResponse{}, err
		}

		return runResponse{stopped: true}, nil
	}
}

func lastRunEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		summary, err := svc.LastRun(ctx)
		if err != nil {
			return runSummaryResponse{}, err
		}

		return runSummaryResponse{RunSummary: summary}, nil
	}
}

func statusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		status, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{Status: status}, nil
	}
}

func getClientEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clientResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		c, err := svc.GetClient(ctx, req.id)
		if err != nil {
			return clientResponse{}, err
		}

		return clientResponse{Client: c}, nil
	}
}

func listClientsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listClientsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listClientsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListClients(ctx, req.offset, req.limit)
		if err != nil {
			return listClientsResponse{}, err
		}

		return listClientsResponse{ClientPage: page}, nil
	}
}

func listRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listRoundsReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.runID, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{RoundReportPage: page}, nil
	}
}

func listCheckpointsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		infos, err := svc.ListCheckpoints(ctx)
		if err != nil {
			return listCheckpointsResponse{}, err
		}

		return listCheckpointsResponse{Checkpoints: infos}, nil
	}
}

func getCheckpointEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(checkpointReq)
		if !ok {
			return checkpointResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}

		ckpt, err := svc.GetCheckpoint(ctx, req.round)
		if err != nil {
			return checkpointResponse{}, err
		}

		return checkpointResponse{Checkpoint: ckpt}, nil
	}
}

func evaluateCheckpointEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(evaluateReq)
		if !ok {
			return evaluationResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return evaluationResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		eval, err := svc.EvaluateCheckpoint(ctx, req.round, fl.FitConfig{Epochs: req.Epochs, BatchSize: req.BatchSize})
		if err != nil {
			return evaluationResponse{}, err
		}

		return evaluationResponse{Evaluation: eval}, nil
	}
}
